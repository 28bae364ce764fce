package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/sheets"
	"recruitment-sync-service/internal/store"
)

func (e *Engine) readUsers(ctx context.Context) ([][]string, error) {
	lastCol := sheets.ColumnLetter(len(UserHeaders))
	return e.sheets.ReadRange(ctx, sheets.SheetRange(e.opts.UsersSheet, "A1", lastCol))
}

func (e *Engine) pushUsers(ctx context.Context, now time.Time) (StreamResult, error) {
	var res StreamResult
	sheet := e.opts.UsersSheet

	if err := e.sheets.EnsureHeaders(ctx, sheet, UserHeaders); err != nil {
		return res, err
	}
	rows, err := e.readUsers(ctx)
	if err != nil {
		return res, err
	}
	idx := indexSheet(rows, len(UserHeaders), userKey)

	candidates, err := e.userCandidates(ctx, idx)
	if err != nil {
		return res, err
	}

	var updates []sheets.CellUpdate
	var appends [][]string
	planned := make(map[string]struct{}, len(candidates))
	for _, u := range candidates {
		if u.RegNo == "" {
			logger.Log.Warn("User has no registration number, not syncing", zap.String("id", u.ID.Hex()))
			res.Skipped++
			continue
		}
		if _, dup := planned[u.RegNo]; dup {
			continue
		}
		planned[u.RegNo] = struct{}{}

		row := userRow(u)
		rowNum, ok := idx.rows[u.RegNo]
		switch {
		case !ok:
			appends = append(appends, row)
		case rowsEqual(idx.cells[u.RegNo], row):
			res.Skipped++
		default:
			updates = append(updates, sheets.CellUpdate{Row: rowNum, Values: row})
		}
	}

	if err := e.flush(ctx, sheet, updates, appends); err != nil {
		return res, err
	}
	res.Appended = len(appends)
	res.Updated = len(updates)

	return res, e.checkpoints.Set(ctx, StreamUsers, now, int64(res.Rows()))
}

// userCandidates is every user for an empty sheet, otherwise the users changed
// since the checkpoint plus those whose key is missing from the sheet.
func (e *Engine) userCandidates(ctx context.Context, idx *sheetIndex) ([]store.User, error) {
	if idx.empty() {
		return e.users.ListUsers(ctx)
	}

	since, err := e.checkpoints.Get(ctx, StreamUsers)
	if err != nil {
		return nil, err
	}
	changed, err := e.users.ListUsersModifiedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	present := make([]string, 0, len(idx.rows))
	for k := range idx.rows {
		present = append(present, k)
	}
	missing, err := e.users.ListUsersExcludingRegNos(ctx, present)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(changed)+len(missing))
	out := make([]store.User, 0, len(changed)+len(missing))
	for _, u := range append(changed, missing...) {
		id := u.ID.Hex()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

func (e *Engine) pullUsers(ctx context.Context, now time.Time) (StreamResult, error) {
	var res StreamResult

	rows, err := e.readUsers(ctx)
	if err != nil {
		return res, err
	}

	type candidate struct {
		row []string
		ts  time.Time
	}
	byKey := make(map[string]candidate)
	var order []string
	for i := 1; i < len(rows); i++ {
		row := padRow(rows[i], len(UserHeaders))
		regNo := userKey(row)
		if regNo == "" {
			if !rowsEqual(row, nil) {
				logger.Log.Warn("Sheet row has no registration number, skipping", zap.Int("row", i+1))
				res.Skipped++
			}
			continue
		}
		ts, ok := e.sheetTimestamp(row[userColModified], now)
		if !ok {
			logger.Log.Warn("Sheet row has an unparseable timestamp, skipping",
				zap.Int("row", i+1), zap.String("regNo", regNo))
			res.Skipped++
			continue
		}
		prev, seen := byKey[regNo]
		if !seen {
			order = append(order, regNo)
		}
		if !seen || ts.After(prev.ts) {
			byKey[regNo] = candidate{row: row, ts: ts}
		}
	}

	for _, regNo := range order {
		c := byKey[regNo]

		existing, err := e.users.GetUserByRegNo(ctx, regNo)
		exists := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return res, err
		}

		var storeTS time.Time
		if exists {
			storeTS = storeTime(existing.LastModified)
			stored := userRow(*existing)
			if userContentEqual(stored, c.row) {
				res.Skipped++
				continue
			}
			if c.ts.Equal(storeTS) {
				recorded, err := e.conflicts.Record(ctx, StreamPullUsers, regNo, stored, c.row)
				if err != nil {
					return res, err
				}
				if recorded {
					res.Conflicts++
				}
				res.Skipped++
				continue
			}
		}
		if !sheetWins(c.ts, storeTS, exists) {
			res.Skipped++
			continue
		}

		u := &store.User{
			UserID:       c.row[userColUserID],
			FirstName:    c.row[userColFirstName],
			LastName:     c.row[userColLastName],
			RegNo:        regNo,
			College:      c.row[userColCollege],
			Year:         c.row[userColYear],
			Email:        c.row[userColEmail],
			Phone:        c.row[userColPhone],
			LastModified: c.ts,
		}
		if u.UserID == "" && !exists {
			u.UserID = uuid.New().String()
		}
		if !exists {
			u.CreatedAt = now
		}

		if err := e.users.UpsertUserByRegNo(ctx, u); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				logger.Log.Warn("Sheet user collides with another user, skipping",
					zap.String("regNo", regNo), zap.Error(err))
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Upserted++
	}
	return res, nil
}

// userContentEqual compares the editable columns, ignoring the id and timestamp.
func userContentEqual(stored, sheet []string) bool {
	return rowsEqual(stored[userColUserID:userColModified], sheet[userColUserID:userColModified])
}
