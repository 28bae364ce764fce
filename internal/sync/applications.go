package sync

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"recruitment-sync-service/internal/fingerprint"
	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/sheets"
	"recruitment-sync-service/internal/store"
)

// appTarget is one sheet the applications are pushed to: the main sheet or
// a department fan-out sheet.
type appTarget struct {
	sheet      string
	stream     string
	department string // empty for the main sheet
	// lazy targets are only created once they have something to show.
	lazy bool
}

func (e *Engine) readApplications(ctx context.Context, sheet string) ([][]string, error) {
	lastCol := sheets.ColumnLetter(len(ApplicationHeaders))
	return e.sheets.ReadRange(ctx, sheets.SheetRange(sheet, "A1", lastCol))
}

func (e *Engine) pushApplications(ctx context.Context, now time.Time) (StreamResult, error) {
	return e.pushApplicationsTo(ctx, now, appTarget{
		sheet:  e.opts.ApplicationsSheet,
		stream: StreamApplications,
	})
}

func (e *Engine) pushApplicationsTo(ctx context.Context, now time.Time, t appTarget) (StreamResult, error) {
	var res StreamResult

	if !t.lazy {
		if err := e.sheets.EnsureHeaders(ctx, t.sheet, ApplicationHeaders); err != nil {
			return res, err
		}
	}
	rows, err := e.readApplications(ctx, t.sheet)
	if err != nil {
		return res, err
	}
	idx := indexSheet(rows, len(ApplicationHeaders), applicationKey)

	candidates, err := e.applicationCandidates(ctx, idx, t)
	if err != nil {
		return res, err
	}

	var updates []sheets.CellUpdate
	var appends [][]string
	planned := make(map[string]struct{})
	for _, a := range candidates {
		for _, row := range applicationRows(a) {
			key := applicationKey(row)
			if _, dup := planned[key]; dup {
				continue
			}
			planned[key] = struct{}{}

			rowNum, ok := idx.rows[key]
			switch {
			case !ok:
				appends = append(appends, row)
			case rowsEqual(idx.cells[key], row):
				res.Skipped++
			default:
				updates = append(updates, sheets.CellUpdate{Row: rowNum, Values: row})
			}
		}
	}

	if t.lazy && len(updates)+len(appends) > 0 {
		if err := e.sheets.EnsureHeaders(ctx, t.sheet, ApplicationHeaders); err != nil {
			return res, err
		}
	}
	if err := e.flush(ctx, t.sheet, updates, appends); err != nil {
		return res, err
	}
	res.Appended = len(appends)
	res.Updated = len(updates)

	return res, e.checkpoints.Set(ctx, t.stream, now, int64(res.Rows()))
}

// applicationCandidates mirrors userCandidates. An application counts as
// missing when none of its answer rows is on the sheet.
func (e *Engine) applicationCandidates(ctx context.Context, idx *sheetIndex, t appTarget) ([]store.Application, error) {
	if idx.empty() {
		all, err := e.apps.ListApplications(ctx)
		if err != nil {
			return nil, err
		}
		return filterDepartment(all, t.department), nil
	}

	since, err := e.checkpoints.Get(ctx, t.stream)
	if err != nil {
		return nil, err
	}
	changed, err := e.apps.ListApplicationsUpdatedSince(ctx, since, t.department)
	if err != nil {
		return nil, err
	}

	present := make(map[string]struct{}, len(idx.rows))
	for _, row := range idx.cells {
		present[clusterKey(strings.TrimSpace(row[appColRegNo]), strings.TrimSpace(row[appColDepartment]))] = struct{}{}
	}
	keys, err := e.apps.ListApplicationKeys(ctx)
	if err != nil {
		return nil, err
	}
	var missingIDs []primitive.ObjectID
	for _, k := range keys {
		if t.department != "" && k.Department != t.department {
			continue
		}
		if _, ok := present[clusterKey(k.RegistrationNumber, k.Department)]; !ok {
			missingIDs = append(missingIDs, k.ID)
		}
	}
	var missing []store.Application
	if len(missingIDs) > 0 {
		missing, err = e.apps.GetApplicationsByIDs(ctx, missingIDs)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[primitive.ObjectID]struct{}, len(changed)+len(missing))
	out := make([]store.Application, 0, len(changed)+len(missing))
	for _, a := range append(changed, missing...) {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

func filterDepartment(apps []store.Application, department string) []store.Application {
	if department == "" {
		return apps
	}
	out := apps[:0:0]
	for _, a := range apps {
		if a.Department == department {
			out = append(out, a)
		}
	}
	return out
}

// appCluster is every sheet row of one (registration number, department) pair.
type appCluster struct {
	key  string
	app  store.Application
	ts   time.Time
	skip bool
}

func (e *Engine) pullApplications(ctx context.Context, now time.Time) (StreamResult, error) {
	var res StreamResult

	rows, err := e.readApplications(ctx, e.opts.ApplicationsSheet)
	if err != nil {
		return res, err
	}
	clusters, skipped := e.clusterApplications(rows, now)
	res.Skipped += skipped

	for _, c := range clusters {
		if c.skip {
			res.Skipped++
			continue
		}

		existing, err := e.apps.GetApplication(ctx, c.app.RegistrationNumber, c.app.Department)
		exists := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return res, err
		}

		c.app.LastHash = fingerprint.Application(c.app)

		var storeTS time.Time
		if exists {
			storeTS = storeTime(existing.LastUpdated)
			if fingerprint.Application(*existing) == c.app.LastHash {
				res.Skipped++
				continue
			}
			if c.ts.Equal(storeTS) {
				recorded, err := e.conflicts.Record(ctx, StreamPullApplications, c.key,
					flattenRows(applicationRows(*existing)), flattenRows(applicationRows(c.app)))
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

		c.app.LastUpdated = c.ts
		if !exists {
			c.app.CreatedAt = now
		}
		if err := e.apps.UpsertApplication(ctx, &c.app); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				logger.Log.Warn("Sheet application collides with an existing one, skipping",
					zap.String("key", c.key), zap.Error(err))
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Upserted++
	}
	return res, nil
}

// clusterApplications groups answer rows by (registration number, department)
// in sheet order. The cluster timestamp is the newest of its rows.
func (e *Engine) clusterApplications(rows [][]string, now time.Time) ([]*appCluster, int) {
	byKey := make(map[string]*appCluster)
	var order []*appCluster
	skipped := 0

	for i := 1; i < len(rows); i++ {
		row := padRow(rows[i], len(ApplicationHeaders))
		if rowsEqual(row, nil) {
			continue
		}
		regNo := strings.TrimSpace(row[appColRegNo])
		dept := strings.TrimSpace(row[appColDepartment])
		qid := strings.TrimSpace(row[appColQuestion])
		if regNo == "" || !store.ValidDepartment(dept) || qid == "" {
			logger.Log.Warn("Sheet application row is incomplete, skipping",
				zap.Int("row", i+1), zap.String("regNo", regNo), zap.String("department", dept))
			skipped++
			continue
		}

		key := clusterKey(regNo, dept)
		c, ok := byKey[key]
		if !ok {
			c = &appCluster{
				key:      key,
				app: store.Application{
					UserID:             row[appColUserID],
					Name:               row[appColName],
					Email:              row[appColEmail],
					Phone:              row[appColPhone],
					RegistrationNumber: regNo,
					College:            row[appColCollege],
					Year:               row[appColYear],
					Department:         dept,
				},
			}
			byKey[key] = c
			order = append(order, c)
		}

		ts, ok := e.sheetTimestamp(row[appColUpdated], now)
		if !ok {
			// a partial answer set must not replace the stored one
			logger.Log.Warn("Sheet application row has an unparseable timestamp, skipping application",
				zap.Int("row", i+1), zap.String("key", key))
			c.skip = true
			continue
		}
		if ts.After(c.ts) {
			c.ts = ts
		}
		c.app.Answers = append(c.app.Answers, store.Answer{QuestionID: qid, AnswerText: row[appColAnswer]})
	}
	return order, skipped
}

func flattenRows(rows [][]string) []string {
	var out []string
	for _, r := range rows {
		out = append(out, strings.Join(r, "\t"))
	}
	return out
}
