package sync

import (
	"strings"
	"time"

	"recruitment-sync-service/internal/store"
)

var UserHeaders = []string{
	"ID", "UserID", "First Name", "Last Name", "Reg No",
	"College", "Year", "Email", "Phone", "Last Modified",
}

var ApplicationHeaders = []string{
	"ID", "UserID", "Name", "Email", "Phone", "Reg No", "College",
	"Year", "Department", "QuestionID", "Answer", "Last Updated",
}

// Column positions inside the projected rows.
const (
	userColUserID    = 1
	userColFirstName = 2
	userColLastName  = 3
	userColRegNo     = 4
	userColCollege   = 5
	userColYear      = 6
	userColEmail     = 7
	userColPhone     = 8
	userColModified  = 9

	appColUserID     = 1
	appColName       = 2
	appColEmail      = 3
	appColPhone      = 4
	appColRegNo      = 5
	appColCollege    = 6
	appColYear       = 7
	appColDepartment = 8
	appColQuestion   = 9
	appColAnswer     = 10
	appColUpdated    = 11
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t as RFC3339 with milliseconds in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the formats a person editing the sheet is likely
// to leave behind. The result is UTC, truncated to milliseconds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Millisecond), true
		}
	}
	return time.Time{}, false
}

// storeTime normalizes a stored timestamp to sheet precision.
func storeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func userRow(u store.User) []string {
	return []string{
		u.ID.Hex(),
		u.UserID,
		u.FirstName,
		u.LastName,
		u.RegNo,
		u.College,
		u.Year,
		u.Email,
		u.Phone,
		FormatTimestamp(u.LastModified),
	}
}

func applicationRows(a store.Application) [][]string {
	rows := make([][]string, 0, len(a.Answers))
	for _, ans := range a.Answers {
		rows = append(rows, []string{
			a.ID.Hex(),
			a.UserID,
			a.Name,
			a.Email,
			a.Phone,
			a.RegistrationNumber,
			a.College,
			a.Year,
			a.Department,
			ans.QuestionID,
			ans.AnswerText,
			FormatTimestamp(a.LastUpdated),
		})
	}
	return rows
}

func userKey(row []string) string {
	return strings.TrimSpace(row[userColRegNo])
}

func applicationKey(row []string) string {
	return answerKey(strings.TrimSpace(row[appColRegNo]), strings.TrimSpace(row[appColDepartment]), strings.TrimSpace(row[appColQuestion]))
}

func answerKey(regNo, department, questionID string) string {
	return regNo + "|" + department + "|" + questionID
}

func clusterKey(regNo, department string) string {
	return regNo + "|" + department
}

// padRow returns row extended with empty cells to width n. Sheets drop
// trailing blanks, so short rows are normal.
func padRow(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}

func rowsEqual(a, b []string) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	a, b = padRow(a, n), padRow(b, n)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sheetIndex maps natural keys to 1-based sheet row numbers for one full read.
type sheetIndex struct {
	rows  map[string]int
	cells map[string][]string
}

// indexSheet skips the header row. Blank rows and rows without a key are ignored;
// the first row wins for a duplicated key.
func indexSheet(rows [][]string, width int, key func([]string) string) *sheetIndex {
	idx := &sheetIndex{rows: make(map[string]int), cells: make(map[string][]string)}
	for i := 1; i < len(rows); i++ {
		row := padRow(rows[i], width)
		k := key(row)
		if k == "" || strings.HasPrefix(k, "|") {
			continue
		}
		if _, dup := idx.rows[k]; dup {
			continue
		}
		idx.rows[k] = i + 1
		idx.cells[k] = row
	}
	return idx
}

func (s *sheetIndex) empty() bool { return len(s.rows) == 0 }
