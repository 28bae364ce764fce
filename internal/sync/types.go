package sync

import (
	"errors"
	"strings"
	"time"
)

// Checkpointed push streams. Department fan-out streams are built with DepartmentStream.
const (
	StreamUsers        = "mongoToSheet_users"
	StreamApplications = "mongoToSheet_apps"

	// Pull streams are full reads and carry no checkpoint; the names label
	// conflicts and metrics.
	StreamPullUsers        = "sheetToMongo_users"
	StreamPullApplications = "sheetToMongo_apps"
)

// DepartmentStream is the checkpoint key of one department fan-out sheet.
func DepartmentStream(department string) string {
	return "mongoToSheet_dept_" + department
}

const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerChange    = "change_stream"
)

// ErrSyncInProgress is returned when a pass is requested while another is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// StreamResult counts what one stream did during a pass.
type StreamResult struct {
	Stream    string        `json:"stream"`
	Appended  int           `json:"appended"`
	Updated   int           `json:"updated"`
	Upserted  int           `json:"upserted"`
	Skipped   int           `json:"skipped"`
	Conflicts int           `json:"conflicts"`
	Duration  time.Duration `json:"duration"`
}

// Rows is the number of rows written to either side.
func (r StreamResult) Rows() int {
	return r.Appended + r.Updated + r.Upserted
}

// PassResult aggregates the streams of one full pass.
type PassResult struct {
	StartedAt time.Time      `json:"startedAt"`
	Streams   []StreamResult `json:"streams"`
}

func (p *PassResult) add(r StreamResult) {
	p.Streams = append(p.Streams, r)
}

func (p *PassResult) TotalRows() int64 {
	var n int64
	for _, s := range p.Streams {
		n += int64(s.Rows())
	}
	return n
}

func (p *PassResult) TotalConflicts() int {
	n := 0
	for _, s := range p.Streams {
		n += s.Conflicts
	}
	return n
}

func (p *PassResult) StreamNames() string {
	names := make([]string, 0, len(p.Streams))
	for _, s := range p.Streams {
		names = append(names, s.Stream)
	}
	return strings.Join(names, ",")
}
