// Package audit records terminal job outcomes for diagnostic history.
// It is not the job queue: the registry's in-memory queue is still what
// the slave loop drains, and it is still cleared on every restart. This
// package only remembers what already finished, mirroring the shape of
// the teacher's driver.StoreDriver abstraction (driver/driver.go) with
// three interchangeable backends.
package audit

import "time"

// JobOutcome is one terminal job record.
type JobOutcome struct {
	TraceID       string
	JobID         uint32
	SubmitterID   uint32
	SubmitterName string
	Succeeded     bool
	FailedStep    int // 0 when Succeeded, -1 for an engine-start failure, else 1..5 per the slave loop's taxonomy
	Duration      time.Duration
	FinishedAt    time.Time
}

// Store is the audit log's storage contract.
type Store interface {
	Record(JobOutcome) error
	Recent(limit int) ([]JobOutcome, error)
	Close() error
}
