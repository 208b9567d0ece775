package database

import (
	"time"
)

// SearchLog is one journaled image search
type SearchLog struct {
	ID           int64     `db:"id"`
	Needle       string    `db:"needle"`
	Status       int       `db:"status"` // Match count, 0 for none, negative sentinel on error
	MatchCount   int       `db:"match_count"`
	FirstX       *int      `db:"first_x"`
	FirstY       *int      `db:"first_y"`
	ElapsedMs    int64     `db:"elapsed_ms"`
	ErrorMessage *string   `db:"error_message"`
	RunID        *string   `db:"run_id"`
	CreatedAt    time.Time `db:"created_at"`
}

// CalibrationLog is one journaled calibration attempt
type CalibrationLog struct {
	ID           int64     `db:"id"`
	PID          int32     `db:"pid"`
	YOffset      int       `db:"y_offset"`
	Strategy     string    `db:"strategy"`
	Succeeded    bool      `db:"succeeded"`
	ErrorMessage *string   `db:"error_message"`
	RunID        *string   `db:"run_id"`
	CreatedAt    time.Time `db:"created_at"`
}

// NeedleSummary aggregates journaled searches for one needle
type NeedleSummary struct {
	Needle     string    `db:"needle"`
	ErrorCount int64     `db:"error_count"`
	MissCount  int64     `db:"miss_count"`
	HitCount   int64     `db:"hit_count"`
	LastSeen   time.Time `db:"last_seen"`
}
