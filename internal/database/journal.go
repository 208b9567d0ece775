package database

import (
	"database/sql"
	"fmt"
	"image"
	"time"

	"jordanella.com/natro-go/internal/cv"
)

// LogSearch records one search outcome. status follows the search
// contract: the match count, or a negative sentinel.
func (db *DB) LogSearch(needle string, status int, first *image.Point, elapsed time.Duration, searchErr error) (int64, error) {
	var firstX, firstY *int
	if first != nil {
		x, y := first.X, first.Y
		firstX, firstY = &x, &y
	}

	var errMsg *string
	if searchErr != nil {
		msg := searchErr.Error()
		errMsg = &msg
	}

	matches := status
	if matches < 0 {
		matches = 0
	}

	res, err := db.conn.Exec(`
		INSERT INTO search_log (
			needle, status, match_count, first_x, first_y,
			elapsed_ms, error_message, run_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, needle, status, matches, firstX, firstY, elapsed.Milliseconds(), errMsg, db.nullRunID(), time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to insert search log: %w", err)
	}
	return res.LastInsertId()
}

// ObserveSearch adapts LogSearch to the engine's observer hook. Journal
// write failures are logged and swallowed so searches never fail on them.
func (db *DB) ObserveSearch(needle string, res *cv.SearchResult, searchErr error, elapsed time.Duration) {
	status := cv.StatusCode(searchErr)
	var first *image.Point
	if searchErr == nil && res != nil {
		status = res.Count()
		if p, ok := res.First(); ok {
			first = &p
		}
	}

	if _, err := db.LogSearch(needle, status, first, elapsed, searchErr); err != nil {
		db.logger.Error("Failed to journal search", err)
	}
}

// RecentSearches returns the newest journaled searches, newest first.
// An empty needle returns every needle.
func (db *DB) RecentSearches(needle string, limit int) ([]*SearchLog, error) {
	query := `
		SELECT id, needle, status, match_count, first_x, first_y,
			elapsed_ms, error_message, run_id, created_at
		FROM search_log
	`
	args := []interface{}{}
	if needle != "" {
		query += " WHERE needle = ?"
		args = append(args, needle)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query search log: %w", err)
	}
	defer rows.Close()

	var logs []*SearchLog
	for rows.Next() {
		l := &SearchLog{}
		if err := rows.Scan(
			&l.ID, &l.Needle, &l.Status, &l.MatchCount, &l.FirstX, &l.FirstY,
			&l.ElapsedMs, &l.ErrorMessage, &l.RunID, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// NeedleSummaries returns per-needle hit, miss and error counts, worst first
func (db *DB) NeedleSummaries() ([]*NeedleSummary, error) {
	rows, err := db.conn.Query(`
		SELECT needle, error_count, miss_count, hit_count, last_seen
		FROM v_search_failures
		ORDER BY error_count + miss_count DESC, needle
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query search summary: %w", err)
	}
	defer rows.Close()

	var out []*NeedleSummary
	for rows.Next() {
		s := &NeedleSummary{}
		var lastSeen string
		if err := rows.Scan(&s.Needle, &s.ErrorCount, &s.MissCount, &s.HitCount, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan search summary: %w", err)
		}
		// MAX() over a DATETIME column comes back as text
		s.LastSeen = parseSQLiteTime(lastSeen)
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordCalibration journals a calibration outcome
func (db *DB) RecordCalibration(pid int32, offset int, strategy string, calErr error) error {
	var errMsg *string
	if calErr != nil {
		msg := calErr.Error()
		errMsg = &msg
	}

	_, err := db.conn.Exec(`
		INSERT INTO calibration_log (pid, y_offset, strategy, succeeded, error_message, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, pid, offset, strategy, calErr == nil, errMsg, db.nullRunID(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert calibration log: %w", err)
	}
	return nil
}

// LatestCalibration returns the newest successful calibration for pid
func (db *DB) LatestCalibration(pid int32) (*CalibrationLog, error) {
	l := &CalibrationLog{}
	err := db.conn.QueryRow(`
		SELECT id, pid, y_offset, strategy, succeeded, error_message, run_id, created_at
		FROM calibration_log
		WHERE pid = ? AND succeeded = 1
		ORDER BY id DESC
		LIMIT 1
	`, pid).Scan(&l.ID, &l.PID, &l.YOffset, &l.Strategy, &l.Succeeded, &l.ErrorMessage, &l.RunID, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no calibration for pid %d", pid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration log: %w", err)
	}
	return l, nil
}

// nullRunID is the run id to store, NULL when none is set
func (db *DB) nullRunID() sql.NullString {
	return sql.NullString{String: db.runID, Valid: db.runID != ""}
}

func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
