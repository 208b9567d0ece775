package database

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/stat"
)

// SearchCSV is the flat export row for one journaled search
type SearchCSV struct {
	ID        int64  `csv:"id"`
	Needle    string `csv:"needle"`
	Status    int    `csv:"status"`
	Matches   int    `csv:"matches"`
	FirstX    string `csv:"first_x"`
	FirstY    string `csv:"first_y"`
	ElapsedMs int64  `csv:"elapsed_ms"`
	Error     string `csv:"error"`
	RunID     string `csv:"run_id"`
	CreatedAt string `csv:"created_at"`
}

// ExportSearches writes the newest journaled searches as CSV, oldest first
func (db *DB) ExportSearches(w io.Writer, needle string, limit int) (int, error) {
	logs, err := db.RecentSearches(needle, limit)
	if err != nil {
		return 0, err
	}

	rows := make([]SearchCSV, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		row := SearchCSV{
			ID:        l.ID,
			Needle:    l.Needle,
			Status:    l.Status,
			Matches:   l.MatchCount,
			ElapsedMs: l.ElapsedMs,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		}
		if l.FirstX != nil && l.FirstY != nil {
			row.FirstX = fmt.Sprint(*l.FirstX)
			row.FirstY = fmt.Sprint(*l.FirstY)
		}
		if l.ErrorMessage != nil {
			row.Error = *l.ErrorMessage
		}
		if l.RunID != nil {
			row.RunID = *l.RunID
		}
		rows = append(rows, row)
	}

	if err := gocsv.Marshal(rows, w); err != nil {
		return 0, fmt.Errorf("writing search export: %w", err)
	}
	return len(rows), nil
}

// Timing summarizes search durations for one needle
type Timing struct {
	Needle  string
	Samples int
	MeanMs  float64
	StdDev  float64
	P95Ms   float64
	MaxMs   float64
}

// SearchTiming computes duration statistics over searches that ran
// (non-negative status). An empty needle covers every needle.
func (db *DB) SearchTiming(needle string) (Timing, error) {
	query := `SELECT elapsed_ms FROM search_log WHERE status >= 0`
	args := []interface{}{}
	if needle != "" {
		query += " AND needle = ?"
		args = append(args, needle)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return Timing{}, fmt.Errorf("failed to query search timing: %w", err)
	}
	defer rows.Close()

	var samples []float64
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return Timing{}, fmt.Errorf("failed to scan search timing: %w", err)
		}
		samples = append(samples, float64(ms))
	}
	if err := rows.Err(); err != nil {
		return Timing{}, err
	}

	t := Timing{Needle: needle, Samples: len(samples)}
	if len(samples) == 0 {
		return t, nil
	}

	sort.Float64s(samples)
	if len(samples) < 2 {
		// Sample standard deviation is undefined for a single value
		t.MeanMs = stat.Mean(samples, nil)
	} else {
		t.MeanMs, t.StdDev = stat.MeanStdDev(samples, nil)
	}
	t.P95Ms = stat.Quantile(0.95, stat.Empirical, samples, nil)
	t.MaxMs = samples[len(samples)-1]
	return t, nil
}
