// Package journal keeps a SQLite log of extraction attempts and aggregates
// per-strategy outcomes from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02 15:04:05.000000"

// Attempt is one strategy run.
type Attempt struct {
	SessionID string
	Strategy  string
	URL       string
	Outcome   string // "success" or a failure kind
	Elapsed   time.Duration
	At        time.Time
}

// StrategyStat aggregates attempts for one strategy.
type StrategyStat struct {
	Strategy     string  `json:"strategy"`
	Attempts     int     `json:"attempts"`
	Successes    int     `json:"successes"`
	BotDetected  int     `json:"bot_detected"`
	RateLimited  int     `json:"rate_limited"`
	SuccessRate  float64 `json:"success_rate"`
	AvgElapsedMs float64 `json:"avg_elapsed_ms"`
	LastAttempt  string  `json:"last_attempt"`
}

// Journal is a SQLite-backed attempt log.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("journal: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS attempts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		strategy   TEXT NOT NULL,
		url        TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS attempts_strategy ON attempts (strategy)`)
	return err
}

// Record appends one attempt.
func (j *Journal) Record(ctx context.Context, a Attempt) error {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempts (session_id, strategy, url, outcome, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.Strategy, a.URL, a.Outcome, a.Elapsed.Milliseconds(),
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// StrategyStats aggregates all attempts, busiest strategy first.
func (j *Journal) StrategyStats(ctx context.Context) ([]StrategyStat, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT strategy,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome = 'bot_detected' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN outcome = 'rate_limited' THEN 1 ELSE 0 END),
		       AVG(elapsed_ms),
		       MAX(created_at)
		FROM attempts
		GROUP BY strategy
		ORDER BY COUNT(*) DESC, strategy ASC`)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []StrategyStat
	for rows.Next() {
		var s StrategyStat
		if err := rows.Scan(&s.Strategy, &s.Attempts, &s.Successes, &s.BotDetected,
			&s.RateLimited, &s.AvgElapsedMs, &s.LastAttempt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if s.Attempts > 0 {
			s.SuccessRate = float64(s.Successes) / float64(s.Attempts)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes attempts older than cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM attempts WHERE created_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
