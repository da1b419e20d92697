// Package store provides SQLite-backed history for quota snapshots, reset
// cycles, and wake passes.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Tsuuko/antigravity-usage/internal/api"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// ResetCycle is one quota cycle for a model key: from the first snapshot that
// observed it to the snapshot where the reset was detected.
type ResetCycle struct {
	ID         int64
	ModelKey   string
	CycleStart time.Time
	CycleEnd   *time.Time
	ResetTime  *time.Time
	PeakUsage  float64
	TotalDelta float64
}

// WakePass is one recorded wakeup pass.
type WakePass struct {
	ID              int64
	PassID          string
	RanAt           time.Time
	Triggered       bool
	TriggeredModels []string
	AccountCount    int
	FailureCount    int
}

// New opens (or creates) the database at the given path. ":memory:" gives an
// ephemeral store for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is single-writer; keeping the pool tiny avoids duplicate page
	// caches and busy_timeout absorbs contention.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			captured_at TEXT NOT NULL,
			method TEXT NOT NULL,
			account TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			plan_name TEXT NOT NULL DEFAULT '',
			model_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS model_values (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			model_id TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			remaining_fraction REAL,
			is_exhausted INTEGER NOT NULL DEFAULT 0,
			reset_time TEXT
		);

		CREATE TABLE IF NOT EXISTS reset_cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_key TEXT NOT NULL,
			cycle_start TEXT NOT NULL,
			cycle_end TEXT,
			reset_time TEXT,
			peak_usage REAL NOT NULL DEFAULT 0,
			total_delta REAL NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS wake_passes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pass_id TEXT NOT NULL,
			ran_at TEXT NOT NULL,
			triggered INTEGER NOT NULL DEFAULT 0,
			triggered_models TEXT NOT NULL DEFAULT '',
			account_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_captured ON snapshots(captured_at);
		CREATE INDEX IF NOT EXISTS idx_model_values_snapshot ON model_values(snapshot_id);
		CREATE INDEX IF NOT EXISTS idx_cycles_key_start ON reset_cycles(model_key, cycle_start);
		CREATE INDEX IF NOT EXISTS idx_cycles_key_active ON reset_cycles(model_key, cycle_end) WHERE cycle_end IS NULL;
		CREATE INDEX IF NOT EXISTS idx_wake_passes_ran ON wake_passes(ran_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertSnapshot stores a snapshot with its model quotas. account tags which
// tracked account the snapshot belongs to; empty for the local IDE account.
func (s *Store) InsertSnapshot(snapshot *api.QuotaSnapshot, account string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO snapshots (captured_at, method, account, email, plan_name, model_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snapshot.CapturedAt.Format(time.RFC3339Nano),
		snapshot.Method, account, snapshot.Email, snapshot.PlanName, len(snapshot.Models),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	snapshotID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot ID: %w", err)
	}

	for _, m := range snapshot.Models {
		var remaining interface{}
		if m.RemainingFraction != nil {
			remaining = *m.RemainingFraction
		}
		var resetTime interface{}
		if m.ResetTime != nil {
			resetTime = m.ResetTime.Format(time.RFC3339Nano)
		}
		exhausted := 0
		if m.IsExhausted {
			exhausted = 1
		}
		_, err := tx.Exec(
			`INSERT INTO model_values (snapshot_id, model_id, label, remaining_fraction, is_exhausted, reset_time)
			VALUES (?, ?, ?, ?, ?, ?)`,
			snapshotID, m.ModelID, m.Label, remaining, exhausted, resetTime,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert model value %s: %w", m.ModelID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return snapshotID, nil
}

// QueryLatestSnapshot returns the most recent snapshot with its models, or
// nil if none exist.
func (s *Store) QueryLatestSnapshot() (*api.QuotaSnapshot, error) {
	var (
		snapshotID int64
		capturedAt string
		snapshot   api.QuotaSnapshot
	)
	err := s.db.QueryRow(
		`SELECT id, captured_at, method, email, plan_name
		FROM snapshots ORDER BY captured_at DESC, id DESC LIMIT 1`,
	).Scan(&snapshotID, &capturedAt, &snapshot.Method, &snapshot.Email, &snapshot.PlanName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	snapshot.CapturedAt, _ = time.Parse(time.RFC3339Nano, capturedAt)

	rows, err := s.db.Query(
		`SELECT model_id, label, remaining_fraction, is_exhausted, reset_time
		FROM model_values WHERE snapshot_id = ? ORDER BY id`,
		snapshotID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query model values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         api.ModelQuotaInfo
			remaining sql.NullFloat64
			exhausted int
			resetTime sql.NullString
		)
		if err := rows.Scan(&m.ModelID, &m.Label, &remaining, &exhausted, &resetTime); err != nil {
			return nil, fmt.Errorf("failed to scan model value: %w", err)
		}
		if remaining.Valid {
			f := remaining.Float64
			m.RemainingFraction = &f
		}
		m.IsExhausted = exhausted != 0
		if resetTime.Valid {
			if t, err := time.Parse(time.RFC3339Nano, resetTime.String); err == nil {
				m.ResetTime = &t
			}
		}
		snapshot.Models = append(snapshot.Models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model values: %w", err)
	}
	return &snapshot, nil
}

// QueryActiveCycle returns the open cycle for a model key, or nil.
func (s *Store) QueryActiveCycle(modelKey string) (*ResetCycle, error) {
	row := s.db.QueryRow(
		`SELECT id, model_key, cycle_start, reset_time, peak_usage, total_delta
		FROM reset_cycles WHERE model_key = ? AND cycle_end IS NULL
		ORDER BY cycle_start DESC LIMIT 1`,
		modelKey,
	)

	var (
		cycle      ResetCycle
		cycleStart string
		resetTime  sql.NullString
	)
	err := row.Scan(&cycle.ID, &cycle.ModelKey, &cycleStart, &resetTime, &cycle.PeakUsage, &cycle.TotalDelta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active cycle: %w", err)
	}
	cycle.CycleStart, _ = time.Parse(time.RFC3339Nano, cycleStart)
	if resetTime.Valid {
		if t, err := time.Parse(time.RFC3339Nano, resetTime.String); err == nil {
			cycle.ResetTime = &t
		}
	}
	return &cycle, nil
}

// CreateCycle opens a new cycle for a model key.
func (s *Store) CreateCycle(modelKey string, start time.Time, resetTime *time.Time) (int64, error) {
	var resetVal interface{}
	if resetTime != nil {
		resetVal = resetTime.Format(time.RFC3339Nano)
	}
	result, err := s.db.Exec(
		`INSERT INTO reset_cycles (model_key, cycle_start, reset_time) VALUES (?, ?, ?)`,
		modelKey, start.Format(time.RFC3339Nano), resetVal,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create cycle: %w", err)
	}
	return result.LastInsertId()
}

// UpdateCycle updates peak usage and total delta on the open cycle.
func (s *Store) UpdateCycle(modelKey string, peakUsage, totalDelta float64) error {
	_, err := s.db.Exec(
		`UPDATE reset_cycles SET peak_usage = ?, total_delta = ?
		WHERE model_key = ? AND cycle_end IS NULL`,
		peakUsage, totalDelta, modelKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update cycle: %w", err)
	}
	return nil
}

// CloseCycle closes the open cycle for a model key at the given time.
func (s *Store) CloseCycle(modelKey string, end time.Time, peakUsage, totalDelta float64) error {
	_, err := s.db.Exec(
		`UPDATE reset_cycles SET cycle_end = ?, peak_usage = ?, total_delta = ?
		WHERE model_key = ? AND cycle_end IS NULL`,
		end.Format(time.RFC3339Nano), peakUsage, totalDelta, modelKey,
	)
	if err != nil {
		return fmt.Errorf("failed to close cycle: %w", err)
	}
	return nil
}

// QueryCycleHistory returns closed cycles for a model key, newest first.
func (s *Store) QueryCycleHistory(modelKey string) ([]ResetCycle, error) {
	rows, err := s.db.Query(
		`SELECT id, model_key, cycle_start, cycle_end, reset_time, peak_usage, total_delta
		FROM reset_cycles WHERE model_key = ? AND cycle_end IS NOT NULL
		ORDER BY cycle_start DESC`,
		modelKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle history: %w", err)
	}
	defer rows.Close()

	var cycles []ResetCycle
	for rows.Next() {
		var (
			cycle      ResetCycle
			cycleStart string
			cycleEnd   sql.NullString
			resetTime  sql.NullString
		)
		if err := rows.Scan(&cycle.ID, &cycle.ModelKey, &cycleStart, &cycleEnd, &resetTime, &cycle.PeakUsage, &cycle.TotalDelta); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycle.CycleStart, _ = time.Parse(time.RFC3339Nano, cycleStart)
		if cycleEnd.Valid {
			if t, err := time.Parse(time.RFC3339Nano, cycleEnd.String); err == nil {
				cycle.CycleEnd = &t
			}
		}
		if resetTime.Valid {
			if t, err := time.Parse(time.RFC3339Nano, resetTime.String); err == nil {
				cycle.ResetTime = &t
			}
		}
		cycles = append(cycles, cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycles: %w", err)
	}
	return cycles, nil
}

// CycleModelKeys returns the distinct model keys with any recorded cycle.
func (s *Store) CycleModelKeys() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT model_key FROM reset_cycles ORDER BY model_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query model keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan model key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// InsertWakePass records the outcome of a wakeup pass.
func (s *Store) InsertWakePass(pass *WakePass) error {
	models := strings.Join(pass.TriggeredModels, ",")
	triggered := 0
	if pass.Triggered {
		triggered = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO wake_passes (pass_id, ran_at, triggered, triggered_models, account_count, failure_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		pass.PassID, pass.RanAt.Format(time.RFC3339Nano), triggered, models, pass.AccountCount, pass.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert wake pass: %w", err)
	}
	return nil
}

// QueryRecentWakePasses returns the most recent wake passes, newest first.
func (s *Store) QueryRecentWakePasses(limit int) ([]WakePass, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, pass_id, ran_at, triggered, triggered_models, account_count, failure_count
		FROM wake_passes ORDER BY ran_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query wake passes: %w", err)
	}
	defer rows.Close()

	var passes []WakePass
	for rows.Next() {
		var (
			pass      WakePass
			ranAt     string
			triggered int
			models    string
		)
		if err := rows.Scan(&pass.ID, &pass.PassID, &ranAt, &triggered, &models, &pass.AccountCount, &pass.FailureCount); err != nil {
			return nil, fmt.Errorf("failed to scan wake pass: %w", err)
		}
		pass.RanAt, _ = time.Parse(time.RFC3339Nano, ranAt)
		pass.Triggered = triggered != 0
		if models != "" {
			pass.TriggeredModels = strings.Split(models, ",")
		}
		passes = append(passes, pass)
	}
	return passes, rows.Err()
}
