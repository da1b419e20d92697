// Package state persists the detector's prior-state map between runs as a
// small JSON file, with a file lock so overlapping cron invocations cannot
// both commit a trigger for the same fresh cycle.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/Tsuuko/antigravity-usage/internal/detector"
)

const schemaVersion = 1

// stateFile is the on-disk encoding.
type stateFile struct {
	SchemaVersion int                             `json:"schema_version"`
	WrittenAt     time.Time                       `json:"written_at"`
	Keys          map[string]detector.ResetRecord `json:"keys"`
}

// Store reads and writes the wake state file.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// New creates a store for the given file path. The parent directory is
// created on first save, not here.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Lock acquires the cross-process lock around a read-decide-commit sequence.
// The returned function releases it.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("state: create dir: %w", err)
	}
	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ok, err := s.lock.TryLockContext(lockCtx, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("state: acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("state: lock held by another process")
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release state lock", "path", s.lock.Path(), "error", err)
		}
	}, nil
}

// Load reads the persisted state. A missing, empty, or corrupt file is
// treated as first run and yields an empty state rather than an error.
func (s *Store) Load() (detector.State, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return detector.State{}, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", s.path, err)
	}
	if len(raw) == 0 {
		return detector.State{}, nil
	}

	var file stateFile
	if err := json.Unmarshal(raw, &file); err != nil {
		s.logger.Warn("wake state file unreadable, starting fresh", "path", s.path, "error", err)
		return detector.State{}, nil
	}
	if file.Keys == nil {
		return detector.State{}, nil
	}
	return detector.State(file.Keys), nil
}

// Save writes the state atomically (temp file + rename).
func (s *Store) Save(state detector.State) error {
	file := stateFile{
		SchemaVersion: schemaVersion,
		WrittenAt:     time.Now().UTC(),
		Keys:          state,
	}
	if file.Keys == nil {
		file.Keys = map[string]detector.ResetRecord{}
	}

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("state: create dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("state: write tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}
