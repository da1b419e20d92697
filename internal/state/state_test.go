package state

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tsuuko/antigravity-usage/internal/detector"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "wake_state.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoadMissingFile(t *testing.T) {
	s := testStore(t)
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(st) != 0 {
		t.Errorf("missing file should yield empty state, got %d keys", len(st))
	}
}

func TestLoadEmptyFile(t *testing.T) {
	s := testStore(t)
	if err := os.WriteFile(s.Path(), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(st) != 0 {
		t.Errorf("empty file should yield empty state, got %d keys", len(st))
	}
}

func TestLoadCorruptFile(t *testing.T) {
	s := testStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := s.Load()
	if err != nil {
		t.Fatalf("corrupt file should not be an error, got %v", err)
	}
	if len(st) != 0 {
		t.Errorf("corrupt file should yield empty state, got %d keys", len(st))
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	s := testStore(t)
	reset := time.Date(2026, 2, 23, 20, 0, 0, 0, time.UTC)
	triggered := time.Date(2026, 2, 23, 20, 5, 0, 0, time.UTC)

	in := detector.State{
		"alice/gemini-3-pro": {LastResetAt: reset, LastTriggeredAt: triggered},
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	record, ok := out["alice/gemini-3-pro"]
	if !ok {
		t.Fatal("saved key missing after reload")
	}
	if !record.LastResetAt.Equal(reset) || !record.LastTriggeredAt.Equal(triggered) {
		t.Errorf("record changed across roundtrip: %+v", record)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "nested", "deeper", "wake_state.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := s.Save(detector.State{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("state file not created: %v", err)
	}
}

func TestSaveWritesSchemaVersion(t *testing.T) {
	s := testStore(t)
	if err := s.Save(detector.State{"k": {}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	var file struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		t.Fatalf("state file not valid JSON: %v", err)
	}
	if file.SchemaVersion != schemaVersion {
		t.Errorf("schema_version = %d, want %d", file.SchemaVersion, schemaVersion)
	}
}

func TestSaveNilState(t *testing.T) {
	s := testStore(t)
	if err := s.Save(nil); err != nil {
		t.Fatalf("Save(nil): %v", err)
	}
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st == nil || len(st) != 0 {
		t.Errorf("nil save should reload as empty state, got %v", st)
	}
}

func TestLockUnlock(t *testing.T) {
	s := testStore(t)
	unlock, err := s.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()

	// Reacquiring after release must succeed.
	unlock, err = s.Lock(context.Background())
	if err != nil {
		t.Fatalf("second Lock: %v", err)
	}
	unlock()
}
