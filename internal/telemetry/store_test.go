package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/droidshell/adb-shell-mcp/internal/session"
)

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer store.Close()

	store.RecordCommand("sess1", "SERIAL123", "echo hello", session.StatusSuccess, 42*time.Millisecond)
	store.RecordCommand("sess1", "SERIAL123", "ls /nope", session.StatusCommandFailed, 10*time.Millisecond)
	store.RecordCommand("sess2", "OTHER", "wget http://x", session.StatusTimeout, 30*time.Second)

	events, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	// Newest first
	if events[0].Command != "wget http://x" {
		t.Errorf("events[0].Command = %q, want %q", events[0].Command, "wget http://x")
	}
	if events[0].Status != string(session.StatusTimeout) {
		t.Errorf("events[0].Status = %q, want %q", events[0].Status, session.StatusTimeout)
	}
	if events[0].ElapsedMS != 30000 {
		t.Errorf("events[0].ElapsedMS = %d, want 30000", events[0].ElapsedMS)
	}
	if events[2].SessionID != "sess1" {
		t.Errorf("events[2].SessionID = %q, want %q", events[2].SessionID, "sess1")
	}
}

func TestRecentLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer store.Close()

	for i := 0; i < 5; i++ {
		store.RecordCommand("sess1", "SERIAL123", "true", session.StatusSuccess, time.Millisecond)
	}

	events, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "telemetry.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	store.Close()
}

func TestRecentEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer store.Close()

	events, err := store.Recent(0)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}
