package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AddAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		_, err := s.Add(ctx, Record{
			AgentID:         "agent-1",
			VoiceID:         "voice-1",
			VoiceName:       "Call_Voice_1",
			StartedAt:       base.Add(time.Duration(i) * time.Minute),
			Duration:        90 * time.Second,
			TeardownOutcome: "completed",
		})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	records, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !records[0].StartedAt.After(records[1].StartedAt) {
		t.Errorf("records not newest first: %v then %v", records[0].StartedAt, records[1].StartedAt)
	}
	if records[0].Duration != 90*time.Second {
		t.Errorf("duration = %v, want 90s", records[0].Duration)
	}
	if records[0].TeardownOutcome != "completed" {
		t.Errorf("teardown outcome = %q, want %q", records[0].TeardownOutcome, "completed")
	}
}

func TestStore_RecentNoLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := s.Add(ctx, Record{
			AgentID:   "agent-1",
			VoiceID:   "v",
			VoiceName: "n",
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	records, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("expected all 5 records, got %d", len(records))
	}
}

func TestStore_LastVoice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, _, err := s.LastVoice(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LastVoice on empty store: err = %v, want ErrNotFound", err)
	}

	base := time.Now().UTC()
	_, err := s.Add(ctx, Record{AgentID: "a", VoiceID: "old", VoiceName: "Old", StartedAt: base})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, err = s.Add(ctx, Record{AgentID: "a", VoiceID: "new", VoiceName: "New", StartedAt: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	id, name, err := s.LastVoice(ctx)
	if err != nil {
		t.Fatalf("LastVoice: %v", err)
	}
	if id != "new" || name != "New" {
		t.Errorf("LastVoice = %q/%q, want new/New", id, name)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Add(ctx, Record{AgentID: "a", VoiceID: "v", VoiceName: "n", StartedAt: time.Now()}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	records, err := s2.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record after reopen, got %d", len(records))
	}
}
