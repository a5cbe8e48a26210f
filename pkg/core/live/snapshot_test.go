package live

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotValidity(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	base := Snapshot{
		SessionID:  "sess-1",
		QuestionID: "q-1",
		Question:   "Tell me about yourself.",
		SavedAt:    now.Add(-30 * time.Minute),
	}

	if !base.Valid(now) {
		t.Error("fresh snapshot rejected")
	}

	stale := base
	stale.SavedAt = now.Add(-61 * time.Minute)
	if stale.Valid(now) {
		t.Error("stale snapshot accepted")
	}

	edge := base
	edge.SavedAt = now.Add(-SnapshotMaxAge)
	if edge.Valid(now) {
		t.Error("snapshot exactly at max age accepted")
	}

	incomplete := base
	incomplete.Question = ""
	if incomplete.Valid(now) {
		t.Error("incomplete snapshot accepted")
	}

	var zero Snapshot
	if zero.Valid(now) {
		t.Error("zero snapshot accepted")
	}
}

func TestFileSnapshotStoreRoundTrip(t *testing.T) {
	store := NewFileSnapshotStore(filepath.Join(t.TempDir(), "state", "snapshot.json"))

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("Load on empty store: ok=%v err=%v", ok, err)
	}

	snap := Snapshot{
		SessionID:  "sess-1",
		QuestionID: "q-1",
		Question:   "Tell me about yourself.",
		SavedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.SessionID != snap.SessionID || got.QuestionID != snap.QuestionID || got.Question != snap.Question {
		t.Errorf("Load = %+v, want %+v", got, snap)
	}
	if !got.SavedAt.Equal(snap.SavedAt) {
		t.Errorf("SavedAt = %v, want %v", got.SavedAt, snap.SavedAt)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := store.Load(); ok {
		t.Error("snapshot survives Clear")
	}
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}
