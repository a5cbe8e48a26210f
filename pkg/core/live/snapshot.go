package live

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SnapshotMaxAge is how long a recovery snapshot stays usable. A page
// reloaded within this window resumes the session at its saved question
// instead of starting a new one.
const SnapshotMaxAge = time.Hour

// Snapshot is the minimal state needed to resume an interrupted session.
type Snapshot struct {
	SessionID  string    `json:"session_id"`
	QuestionID string    `json:"question_id"`
	Question   string    `json:"question"`
	SavedAt    time.Time `json:"saved_at"`
}

// Valid reports whether the snapshot is complete and fresh at the given
// time.
func (s Snapshot) Valid(now time.Time) bool {
	if s.SessionID == "" || s.QuestionID == "" || s.Question == "" {
		return false
	}
	if s.SavedAt.IsZero() {
		return false
	}
	return now.Sub(s.SavedAt) < SnapshotMaxAge
}

// SnapshotStore persists recovery snapshots. Front ends embedding the
// session client may supply their own backing (browser storage, app prefs).
type SnapshotStore interface {
	// Load returns the stored snapshot, or ok=false when none exists.
	Load() (snap Snapshot, ok bool, err error)
	Save(snap Snapshot) error
	Clear() error
}

// FileSnapshotStore keeps the snapshot in a single JSON file.
type FileSnapshotStore struct {
	Path string
}

// NewFileSnapshotStore creates a store writing to path.
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{Path: path}
}

func (s *FileSnapshotStore) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot is treated as absent rather than fatal.
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *FileSnapshotStore) Save(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

func (s *FileSnapshotStore) Clear() error {
	err := os.Remove(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
