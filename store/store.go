package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/model"
)

const (
	// snapshotTTL is the staleness ceiling for restored game state.
	snapshotTTL = 24 * time.Hour

	// maxSessions bounds the recent-sessions list.
	maxSessions = 5

	queueFile    = "queue.json"
	sessionsFile = "sessions.json"
)

// Store keeps per-player local state on disk: the last game snapshot
// per code, the outbound message queue, and a short list of recent
// sessions. One store belongs to one peer; nothing here is replicated.
type Store struct {
	logger zerolog.Logger

	mu  sync.Mutex
	dir string
}

func New(dir string, logger *zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		logger: logger.With().Str("component", "store").Logger(),
		dir:    dir,
	}, nil
}

func (s *Store) snapshotPath(gameCode string) string {
	return filepath.Join(s.dir, "game_"+strings.ToLower(gameCode)+".json")
}

// SaveSnapshot persists the latest game state for its code.
func (s *Store) SaveSnapshot(state model.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.snapshotPath(state.GameCode), state)
}

// LoadSnapshot restores the last known state for a code. Snapshots past
// the staleness ceiling, missing or corrupt files all read as absent.
func (s *Store) LoadSnapshot(gameCode string) (*model.GameState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state model.GameState
	if !s.readJSON(s.snapshotPath(gameCode), &state) {
		return nil, false
	}
	age := time.Since(time.UnixMilli(state.LastUpdated))
	if age > snapshotTTL {
		s.logger.Debug().Str("gameCode", gameCode).Dur("age", age).Msg("snapshot is stale")
		return nil, false
	}
	return &state, true
}

// AppendQueued adds a message to the durable outbound queue.
func (s *Store) AppendQueued(env model.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queue []model.Envelope
	s.readJSON(filepath.Join(s.dir, queueFile), &queue)
	queue = append(queue, env)
	return s.writeJSON(filepath.Join(s.dir, queueFile), queue)
}

// LoadQueue returns queued messages in append order.
func (s *Store) LoadQueue() ([]model.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queue []model.Envelope
	s.readJSON(filepath.Join(s.dir, queueFile), &queue)
	return queue, nil
}

func (s *Store) ClearQueue() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, queueFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SaveSession records a recent session for the rejoin flow: newest
// first, unique per game code, capped.
func (s *Store) SaveSession(entry model.SavedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []model.SavedSession
	s.readJSON(filepath.Join(s.dir, sessionsFile), &sessions)

	kept := make([]model.SavedSession, 0, len(sessions)+1)
	kept = append(kept, entry)
	for _, old := range sessions {
		if old.GameCode != entry.GameCode {
			kept = append(kept, old)
		}
	}
	if len(kept) > maxSessions {
		kept = kept[:maxSessions]
	}
	return s.writeJSON(filepath.Join(s.dir, sessionsFile), kept)
}

// Sessions lists recent sessions, newest first.
func (s *Store) Sessions() []model.SavedSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []model.SavedSession
	s.readJSON(filepath.Join(s.dir, sessionsFile), &sessions)
	return sessions
}

func (s *Store) ClearSessions() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, sessionsFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) writeJSON(path string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// readJSON reports whether v was populated. Corrupt files are treated
// as absent.
func (s *Store) readJSON(path string, v any) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err = json.Unmarshal(b, v); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("discarding corrupt state file")
		return false
	}
	return true
}
