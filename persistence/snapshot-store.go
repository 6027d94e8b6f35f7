package persistence

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/spooky-finn/go-terminal-bridge/domain"
)

var logger = log.New(os.Stdout, "[persistence] ", log.LstdFlags)

// Store persists session-keyed aggregation snapshots as msgpack files.
// Persistence is best effort throughout: the bridge must run correctly with
// no persisted state at all, so every I/O failure is logged and swallowed by
// the callers.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Printf("creating data dir %s: %s", dir, err)
	}
	return &Store{dir: dir}
}

func (s *Store) path(session string) string {
	return filepath.Join(s.dir, fmt.Sprintf("aggregator_%s.msgpack", session))
}

// Save writes one immutable snapshot, replacing any previous one for the
// same session key.
func (s *Store) Save(state *domain.SessionState) error {
	if state == nil {
		return nil
	}

	raw, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding session snapshot: %w", err)
	}

	tmp := s.path(state.Session) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(state.Session))
}

// Load returns the snapshot for the given session key, or nil when there is
// none worth loading: a missing file, an undecodable one, or a session-key or
// schema-version mismatch all mean "no prior state", never an error.
func (s *Store) Load(session string) *domain.SessionState {
	raw, err := os.ReadFile(s.path(session))
	if err != nil {
		return nil
	}

	var state domain.SessionState
	if err := msgpack.Unmarshal(raw, &state); err != nil {
		logger.Printf("discarding undecodable snapshot for %s: %s", session, err)
		return nil
	}
	if state.Session != session || state.Schema != domain.SchemaVersion {
		logger.Printf("discarding snapshot for %s (session=%s schema=%d)", session, state.Session, state.Schema)
		return nil
	}
	return &state
}

// StartAutosave persists the snapshot on every interval until the returned
// stop function is called. A non-positive interval disables autosave.
func (s *Store) StartAutosave(interval time.Duration, snapshot func() *domain.SessionState) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := s.Save(snapshot()); err != nil {
					logger.Printf("autosave: %s", err)
				}
			}
		}
	}()

	return func() { close(done) }
}
