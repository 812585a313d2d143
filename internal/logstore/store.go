// Package logstore keeps the bounded automation log: a persisted FIFO ring
// of at most 300 entries, appended through a single funnel and broadcast to
// subscribers on append.
package logstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxEntries bounds the persisted log; appending beyond it evicts the oldest.
const MaxEntries = 300

// Levels accepted by Append. Anything else is coerced to info.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry is a single automation log record. Immutable after append.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	App       string    `json:"app"`
	Scope     string    `json:"scope,omitempty"`
	Message   string    `json:"message"`
}

// Store owns the bounded log sequence and its on-disk copy.
type Store struct {
	path   string
	broker *Broker

	mu      sync.Mutex
	entries []Entry
	lastID  int64
}

// NewStore loads any persisted entries from dir and returns the store.
func NewStore(dir string, broker *Broker) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: mkdir %s: %w", dir, err)
	}
	s := &Store{
		path:   filepath.Join(dir, "auto_register_logs.json"),
		broker: broker,
	}
	if err := s.load(); err != nil {
		// A corrupt file is not fatal; start over.
		slog.Warn("logstore: discarding unreadable log file", "path", s.path, "error", err)
		s.entries = nil
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if len(entries) > MaxEntries {
		entries = entries[len(entries)-MaxEntries:]
	}
	s.entries = entries
	for _, e := range entries {
		if e.ID > s.lastID {
			s.lastID = e.ID
		}
	}
	return nil
}

// Append records one entry, evicting the oldest when full, persists the
// sequence and notifies subscribers. It is the only write path.
func (s *Store) Append(level, app, scope, message string, ts time.Time) Entry {
	switch level {
	case LevelInfo, LevelWarn, LevelError:
	default:
		level = LevelInfo
	}
	if app == "" {
		app = "Unknown"
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	s.mu.Lock()
	// IDs derive from capture time but must stay monotonic even when two
	// entries land in the same millisecond.
	id := ts.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id

	e := Entry{ID: id, Timestamp: ts, Level: level, App: app, Scope: scope, Message: message}
	s.entries = append(s.entries, e)
	if len(s.entries) > MaxEntries {
		s.entries = s.entries[len(s.entries)-MaxEntries:]
	}
	if err := s.persistLocked(); err != nil {
		slog.Debug("logstore: persist failed", "error", err)
	}
	s.mu.Unlock()

	if s.broker != nil {
		s.broker.Publish(e)
	}
	return e
}

func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Entries returns a copy of the current sequence, oldest first.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
