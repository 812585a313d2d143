package logstore

import (
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v; want nil", err)
	}
	return s
}

func TestAppend_Basics(t *testing.T) {
	s := newTestStore(t)

	e := s.Append(LevelWarn, "Augment", "billing", "duplicate email", time.Time{})
	if e.Level != LevelWarn || e.App != "Augment" || e.Scope != "billing" {
		t.Fatalf("Append() = %+v; want warn/Augment/billing", e)
	}
	if e.Timestamp.IsZero() {
		t.Fatalf("Append() timestamp is zero; want capture time")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", s.Len())
	}
}

func TestAppend_CoercesUnknownLevelAndApp(t *testing.T) {
	s := newTestStore(t)
	e := s.Append("fatal", "", "", "msg", time.Time{})
	if e.Level != LevelInfo {
		t.Fatalf("Append() level = %q; want %q", e.Level, LevelInfo)
	}
	if e.App != "Unknown" {
		t.Fatalf("Append() app = %q; want Unknown", e.App)
	}
}

func TestAppend_MonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ts := time.Now()
	a := s.Append(LevelInfo, "AutoFill", "", "one", ts)
	b := s.Append(LevelInfo, "AutoFill", "", "two", ts)
	if b.ID <= a.ID {
		t.Fatalf("Append() IDs %d then %d; want strictly increasing", a.ID, b.ID)
	}
}

func TestAppend_EvictsOldestAtCapacity(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < MaxEntries+1; i++ {
		s.Append(LevelInfo, "AutoFill", "", fmt.Sprintf("entry-%d", i), time.Time{})
	}

	entries := s.Entries()
	if len(entries) != MaxEntries {
		t.Fatalf("Entries() len = %d; want %d", len(entries), MaxEntries)
	}
	if entries[0].Message != "entry-1" {
		t.Fatalf("oldest entry = %q; want entry-1 (entry-0 evicted)", entries[0].Message)
	}
	if entries[len(entries)-1].Message != fmt.Sprintf("entry-%d", MaxEntries) {
		t.Fatalf("newest entry = %q; want entry-%d", entries[len(entries)-1].Message, MaxEntries)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID <= entries[i-1].ID {
			t.Fatalf("entries out of order at %d: %d then %d", i, entries[i-1].ID, entries[i].ID)
		}
	}
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v; want nil", err)
	}
	s.Append(LevelError, "AutoFill", "", "delivery failed", time.Time{})

	s2, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore() reload error = %v; want nil", err)
	}
	entries := s2.Entries()
	if len(entries) != 1 {
		t.Fatalf("reloaded Entries() len = %d; want 1", len(entries))
	}
	if entries[0].Message != "delivery failed" {
		t.Fatalf("reloaded entry = %q; want %q", entries[0].Message, "delivery failed")
	}
}

func TestAppend_Broadcasts(t *testing.T) {
	broker := NewBroker()
	s, err := NewStore(t.TempDir(), broker)
	if err != nil {
		t.Fatalf("NewStore() error = %v; want nil", err)
	}

	id, ch := broker.Subscribe()
	defer broker.Unsubscribe(id)

	s.Append(LevelInfo, "AutoFill", "", "hello", time.Time{})

	select {
	case e := <-ch:
		if e.Message != "hello" {
			t.Fatalf("broadcast entry = %q; want hello", e.Message)
		}
	case <-time.After(time.Second):
		t.Fatalf("no broadcast received")
	}
}

func TestBroker_DropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(Entry{ID: int64(i)})
	}
	// The publish side must never have blocked; the channel holds at most
	// its buffer size.
	if got := len(ch); got != subscriberBufSize {
		t.Fatalf("buffered entries = %d; want %d", got, subscriberBufSize)
	}
}
