// Package store holds the latest live snapshot for readers.
package store

import (
	"sync/atomic"
	"time"

	"livetrack/internal/transit"
)

type state struct {
	snapshot   transit.Snapshot
	lastUpdate time.Time // zero until the first Replace
}

// Store is written by a single poll scheduler and read by any number of
// goroutines. Reads never block writers.
type Store struct {
	cur atomic.Pointer[state]
	now func() time.Time
}

func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock lets tests control the lastUpdate timestamp.
func NewWithClock(now func() time.Time) *Store {
	s := &Store{now: now}
	s.cur.Store(&state{snapshot: transit.EmptySnapshot(time.Time{})})
	return s
}

// Replace swaps in snap and stamps lastUpdate with the current wall time,
// independent of snap.CapturedAt.
func (s *Store) Replace(snap transit.Snapshot) {
	s.cur.Store(&state{snapshot: snap, lastUpdate: s.now()})
}

// Read returns the current snapshot and when it was stored. lastUpdate is the
// zero time when nothing has been stored since construction or the last Clear.
func (s *Store) Read() (transit.Snapshot, time.Time) {
	st := s.cur.Load()
	return st.snapshot, st.lastUpdate
}

// Clear resets to an empty snapshot.
func (s *Store) Clear() {
	s.cur.Store(&state{snapshot: transit.EmptySnapshot(s.now())})
}
