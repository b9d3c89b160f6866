package store

import (
	"errors"
	"sync"
	"time"

	"meshdeck/core/internal/actions"
	"meshdeck/core/internal/game"
)

// DefaultHistoryDepth bounds the rollback window. Older snapshots are evicted
// oldest-first, so an action can only be rolled back while its pre-image is
// still inside the ring.
const DefaultHistoryDepth = 20

// ErrSnapshotEvicted reports that the pre-action snapshot needed for a
// rollback has already left the history ring.
var ErrSnapshotEvicted = errors.New("pre-action snapshot no longer in history")

// ErrActionNotLogged reports that the action id is absent from the log.
var ErrActionNotLogged = errors.New("action not present in log")

// Snapshot pairs a prior state with the moment it was replaced.
type Snapshot struct {
	State       *game.State
	CommittedAt time.Time
}

// LogEntry records one accepted action and the version the state reached
// when it applied.
type LogEntry struct {
	Action    actions.Action
	Version   uint64
	AppliedAt time.Time
}

// Listener receives a deep copy of the state after every commit. Mutating
// the copy never reaches the store.
type Listener func(*game.State)

// Store owns the authoritative local replica: the current snapshot, a
// bounded ring of prior snapshots for rollback, and the ordered action log
// since session start.
type Store struct {
	mu           sync.Mutex
	current      *game.State
	history      []Snapshot
	depth        int
	log          []LogEntry
	listeners    map[uint64]Listener
	nextListener uint64
	now          func() time.Time
}

// New constructs a store seeded with the initial state.
func New(initial *game.State, depth int) *Store {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &Store{
		current:   initial.Clone(),
		history:   make([]Snapshot, 0, depth),
		depth:     depth,
		listeners: make(map[uint64]Listener),
		now:       time.Now,
	}
}

// Current returns a deep copy of the present state.
func (s *Store) Current() *game.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Version returns the present state's version without copying.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Version
}

// Subscribe registers a state-change listener and returns its unsubscribe
// function.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Commit replaces the current state after the given action applied, pushing
// the prior snapshot onto the history ring and appending to the action log.
// Listeners are invoked synchronously, each with its own deep copy.
func (s *Store) Commit(next *game.State, action actions.Action) {
	s.mu.Lock()
	s.pushHistoryLocked()
	s.log = append(s.log, LogEntry{Action: action, Version: next.Version, AppliedAt: s.now()})
	s.current = next.Clone()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next.Clone())
	}
}

// Replace swaps in an externally-sourced full state (reconciliation or
// bootstrap). The local history and log no longer describe the new lineage,
// so both are cleared; rollback windows restart from here.
func (s *Store) Replace(state *game.State) {
	s.mu.Lock()
	s.current = state.Clone()
	s.history = s.history[:0]
	s.log = s.log[:0]
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state.Clone())
	}
}

// SnapshotBefore returns a copy of the state as it was immediately before
// the given action applied.
func (s *Store) SnapshotBefore(actionID string) (*game.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotBeforeLocked(actionID)
}

// ActionsAfter returns copies of the log entries recorded after the given
// action, in original order.
func (s *Store) ActionsAfter(actionID string) []actions.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.logIndexLocked(actionID)
	if idx < 0 {
		return nil
	}
	out := make([]actions.Action, 0, len(s.log)-idx-1)
	for _, entry := range s.log[idx+1:] {
		out = append(out, entry.Action)
	}
	return out
}

// Log returns a copy of the full action log.
func (s *Store) Log() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.log))
	copy(out, s.log)
	return out
}

// Replay deterministically re-applies an ordered action sequence on top of a
// base state. Actions that no longer apply cleanly are skipped; the second
// return value lists the actions that did apply.
func Replay(base *game.State, acts []actions.Action) (*game.State, []actions.Action) {
	state := base.Clone()
	applied := make([]actions.Action, 0, len(acts))
	for _, action := range acts {
		next, err := actions.Apply(state, action)
		if err != nil {
			continue
		}
		state = next
		applied = append(applied, action)
	}
	return state, applied
}

// Rollback excises a rejected action: it restores the snapshot that preceded
// it, drops the action from the log, and replays every action logged after
// it in original order. Listeners observe a single notification carrying the
// final post-rollback state.
func (s *Store) Rollback(actionID string) error {
	s.mu.Lock()

	idx := s.logIndexLocked(actionID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrActionNotLogged
	}
	base, err := s.snapshotBeforeLocked(actionID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	subsequent := make([]actions.Action, 0, len(s.log)-idx-1)
	for _, entry := range s.log[idx+1:] {
		subsequent = append(subsequent, entry.Action)
	}

	// Discard every snapshot taken at or after the rejected application;
	// the replay below rebuilds that stretch of history.
	trimmed := s.history[:0]
	for _, snap := range s.history {
		if snap.State.Version < base.Version {
			trimmed = append(trimmed, snap)
		}
	}
	s.history = trimmed
	s.log = s.log[:idx]
	s.current = base

	for _, action := range subsequent {
		next, err := actions.Apply(s.current, action)
		if err != nil {
			continue
		}
		s.pushHistoryLocked()
		s.log = append(s.log, LogEntry{Action: action, Version: next.Version, AppliedAt: s.now()})
		s.current = next
	}

	final := s.current.Clone()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(final.Clone())
	}
	return nil
}

func (s *Store) pushHistoryLocked() {
	if len(s.history) >= s.depth {
		s.history = append(s.history[:0], s.history[1:]...)
	}
	s.history = append(s.history, Snapshot{State: s.current, CommittedAt: s.now()})
}

func (s *Store) snapshotBeforeLocked(actionID string) (*game.State, error) {
	idx := s.logIndexLocked(actionID)
	if idx < 0 {
		return nil, ErrActionNotLogged
	}
	target := s.log[idx].Version - 1
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].State.Version == target {
			return s.history[i].State.Clone(), nil
		}
	}
	return nil, ErrSnapshotEvicted
}

func (s *Store) logIndexLocked(actionID string) int {
	for i := range s.log {
		if s.log[i].Action.ID == actionID {
			return i
		}
	}
	return -1
}

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}
