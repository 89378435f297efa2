// Package state persists the process-wide SharedState as a single JSON blob
// and notifies subscribers when it changes.
package state

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
	"github.com/hpungsan/studyfocus/internal/session"
)

// Key is the storage key the shared state is kept under.
const Key = "sfState"

// SharedState is the single persisted record read and written by the
// request handler and observed by every surface.
type SharedState struct {
	Tasks         []schedule.Task `json:"tasks"`
	BlockedSites  []string        `json:"blockedSites"`
	ActiveSession *session.Active `json:"activeSession"`
	Notes         string          `json:"notes"`
}

// Empty returns the state used before anything has been written.
func Empty() SharedState {
	return SharedState{
		Tasks:        []schedule.Task{},
		BlockedSites: []string{},
	}
}

// Active reports whether a session is in progress.
func (s SharedState) Active() bool { return s.ActiveSession != nil }

// Clone returns a copy that shares no slices with s.
func (s SharedState) Clone() SharedState {
	c := s
	c.Tasks = slices.Clone(s.Tasks)
	c.BlockedSites = slices.Clone(s.BlockedSites)
	if s.ActiveSession != nil {
		a := *s.ActiveSession
		a.BaseTasks = slices.Clone(a.BaseTasks)
		a.Entries = slices.Clone(a.Entries)
		a.BlockedSites = slices.Clone(a.BlockedSites)
		a.Timetable = slices.Clone(a.Timetable)
		c.ActiveSession = &a
	}
	return c.normalize()
}

// normalize replaces nil slices so the JSON form always carries arrays.
func (s SharedState) normalize() SharedState {
	if s.Tasks == nil {
		s.Tasks = []schedule.Task{}
	}
	if s.BlockedSites == nil {
		s.BlockedSites = []string{}
	}
	return s
}

// Change describes one successful Set.
type Change struct {
	Old SharedState
	New SharedState
	At  time.Time
}

// Store is the persistence port for SharedState.
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns the stored state, or Empty() if nothing was written yet.
	Get(ctx context.Context) (SharedState, error)
	// Set replaces the stored state and notifies subscribers.
	Set(ctx context.Context, next SharedState) error
	// Subscribe delivers a Change for every Set until cancel is called or ctx
	// ends. Slow subscribers miss changes rather than block writers.
	Subscribe(ctx context.Context) (<-chan Change, func())
	Close() error
}

func encode(s SharedState) ([]byte, error) {
	data, err := json.Marshal(s.normalize())
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return data, nil
}

func decode(data []byte) (SharedState, error) {
	s := Empty()
	if err := json.Unmarshal(data, &s); err != nil {
		return SharedState{}, errors.NewInternal(err)
	}
	return s.normalize(), nil
}
