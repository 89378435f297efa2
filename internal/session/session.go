// Package session holds the active focus session and its transitions.
//
// An Active value is treated as immutable: every transition returns a new
// value and leaves the receiver untouched, so callers can compare the old and
// new session when deciding on side effects. Idle is a nil *Active.
package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
)

// Active is a focus session in progress. Timestamps are Unix milliseconds.
type Active struct {
	BaseTasks        []schedule.Task          `json:"baseTasks"`
	Entries          []schedule.SessionEntry  `json:"entries"`
	BlockedSites     []string                 `json:"blockedSites"`
	CurrentIndex     int                      `json:"currentIndex"`
	PhaseStartedAt   int64                    `json:"phaseStartedAt"`
	SessionStartedAt int64                    `json:"sessionStartedAt"`
	Timetable        []schedule.TimetableSlot `json:"timetable"`
}

// Start builds a session over tasks positioned at the first entry.
// Starting while another session is active simply replaces it.
func Start(tasks []schedule.Task, blockedSites []string, now time.Time) *Active {
	baseTasks := slices.Clone(tasks)
	if baseTasks == nil {
		baseTasks = []schedule.Task{}
	}
	entries, timetable := schedule.Derive(baseTasks, now)
	ms := now.UnixMilli()
	return &Active{
		BaseTasks:        baseTasks,
		Entries:          entries,
		BlockedSites:     cloneSites(blockedSites),
		CurrentIndex:     0,
		PhaseStartedAt:   ms,
		SessionStartedAt: ms,
		Timetable:        timetable,
	}
}

// Advance moves to requested, or to the next entry when requested is nil.
// A target past the last entry completes the session: next is nil and
// completed is true.
func (a *Active) Advance(requested *int, now time.Time) (next *Active, completed bool, err error) {
	target := a.CurrentIndex + 1
	if requested != nil {
		if *requested < 0 {
			return nil, false, errors.NewInvalidRequest(fmt.Sprintf("currentIndex must be >= 0, got %d", *requested))
		}
		target = *requested
	}
	if target >= len(a.Entries) {
		return nil, true, nil
	}

	next = a.clone()
	next.CurrentIndex = target
	next.PhaseStartedAt = now.UnixMilli()
	return next, false, nil
}

// UpdatePlan re-derives entries and timetable. A nil baseTasks or
// blockedSites keeps the current value; a non-nil one replaces it wholesale.
//
// When the new plan has no entries the session completes. When it is
// shorter than the current position, the index is clamped to the last entry
// and that phase restarts at now.
func (a *Active) UpdatePlan(baseTasks []schedule.Task, blockedSites []string, now time.Time) (next *Active, completed bool) {
	next = a.clone()
	if baseTasks != nil {
		next.BaseTasks = slices.Clone(baseTasks)
	}
	if blockedSites != nil {
		next.BlockedSites = cloneSites(blockedSites)
	}

	next.Entries, next.Timetable = schedule.Derive(next.BaseTasks, now)
	if len(next.Entries) == 0 {
		return nil, true
	}
	if next.CurrentIndex >= len(next.Entries) {
		next.CurrentIndex = len(next.Entries) - 1
		next.PhaseStartedAt = now.UnixMilli()
	}
	return next, false
}

// CurrentEntry returns the entry at CurrentIndex.
func (a *Active) CurrentEntry() (schedule.SessionEntry, bool) {
	if a == nil || a.CurrentIndex < 0 || a.CurrentIndex >= len(a.Entries) {
		return schedule.SessionEntry{}, false
	}
	return a.Entries[a.CurrentIndex], true
}

// PhaseElapsed is the time spent in the current phase.
func (a *Active) PhaseElapsed(now time.Time) time.Duration {
	if a == nil {
		return 0
	}
	elapsed := now.Sub(time.UnixMilli(a.PhaseStartedAt))
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// PhaseRemaining is the planned time left in the current phase. It goes
// negative once the phase overruns.
func (a *Active) PhaseRemaining(now time.Time) time.Duration {
	entry, ok := a.CurrentEntry()
	if !ok {
		return 0
	}
	return entry.Duration() - a.PhaseElapsed(now)
}

// Progress returns the number of entries finished and the total.
func (a *Active) Progress() (done, total int) {
	if a == nil {
		return 0, 0
	}
	return a.CurrentIndex, len(a.Entries)
}

// SameSites reports whether a and b block the same site list.
func SameSites(a, b *Active) bool {
	if a == nil || b == nil {
		return a == b
	}
	return slices.Equal(a.BlockedSites, b.BlockedSites)
}

func (a *Active) clone() *Active {
	c := *a
	c.BaseTasks = slices.Clone(a.BaseTasks)
	c.Entries = slices.Clone(a.Entries)
	c.BlockedSites = slices.Clone(a.BlockedSites)
	c.Timetable = slices.Clone(a.Timetable)
	return &c
}

func cloneSites(sites []string) []string {
	if sites == nil {
		return []string{}
	}
	return slices.Clone(sites)
}
