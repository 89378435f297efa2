package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
)

var t0 = time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

func twoTasks() []schedule.Task {
	return []schedule.Task{
		{ID: "a", Title: "A", EstimatedMinutes: 25, Order: 0},
		{ID: "b", Title: "B", EstimatedMinutes: 10, Order: 1},
	}
}

func intPtr(i int) *int { return &i }

func TestStart(t *testing.T) {
	s := Start(twoTasks(), []string{"youtube.com"}, t0)

	assert.Equal(t, 0, s.CurrentIndex)
	require.Len(t, s.Entries, 3)
	assert.Equal(t, "A", s.Entries[0].Title)
	assert.True(t, s.Entries[1].IsBreak)
	assert.Equal(t, "B", s.Entries[2].Title)
	assert.Len(t, s.Timetable, 3)
	assert.Equal(t, t0.UnixMilli(), s.PhaseStartedAt)
	assert.Equal(t, t0.UnixMilli(), s.SessionStartedAt)
	assert.Equal(t, []string{"youtube.com"}, s.BlockedSites)
}

func TestStart_CopiesInputs(t *testing.T) {
	tasks := twoTasks()
	sites := []string{"youtube.com"}
	s := Start(tasks, sites, t0)

	tasks[0].Title = "mutated"
	sites[0] = "mutated"

	assert.Equal(t, "A", s.BaseTasks[0].Title)
	assert.Equal(t, "youtube.com", s.BlockedSites[0])
}

func TestStart_NilSlicesBecomeEmpty(t *testing.T) {
	s := Start(nil, nil, t0)
	assert.NotNil(t, s.BaseTasks)
	assert.NotNil(t, s.BlockedSites)
	assert.Empty(t, s.Entries)
}

func TestAdvance_Next(t *testing.T) {
	s := Start(twoTasks(), nil, t0)
	later := t0.Add(26 * time.Minute)

	next, completed, err := s.Advance(nil, later)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, 1, next.CurrentIndex)
	assert.Equal(t, later.UnixMilli(), next.PhaseStartedAt)
	assert.Equal(t, t0.UnixMilli(), next.SessionStartedAt)
	assert.Equal(t, 0, s.CurrentIndex, "receiver unchanged")
}

func TestAdvance_FromLastCompletes(t *testing.T) {
	s := Start(twoTasks(), nil, t0)
	s.CurrentIndex = 2

	next, completed, err := s.Advance(nil, t0)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Nil(t, next)
}

func TestAdvance_Requested(t *testing.T) {
	s := Start(twoTasks(), nil, t0)

	next, completed, err := s.Advance(intPtr(2), t0)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, 2, next.CurrentIndex)

	// Jumping backwards is allowed.
	back, _, err := next.Advance(intPtr(0), t0)
	require.NoError(t, err)
	assert.Equal(t, 0, back.CurrentIndex)

	_, completed, err = s.Advance(intPtr(3), t0)
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestAdvance_NegativeIndex(t *testing.T) {
	s := Start(twoTasks(), nil, t0)

	_, _, err := s.Advance(intPtr(-1), t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestUpdatePlan_ReplacesAndRederives(t *testing.T) {
	s := Start(twoTasks(), []string{"youtube.com"}, t0)
	later := t0.Add(time.Minute)

	tasks := append(twoTasks(), schedule.Task{ID: "c", Title: "C", EstimatedMinutes: 15, Order: 2})
	next, completed := s.UpdatePlan(tasks, []string{"reddit.com"}, later)

	require.False(t, completed)
	assert.Len(t, next.Entries, 5)
	assert.Len(t, next.Timetable, 5)
	assert.Equal(t, later.UnixMilli(), next.Timetable[0].StartTime)
	assert.Equal(t, []string{"reddit.com"}, next.BlockedSites)
	assert.Equal(t, s.PhaseStartedAt, next.PhaseStartedAt, "phase clock untouched when index still valid")
	assert.Len(t, s.Entries, 3, "receiver unchanged")
}

func TestUpdatePlan_NilKeepsCurrent(t *testing.T) {
	s := Start(twoTasks(), []string{"youtube.com"}, t0)

	next, completed := s.UpdatePlan(nil, nil, t0)
	require.False(t, completed)
	assert.Equal(t, s.BaseTasks, next.BaseTasks)
	assert.Equal(t, s.BlockedSites, next.BlockedSites)

	cleared, _ := s.UpdatePlan(nil, []string{}, t0)
	assert.Empty(t, cleared.BlockedSites)
}

func TestUpdatePlan_ClampsIndex(t *testing.T) {
	s := Start(append(twoTasks(), schedule.Task{ID: "c", EstimatedMinutes: 5}), nil, t0)
	s.CurrentIndex = 4
	later := t0.Add(time.Hour)

	next, completed := s.UpdatePlan(twoTasks()[:1], nil, later)
	require.False(t, completed)
	assert.Equal(t, 0, next.CurrentIndex)
	assert.Equal(t, later.UnixMilli(), next.PhaseStartedAt)

	entry, ok := next.CurrentEntry()
	require.True(t, ok)
	assert.Equal(t, "A", entry.Title)
}

func TestUpdatePlan_EmptyCompletes(t *testing.T) {
	s := Start(twoTasks(), nil, t0)

	next, completed := s.UpdatePlan([]schedule.Task{}, nil, t0)
	assert.True(t, completed)
	assert.Nil(t, next)
}

func TestPhaseTiming(t *testing.T) {
	s := Start(twoTasks(), nil, t0)

	assert.Equal(t, 10*time.Minute, s.PhaseElapsed(t0.Add(10*time.Minute)))
	assert.Equal(t, 15*time.Minute, s.PhaseRemaining(t0.Add(10*time.Minute)))
	assert.Equal(t, -time.Minute, s.PhaseRemaining(t0.Add(26*time.Minute)))
	assert.Equal(t, time.Duration(0), s.PhaseElapsed(t0.Add(-time.Minute)))

	var idle *Active
	assert.Equal(t, time.Duration(0), idle.PhaseRemaining(t0))
	_, ok := idle.CurrentEntry()
	assert.False(t, ok)
}

func TestProgress(t *testing.T) {
	s := Start(twoTasks(), nil, t0)
	next, _, _ := s.Advance(nil, t0)

	done, total := next.Progress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 3, total)
}

func TestSameSites(t *testing.T) {
	a := Start(nil, []string{"x.com"}, t0)
	b := Start(nil, []string{"x.com"}, t0)
	c := Start(nil, []string{"y.com"}, t0)

	assert.True(t, SameSites(a, b))
	assert.False(t, SameSites(a, c))
	assert.False(t, SameSites(a, nil))
	assert.True(t, SameSites(nil, nil))
}
