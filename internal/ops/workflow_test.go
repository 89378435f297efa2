package ops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
)

// TestFullWorkflow walks a session end to end:
// bootstrap → plan → start → next → update → next → next (complete) → next (error)
func TestFullWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	changes, cancel := f.svc.Store().Subscribe(ctx)
	defer cancel()

	// 1. Bootstrap seeds a task
	st, err := f.svc.Bootstrap(ctx)
	require.NoError(t, err)
	require.Len(t, st.Tasks, 1)

	// 2. Plan
	_, err = f.svc.SetPlan(ctx, SetPlanInput{
		Tasks:        []schedule.Task{{Title: "Essay", EstimatedMinutes: 30}, {Title: "Flashcards", EstimatedMinutes: 15}},
		BlockedSites: []string{"youtube.com"},
	})
	require.NoError(t, err)

	// 3. Start from the saved plan
	res, err := f.svc.StartSession(ctx, StartSessionInput{})
	require.NoError(t, err)
	require.Len(t, res.Session.Entries, 3)
	require.Len(t, f.installed(t), 1)

	// 4. Work phase done, on to the break
	f.advanceClock(30 * time.Minute)
	res, err = f.svc.NextPhase(ctx, nil)
	require.NoError(t, err)
	require.True(t, res.Session.Entries[res.Session.CurrentIndex].IsBreak)

	// 5. Add a site mid-session
	res, err = f.svc.UpdateSession(ctx, UpdateSessionInput{BlockedSites: []string{"youtube.com", "reddit.com"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Session.CurrentIndex)
	require.Len(t, f.installed(t), 2)

	// 6. Break over, last task, then completion
	f.advanceClock(5 * time.Minute)
	res, err = f.svc.NextPhase(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "Flashcards", res.Session.Entries[res.Session.CurrentIndex].Title)

	res, err = f.svc.NextPhase(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, res.State.ActiveSession)
	require.Empty(t, f.installed(t))

	// 7. Nothing left to advance
	_, err = f.svc.NextPhase(ctx, nil)
	require.True(t, errors.Is(err, errors.ErrNoActiveSession))

	// Every successful write was observed.
	seen := 0
	for {
		select {
		case <-changes:
			seen++
			continue
		default:
		}
		break
	}
	require.Equal(t, 7, seen)
}
