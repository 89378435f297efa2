package ops

import (
	"context"
	"slices"

	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
	"github.com/hpungsan/studyfocus/internal/session"
	"github.com/hpungsan/studyfocus/internal/state"
)

// StartSessionInput contains parameters for the StartSession operation.
// Empty Tasks falls back to the saved plan; nil BlockedSites falls back to
// the saved sites and then to the configured defaults.
type StartSessionInput struct {
	Tasks        []schedule.Task
	BlockedSites []string
}

// StartSession begins a session, replacing any session in progress.
// Blocking rules are installed before the state is written.
func (s *Service) StartSession(ctx context.Context, input StartSessionInput) (*Result, error) {
	tasks, err := schedule.Validate(input.Tasks)
	if err != nil {
		return nil, err
	}
	sites := cleanSites(input.BlockedSites)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if len(tasks) == 0 {
		tasks = current.Tasks
	}
	if len(tasks) == 0 {
		tasks = newDefaultPlan(DefaultTaskTitle, now)
	}
	if sites == nil {
		sites = current.BlockedSites
	}
	if len(sites) == 0 && input.BlockedSites == nil {
		sites = slices.Clone(s.cfg.DefaultBlockedSites)
	}

	active := session.Start(tasks, sites, now)
	if _, err := s.rules.Sync(ctx, active.BlockedSites); err != nil {
		return nil, err
	}

	next := current.Clone()
	next.Tasks = slices.Clone(active.BaseTasks)
	next.BlockedSites = slices.Clone(active.BlockedSites)
	next.ActiveSession = active
	if err := s.store.Set(ctx, next); err != nil {
		return nil, err
	}

	pslog.Ctx(ctx).Info("session started", "entries", len(active.Entries), "sites", len(active.BlockedSites))
	return &Result{State: next, Session: active}, nil
}

// EndSession stops the session, if any, and removes every blocking rule.
func (s *Service) EndSession(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	next, err := s.finish(ctx, current)
	if err != nil {
		return nil, err
	}
	pslog.Ctx(ctx).Info("session ended", "was_active", current.Active())
	return &Result{State: next}, nil
}

// NextPhase advances the session to requestedIndex, or to the next entry
// when it is nil. Moving past the last entry ends the session.
func (s *Service) NextPhase(ctx context.Context, requestedIndex *int) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if current.ActiveSession == nil {
		return nil, errors.NewNoActiveSession()
	}

	advanced, completed, err := current.ActiveSession.Advance(requestedIndex, s.now())
	if err != nil {
		return nil, err
	}
	if completed {
		next, err := s.finish(ctx, current)
		if err != nil {
			return nil, err
		}
		pslog.Ctx(ctx).Info("session completed", "entries", len(current.ActiveSession.Entries))
		return &Result{State: next}, nil
	}

	next := current.Clone()
	next.ActiveSession = advanced
	if err := s.store.Set(ctx, next); err != nil {
		return nil, err
	}
	pslog.Ctx(ctx).Info("phase advanced", "index", advanced.CurrentIndex)
	return &Result{State: next, Session: advanced}, nil
}

// UpdateSessionInput contains parameters for the UpdateSession operation.
// nil fields keep the session's current value.
type UpdateSessionInput struct {
	BaseTasks    []schedule.Task
	BlockedSites []string
}

// UpdateSession edits the running session's tasks or sites. The plan and
// site list follow the session. Removing every task ends the session.
func (s *Service) UpdateSession(ctx context.Context, input UpdateSessionInput) (*Result, error) {
	var baseTasks []schedule.Task
	if input.BaseTasks != nil {
		validated, err := schedule.Validate(input.BaseTasks)
		if err != nil {
			return nil, err
		}
		baseTasks = schedule.Reorder(validated)
	}
	sites := cleanSites(input.BlockedSites)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if current.ActiveSession == nil {
		return nil, errors.NewNoActiveSession()
	}

	updated, completed := current.ActiveSession.UpdatePlan(baseTasks, sites, s.now())
	if completed {
		cleared := current.Clone()
		cleared.Tasks = []schedule.Task{}
		if sites != nil {
			cleared.BlockedSites = sites
		}
		next, err := s.finish(ctx, cleared)
		if err != nil {
			return nil, err
		}
		pslog.Ctx(ctx).Info("session completed", "reason", "no tasks left")
		return &Result{State: next}, nil
	}

	if _, err := s.rules.Sync(ctx, updated.BlockedSites); err != nil {
		return nil, err
	}

	next := current.Clone()
	next.ActiveSession = updated
	next.Tasks = slices.Clone(updated.BaseTasks)
	next.BlockedSites = slices.Clone(updated.BlockedSites)
	if err := s.store.Set(ctx, next); err != nil {
		return nil, err
	}
	pslog.Ctx(ctx).Info("session updated", "entries", len(updated.Entries), "index", updated.CurrentIndex)
	return &Result{State: next, Session: updated}, nil
}

// finish clears the rules and writes current with no active session.
// Callers hold s.mu.
func (s *Service) finish(ctx context.Context, current state.SharedState) (state.SharedState, error) {
	if err := s.rules.Clear(ctx); err != nil {
		return state.SharedState{}, err
	}
	next := current.Clone()
	next.ActiveSession = nil
	if err := s.store.Set(ctx, next); err != nil {
		return state.SharedState{}, err
	}
	return next, nil
}
