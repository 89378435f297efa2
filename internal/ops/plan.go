package ops

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
)

// SetPlanInput contains parameters for the SetPlan operation.
// A nil BlockedSites clears the site list.
type SetPlanInput struct {
	Tasks        []schedule.Task
	BlockedSites []string
}

// SetPlan replaces the task plan and blocked sites. Tasks are renumbered in
// sequence order and an empty plan gets a single placeholder task. When a
// session is running its plan is re-derived from the new tasks and the
// blocking rules follow the new site list.
func (s *Service) SetPlan(ctx context.Context, input SetPlanInput) (*Result, error) {
	tasks, err := schedule.Validate(input.Tasks)
	if err != nil {
		return nil, err
	}
	sites := cleanSites(input.BlockedSites)
	if sites == nil {
		sites = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	next := current.Clone()
	next.Tasks = schedule.Reorder(tasks)
	if len(next.Tasks) == 0 {
		next.Tasks = newDefaultPlan(DefaultTaskTitle, now)
	}
	next.BlockedSites = sites

	if current.ActiveSession != nil {
		// Tasks are never empty here, so the session cannot complete.
		next.ActiveSession, _ = current.ActiveSession.UpdatePlan(next.Tasks, sites, now)
		if _, err := s.rules.Sync(ctx, sites); err != nil {
			return nil, err
		}
	}

	if err := s.store.Set(ctx, next); err != nil {
		return nil, err
	}
	pslog.Ctx(ctx).Info("plan updated", "tasks", len(next.Tasks), "sites", len(sites), "active", next.Active())
	return &Result{State: next, Session: next.ActiveSession}, nil
}

// UpdateNotes replaces the free-form notes.
func (s *Service) UpdateNotes(ctx context.Context, notes string) (*Result, error) {
	if limit := s.cfg.NotesMaxChars; limit > 0 && utf8.RuneCountInString(notes) > limit {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("notes exceed %d characters", limit))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	next.Notes = notes
	if err := s.store.Set(ctx, next); err != nil {
		return nil, err
	}
	pslog.Ctx(ctx).Debug("notes updated", "chars", utf8.RuneCountInString(notes))
	return &Result{State: next}, nil
}

func newDefaultPlan(title string, now time.Time) []schedule.Task {
	return []schedule.Task{schedule.NewTask(title, now)}
}
