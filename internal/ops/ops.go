package ops

import (
	"context"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/blocking"
	"github.com/hpungsan/studyfocus/internal/config"
	"github.com/hpungsan/studyfocus/internal/session"
	"github.com/hpungsan/studyfocus/internal/state"
)

const (
	// DefaultTaskTitle names the placeholder task used when a plan is empty.
	DefaultTaskTitle = "New task"

	// SeedTaskTitle names the task seeded on first run.
	SeedTaskTitle = "Homework session"
)

// Result is returned by every state-changing operation. Session is set only
// when the operation leaves a session in progress.
type Result struct {
	State   state.SharedState `json:"state"`
	Session *session.Active   `json:"session,omitempty"`
}

// Service applies plan and session operations to the shared state and keeps
// blocking rules in step with the active session. Operations run one at a
// time within a process; the base directory lock keeps other processes from
// writing while a server runs.
type Service struct {
	store state.Store
	rules *blocking.Manager
	cfg   *config.Config
	now   func() time.Time

	mu sync.Mutex
}

// NewService returns a Service. A nil cfg uses config.DefaultConfig.
func NewService(store state.Store, rules *blocking.Manager, cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Service{store: store, rules: rules, cfg: cfg, now: time.Now}
}

// SetClock replaces the clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Store returns the underlying state store.
func (s *Service) Store() state.Store { return s.store }

// Rules returns the blocking rule manager.
func (s *Service) Rules() *blocking.Manager { return s.rules }

// Config returns the active configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// Ping reports that the handler is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// GetState returns the current shared state.
func (s *Service) GetState(ctx context.Context) (state.SharedState, error) {
	return s.store.Get(ctx)
}

// Bootstrap prepares the service after startup: it restores the installed
// rule ids, seeds a first task when the plan is empty, and reconciles the
// rules with the persisted session.
func (s *Service) Bootstrap(ctx context.Context) (state.SharedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := pslog.Ctx(ctx)

	if err := s.rules.Restore(ctx); err != nil {
		return state.SharedState{}, err
	}

	current, err := s.store.Get(ctx)
	if err != nil {
		return state.SharedState{}, err
	}

	if len(current.Tasks) == 0 {
		next := current.Clone()
		next.Tasks = newDefaultPlan(SeedTaskTitle, s.now())
		if err := s.store.Set(ctx, next); err != nil {
			return state.SharedState{}, err
		}
		log.Info("seeded first task", "title", SeedTaskTitle)
		current = next
	}

	if current.ActiveSession != nil {
		if _, err := s.rules.Sync(ctx, current.ActiveSession.BlockedSites); err != nil {
			return state.SharedState{}, err
		}
		log.Info("resumed active session", "index", current.ActiveSession.CurrentIndex)
	} else if err := s.rules.Clear(ctx); err != nil {
		return state.SharedState{}, err
	}

	return current, nil
}

// cleanSites trims entries and drops empty ones. nil stays nil.
func cleanSites(sites []string) []string {
	if sites == nil {
		return nil
	}
	out := make([]string, 0, len(sites))
	for _, site := range sites {
		if site = strings.TrimSpace(site); site != "" {
			out = append(out, site)
		}
	}
	return out
}
