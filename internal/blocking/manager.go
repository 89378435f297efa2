package blocking

import (
	"context"
	"slices"
	"sync"

	"pkt.systems/pslog"
)

// Manager keeps the engine's rules equal to the rules for one site list.
// Every change replaces the whole managed id range in a single engine call,
// so rules installed by another process sharing the engine are removed too.
type Manager struct {
	engine       Engine
	redirectPath string

	mu        sync.Mutex
	installed []int
}

// NewManager returns a Manager over engine. Rules redirect to redirectPath.
func NewManager(engine Engine, redirectPath string) *Manager {
	return &Manager{engine: engine, redirectPath: redirectPath}
}

// Restore loads the ids currently present in the engine, picking up rules
// left behind by a previous process.
func (m *Manager) Restore(ctx context.Context) error {
	rules, err := m.engine.DynamicRules(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.installed = ruleIDs(rules)
	pslog.Ctx(ctx).Debug("blocking rules restored", "count", len(m.installed))
	return nil
}

// Sync replaces every managed rule with rules for exactly sites.
func (m *Manager) Sync(ctx context.Context, sites []string) ([]Rule, error) {
	rules := BuildRules(sites, m.redirectPath)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.engine.ReplaceDynamicRules(ctx, rules); err != nil {
		return nil, err
	}
	m.installed = ruleIDs(rules)
	pslog.Ctx(ctx).Info("blocking rules synced", "count", len(rules))
	return rules, nil
}

// Clear removes every managed rule, including ones this Manager did not
// install.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.engine.ReplaceDynamicRules(ctx, nil); err != nil {
		return err
	}
	pslog.Ctx(ctx).Info("blocking rules cleared", "known", len(m.installed))
	m.installed = nil
	return nil
}

// Installed returns the ids of the rules this manager last installed.
func (m *Manager) Installed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.installed)
}

// Rules returns the rules currently in the engine.
func (m *Manager) Rules(ctx context.Context) ([]Rule, error) {
	return m.engine.DynamicRules(ctx)
}

func ruleIDs(rules []Rule) []int {
	if len(rules) == 0 {
		return nil
	}
	ids := make([]int, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
