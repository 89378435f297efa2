package blocking

import (
	"context"
	"slices"
	"sync"
)

// MemoryEngine is an in-process Engine. Rules do not survive a restart.
type MemoryEngine struct {
	mu    sync.Mutex
	rules map[int]Rule
	calls int
}

// NewMemoryEngine returns an empty MemoryEngine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{rules: make(map[int]Rule)}
}

// UpdateDynamicRules implements Engine.
func (e *MemoryEngine) UpdateDynamicRules(_ context.Context, removeIDs []int, add []Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	for _, id := range removeIDs {
		delete(e.rules, id)
	}
	for _, r := range add {
		e.rules[r.ID] = r
	}
	return nil
}

// ReplaceDynamicRules implements Engine.
func (e *MemoryEngine) ReplaceDynamicRules(_ context.Context, add []Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	for id := range e.rules {
		if id >= RuleIDBase {
			delete(e.rules, id)
		}
	}
	for _, r := range add {
		e.rules[r.ID] = r
	}
	return nil
}

// DynamicRules implements Engine. Rules are ordered by id.
func (e *MemoryEngine) DynamicRules(_ context.Context) ([]Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Rule) int { return a.ID - b.ID })
	return out, nil
}

// Calls reports how many updates were applied.
func (e *MemoryEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
