package blocking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHost(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"youtube.com", "youtube.com"},
		{"https://www.YouTube.com/", "www.youtube.com"},
		{"http://reddit.com/r/golang", "reddit.com"},
		{"  x.com/  ", "x.com"},
		{"https://", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeHost(tt.in); got != tt.want {
			t.Errorf("SanitizeHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildRules(t *testing.T) {
	rules := BuildRules([]string{"youtube.com", "https://youtube.com/", "", "reddit.com"}, "/blocked")

	require.Len(t, rules, 2)
	assert.Equal(t, Rule{
		ID:            1000,
		Priority:      1,
		URLFilter:     "||youtube.com^",
		Host:          "youtube.com",
		RedirectPath:  "/blocked",
		ResourceTypes: []string{"main_frame"},
	}, rules[0])
	assert.Equal(t, 1001, rules[1].ID)
	assert.Equal(t, "reddit.com", rules[1].Host)

	assert.Empty(t, BuildRules(nil, "/blocked"))
}

func TestMatch(t *testing.T) {
	rules := BuildRules([]string{"youtube.com"}, "/blocked")

	tests := []struct {
		url  string
		want bool
	}{
		{"https://youtube.com/watch?v=1", true},
		{"https://m.youtube.com/", true},
		{"youtube.com", true},
		{"https://YOUTUBE.com:443/x", true},
		{"https://notyoutube.com", false},
		{"https://youtube.com.evil.test", false},
		{"", false},
	}
	for _, tt := range tests {
		_, ok := Match(rules, tt.url)
		assert.Equal(t, tt.want, ok, "Match(%q)", tt.url)
	}
}

func TestManager_SyncInstallsExactSet(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()
	m := NewManager(engine, "/blocked")

	_, err := m.Sync(ctx, []string{"a.com", "b.com", "c.com"})
	require.NoError(t, err)
	assert.Equal(t, []int{1000, 1001, 1002}, m.Installed())

	rules, err := m.Sync(ctx, []string{"youtube.com"})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	installed, err := engine.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1, "stale rules from the longer list must be gone")
	assert.Equal(t, "youtube.com", installed[0].Host)
}

func TestManager_Clear(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()
	m := NewManager(engine, "/blocked")

	require.NoError(t, m.Clear(ctx))
	assert.Equal(t, 1, engine.Calls(), "clear reaches the engine even with nothing known")

	_, err := m.Sync(ctx, []string{"a.com", "b.com"})
	require.NoError(t, err)
	require.NoError(t, m.Clear(ctx))

	installed, err := engine.DynamicRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, installed)
	assert.Empty(t, m.Installed())
}

func TestManager_ClearRemovesRulesSyncedElsewhere(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()
	server := NewManager(engine, "/blocked")
	local := NewManager(engine, "/blocked")

	_, err := server.Sync(ctx, []string{"youtube.com"})
	require.NoError(t, err)
	_, err = local.Sync(ctx, []string{"youtube.com", "reddit.com"})
	require.NoError(t, err)

	require.Equal(t, []int{1000}, server.Installed(), "server only knows what it synced")
	require.NoError(t, server.Clear(ctx))

	installed, err := engine.DynamicRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, installed)
}

func TestManager_SyncReplacesRulesSyncedElsewhere(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()

	_, err := NewManager(engine, "/blocked").Sync(ctx, []string{"a.com", "b.com", "c.com"})
	require.NoError(t, err)

	m := NewManager(engine, "/blocked")
	_, err = m.Sync(ctx, []string{"d.com"})
	require.NoError(t, err)

	installed, err := engine.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, "d.com", installed[0].Host)
}

func TestManager_RestorePicksUpOrphans(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()

	// A previous process installed rules and went away.
	_, err := NewManager(engine, "/blocked").Sync(ctx, []string{"a.com", "b.com"})
	require.NoError(t, err)

	m := NewManager(engine, "/blocked")
	require.NoError(t, m.Restore(ctx))
	assert.Equal(t, []int{1000, 1001}, m.Installed())

	require.NoError(t, m.Clear(ctx))
	installed, err := engine.DynamicRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, installed)
}
