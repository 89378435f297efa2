package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/studyfocus/internal/blocking"
	"github.com/hpungsan/studyfocus/internal/config"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestValue_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, ok, err := GetValue(ctx, db, "sfState")
	require.NoError(t, err)
	assert.False(t, ok, "missing key")

	require.NoError(t, PutValue(ctx, db, "sfState", `{"notes":"a"}`))
	require.NoError(t, PutValue(ctx, db, "sfState", `{"notes":"b"}`))

	got, ok, err := GetValue(ctx, db, "sfState")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"notes":"b"}`, got)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM kv_state`).Scan(&count))
	assert.Equal(t, 1, count, "upsert keeps a single row")
}

func TestDeleteValue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, DeleteValue(ctx, db, "missing"))
	require.NoError(t, PutValue(ctx, db, "k", "v"))
	require.NoError(t, DeleteValue(ctx, db, "k"))

	_, ok, err := GetValue(ctx, db, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRuleStore_Update(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewRuleStore(db)

	rules, err := store.DynamicRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)

	require.NoError(t, store.UpdateDynamicRules(ctx, nil, blocking.BuildRules([]string{"a.com", "b.com"}, "/blocked")))

	rules, err = store.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "||a.com^", rules[0].URLFilter)
	assert.Equal(t, []string{"main_frame"}, rules[0].ResourceTypes)
	assert.Equal(t, "/blocked", rules[1].RedirectPath)

	// Remove then add in the same call, reusing an id.
	require.NoError(t, store.UpdateDynamicRules(ctx, []int{1000, 1001}, blocking.BuildRules([]string{"c.com"}, "/blocked")))

	rules, err = store.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 1000, rules[0].ID)
	assert.Equal(t, "c.com", rules[0].Host)
}

func TestRuleStore_Replace(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewRuleStore(db)

	require.NoError(t, store.UpdateDynamicRules(ctx, nil, blocking.BuildRules([]string{"a.com", "b.com", "c.com"}, "/blocked")))

	// Ids below the dynamic range belong to someone else and survive.
	_, err := db.Exec(`INSERT INTO block_rules (id, priority, url_filter, host, redirect_path, resource_types_json, created_at)
		VALUES (7, 1, '||static.com^', 'static.com', '/blocked', '["main_frame"]', 0)`)
	require.NoError(t, err)

	require.NoError(t, store.ReplaceDynamicRules(ctx, blocking.BuildRules([]string{"d.com"}, "/blocked")))

	rules, err := store.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 7, rules[0].ID)
	assert.Equal(t, 1000, rules[1].ID)
	assert.Equal(t, "d.com", rules[1].Host)

	require.NoError(t, store.ReplaceDynamicRules(ctx, nil))
	rules, err = store.DynamicRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 7, rules[0].ID)
}

func TestRuleStore_WithManager(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewRuleStore(db)

	m := blocking.NewManager(store, "/blocked")
	_, err := m.Sync(ctx, []string{"youtube.com", "reddit.com"})
	require.NoError(t, err)

	// A fresh manager (new process) restores ids from the table.
	restored := blocking.NewManager(NewRuleStore(db), "/blocked")
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, []int{1000, 1001}, restored.Installed())

	require.NoError(t, restored.Clear(ctx))
	rules, err := store.DynamicRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestConfigurePool(t *testing.T) {
	db := setupTestDB(t)

	ConfigurePool(db, nil)
	ConfigurePool(db, &config.Config{DBMaxOpenConns: 4, DBMaxIdleConns: 2})

	assert.Equal(t, 4, db.Stats().MaxOpenConnections)
}
