package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/studyfocus/internal/blocking"
	"github.com/hpungsan/studyfocus/internal/errors"
)

// RuleStore persists blocking rules in the block_rules table.
// It implements blocking.Engine.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore returns a RuleStore over db.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// UpdateDynamicRules removes removeIDs and inserts add in one transaction.
// An added rule replaces any existing rule with the same id.
func (s *RuleStore) UpdateDynamicRules(ctx context.Context, removeIDs []int, add []blocking.Rule) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range removeIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM block_rules WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return insertRules(ctx, tx, add)
	})
}

// ReplaceDynamicRules deletes every rule from blocking.RuleIDBase up and
// inserts add in one transaction. The ids to remove are decided by the
// table contents at commit time, not by what this process remembers.
func (s *RuleStore) ReplaceDynamicRules(ctx context.Context, add []blocking.Rule) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM block_rules WHERE id >= ?`, blocking.RuleIDBase); err != nil {
			return err
		}
		return insertRules(ctx, tx, add)
	})
}

func (s *RuleStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return errors.NewInternal(err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func insertRules(ctx context.Context, tx *sql.Tx, add []blocking.Rule) error {
	now := time.Now().Unix()
	query := `
		INSERT OR REPLACE INTO block_rules (
			id, priority, url_filter, host, redirect_path, resource_types_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range add {
		types, err := json.Marshal(r.ResourceTypes)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.Priority, r.URLFilter, r.Host, r.RedirectPath, string(types), now,
		); err != nil {
			return err
		}
	}
	return nil
}

// DynamicRules returns every stored rule ordered by id.
func (s *RuleStore) DynamicRules(ctx context.Context) ([]blocking.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, priority, url_filter, host, redirect_path, resource_types_json
		FROM block_rules
		ORDER BY id
	`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	rules := []blocking.Rule{}
	for rows.Next() {
		var (
			r         blocking.Rule
			typesJSON string
		)
		if err := rows.Scan(&r.ID, &r.Priority, &r.URLFilter, &r.Host, &r.RedirectPath, &typesJSON); err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := json.Unmarshal([]byte(typesJSON), &r.ResourceTypes); err != nil {
			return nil, errors.NewInternal(err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return rules, nil
}
