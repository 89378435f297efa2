package state

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/hpungsan/studyfocus/internal/db"
)

// SQLiteStore keeps the state blob in the kv_state table.
type SQLiteStore struct {
	db *sql.DB
	*Notifier

	mu sync.Mutex
}

// NewSQLiteStore returns a Store over an initialized database.
// The caller owns the database handle.
func NewSQLiteStore(conn *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: conn, Notifier: NewNotifier(0)}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context) (SharedState, error) {
	value, ok, err := db.GetValue(ctx, s.db, Key)
	if err != nil {
		return SharedState{}, err
	}
	if !ok {
		return Empty(), nil
	}
	return decode([]byte(value))
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, next SharedState) error {
	data, err := encode(next)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if err := db.PutValue(ctx, s.db, Key, string(data)); err != nil {
		return err
	}
	s.Publish(Change{Old: old, New: next.Clone(), At: time.Now()})
	return nil
}

// Close implements Store. It closes subscriptions but not the database.
func (s *SQLiteStore) Close() error {
	s.Notifier.Close()
	return nil
}
