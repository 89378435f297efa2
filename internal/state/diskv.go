package state

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/peterbourgon/diskv/v3"

	"github.com/hpungsan/studyfocus/internal/errors"
)

// DiskvStore keeps the state blob as a single file under basePath.
type DiskvStore struct {
	d *diskv.Diskv
	*Notifier

	mu sync.Mutex
}

// NewDiskvStore returns a Store rooted at basePath.
func NewDiskvStore(basePath string) *DiskvStore {
	return &DiskvStore{
		d: diskv.New(diskv.Options{
			BasePath:     basePath,
			TempDir:      basePath + ".tmp",
			CacheSizeMax: 0, // other processes write the same file
			FilePerm:     0600,
			PathPerm:     0700,
		}),
		Notifier: NewNotifier(0),
	}
}

// Get implements Store.
func (s *DiskvStore) Get(ctx context.Context) (SharedState, error) {
	if err := ctx.Err(); err != nil {
		return SharedState{}, errors.NewCancelled("state get")
	}
	if !s.d.Has(Key) {
		return Empty(), nil
	}
	data, err := s.d.Read(Key)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return SharedState{}, errors.NewInternal(err)
	}
	return decode(data)
}

// Set implements Store.
func (s *DiskvStore) Set(ctx context.Context, next SharedState) error {
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
	if err := s.d.Write(Key, data); err != nil {
		return errors.NewInternal(err)
	}
	s.Publish(Change{Old: old, New: next.Clone(), At: time.Now()})
	return nil
}

// Reset erases the stored state.
func (s *DiskvStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.d.Has(Key) {
		return nil
	}
	if err := s.d.Erase(Key); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Close implements Store.
func (s *DiskvStore) Close() error {
	s.Notifier.Close()
	return nil
}
