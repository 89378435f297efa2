// Package instance coordinates studyfocus processes that share one base
// directory. A serving process holds the lock file exclusively and records
// the URL it listens on. Every other process either holds the lock shared
// while it writes state locally, or sends its requests to that URL.
package instance

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/hpungsan/studyfocus/internal/errors"
)

const (
	// LockFileName is the lock file under the base directory.
	LockFileName = "studyfocus.lock"

	// AddrFileName records where the lock holder serves.
	AddrFileName = "server.json"

	retryDelay = 50 * time.Millisecond
)

// Addr is what a serving process writes to AddrFileName.
type Addr struct {
	URL       string `json:"url"`
	PID       int    `json:"pid"`
	StartedAt int64  `json:"started_at"`
}

// Lock is one process's handle on the base directory lock.
type Lock struct {
	baseDir string
	fl      *flock.Flock
	serving bool
}

// New returns an unlocked handle for baseDir.
func New(baseDir string) *Lock {
	return &Lock{
		baseDir: baseDir,
		fl:      flock.New(filepath.Join(baseDir, LockFileName)),
	}
}

// Join takes the lock shared so this process may write locally. When a
// server holds it instead, Join returns the server's URL and takes nothing.
func (l *Lock) Join() (string, error) {
	ok, err := l.fl.TryRLock()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to lock %s: %w", l.fl.Path(), err))
	}
	if ok {
		return "", nil
	}
	addr, err := ReadAddr(l.baseDir)
	if err != nil {
		return "", errors.NewUnavailable(fmt.Sprintf("a server holds %s but its address is unknown: %v", l.fl.Path(), err))
	}
	return addr.URL, nil
}

// Serve takes the lock exclusively, converting a shared hold, and records
// url. It waits up to wait for other local writers to let go.
func (l *Lock) Serve(ctx context.Context, url string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ok, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil && !stderrors.Is(err, context.DeadlineExceeded) && !stderrors.Is(err, context.Canceled) {
		return errors.NewInternal(fmt.Errorf("failed to lock %s: %w", l.fl.Path(), err))
	}
	if !ok {
		msg := fmt.Sprintf("another studyfocus process is using %s", l.baseDir)
		if addr, err := ReadAddr(l.baseDir); err == nil {
			msg += " (server at " + addr.URL + ")"
		}
		return errors.NewUnavailable(msg)
	}

	data, err := json.Marshal(Addr{URL: url, PID: os.Getpid(), StartedAt: time.Now().UnixMilli()})
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := os.WriteFile(filepath.Join(l.baseDir, AddrFileName), data, 0o600); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to record server address: %w", err))
	}
	l.serving = true
	return nil
}

// Release removes the address file if this process wrote it and unlocks.
func (l *Lock) Release() error {
	if l.serving {
		_ = os.Remove(filepath.Join(l.baseDir, AddrFileName))
		l.serving = false
	}
	return l.fl.Unlock()
}

// ReadAddr reads the address recorded by the serving process.
func ReadAddr(baseDir string) (Addr, error) {
	var addr Addr
	data, err := os.ReadFile(filepath.Join(baseDir, AddrFileName))
	if err != nil {
		return addr, err
	}
	if err := json.Unmarshal(data, &addr); err != nil {
		return addr, err
	}
	if addr.URL == "" {
		return addr, stderrors.New("no url recorded")
	}
	return addr, nil
}
