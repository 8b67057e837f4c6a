// Package lock provides the workspace-wide advisory lock that serializes
// every mutating devcoord operation across processes.
//
// Acquisition blocks until the lock is free; there is no timeout and no
// stale-lock breaking. A holder that never exits wedges every other
// writer on the workspace.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileName is the lock file created inside the state directory.
const FileName = "devcoord.lock"

// Locker runs fn while holding an exclusive lock.
type Locker interface {
	With(ctx context.Context, fn func() error) error
}

// Lock is an exclusive advisory file lock.
type Lock struct {
	path string
}

// New returns a lock on path. The file is created on first use.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// With acquires the lock, runs fn, and releases the lock on every exit
// path, including panics in fn.
func (l *Lock) With(ctx context.Context, fn func() error) (err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("lock: create dir: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fl := flock.New(l.path)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock: acquire %s: %w", l.path, err)
	}
	defer func() {
		if uerr := fl.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("lock: release %s: %w", l.path, uerr)
		}
	}()

	return fn()
}

// Nop is a Locker that does not lock. It is only suitable for a single
// in-process caller, such as tests against an in-memory store.
type Nop struct{}

// With runs fn.
func (Nop) With(_ context.Context, fn func() error) error { return fn() }
