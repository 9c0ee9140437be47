// Package lock provides a cross-process advisory file lock with a bounded wait.
//
// Lock hold times in this system are a single JSON read-mutate-write, so
// acquisition retries on a short fixed interval instead of backing off.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrTimeout is returned when a lock cannot be acquired before the deadline.
var ErrTimeout = errors.New("lock acquisition timed out")

// retryInterval is the fixed poll interval between acquisition attempts.
const retryInterval = 25 * time.Millisecond

// Guard holds an acquired lock until Release is called.
type Guard struct {
	fl *flock.Flock
}

// Acquire takes the lock at path, exclusively or shared, waiting at most
// timeout. Callers must Release the returned guard on every exit path.
func Acquire(ctx context.Context, path string, exclusive bool, timeout time.Duration) (*Guard, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fl := flock.New(path)

	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = fl.TryLockContext(ctx, retryInterval)
	} else {
		ok, err = fl.TryRLockContext(ctx, retryInterval)
	}
	if err != nil {
		_ = fl.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s after %s: %w", path, timeout, ErrTimeout)
		}
		return nil, fmt.Errorf("acquire %s: %w", path, err)
	}
	if !ok {
		_ = fl.Close()
		return nil, fmt.Errorf("acquire %s after %s: %w", path, timeout, ErrTimeout)
	}

	return &Guard{fl: fl}, nil
}

// Release unlocks and closes the underlying lock file. Safe to call once per
// guard; the lock is released even if the close fails.
func (g *Guard) Release() error {
	if g == nil || g.fl == nil {
		return nil
	}
	err := g.fl.Unlock()
	g.fl = nil
	return err
}
