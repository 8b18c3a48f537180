package book

import (
	"errors"
	"time"
)

// ErrLockTimeout is returned when a queue lock could not be acquired within
// the deadline. Callers treat it as transient and retry a bounded number of
// times.
var ErrLockTimeout = errors.New("queue lock timeout")

// qlock is a mutex with a timed acquire. A one-slot channel carries the
// lock token; sync.Mutex offers no deadline, and the match loop needs one so
// a stuck queue surfaces as a transient error instead of a hung request.
type qlock struct {
	ch chan struct{}
}

func newQLock() *qlock {
	return &qlock{ch: make(chan struct{}, 1)}
}

// acquire blocks until the lock is held or the timeout elapses.
func (l *qlock) acquire(timeout time.Duration) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-t.C:
		return ErrLockTimeout
	}
}

// release frees the lock. Releasing a lock that is not held is a programming
// error and panics, matching sync.Mutex behaviour.
func (l *qlock) release() {
	select {
	case <-l.ch:
	default:
		panic("book: release of unheld queue lock")
	}
}
