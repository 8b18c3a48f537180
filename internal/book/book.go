// Package book holds the in-memory half of the exchange: the live order
// store, the per-price FIFO queues orders rest in, and the projector that
// turns queue state into L2 depth snapshots.
//
// Queues are addressed by a fingerprint string derived from
// (event, side, share type, price). Each queue carries its own timed lock;
// there is no global book lock. The matcher holds at most one queue lock at
// a time, and the projector acquires locks one by one in fingerprint order,
// which together rule out deadlock.
package book

import (
	"fmt"
	"sync"
	"time"

	"predix/pkg/types"
)

// Fingerprint returns the canonical key naming one price-level queue.
func Fingerprint(eventID int64, side types.Side, share types.ShareType, price int64) string {
	return fmt.Sprintf("%d/%s/%s/%d", eventID, side, share, price)
}

// queue is one FIFO of order ids at a single price level. head = oldest.
type queue struct {
	lock *qlock
	ids  []int64
}

// Book is the set of price-level queues. Queues are created lazily on first
// touch and never removed; an event has at most 40 of them (2 sides × 2
// share types × 10 prices).
type Book struct {
	mu     sync.RWMutex // guards the map and every ids slice
	queues map[string]*queue
}

// New returns an empty book.
func New() *Book {
	return &Book{queues: make(map[string]*queue)}
}

func (b *Book) queueFor(fp string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[fp]
	if !ok {
		q = &queue{lock: newQLock()}
		b.queues[fp] = q
	}
	return q
}

// Acquire takes the queue's lock, blocking up to timeout. Every queue
// operation below requires the caller to hold this lock; the lock delimits
// the matcher's peek-settle-pop critical section, while the book's internal
// mutex only keeps the data structures race-free.
func (b *Book) Acquire(fp string, timeout time.Duration) error {
	return b.queueFor(fp).lock.acquire(timeout)
}

// Release frees the queue's lock.
func (b *Book) Release(fp string) {
	b.queueFor(fp).lock.release()
}

// PushTail appends an order id at the back of the queue.
func (b *Book) PushTail(fp string, id int64) {
	q := b.queueFor(fp)
	b.mu.Lock()
	defer b.mu.Unlock()
	q.ids = append(q.ids, id)
}

// PeekHead returns the oldest resting id without removing it.
func (b *Book) PeekHead(fp string) (int64, bool) {
	q := b.queueFor(fp)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(q.ids) == 0 {
		return 0, false
	}
	return q.ids[0], true
}

// PopHead removes and returns the oldest resting id.
func (b *Book) PopHead(fp string) (int64, bool) {
	q := b.queueFor(fp)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(q.ids) == 0 {
		return 0, false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

// RemoveID deletes one id from anywhere in the queue (linear scan; queues
// are short). Used by the cancel path.
func (b *Book) RemoveID(fp string, id int64) bool {
	q := b.queueFor(fp)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}

// IsEmpty reports whether the queue holds no ids. The best-queue scan calls
// this without the queue lock and re-checks after acquiring, mirroring the
// matcher's two-step check.
func (b *Book) IsEmpty(fp string) bool {
	q := b.queueFor(fp)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(q.ids) == 0
}

// IDs returns a copy of the queue contents in FIFO order.
func (b *Book) IDs(fp string) []int64 {
	q := b.queueFor(fp)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]int64, len(q.ids))
	copy(out, q.ids)
	return out
}

// Drain empties the queue and returns the discarded ids without touching
// the underlying orders. Used only by the event resolution drain.
func (b *Book) Drain(fp string) []int64 {
	q := b.queueFor(fp)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := q.ids
	q.ids = nil
	return out
}

// BestQueue scans the opposing side for the first non-empty queue the taker
// can cross, in price-improvement order: a BUY at limit p walks SELL queues
// 1..p, a SELL at limit p walks BUY queues 10..p. The maker's price is
// preserved; the taker gets the improvement. Returns false when no opposing
// inventory crosses the limit.
func (b *Book) BestQueue(eventID int64, side types.Side, share types.ShareType, price int64) (string, bool) {
	if side == types.BUY {
		for q := types.MinPrice; q <= price; q++ {
			fp := Fingerprint(eventID, types.SELL, share, q)
			if !b.IsEmpty(fp) {
				return fp, true
			}
		}
		return "", false
	}
	for q := types.MaxPrice; q >= price; q-- {
		fp := Fingerprint(eventID, types.BUY, share, q)
		if !b.IsEmpty(fp) {
			return fp, true
		}
	}
	return "", false
}

// EventFingerprints returns every possible fingerprint for the event in
// canonical order (share type, then side, then ascending price). The
// projector and the resolution drain iterate in this order so that no two
// lock walks ever oppose each other.
func EventFingerprints(eventID int64) []string {
	fps := make([]string, 0, 40)
	for _, share := range []types.ShareType{types.YES, types.NO} {
		for _, side := range []types.Side{types.BUY, types.SELL} {
			for p := types.MinPrice; p <= types.MaxPrice; p++ {
				fps = append(fps, Fingerprint(eventID, side, share, p))
			}
		}
	}
	return fps
}
