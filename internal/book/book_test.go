package book

import (
	"errors"
	"testing"
	"time"

	"predix/pkg/types"
)

func TestFingerprint(t *testing.T) {
	t.Parallel()

	got := Fingerprint(7, types.BUY, types.YES, 4)
	want := "7/BUY/YES/4"
	if got != want {
		t.Errorf("Fingerprint = %q, want %q", got, want)
	}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()
	b := New()
	fp := Fingerprint(1, types.BUY, types.YES, 5)

	b.PushTail(fp, 10)
	b.PushTail(fp, 11)
	b.PushTail(fp, 12)

	if id, ok := b.PeekHead(fp); !ok || id != 10 {
		t.Fatalf("PeekHead = %d, %v; want 10, true", id, ok)
	}
	for _, want := range []int64{10, 11, 12} {
		id, ok := b.PopHead(fp)
		if !ok || id != want {
			t.Fatalf("PopHead = %d, %v; want %d, true", id, ok, want)
		}
	}
	if _, ok := b.PopHead(fp); ok {
		t.Error("PopHead on empty queue returned ok")
	}
	if !b.IsEmpty(fp) {
		t.Error("IsEmpty = false after draining")
	}
}

func TestRemoveID(t *testing.T) {
	t.Parallel()
	b := New()
	fp := Fingerprint(1, types.SELL, types.NO, 3)

	b.PushTail(fp, 1)
	b.PushTail(fp, 2)
	b.PushTail(fp, 3)

	if !b.RemoveID(fp, 2) {
		t.Fatal("RemoveID(2) = false")
	}
	if b.RemoveID(fp, 2) {
		t.Error("RemoveID(2) twice = true")
	}

	got := b.IDs(fp)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("IDs = %v, want [1 3]", got)
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()
	b := New()
	fp := Fingerprint(2, types.BUY, types.YES, 1)

	b.PushTail(fp, 5)
	b.PushTail(fp, 6)

	ids := b.Drain(fp)
	if len(ids) != 2 {
		t.Fatalf("Drain returned %v, want 2 ids", ids)
	}
	if !b.IsEmpty(fp) {
		t.Error("queue not empty after Drain")
	}
}

func TestBestQueueBuyScansCheapestFirst(t *testing.T) {
	t.Parallel()
	b := New()

	// Asks resting at 3 and 6. A BUY at 6 must cross the 3 first.
	b.PushTail(Fingerprint(1, types.SELL, types.YES, 3), 100)
	b.PushTail(Fingerprint(1, types.SELL, types.YES, 6), 101)

	fp, ok := b.BestQueue(1, types.BUY, types.YES, 6)
	if !ok {
		t.Fatal("BestQueue found nothing")
	}
	if want := Fingerprint(1, types.SELL, types.YES, 3); fp != want {
		t.Errorf("BestQueue = %q, want %q", fp, want)
	}

	// A BUY at 2 crosses nothing.
	if _, ok := b.BestQueue(1, types.BUY, types.YES, 2); ok {
		t.Error("BestQueue crossed below every ask")
	}
}

func TestBestQueueSellScansHighestFirst(t *testing.T) {
	t.Parallel()
	b := New()

	// Bids resting at 4 and 8. A SELL at 4 must cross the 8 first.
	b.PushTail(Fingerprint(1, types.BUY, types.NO, 4), 200)
	b.PushTail(Fingerprint(1, types.BUY, types.NO, 8), 201)

	fp, ok := b.BestQueue(1, types.SELL, types.NO, 4)
	if !ok {
		t.Fatal("BestQueue found nothing")
	}
	if want := Fingerprint(1, types.BUY, types.NO, 8); fp != want {
		t.Errorf("BestQueue = %q, want %q", fp, want)
	}

	// A SELL at 9 crosses nothing.
	if _, ok := b.BestQueue(1, types.SELL, types.NO, 9); ok {
		t.Error("BestQueue crossed above every bid")
	}
}

func TestBestQueueIgnoresOtherShareType(t *testing.T) {
	t.Parallel()
	b := New()

	b.PushTail(Fingerprint(1, types.SELL, types.NO, 2), 300)
	if _, ok := b.BestQueue(1, types.BUY, types.YES, 10); ok {
		t.Error("BestQueue matched across share types")
	}
}

func TestAcquireTimeout(t *testing.T) {
	t.Parallel()
	b := New()
	fp := Fingerprint(3, types.BUY, types.YES, 5)

	if err := b.Acquire(fp, time.Second); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	err := b.Acquire(fp, 20*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Acquire = %v, want ErrLockTimeout", err)
	}
	b.Release(fp)
	if err := b.Acquire(fp, time.Second); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	b.Release(fp)
}

func TestAcquireIsPerQueue(t *testing.T) {
	t.Parallel()
	b := New()
	held := Fingerprint(5, types.BUY, types.YES, 5)
	sibling := Fingerprint(5, types.BUY, types.YES, 6)

	if err := b.Acquire(held, time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// Each queue carries its own lock; holding one level must not block
	// the level next to it.
	if err := b.Acquire(sibling, 20*time.Millisecond); err != nil {
		t.Fatalf("sibling queue blocked: %v", err)
	}
	b.Release(held)
	b.Release(sibling)
}

func TestReleaseUnheldPanics(t *testing.T) {
	t.Parallel()
	b := New()
	defer func() {
		if recover() == nil {
			t.Error("Release of unheld lock did not panic")
		}
	}()
	b.Release(Fingerprint(4, types.BUY, types.YES, 1))
}

func TestEventFingerprints(t *testing.T) {
	t.Parallel()

	fps := EventFingerprints(9)
	if len(fps) != 40 {
		t.Fatalf("len = %d, want 40", len(fps))
	}
	seen := make(map[string]bool, len(fps))
	for _, fp := range fps {
		if seen[fp] {
			t.Errorf("duplicate fingerprint %q", fp)
		}
		seen[fp] = true
	}
}
