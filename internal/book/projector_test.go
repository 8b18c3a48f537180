package book

import (
	"testing"
	"time"

	"predix/pkg/types"
)

// rest places an order in the store and on its queue.
func rest(b *Book, s *OrderStore, id, eventID int64, side types.Side, share types.ShareType, price, qty, filled int64) {
	s.Put(types.Order{
		ID: id, UserID: 1, EventID: eventID,
		Side: side, ShareType: share, Price: price,
		TotalQuantity: qty, FilledQuantity: filled,
		Status: types.StatusFor(qty, filled),
	})
	b.PushTail(Fingerprint(eventID, side, share, price), id)
}

func TestSnapshotAggregatesLevels(t *testing.T) {
	t.Parallel()
	b := New()
	s := NewOrderStore()
	p := NewProjector(b, s, time.Second)

	// Two YES bids at 4 (one partially filled), one YES bid at 6,
	// one YES ask at 7, one NO ask at 2.
	rest(b, s, 1, 1, types.BUY, types.YES, 4, 10, 0)
	rest(b, s, 2, 1, types.BUY, types.YES, 4, 10, 6)
	rest(b, s, 3, 1, types.BUY, types.YES, 6, 5, 0)
	rest(b, s, 4, 1, types.SELL, types.YES, 7, 8, 0)
	rest(b, s, 5, 1, types.SELL, types.NO, 2, 3, 0)

	snap, err := p.Snapshot(1)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	// Bids descending: 6 first, then 4 with remaining 10+4.
	if len(snap.Yes.Bids) != 2 {
		t.Fatalf("YES bids = %v, want 2 levels", snap.Yes.Bids)
	}
	if snap.Yes.Bids[0] != (types.PriceLevel{Price: 6, Quantity: 5}) {
		t.Errorf("best YES bid = %+v", snap.Yes.Bids[0])
	}
	if snap.Yes.Bids[1] != (types.PriceLevel{Price: 4, Quantity: 14}) {
		t.Errorf("YES bid level 4 = %+v", snap.Yes.Bids[1])
	}
	if len(snap.Yes.Asks) != 1 || snap.Yes.Asks[0] != (types.PriceLevel{Price: 7, Quantity: 8}) {
		t.Errorf("YES asks = %v", snap.Yes.Asks)
	}
	if len(snap.No.Asks) != 1 || len(snap.No.Bids) != 0 {
		t.Errorf("NO book = %+v", snap.No)
	}
}

func TestSnapshotSummary(t *testing.T) {
	t.Parallel()
	b := New()
	s := NewOrderStore()
	p := NewProjector(b, s, time.Second)

	rest(b, s, 1, 2, types.BUY, types.YES, 3, 10, 0)
	rest(b, s, 2, 2, types.BUY, types.YES, 5, 4, 0)
	rest(b, s, 3, 2, types.SELL, types.YES, 8, 6, 0)

	snap, err := p.Snapshot(2)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	ys := snap.Summary.Yes
	if ys.BestBid == nil || *ys.BestBid != 5 {
		t.Errorf("BestBid = %v, want 5", ys.BestBid)
	}
	if ys.BestAsk == nil || *ys.BestAsk != 8 {
		t.Errorf("BestAsk = %v, want 8", ys.BestAsk)
	}
	if ys.Spread == nil || *ys.Spread != 3 {
		t.Errorf("Spread = %v, want 3", ys.Spread)
	}
	if ys.TotalBidVolume != 14 || ys.TotalAskVolume != 6 {
		t.Errorf("volumes = %d/%d, want 14/6", ys.TotalBidVolume, ys.TotalAskVolume)
	}

	ns := snap.Summary.No
	if ns.BestBid != nil || ns.BestAsk != nil || ns.Spread != nil {
		t.Errorf("empty NO summary has non-nil tops: %+v", ns)
	}
}

func TestDepthTruncatesButSummarises(t *testing.T) {
	t.Parallel()
	b := New()
	s := NewOrderStore()
	p := NewProjector(b, s, time.Second)

	for price := int64(1); price <= 5; price++ {
		rest(b, s, price, 3, types.BUY, types.YES, price, 1, 0)
	}

	snap, err := p.Depth(3, 2)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if len(snap.Yes.Bids) != 2 {
		t.Fatalf("truncated bids = %v, want 2 levels", snap.Yes.Bids)
	}
	if snap.Yes.Bids[0].Price != 5 {
		t.Errorf("best truncated bid = %d, want 5", snap.Yes.Bids[0].Price)
	}
	// The summary still covers the full book.
	if snap.Summary.Yes.TotalBidVolume != 5 {
		t.Errorf("TotalBidVolume = %d, want 5", snap.Summary.Yes.TotalBidVolume)
	}
}

func TestSnapshotEmptyEvent(t *testing.T) {
	t.Parallel()
	p := NewProjector(New(), NewOrderStore(), time.Second)

	snap, err := p.Snapshot(99)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Yes.Bids)+len(snap.Yes.Asks)+len(snap.No.Bids)+len(snap.No.Asks) != 0 {
		t.Errorf("empty event produced levels: %+v", snap)
	}
}
