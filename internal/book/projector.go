package book

import (
	"time"

	"predix/pkg/types"
)

// Projector aggregates queue state into L2 depth snapshots: per share type
// and price, the sum of remaining quantity across resting orders. It holds
// at most one queue lock at a time and visits queues in canonical
// fingerprint order, so it can never deadlock against the matcher.
type Projector struct {
	book        *Book
	orders      *OrderStore
	lockTimeout time.Duration
}

// NewProjector returns a projector over the given book and order store.
func NewProjector(b *Book, orders *OrderStore, lockTimeout time.Duration) *Projector {
	return &Projector{book: b, orders: orders, lockTimeout: lockTimeout}
}

// Snapshot produces the full L2 projection for an event.
func (p *Projector) Snapshot(eventID int64) (*types.BookSnapshot, error) {
	return p.depth(eventID, int(types.MaxPrice))
}

// Depth produces the projection truncated to the top n levels per side.
// The market summary is computed from the full book, not the truncation.
func (p *Projector) Depth(eventID int64, n int) (*types.BookSnapshot, error) {
	snap, err := p.depth(eventID, int(types.MaxPrice))
	if err != nil {
		return nil, err
	}
	snap.Yes.Bids = truncate(snap.Yes.Bids, n)
	snap.Yes.Asks = truncate(snap.Yes.Asks, n)
	snap.No.Bids = truncate(snap.No.Bids, n)
	snap.No.Asks = truncate(snap.No.Asks, n)
	return snap, nil
}

func (p *Projector) depth(eventID int64, n int) (*types.BookSnapshot, error) {
	yes, err := p.sideBook(eventID, types.YES)
	if err != nil {
		return nil, err
	}
	no, err := p.sideBook(eventID, types.NO)
	if err != nil {
		return nil, err
	}
	return &types.BookSnapshot{
		Yes: yes,
		No:  no,
		Summary: types.MarketSummary{
			Yes: summarise(yes),
			No:  summarise(no),
		},
	}, nil
}

// sideBook sums remaining quantity per price level for one share type.
// Bids come out sorted descending, asks ascending; empty levels are omitted.
func (p *Projector) sideBook(eventID int64, share types.ShareType) (types.SideBook, error) {
	var sb types.SideBook
	for price := types.MinPrice; price <= types.MaxPrice; price++ {
		qty, err := p.levelQuantity(Fingerprint(eventID, types.BUY, share, price))
		if err != nil {
			return sb, err
		}
		if qty > 0 {
			sb.Bids = append(sb.Bids, types.PriceLevel{Price: price, Quantity: qty})
		}
	}
	// reverse bids: best (highest) first
	for i, j := 0, len(sb.Bids)-1; i < j; i, j = i+1, j-1 {
		sb.Bids[i], sb.Bids[j] = sb.Bids[j], sb.Bids[i]
	}
	for price := types.MinPrice; price <= types.MaxPrice; price++ {
		qty, err := p.levelQuantity(Fingerprint(eventID, types.SELL, share, price))
		if err != nil {
			return sb, err
		}
		if qty > 0 {
			sb.Asks = append(sb.Asks, types.PriceLevel{Price: price, Quantity: qty})
		}
	}
	return sb, nil
}

func (p *Projector) levelQuantity(fp string) (int64, error) {
	if err := p.book.Acquire(fp, p.lockTimeout); err != nil {
		return 0, err
	}
	defer p.book.Release(fp)

	var total int64
	for _, id := range p.book.IDs(fp) {
		if o, ok := p.orders.Get(id); ok {
			total += o.Remaining()
		}
	}
	return total, nil
}

func summarise(sb types.SideBook) types.SideSummary {
	var s types.SideSummary
	if len(sb.Bids) > 0 {
		best := sb.Bids[0].Price
		s.BestBid = &best
		for _, l := range sb.Bids {
			s.TotalBidVolume += l.Quantity
		}
	}
	if len(sb.Asks) > 0 {
		best := sb.Asks[0].Price
		s.BestAsk = &best
		for _, l := range sb.Asks {
			s.TotalAskVolume += l.Quantity
		}
	}
	if s.BestBid != nil && s.BestAsk != nil {
		spread := *s.BestAsk - *s.BestBid
		s.Spread = &spread
	}
	return s
}

func truncate(levels []types.PriceLevel, n int) []types.PriceLevel {
	if n >= 0 && len(levels) > n {
		return levels[:n]
	}
	return levels
}
