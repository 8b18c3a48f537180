package engine

import (
	"context"
	"errors"
	"fmt"

	"predix/internal/store"
	"predix/pkg/types"
)

// settleFill writes one fill through the store. Buyer and seller roles come
// from the order sides; the trade executes at the maker's price. The store
// applies every write atomically, so on error nothing moved.
func (e *Engine) settleFill(ctx context.Context, taker, maker *types.Order, qty int64) (types.Trade, error) {
	var buy, sell *types.Order
	switch {
	case taker.Side == types.BUY && maker.Side == types.SELL:
		buy, sell = taker, maker
	case taker.Side == types.SELL && maker.Side == types.BUY:
		buy, sell = maker, taker
	default:
		return types.Trade{}, fmt.Errorf("%w: matched %s against %s",
			ErrInternal, taker.Side, maker.Side)
	}
	return e.store.SettleFill(ctx, store.Fill{
		EventID:       taker.EventID,
		ShareType:     taker.ShareType,
		Price:         maker.Price,
		Quantity:      qty,
		BuyerUserID:   buy.UserID,
		SellerUserID:  sell.UserID,
		BuyerOrderID:  buy.ID,
		SellerOrderID: sell.ID,
	})
}

// failSettlement decides what a failed fill means. A maker whose funds moved
// since it rested is evicted and matching continues (returns nil). A taker
// that ran out of funds mid-match has its remainder cancelled. Anything else
// is a storage fault: the event is suspended pending operator review.
//
// Caller holds the queue lock for fp.
func (e *Engine) failSettlement(ctx context.Context, taker, maker *types.Order, fp string, err error) error {
	shortBalance := errors.Is(err, store.ErrInsufficientBalance)
	shortShares := errors.Is(err, store.ErrInsufficientShares)

	if shortBalance || shortShares {
		// The balance belongs to the buyer, the shares to the seller.
		makerAtFault := (shortBalance && maker.Side == types.BUY) ||
			(shortShares && maker.Side == types.SELL)
		if makerAtFault {
			e.book.PopHead(fp)
			if _, cerr := e.markCancelled(ctx, maker.ID); cerr != nil {
				e.log.Error("evict maker", "order_id", maker.ID, "error", cerr)
			}
			e.log.Warn("maker evicted at settlement",
				"order_id", maker.ID, "event_id", maker.EventID, "error", err)
			return nil
		}
		e.cancelInMemory(ctx, taker.ID)
		e.log.Warn("taker cancelled at settlement",
			"order_id", taker.ID, "event_id", taker.EventID, "error", err)
		return fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	e.suspend(taker.EventID)
	e.cancelInMemory(ctx, taker.ID)
	e.log.Error("settlement failed, event suspended",
		"event_id", taker.EventID, "order_id", taker.ID, "error", err)
	return fmt.Errorf("%w: %v", ErrSettlementFailed, err)
}
