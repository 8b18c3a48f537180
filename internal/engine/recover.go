package engine

import (
	"context"
	"fmt"

	"predix/internal/book"
	"predix/pkg/types"
)

// Recover rebuilds the in-memory book from the relational store after a
// restart. It first finishes any resolution that was interrupted mid-way
// (the COMPLETED status with a result is the replay marker), then rehydrates
// every remaining active order onto its queue in id order, which restores
// price-time priority exactly.
func (e *Engine) Recover(ctx context.Context) error {
	events, err := e.store.ListEvents(ctx)
	if err != nil {
		return fmt.Errorf("%w: list events: %v", ErrInternal, err)
	}
	for _, ev := range events {
		if ev.Status != types.EventCompleted {
			continue
		}
		if err := e.replayResolution(ctx, ev); err != nil {
			return err
		}
	}

	active, err := e.store.ActiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("%w: load active orders: %v", ErrInternal, err)
	}
	for _, o := range active {
		e.orders.Put(o)
		fp := book.Fingerprint(o.EventID, o.Side, o.ShareType, o.Price)
		e.book.PushTail(fp, o.ID)
	}
	e.log.Info("recovery complete", "events", len(events), "resting_orders", len(active))
	return nil
}

// replayResolution finishes the drain and payout steps for an event that is
// marked COMPLETED. Both steps are idempotent: cancelled orders stay
// cancelled, and paid-out portfolios are already zero.
func (e *Engine) replayResolution(ctx context.Context, ev types.Event) error {
	if ev.Result == nil {
		return fmt.Errorf("%w: event %d completed without result", ErrInternal, ev.ID)
	}

	remnants, err := e.store.ActiveOrdersByEvent(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("%w: load remnants for event %d: %v", ErrInternal, ev.ID, err)
	}
	for _, o := range remnants {
		o.Status = types.StatusCancelled
		if err := e.store.UpdateOrderTerminal(ctx, o); err != nil {
			return fmt.Errorf("%w: cancel remnant order %d: %v", ErrInternal, o.ID, err)
		}
	}
	if len(remnants) > 0 {
		e.log.Info("cancelled resolution remnants", "event_id", ev.ID, "orders", len(remnants))
	}

	return e.payoutEvent(ctx, ev.ID, *ev.Result)
}
