package engine

import (
	"context"
	"errors"
	"fmt"

	"predix/internal/book"
	"predix/internal/store"
	"predix/pkg/types"
)

// CreateEvent opens a new market. When seedShares > 0 the operator account
// is granted that many YES and NO shares and rests a SELL at seedPrice on
// each side, so the book opens with two-sided liquidity.
func (e *Engine) CreateEvent(ctx context.Context, title string, createdBy, seedShares, seedPrice int64) (types.Event, error) {
	if title == "" {
		return types.Event{}, fmt.Errorf("%w: empty title", ErrValidation)
	}
	if seedShares > 0 && !types.ValidPrice(seedPrice) {
		return types.Event{}, fmt.Errorf("%w: seed price %d", ErrValidation, seedPrice)
	}

	ev, err := e.store.CreateEvent(ctx, types.Event{Title: title, CreatedBy: createdBy})
	if err != nil {
		return types.Event{}, fmt.Errorf("%w: create event: %v", ErrInternal, err)
	}
	e.log.Info("event created", "event_id", ev.ID, "title", title)

	if seedShares > 0 {
		if err := e.seedEvent(ctx, ev.ID, seedShares, seedPrice); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// seedEvent grants the operator inventory on both outcomes and submits the
// opening SELL orders through the normal path, so seeding obeys every order
// invariant.
func (e *Engine) seedEvent(ctx context.Context, eventID, shares, price int64) error {
	op := e.cfg.OperatorUserID
	for _, share := range []types.ShareType{types.YES, types.NO} {
		if err := e.store.AdjustPortfolio(ctx, op, eventID, share, shares); err != nil {
			return fmt.Errorf("%w: seed inventory: %v", ErrInternal, err)
		}
		if _, err := e.SubmitOrder(ctx, types.OrderRequest{
			UserID:        op,
			EventID:       eventID,
			Side:          types.SELL,
			ShareType:     share,
			Price:         price,
			TotalQuantity: shares,
		}); err != nil {
			return fmt.Errorf("seed %s sell: %w", share, err)
		}
	}
	e.log.Info("event seeded", "event_id", eventID, "shares", shares, "price", price)
	return nil
}

// ResolveEvent settles a market against its outcome:
//
//  1. the event is marked COMPLETED with its result, which immediately stops
//     new submissions and doubles as the replay marker for crash recovery;
//  2. every resting order is drained from its queue and cancelled;
//  3. every remaining holding is bought back by the operator at the payout
//     price (10 win, 0 lose, 5 draw) via synthetic trades;
//  4. live subscribers get a final snapshot and the feed for the event
//     closes.
func (e *Engine) ResolveEvent(ctx context.Context, eventID int64, result types.EventResult) error {
	if !result.Valid() {
		return fmt.Errorf("%w: result %q", ErrValidation, result)
	}
	ev, err := e.store.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: event %d", ErrNotFound, eventID)
	}
	if err != nil {
		return fmt.Errorf("%w: load event: %v", ErrInternal, err)
	}
	if ev.Status != types.EventOngoing {
		return fmt.Errorf("%w: event %d already resolved", ErrValidation, eventID)
	}

	if err := e.store.SetEventResolved(ctx, eventID, result); err != nil {
		return fmt.Errorf("%w: mark resolved: %v", ErrInternal, err)
	}
	e.log.Info("event resolving", "event_id", eventID, "result", result)

	if err := e.drainEvent(ctx, eventID); err != nil {
		return err
	}
	if err := e.payoutEvent(ctx, eventID, result); err != nil {
		return err
	}
	if err := e.sweepStragglers(ctx, eventID); err != nil {
		return err
	}

	e.ResumeEvent(eventID) // drop any suspension flag; the event is done

	e.notifyMu.RLock()
	n := e.notifier
	e.notifyMu.RUnlock()
	if n != nil {
		if snap, perr := e.proj.Snapshot(eventID); perr == nil {
			n.PublishUpdate(eventID, snap)
		}
		n.CloseEvent(eventID)
	}
	e.log.Info("event resolved", "event_id", eventID, "result", result)
	return nil
}

// drainEvent empties every queue of the event and cancels the orders they
// held. Queues are visited in canonical order, one lock at a time.
func (e *Engine) drainEvent(ctx context.Context, eventID int64) error {
	for _, fp := range book.EventFingerprints(eventID) {
		if e.book.IsEmpty(fp) {
			continue
		}
		if err := e.acquireWithRetry(fp); err != nil {
			return err
		}
		ids := e.book.Drain(fp)
		e.book.Release(fp)
		for _, id := range ids {
			if _, err := e.markCancelled(ctx, id); err != nil {
				e.log.Error("cancel drained order", "order_id", id, "error", err)
			}
		}
	}
	return nil
}

// sweepStragglers cancels orders that slipped past the drain: a submission
// that read ONGOING just before the status flip may rest its residual after
// drainEvent has already walked that queue. The store is the authority on
// what is still active.
func (e *Engine) sweepStragglers(ctx context.Context, eventID int64) error {
	stragglers, err := e.store.ActiveOrdersByEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("%w: load stragglers: %v", ErrInternal, err)
	}
	for _, o := range stragglers {
		fp := book.Fingerprint(o.EventID, o.Side, o.ShareType, o.Price)
		if err := e.acquireWithRetry(fp); err != nil {
			return err
		}
		e.book.RemoveID(fp, o.ID)
		e.book.Release(fp)
		if _, err := e.markCancelled(ctx, o.ID); err != nil {
			// Already gone from memory; the row still needs its terminal state.
			o.Status = types.StatusCancelled
			if uerr := e.store.UpdateOrderTerminal(ctx, o); uerr != nil {
				e.log.Error("cancel straggler order", "order_id", o.ID, "error", uerr)
			}
		}
	}
	if len(stragglers) > 0 {
		e.log.Info("cancelled post-drain stragglers",
			"event_id", eventID, "orders", len(stragglers))
	}
	return nil
}

// payoutEvent buys back every non-empty holding at the outcome's price.
// Operator holdings are zeroed without a trade; the operator buying from
// itself would record nothing.
func (e *Engine) payoutEvent(ctx context.Context, eventID int64, result types.EventResult) error {
	pfs, err := e.store.PortfoliosByEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("%w: load portfolios: %v", ErrInternal, err)
	}
	for _, pf := range pfs {
		if pf.Quantity == 0 {
			continue
		}
		if pf.UserID == e.cfg.OperatorUserID {
			if err := e.store.AdjustPortfolio(ctx, pf.UserID, eventID, pf.ShareType, -pf.Quantity); err != nil {
				return fmt.Errorf("%w: zero operator holding: %v", ErrInternal, err)
			}
			continue
		}
		trade, err := e.store.SettlePayout(ctx, store.Payout{
			EventID:     eventID,
			ShareType:   pf.ShareType,
			Price:       payoutPrice(pf.ShareType, result),
			Quantity:    pf.Quantity,
			HolderID:    pf.UserID,
			OperatorID:  e.cfg.OperatorUserID,
			PortfolioID: pf.ID,
		})
		if err != nil {
			e.suspend(eventID)
			e.log.Error("payout failed, event suspended",
				"event_id", eventID, "user_id", pf.UserID, "error", err)
			return fmt.Errorf("%w: payout user %d: %v", ErrSettlementFailed, pf.UserID, err)
		}
		e.tradesExecuted.Inc()
		e.log.Info("holding paid out", "event_id", eventID,
			"user_id", pf.UserID, "share", pf.ShareType,
			"quantity", pf.Quantity, "value", trade.Value())
	}
	return nil
}

// payoutPrice maps (holding, outcome) to the per-share settlement price.
func payoutPrice(share types.ShareType, result types.EventResult) int64 {
	switch result {
	case types.ResultDraw:
		return types.DrawPayout
	case types.ResultYes:
		if share == types.YES {
			return types.WinnerPayout
		}
	case types.ResultNo:
		if share == types.NO {
			return types.WinnerPayout
		}
	}
	return 0
}
