// Package engine implements the matching core: order submission with
// price-time priority, cancellation, event lifecycle, and crash recovery.
//
// Matching runs against in-memory queues; the relational store is written at
// order creation, at each fill, and at the terminal transition. The engine
// holds at most one opposing queue lock at a time while matching, so
// concurrent submissions on different price levels proceed in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"predix/internal/book"
	"predix/internal/store"
	"predix/pkg/types"
)

// Config carries the engine tunables.
type Config struct {
	// LockTimeout bounds a single queue lock acquisition.
	LockTimeout time.Duration
	// LockRetries is how many additional acquisitions are attempted after
	// the first times out.
	LockRetries int
	// RetryBackoff is the pause between acquisition attempts.
	RetryBackoff time.Duration
	// OperatorUserID is the account that seeds new events and funds
	// resolution payouts.
	OperatorUserID int64
}

// Notifier receives book updates for fan-out to live subscribers. The API
// layer's hub implements it; a nil notifier is allowed and drops updates.
type Notifier interface {
	PublishUpdate(eventID int64, snap *types.BookSnapshot)
	CloseEvent(eventID int64)
}

// Engine is the exchange core. One instance serves all events.
type Engine struct {
	cfg    Config
	store  store.Store
	orders *book.OrderStore
	book   *book.Book
	proj   *book.Projector
	log    *slog.Logger

	notifyMu sync.RWMutex
	notifier Notifier

	// suspended events reject new orders after a settlement failure until
	// an operator intervenes.
	suspendMu sync.RWMutex
	suspended map[int64]bool

	ordersSubmitted *metrics.Counter
	ordersRejected  *metrics.Counter
	ordersCancelled *metrics.Counter
	tradesExecuted  *metrics.Counter
	lockTimeouts    *metrics.Counter
}

// New constructs an engine over the given store.
func New(cfg Config, st store.Store, logger *slog.Logger) *Engine {
	b := book.New()
	orders := book.NewOrderStore()
	return &Engine{
		cfg:       cfg,
		store:     st,
		orders:    orders,
		book:      b,
		proj:      book.NewProjector(b, orders, cfg.LockTimeout),
		log:       logger.With("component", "engine"),
		suspended: make(map[int64]bool),

		ordersSubmitted: metrics.GetOrCreateCounter("predix_orders_submitted_total"),
		ordersRejected:  metrics.GetOrCreateCounter("predix_orders_rejected_total"),
		ordersCancelled: metrics.GetOrCreateCounter("predix_orders_cancelled_total"),
		tradesExecuted:  metrics.GetOrCreateCounter("predix_trades_executed_total"),
		lockTimeouts:    metrics.GetOrCreateCounter("predix_lock_timeouts_total"),
	}
}

// SetNotifier attaches the live-update sink. Safe to call after Start.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.notifier = n
}

// ————————————————————————————————————————————————————————————————————————
// Submission
// ————————————————————————————————————————————————————————————————————————

// SubmitOrder validates, persists and matches one limit order. It returns
// the taker's final state along with any trades executed; residual quantity
// rests on the book at the order's own price level.
func (e *Engine) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	if err := e.validate(ctx, req); err != nil {
		e.ordersRejected.Inc()
		return &types.OrderResult{Outcome: types.OutcomeRejected, Error: err.Error()}, err
	}

	taker, err := e.store.CreateOrder(ctx, types.Order{
		UserID:        req.UserID,
		EventID:       req.EventID,
		Side:          req.Side,
		ShareType:     req.ShareType,
		Price:         req.Price,
		TotalQuantity: req.TotalQuantity,
		Status:        types.StatusIncomplete,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: persist order: %v", ErrInternal, err)
	}
	e.orders.Put(taker)
	e.ordersSubmitted.Inc()

	log := e.log.With("order_id", taker.ID, "event_id", taker.EventID,
		"side", taker.Side, "share", taker.ShareType, "price", taker.Price)
	log.Info("order accepted", "quantity", taker.TotalQuantity)

	trades, err := e.match(ctx, taker.ID)
	if err != nil {
		// Settlement failures abort the whole submission; the order is
		// cancelled and the event suspended inside match.
		final, _ := e.store.GetOrder(ctx, taker.ID)
		return &types.OrderResult{
			Outcome: types.OutcomeRejected, Order: final,
			Trades: trades, Error: err.Error(),
		}, err
	}

	result, err := e.finishSubmit(ctx, taker.ID, trades, log)
	e.publishBook(taker.EventID)
	return result, err
}

// validate runs the submission pre-checks. Funds checks here are advisory:
// settlement re-verifies them atomically at each fill.
func (e *Engine) validate(ctx context.Context, req types.OrderRequest) error {
	switch {
	case !req.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrValidation, req.Side)
	case !req.ShareType.Valid():
		return fmt.Errorf("%w: share type %q", ErrValidation, req.ShareType)
	case !types.ValidPrice(req.Price):
		return fmt.Errorf("%w: price %d outside [%d, %d]",
			ErrValidation, req.Price, types.MinPrice, types.MaxPrice)
	case req.TotalQuantity <= 0:
		return fmt.Errorf("%w: quantity %d", ErrValidation, req.TotalQuantity)
	}

	ev, err := e.store.GetEvent(ctx, req.EventID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: event %d", ErrNotFound, req.EventID)
	}
	if err != nil {
		return fmt.Errorf("%w: load event: %v", ErrInternal, err)
	}
	if ev.Status != types.EventOngoing || e.isSuspended(req.EventID) {
		return fmt.Errorf("%w: event %d", ErrEventNotAccepting, req.EventID)
	}

	user, err := e.store.GetUser(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: user %d", ErrNotFound, req.UserID)
	}
	if err != nil {
		return fmt.Errorf("%w: load user: %v", ErrInternal, err)
	}

	if req.Side == types.BUY {
		if need := req.Price * req.TotalQuantity; user.CurrentBalance < need {
			return fmt.Errorf("%w: need %d, have %d",
				ErrInsufficientBalance, need, user.CurrentBalance)
		}
		return nil
	}
	// No short selling: a SELL must be covered by held shares.
	pf, err := e.store.PortfolioFor(ctx, req.UserID, req.EventID, req.ShareType)
	if errors.Is(err, store.ErrNotFound) || (err == nil && pf.Quantity < req.TotalQuantity) {
		return fmt.Errorf("%w: selling %d %s shares, holding %d",
			ErrInsufficientShares, req.TotalQuantity, req.ShareType, pf.Quantity)
	}
	if err != nil {
		return fmt.Errorf("%w: load portfolio: %v", ErrInternal, err)
	}
	return nil
}

// match walks opposing queues in price-improvement order until the taker is
// filled or no crossing liquidity remains. Only one opposing queue lock is
// held at a time.
func (e *Engine) match(ctx context.Context, takerID int64) ([]types.Trade, error) {
	var trades []types.Trade
	for {
		taker, ok := e.orders.Get(takerID)
		if !ok || taker.Remaining() == 0 {
			return trades, nil
		}
		fp, found := e.book.BestQueue(taker.EventID, taker.Side, taker.ShareType, taker.Price)
		if !found {
			return trades, nil
		}
		if err := e.acquireWithRetry(fp); err != nil {
			// Treat a stuck level as no liquidity: stop matching and let
			// the residual rest.
			e.log.Warn("queue lock timeout while matching", "fingerprint", fp)
			return trades, nil
		}
		levelTrades, err := e.matchLevel(ctx, takerID, fp)
		e.book.Release(fp)
		trades = append(trades, levelTrades...)
		if err != nil {
			return trades, err
		}
	}
}

// matchLevel fills the taker against one opposing queue, FIFO. The caller
// holds the queue lock. The trade price is always the maker's price.
func (e *Engine) matchLevel(ctx context.Context, takerID int64, fp string) ([]types.Trade, error) {
	var trades []types.Trade
	for {
		taker, ok := e.orders.Get(takerID)
		if !ok || taker.Remaining() == 0 {
			return trades, nil
		}
		makerID, ok := e.book.PeekHead(fp)
		if !ok {
			return trades, nil
		}
		maker, ok := e.orders.Get(makerID)
		if !ok || maker.Status.Terminal() || maker.Remaining() == 0 {
			// Stale id left behind by a concurrent terminal transition.
			e.book.PopHead(fp)
			continue
		}

		qty := min(taker.Remaining(), maker.Remaining())
		trade, err := e.settleFill(ctx, &taker, &maker, qty)
		if err != nil {
			if cause := e.failSettlement(ctx, &taker, &maker, fp, err); cause != nil {
				return trades, cause
			}
			// Maker could not honor the fill; it was evicted, move on.
			continue
		}
		trades = append(trades, trade)
		e.tradesExecuted.Inc()

		e.applyFill(ctx, takerID, qty, false, fp)
		e.applyFill(ctx, makerID, qty, true, fp)
	}
}

// applyFill advances an order's fill counter after a settled trade and, when
// the order completes, persists the terminal row and evicts it from memory.
// Makers additionally leave their queue.
func (e *Engine) applyFill(ctx context.Context, id int64, qty int64, isMaker bool, fp string) {
	if err := e.orders.Update(id, func(o *types.Order) {
		o.FilledQuantity += qty
		o.Status = types.StatusFor(o.TotalQuantity, o.FilledQuantity)
	}); err != nil {
		e.log.Error("fill counter update rejected", "order_id", id, "error", err)
		return
	}
	o, _ := e.orders.Get(id)
	if o.Status != types.StatusCompletelyFilled {
		return
	}
	if isMaker {
		e.book.PopHead(fp)
	}
	if err := e.store.UpdateOrderTerminal(ctx, o); err != nil {
		e.log.Error("persist terminal order", "order_id", id, "error", err)
	}
	e.orders.Remove(id)
}

// finishSubmit rests any residual quantity and shapes the result.
func (e *Engine) finishSubmit(ctx context.Context, takerID int64, trades []types.Trade, log *slog.Logger) (*types.OrderResult, error) {
	taker, live := e.orders.Get(takerID)
	if !live {
		// Fully filled during matching; read the terminal row back.
		final, err := e.store.GetOrder(ctx, takerID)
		if err != nil {
			return nil, fmt.Errorf("%w: reload order %d: %v", ErrInternal, takerID, err)
		}
		log.Info("order fully filled", "trades", len(trades))
		return &types.OrderResult{
			Outcome: types.OutcomeFullyFilled, Order: final, Trades: trades,
		}, nil
	}

	fp := book.Fingerprint(taker.EventID, taker.Side, taker.ShareType, taker.Price)
	if err := e.acquireWithRetry(fp); err != nil {
		// Cannot rest the residual; cancel it rather than strand the order
		// outside every queue.
		e.cancelInMemory(ctx, takerID)
		return &types.OrderResult{
			Outcome: types.OutcomePartiallyFilled, Order: taker,
			Trades: trades, Error: err.Error(),
		}, err
	}
	e.book.PushTail(fp, takerID)
	e.book.Release(fp)

	outcome := types.OutcomeResting
	if taker.FilledQuantity > 0 {
		outcome = types.OutcomePartiallyFilled
	}
	log.Info("order resting", "filled", taker.FilledQuantity, "remaining", taker.Remaining())
	return &types.OrderResult{
		Outcome: outcome, Order: taker, Trades: trades, RestingID: takerID,
	}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Cancellation
// ————————————————————————————————————————————————————————————————————————

// CancelOrder removes a resting order from its queue and marks it CANCELLED.
// Already-terminal and unknown orders return ErrNotFound; an order matched
// away between lookup and lock acquisition does too.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID int64) (types.Order, error) {
	o, ok := e.orders.Get(orderID)
	if !ok {
		return types.Order{}, fmt.Errorf("%w: order %d not resting", ErrNotFound, orderID)
	}
	if o.UserID != userID {
		return types.Order{}, fmt.Errorf("%w: order %d", ErrUnauthorized, orderID)
	}

	fp := book.Fingerprint(o.EventID, o.Side, o.ShareType, o.Price)
	if err := e.acquireWithRetry(fp); err != nil {
		return types.Order{}, err
	}
	defer e.book.Release(fp)

	if !e.book.RemoveID(fp, orderID) {
		return types.Order{}, fmt.Errorf("%w: order %d not resting", ErrNotFound, orderID)
	}
	cancelled, err := e.markCancelled(ctx, orderID)
	if err != nil {
		return types.Order{}, err
	}
	e.ordersCancelled.Inc()
	e.log.Info("order cancelled", "order_id", orderID, "event_id", o.EventID)
	e.publishBook(o.EventID)
	return cancelled, nil
}

// markCancelled flips the in-memory record to CANCELLED, persists the
// terminal row and evicts it. Caller holds the queue lock, or the order is
// already off every queue.
func (e *Engine) markCancelled(ctx context.Context, orderID int64) (types.Order, error) {
	if err := e.orders.Update(orderID, func(o *types.Order) {
		o.Status = types.StatusCancelled
	}); err != nil {
		return types.Order{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	o, _ := e.orders.Get(orderID)
	if err := e.store.UpdateOrderTerminal(ctx, o); err != nil {
		return types.Order{}, fmt.Errorf("%w: persist cancel: %v", ErrInternal, err)
	}
	e.orders.Remove(orderID)
	return o, nil
}

func (e *Engine) cancelInMemory(ctx context.Context, orderID int64) {
	if _, err := e.markCancelled(ctx, orderID); err != nil {
		e.log.Error("cancel stranded order", "order_id", orderID, "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Queries
// ————————————————————————————————————————————————————————————————————————

// GetOrder returns the live record when the order is in memory, otherwise
// the persisted row.
func (e *Engine) GetOrder(ctx context.Context, id int64) (types.Order, error) {
	if o, ok := e.orders.Get(id); ok {
		return o, nil
	}
	o, err := e.store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.Order{}, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return o, err
}

// Snapshot returns the full L2 book for an event.
func (e *Engine) Snapshot(eventID int64) (*types.BookSnapshot, error) {
	return e.proj.Snapshot(eventID)
}

// Depth returns the book truncated to the top n levels per side.
func (e *Engine) Depth(eventID int64, n int) (*types.BookSnapshot, error) {
	return e.proj.Depth(eventID, n)
}

// ————————————————————————————————————————————————————————————————————————
// Internals
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) acquireWithRetry(fp string) error {
	var err error
	for attempt := 0; attempt <= e.cfg.LockRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(e.cfg.RetryBackoff)
		}
		if err = e.book.Acquire(fp, e.cfg.LockTimeout); err == nil {
			return nil
		}
	}
	e.lockTimeouts.Inc()
	return fmt.Errorf("%w: %s: %v", ErrLockTimeout, fp, err)
}

func (e *Engine) isSuspended(eventID int64) bool {
	e.suspendMu.RLock()
	defer e.suspendMu.RUnlock()
	return e.suspended[eventID]
}

func (e *Engine) suspend(eventID int64) {
	e.suspendMu.Lock()
	defer e.suspendMu.Unlock()
	e.suspended[eventID] = true
}

// ResumeEvent lifts a settlement-failure suspension after operator review.
func (e *Engine) ResumeEvent(eventID int64) {
	e.suspendMu.Lock()
	defer e.suspendMu.Unlock()
	delete(e.suspended, eventID)
}

// publishBook pushes a fresh snapshot to the notifier. Projection failures
// are logged, never surfaced to the order path.
func (e *Engine) publishBook(eventID int64) {
	e.notifyMu.RLock()
	n := e.notifier
	e.notifyMu.RUnlock()
	if n == nil {
		return
	}
	snap, err := e.proj.Snapshot(eventID)
	if err != nil {
		e.log.Warn("book projection failed", "event_id", eventID, "error", err)
		return
	}
	n.PublishUpdate(eventID, snap)
}
