package engine

import (
	"context"
	"errors"
	"fmt"

	"predix/internal/store"
	"predix/pkg/types"
)

// Read-side passthroughs to the store, with store sentinels mapped onto
// engine error kinds.

func (e *Engine) GetEvent(ctx context.Context, id int64) (types.Event, error) {
	ev, err := e.store.GetEvent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.Event{}, fmt.Errorf("%w: event %d", ErrNotFound, id)
	}
	return ev, err
}

func (e *Engine) ListEvents(ctx context.Context) ([]types.Event, error) {
	return e.store.ListEvents(ctx)
}

func (e *Engine) TradesForEvent(ctx context.Context, eventID int64) ([]types.Trade, error) {
	return e.store.TradesByEvent(ctx, eventID)
}

func (e *Engine) OrdersForUser(ctx context.Context, userID int64) ([]types.Order, error) {
	return e.store.OrdersByUser(ctx, userID)
}

func (e *Engine) PortfoliosForUser(ctx context.Context, userID int64) ([]types.Portfolio, error) {
	return e.store.PortfoliosByUser(ctx, userID)
}

// CreateUser registers an account with an opening balance.
func (e *Engine) CreateUser(ctx context.Context, username string, balance int64) (types.User, error) {
	if username == "" {
		return types.User{}, fmt.Errorf("%w: empty username", ErrValidation)
	}
	if balance < 0 {
		return types.User{}, fmt.Errorf("%w: negative balance", ErrValidation)
	}
	u, err := e.store.CreateUser(ctx, types.User{Username: username, CurrentBalance: balance})
	if err != nil {
		return types.User{}, fmt.Errorf("%w: create user: %v", ErrInternal, err)
	}
	return u, nil
}

func (e *Engine) GetUser(ctx context.Context, id int64) (types.User, error) {
	u, err := e.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return u, err
}
