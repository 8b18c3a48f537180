// Package store is the persistence boundary between the in-memory matching
// core and the relational database. The engine talks to the Store interface
// only; Postgres is the production implementation and Mem backs tests.
//
// Orders are inserted at submission and updated exactly once, on the
// terminal transition — the database is never consulted mid-match. Each
// fill settles atomically: one trade row, one balance debit, one credit,
// and both portfolio mutations commit or roll back together.
package store

import (
	"context"
	"errors"

	"predix/pkg/types"
)

// Sentinel errors surfaced by implementations. The engine maps them onto
// its own error kinds at the API boundary.
var (
	ErrNotFound            = errors.New("store: not found")
	ErrInsufficientBalance = errors.New("store: insufficient balance")
	ErrInsufficientShares  = errors.New("store: insufficient shares")
)

// Fill is one matched quantity pair handed to settlement. Exactly one of
// the two orders is a BUY and one a SELL; the engine establishes that before
// calling.
type Fill struct {
	EventID       int64
	ShareType     types.ShareType
	Price         int64
	Quantity      int64
	BuyerUserID   int64
	SellerUserID  int64
	BuyerOrderID  int64
	SellerOrderID int64
}

// Payout is one resolution settlement for a single portfolio row: the
// operator buys the holding back at the payout price (10 win / 0 lose /
// 5 draw). The trade is written with null order ids.
type Payout struct {
	EventID     int64
	ShareType   types.ShareType
	Price       int64
	Quantity    int64
	HolderID    int64
	OperatorID  int64
	PortfolioID int64
}

// Store is the contract with the relational database.
type Store interface {
	// Orders. CreateOrder assigns the id; UpdateOrderTerminal is called only
	// when an order leaves memory (fully filled or cancelled).
	CreateOrder(ctx context.Context, o types.Order) (types.Order, error)
	UpdateOrderTerminal(ctx context.Context, o types.Order) error
	GetOrder(ctx context.Context, id int64) (types.Order, error)
	// Active orders (INCOMPLETE or PARTIAL_FILLED) in ascending id order,
	// which is price-time order within each price level.
	ActiveOrders(ctx context.Context) ([]types.Order, error)
	ActiveOrdersByEvent(ctx context.Context, eventID int64) ([]types.Order, error)
	OrdersByUser(ctx context.Context, userID int64) ([]types.Order, error)

	// Settlement. Both calls are atomic: all writes commit or none do.
	SettleFill(ctx context.Context, f Fill) (types.Trade, error)
	SettlePayout(ctx context.Context, p Payout) (types.Trade, error)
	TradesByEvent(ctx context.Context, eventID int64) ([]types.Trade, error)

	// Events.
	CreateEvent(ctx context.Context, ev types.Event) (types.Event, error)
	GetEvent(ctx context.Context, id int64) (types.Event, error)
	ListEvents(ctx context.Context) ([]types.Event, error)
	SetEventResolved(ctx context.Context, id int64, result types.EventResult) error

	// Users.
	CreateUser(ctx context.Context, u types.User) (types.User, error)
	GetUser(ctx context.Context, id int64) (types.User, error)
	AdjustBalance(ctx context.Context, userID, delta int64) error

	// Portfolios.
	PortfolioFor(ctx context.Context, userID, eventID int64, share types.ShareType) (types.Portfolio, error)
	PortfoliosByEvent(ctx context.Context, eventID int64) ([]types.Portfolio, error)
	PortfoliosByUser(ctx context.Context, userID int64) ([]types.Portfolio, error)
	// AdjustPortfolio upserts (user, event, share) by delta; it is how the
	// operator is granted the inventory that seeds a new event.
	AdjustPortfolio(ctx context.Context, userID, eventID int64, share types.ShareType, delta int64) error

	Close() error
}
