// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the exchange — order and trade
// records, book snapshots, and the WebSocket payloads served to subscribers.
// It has no dependencies on internal packages, so it can be imported by any
// layer, including the client SDK.
package types

import (
	"fmt"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == BUY || s == SELL }

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// ShareType identifies which outcome of a binary event a share pays on.
type ShareType string

const (
	YES ShareType = "YES"
	NO  ShareType = "NO"
)

// Valid reports whether t is a known share type.
func (t ShareType) Valid() bool { return t == YES || t == NO }

// OrderStatus enumerates the order lifecycle. CANCELLED and
// COMPLETELY_FILLED are terminal; a terminal order is immutable and lives
// only in the relational store.
type OrderStatus string

const (
	StatusIncomplete       OrderStatus = "INCOMPLETE"
	StatusPartialFilled    OrderStatus = "PARTIAL_FILLED"
	StatusCompletelyFilled OrderStatus = "COMPLETELY_FILLED"
	StatusCancelled        OrderStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further mutation.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompletelyFilled || s == StatusCancelled
}

// StatusFor derives the non-cancelled status implied by the fill counters.
func StatusFor(total, filled int64) OrderStatus {
	switch {
	case filled == 0:
		return StatusIncomplete
	case filled < total:
		return StatusPartialFilled
	default:
		return StatusCompletelyFilled
	}
}

// EventStatus is the trading state of an event. The engine accepts orders
// only while the event is ONGOING.
type EventStatus string

const (
	EventOngoing   EventStatus = "ONGOING"
	EventCompleted EventStatus = "COMPLETED"
)

// EventResult is the resolved outcome of a completed event.
type EventResult string

const (
	ResultYes  EventResult = "YES"
	ResultNo   EventResult = "NO"
	ResultDraw EventResult = "DRAW"
)

// Valid reports whether r is a known result.
func (r EventResult) Valid() bool {
	return r == ResultYes || r == ResultNo || r == ResultDraw
}

// ————————————————————————————————————————————————————————————————————————
// Price domain
// ————————————————————————————————————————————————————————————————————————

// Prices are integers in [MinPrice, MaxPrice]. A winning share pays
// WinnerPayout at resolution, a losing share pays zero, and a draw pays
// DrawPayout on both sides.
const (
	MinPrice     int64 = 1
	MaxPrice     int64 = 10
	WinnerPayout int64 = 10
	DrawPayout   int64 = 5
)

// ValidPrice reports whether p lies in the integer price domain.
func ValidPrice(p int64) bool { return p >= MinPrice && p <= MaxPrice }

// ————————————————————————————————————————————————————————————————————————
// Records
// ————————————————————————————————————————————————————————————————————————

// Order is a limit order for shares of one outcome of one event.
// While non-terminal it lives in the in-memory order store and, when
// resting, in exactly one price-level queue; the database row is written at
// creation and updated once, on the terminal transition.
type Order struct {
	ID             int64       `json:"id" db:"id"`
	UserID         int64       `json:"user_id" db:"user_id"`
	EventID        int64       `json:"event_id" db:"event_id"`
	Side           Side        `json:"side" db:"side"`
	ShareType      ShareType   `json:"share_type" db:"type_of_share"`
	Price          int64       `json:"price" db:"price"`
	TotalQuantity  int64       `json:"total_quantity" db:"total_quantity"`
	FilledQuantity int64       `json:"filled_quantity" db:"filled_quantity"`
	Status         OrderStatus `json:"status" db:"status"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 { return o.TotalQuantity - o.FilledQuantity }

// CheckInvariants verifies the fill-counter and status invariants that must
// hold after every mutation: 0 ≤ filled ≤ total, and the status matches the
// counters unless the order was cancelled.
func (o *Order) CheckInvariants() error {
	if o.FilledQuantity < 0 || o.FilledQuantity > o.TotalQuantity {
		return fmt.Errorf("order %d: filled %d outside [0, %d]",
			o.ID, o.FilledQuantity, o.TotalQuantity)
	}
	if o.Status != StatusCancelled && o.Status != StatusFor(o.TotalQuantity, o.FilledQuantity) {
		return fmt.Errorf("order %d: status %s does not match filled %d/%d",
			o.ID, o.Status, o.FilledQuantity, o.TotalQuantity)
	}
	return nil
}

// Trade records one matched quantity pair at a single price. The price is
// always the resting (maker) order's price. Order id references are nil for
// the synthetic trades written at event resolution.
type Trade struct {
	ID            int64     `json:"id" db:"id"`
	EventID       int64     `json:"event_id" db:"event_id"`
	Price         int64     `json:"price" db:"price"`
	Quantity      int64     `json:"quantity" db:"quantity"`
	ShareType     ShareType `json:"share_type" db:"type_of_share"`
	BuyerUserID   int64     `json:"buyer_user_id" db:"buyer_user_id"`
	SellerUserID  int64     `json:"seller_user_id" db:"seller_user_id"`
	BuyerOrderID  *int64    `json:"buyer_order_id,omitempty" db:"buyer_order_id"`
	SellerOrderID *int64    `json:"seller_order_id,omitempty" db:"seller_order_id"`
	ExecutedAt    time.Time `json:"executed_at" db:"executed_at"`
}

// Value is the exact cash transferred by the trade.
func (t *Trade) Value() int64 { return t.Quantity * t.Price }

// Portfolio is one user's holding of one share type on one event.
// Unique per (user, event, share type); quantity never goes negative.
type Portfolio struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	EventID   int64     `json:"event_id" db:"event_id"`
	ShareType ShareType `json:"share_type" db:"type_of_share"`
	Quantity  int64     `json:"quantity" db:"quantity"`
}

// User carries the single balance the engine debits and credits.
// Authentication and profile data live outside the core.
type User struct {
	ID             int64  `json:"id" db:"id"`
	Username       string `json:"username" db:"username"`
	CurrentBalance int64  `json:"current_balance" db:"current_balance"`
}

// Event is a binary-outcome market. Result is nil until resolution.
type Event struct {
	ID        int64        `json:"id" db:"id"`
	Title     string       `json:"title" db:"title"`
	CreatedBy int64        `json:"created_by" db:"created_by"`
	Status    EventStatus  `json:"status" db:"status"`
	Result    *EventResult `json:"result,omitempty" db:"result"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Book projection
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is the aggregate resting quantity at one price on one side.
// Levels with zero quantity are omitted from projections.
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// SideBook holds the L2 depth for one share type: bids sorted descending by
// price, asks ascending.
type SideBook struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// SideSummary is top-of-book data for one share type. BestBid/BestAsk/Spread
// are nil when the corresponding side is empty.
type SideSummary struct {
	BestBid        *int64 `json:"best_bid"`
	BestAsk        *int64 `json:"best_ask"`
	Spread         *int64 `json:"spread"`
	TotalBidVolume int64  `json:"total_bid_volume"`
	TotalAskVolume int64  `json:"total_ask_volume"`
}

// MarketSummary pairs the YES and NO summaries.
type MarketSummary struct {
	Yes SideSummary `json:"YES"`
	No  SideSummary `json:"NO"`
}

// BookSnapshot is the full L2 projection for one event: depth per share type
// plus the market summary. This is the `data` field of snapshot and update
// messages.
type BookSnapshot struct {
	Yes     SideBook      `json:"YES"`
	No      SideBook      `json:"NO"`
	Summary MarketSummary `json:"market_summary"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket protocol
// ————————————————————————————————————————————————————————————————————————

// Message types exchanged on the live book feed. The server sends snapshot,
// update, and pong; clients send ping and refresh.
const (
	MsgSnapshot = "snapshot"
	MsgUpdate   = "update"
	MsgPong     = "pong"
	MsgPing     = "ping"
	MsgRefresh  = "refresh"
)

// WSMessage is the envelope for every frame on the book feed.
type WSMessage struct {
	Type      string        `json:"type"`
	EventID   int64         `json:"event_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Data      *BookSnapshot `json:"data,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Submission API
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is the submission payload accepted by the engine and the
// REST API. The caller is trusted to supply UserID; authentication is an
// external collaborator.
type OrderRequest struct {
	UserID        int64     `json:"user_id"`
	EventID       int64     `json:"event_id"`
	Side          Side      `json:"side"`
	ShareType     ShareType `json:"share_type"`
	Price         int64     `json:"price"`
	TotalQuantity int64     `json:"total_quantity"`
}

// Outcome tags the result of a submission.
type Outcome string

const (
	OutcomeFullyFilled     Outcome = "FULLY_FILLED"
	OutcomePartiallyFilled Outcome = "PARTIALLY_FILLED"
	OutcomeResting         Outcome = "RESTING"
	OutcomeRejected        Outcome = "REJECTED"
)

// OrderResult is what SubmitOrder returns: the taker's final state, the
// trades generated while matching, and, when residual quantity rests on the
// book, the resting order id.
type OrderResult struct {
	Outcome   Outcome `json:"outcome"`
	Order     Order   `json:"order"`
	Trades    []Trade `json:"trades,omitempty"`
	RestingID int64   `json:"resting_id,omitempty"`
	Error     string  `json:"error,omitempty"`
}
