// Package client is the Go SDK for the exchange REST and WebSocket APIs.
//
// The REST client (Client) covers order management, book reads, and the
// event/user lifecycle; Stream subscribes to the live per-event book feed.
// Requests are automatically retried on 5xx responses.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"predix/pkg/types"
)

// Client is the exchange REST API client.
type Client struct {
	http *resty.Client
}

// New creates a REST client against baseURL with retry on server errors.
func New(baseURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient}
}

// apiError is the error body returned for non-result failures.
type apiError struct {
	Error string `json:"error"`
}

// SubmitOrder places a limit order and returns the submission result,
// including any trades executed while matching.
func (c *Client) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	var result types.OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&result).
		Post("/api/orders")
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	if resp.IsError() {
		if result.Error != "" {
			return &result, fmt.Errorf("submit order: %s", result.Error)
		}
		return nil, statusError("submit order", resp)
	}
	return &result, nil
}

// CancelOrder cancels a resting order owned by userID.
func (c *Client) CancelOrder(ctx context.Context, orderID, userID int64) (*types.Order, error) {
	var order types.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("user_id", fmt.Sprintf("%d", userID)).
		SetResult(&order).
		Delete(fmt.Sprintf("/api/orders/%d", orderID))
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("cancel order", resp)
	}
	return &order, nil
}

// GetOrder fetches one order by id.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*types.Order, error) {
	var order types.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&order).
		Get(fmt.Sprintf("/api/orders/%d", orderID))
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("get order", resp)
	}
	return &order, nil
}

// Snapshot fetches the full L2 book for an event.
func (c *Client) Snapshot(ctx context.Context, eventID int64) (*types.BookSnapshot, error) {
	var snap types.BookSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&snap).
		Get(fmt.Sprintf("/api/orderbook/%d", eventID))
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("get snapshot", resp)
	}
	return &snap, nil
}

// Depth fetches the book truncated to the top levels per side.
func (c *Client) Depth(ctx context.Context, eventID int64, levels int) (*types.BookSnapshot, error) {
	var snap types.BookSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("levels", fmt.Sprintf("%d", levels)).
		SetResult(&snap).
		Get(fmt.Sprintf("/api/orderbook/%d/depth", eventID))
	if err != nil {
		return nil, fmt.Errorf("get depth: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("get depth", resp)
	}
	return &snap, nil
}

// CreateEventRequest opens a new market; the seed fields are optional.
type CreateEventRequest struct {
	Title      string `json:"title"`
	CreatedBy  int64  `json:"created_by"`
	SeedShares int64  `json:"seed_shares,omitempty"`
	SeedPrice  int64  `json:"seed_price,omitempty"`
}

// CreateEvent opens a new market.
func (c *Client) CreateEvent(ctx context.Context, req CreateEventRequest) (*types.Event, error) {
	var ev types.Event
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&ev).
		Post("/api/events")
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("create event", resp)
	}
	return &ev, nil
}

// ResolveEvent settles a market against its outcome.
func (c *Client) ResolveEvent(ctx context.Context, eventID int64, result types.EventResult) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]types.EventResult{"result": result}).
		Post(fmt.Sprintf("/api/events/%d/resolve", eventID))
	if err != nil {
		return fmt.Errorf("resolve event: %w", err)
	}
	if resp.IsError() {
		return statusError("resolve event", resp)
	}
	return nil
}

// ListEvents lists all markets.
func (c *Client) ListEvents(ctx context.Context) ([]types.Event, error) {
	var events []types.Event
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&events).
		Get("/api/events")
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("list events", resp)
	}
	return events, nil
}

// EventTrades fetches the trade tape of an event.
func (c *Client) EventTrades(ctx context.Context, eventID int64) ([]types.Trade, error) {
	var trades []types.Trade
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&trades).
		Get(fmt.Sprintf("/api/events/%d/trades", eventID))
	if err != nil {
		return nil, fmt.Errorf("event trades: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("event trades", resp)
	}
	return trades, nil
}

// CreateUser registers an account with an opening balance.
func (c *Client) CreateUser(ctx context.Context, username string, balance int64) (*types.User, error) {
	var u types.User
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"username": username, "balance": balance}).
		SetResult(&u).
		Post("/api/users")
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("create user", resp)
	}
	return &u, nil
}

// GetUser fetches an account.
func (c *Client) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	var u types.User
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&u).
		Get(fmt.Sprintf("/api/users/%d", userID))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("get user", resp)
	}
	return &u, nil
}

// UserPortfolios fetches a user's holdings across events.
func (c *Client) UserPortfolios(ctx context.Context, userID int64) ([]types.Portfolio, error) {
	var pfs []types.Portfolio
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&pfs).
		Get(fmt.Sprintf("/api/users/%d/portfolios", userID))
	if err != nil {
		return nil, fmt.Errorf("user portfolios: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("user portfolios", resp)
	}
	return pfs, nil
}

func statusError(op string, resp *resty.Response) error {
	var body apiError
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), body.Error)
	}
	return fmt.Errorf("%s: status %d", op, resp.StatusCode())
}
