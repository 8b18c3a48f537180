package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"predix/internal/api"
	"predix/internal/config"
	"predix/internal/engine"
	"predix/internal/store"
	"predix/pkg/client"
	"predix/pkg/types"
)

func startExchange(t *testing.T) (string, int64) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMem()

	operator, err := st.CreateUser(ctx, types.User{Username: "operator", CurrentBalance: 1_000_000})
	if err != nil {
		t.Fatalf("create operator: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(engine.Config{
		LockTimeout:    500 * time.Millisecond,
		LockRetries:    3,
		RetryBackoff:   5 * time.Millisecond,
		OperatorUserID: operator.ID,
	}, st, logger)

	srv := api.NewServer(config.ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}}, eng, logger)
	go srv.HubRef().Run()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, operator.ID
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	baseURL, operatorID := startExchange(t)
	c := client.New(baseURL)

	alice, err := c.CreateUser(ctx, "alice", 1_000)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	ev, err := c.CreateEvent(ctx, client.CreateEventRequest{
		Title: "eth above 5k", CreatedBy: operatorID,
		SeedShares: 40, SeedPrice: 3,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	res, err := c.SubmitOrder(ctx, types.OrderRequest{
		UserID: alice.ID, EventID: ev.ID,
		Side: types.BUY, ShareType: types.YES, Price: 3, TotalQuantity: 40,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.Outcome != types.OutcomeFullyFilled {
		t.Fatalf("outcome = %s, want fully filled", res.Outcome)
	}

	snap, err := c.Snapshot(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Yes.Asks) != 0 {
		t.Errorf("YES asks = %v, want empty after lift", snap.Yes.Asks)
	}
	if len(snap.No.Asks) != 1 {
		t.Errorf("NO asks = %v, want seeded level", snap.No.Asks)
	}

	pfs, err := c.UserPortfolios(ctx, alice.ID)
	if err != nil {
		t.Fatalf("UserPortfolios: %v", err)
	}
	if len(pfs) != 1 || pfs[0].Quantity != 40 {
		t.Errorf("portfolios = %+v, want 40 YES", pfs)
	}

	trades, err := c.EventTrades(ctx, ev.ID)
	if err != nil {
		t.Fatalf("EventTrades: %v", err)
	}
	if len(trades) != 1 || trades[0].Price != 3 {
		t.Errorf("trades = %+v", trades)
	}
}

func TestClientSubmitRejected(t *testing.T) {
	ctx := context.Background()
	baseURL, operatorID := startExchange(t)
	c := client.New(baseURL)

	ev, err := c.CreateEvent(ctx, client.CreateEventRequest{
		Title: "no liquidity", CreatedBy: operatorID,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	poor, err := c.CreateUser(ctx, "poor", 1)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	res, err := c.SubmitOrder(ctx, types.OrderRequest{
		UserID: poor.ID, EventID: ev.ID,
		Side: types.BUY, ShareType: types.YES, Price: 10, TotalQuantity: 100,
	})
	if err == nil {
		t.Fatal("SubmitOrder succeeded beyond balance")
	}
	if res == nil || res.Outcome != types.OutcomeRejected {
		t.Errorf("result = %+v, want rejected outcome", res)
	}
}

func TestClientCancel(t *testing.T) {
	ctx := context.Background()
	baseURL, _ := startExchange(t)
	c := client.New(baseURL)

	alice, err := c.CreateUser(ctx, "alice", 1_000)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	ev, err := c.CreateEvent(ctx, client.CreateEventRequest{Title: "cancel me", CreatedBy: alice.ID})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	res, err := c.SubmitOrder(ctx, types.OrderRequest{
		UserID: alice.ID, EventID: ev.ID,
		Side: types.BUY, ShareType: types.NO, Price: 4, TotalQuantity: 5,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	order, err := c.CancelOrder(ctx, res.RestingID, alice.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if order.Status != types.StatusCancelled {
		t.Errorf("status = %s, want cancelled", order.Status)
	}

	if _, err := c.CancelOrder(ctx, res.RestingID, alice.ID); err == nil {
		t.Error("second cancel succeeded")
	}
}

func TestStreamSubscribe(t *testing.T) {
	ctx := context.Background()
	baseURL, operatorID := startExchange(t)
	c := client.New(baseURL)

	ev, err := c.CreateEvent(ctx, client.CreateEventRequest{
		Title: "live feed", CreatedBy: operatorID,
		SeedShares: 10, SeedPrice: 7,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	stream, err := client.Subscribe(ctx, baseURL, ev.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stream.Close()

	select {
	case msg := <-stream.Messages():
		if msg.Type != types.MsgSnapshot {
			t.Fatalf("first frame = %q, want snapshot", msg.Type)
		}
		if msg.Data == nil || len(msg.Data.Yes.Asks) != 1 {
			t.Fatalf("snapshot data = %+v", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot frame")
	}

	if err := stream.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	select {
	case msg := <-stream.Messages():
		if msg.Type != types.MsgPong {
			t.Fatalf("frame = %q, want pong", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong frame")
	}
}
