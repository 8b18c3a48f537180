package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"predix/internal/config"
	"predix/internal/engine"
	"predix/internal/store"
	"predix/pkg/types"
)

type testExchange struct {
	ts       *httptest.Server
	eng      *engine.Engine
	st       *store.Mem
	operator types.User
}

func newTestExchange(t *testing.T) *testExchange {
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

	srv := NewServer(config.ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}}, eng, logger)
	go srv.HubRef().Run()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testExchange{ts: ts, eng: eng, st: st, operator: operator}
}

func (x *testExchange) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(x.ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func (x *testExchange) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(x.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func TestHealth(t *testing.T) {
	x := newTestExchange(t)

	resp, raw := x.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), `"ok"`) {
		t.Errorf("body = %s", raw)
	}
}

func TestOrderLifecycleOverREST(t *testing.T) {
	x := newTestExchange(t)

	// Register two accounts.
	resp, raw := x.post(t, "/api/users", map[string]any{"username": "alice", "balance": 1000})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user status = %d: %s", resp.StatusCode, raw)
	}
	var alice types.User
	if err := json.Unmarshal(raw, &alice); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	_, raw = x.post(t, "/api/users", map[string]any{"username": "bob", "balance": 1000})
	var bob types.User
	json.Unmarshal(raw, &bob)

	// Open a seeded market.
	resp, raw = x.post(t, "/api/events", map[string]any{
		"title": "btc above 100k", "created_by": x.operator.ID,
		"seed_shares": 50, "seed_price": 5,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create event status = %d: %s", resp.StatusCode, raw)
	}
	var ev types.Event
	json.Unmarshal(raw, &ev)

	// Alice lifts the seeded YES offer.
	resp, raw = x.post(t, "/api/orders", types.OrderRequest{
		UserID: alice.ID, EventID: ev.ID,
		Side: types.BUY, ShareType: types.YES, Price: 5, TotalQuantity: 20,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, raw)
	}
	var result types.OrderResult
	json.Unmarshal(raw, &result)
	if result.Outcome != types.OutcomeFullyFilled {
		t.Fatalf("outcome = %s: %s", result.Outcome, raw)
	}

	// Bob rests a bid, reads it back, cancels it.
	_, raw = x.post(t, "/api/orders", types.OrderRequest{
		UserID: bob.ID, EventID: ev.ID,
		Side: types.BUY, ShareType: types.YES, Price: 3, TotalQuantity: 5,
	})
	json.Unmarshal(raw, &result)
	if result.Outcome != types.OutcomeResting {
		t.Fatalf("outcome = %s", result.Outcome)
	}

	resp, raw = x.get(t, fmt.Sprintf("/api/orders/%d", result.RestingID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get order status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/orders/%d?user_id=%d", x.ts.URL, result.RestingID, bob.ID), nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", delResp.StatusCode)
	}

	// The book shows only the seeded remnants.
	_, raw = x.get(t, fmt.Sprintf("/api/orderbook/%d", ev.ID))
	var snap types.BookSnapshot
	json.Unmarshal(raw, &snap)
	if len(snap.Yes.Bids) != 0 {
		t.Errorf("bids = %v after cancel", snap.Yes.Bids)
	}
	if len(snap.Yes.Asks) != 1 || snap.Yes.Asks[0].Quantity != 30 {
		t.Errorf("asks = %v, want one level of 30", snap.Yes.Asks)
	}
}

func TestRESTErrorMapping(t *testing.T) {
	x := newTestExchange(t)

	resp, _ := x.get(t, "/api/orders/999")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing order status = %d, want 404", resp.StatusCode)
	}

	resp, _ = x.post(t, "/api/orders", types.OrderRequest{
		UserID: x.operator.ID, EventID: 999,
		Side: types.BUY, ShareType: types.YES, Price: 5, TotalQuantity: 1,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown event status = %d, want 404", resp.StatusCode)
	}

	resp, _ = x.post(t, "/api/orders", types.OrderRequest{
		UserID: x.operator.ID, EventID: 1,
		Side: "HOLD", ShareType: types.YES, Price: 5, TotalQuantity: 1,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad side status = %d, want 400", resp.StatusCode)
	}
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket feed
// ————————————————————————————————————————————————————————————————————————

func wsDial(t *testing.T, x *testExchange, eventID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(x.ts.URL, "http") +
		fmt.Sprintf("/ws/orderbook/%d", eventID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) types.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg types.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

func TestStreamSnapshotOnSubscribe(t *testing.T) {
	x := newTestExchange(t)
	ctx := context.Background()

	ev, err := x.eng.CreateEvent(ctx, "stream market", x.operator.ID, 10, 4)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	conn := wsDial(t, x, ev.ID)

	msg := readFrame(t, conn)
	if msg.Type != types.MsgSnapshot {
		t.Fatalf("first frame type = %q, want snapshot", msg.Type)
	}
	if msg.Data == nil || len(msg.Data.Yes.Asks) != 1 {
		t.Fatalf("snapshot data = %+v", msg.Data)
	}
}

func TestStreamPingPong(t *testing.T) {
	x := newTestExchange(t)
	ctx := context.Background()

	ev, err := x.eng.CreateEvent(ctx, "ping market", x.operator.ID, 0, 0)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	conn := wsDial(t, x, ev.ID)
	readFrame(t, conn) // initial snapshot

	if err := conn.WriteJSON(types.WSMessage{Type: types.MsgPing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	msg := readFrame(t, conn)
	if msg.Type != types.MsgPong {
		t.Errorf("frame type = %q, want pong", msg.Type)
	}
}

func TestStreamUpdateOnOrder(t *testing.T) {
	x := newTestExchange(t)
	ctx := context.Background()

	ev, err := x.eng.CreateEvent(ctx, "update market", x.operator.ID, 0, 0)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	trader, err := x.st.CreateUser(ctx, types.User{Username: "trader", CurrentBalance: 100})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	conn := wsDial(t, x, ev.ID)
	readFrame(t, conn) // initial snapshot

	if _, err := x.eng.SubmitOrder(ctx, types.OrderRequest{
		UserID: trader.ID, EventID: ev.ID,
		Side: types.BUY, ShareType: types.NO, Price: 2, TotalQuantity: 5,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	msg := readFrame(t, conn)
	if msg.Type != types.MsgUpdate {
		t.Fatalf("frame type = %q, want update", msg.Type)
	}
	if msg.Data == nil || len(msg.Data.No.Bids) != 1 {
		t.Fatalf("update data = %+v", msg.Data)
	}
	if msg.Data.No.Bids[0] != (types.PriceLevel{Price: 2, Quantity: 5}) {
		t.Errorf("bid level = %+v", msg.Data.No.Bids[0])
	}
}

func TestStreamRefresh(t *testing.T) {
	x := newTestExchange(t)
	ctx := context.Background()

	ev, err := x.eng.CreateEvent(ctx, "refresh market", x.operator.ID, 5, 6)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	conn := wsDial(t, x, ev.ID)
	readFrame(t, conn) // initial snapshot

	if err := conn.WriteJSON(types.WSMessage{Type: types.MsgRefresh}); err != nil {
		t.Fatalf("write refresh: %v", err)
	}
	msg := readFrame(t, conn)
	if msg.Type != types.MsgSnapshot {
		t.Fatalf("frame type = %q, want snapshot", msg.Type)
	}
}

func TestStreamClosesOnResolve(t *testing.T) {
	x := newTestExchange(t)
	ctx := context.Background()

	ev, err := x.eng.CreateEvent(ctx, "closing market", x.operator.ID, 0, 0)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	conn := wsDial(t, x, ev.ID)
	readFrame(t, conn) // initial snapshot

	if err := x.eng.ResolveEvent(ctx, ev.ID, types.ResultYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A final update may arrive; eventually the server closes the feed.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg types.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return // closed, as expected
		}
	}
}

func TestHubEvictionKeepsReplyPathSafe(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(func(eventID int64) (*types.BookSnapshot, error) {
		return &types.BookSnapshot{}, nil
	}, logger)
	go hub.Run()

	// A subscriber with a full one-slot buffer: the next broadcast evicts it.
	client := &Client{
		hub:     hub,
		send:    make(chan []byte, 1),
		done:    make(chan struct{}),
		eventID: 7,
	}
	hub.register <- client

	snap := &types.BookSnapshot{}
	hub.PublishUpdate(7, snap)
	hub.PublishUpdate(7, snap)

	select {
	case <-client.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub never evicted the stalled client")
	}

	// The read side keeps answering pings and refreshes until its connection
	// dies; after eviction those replies must drop, not panic.
	client.enqueue(types.WSMessage{Type: types.MsgPong, Timestamp: time.Now().UTC()})
	client.sendSnapshot()
}

func TestStreamUnknownEvent(t *testing.T) {
	x := newTestExchange(t)

	resp, _ := x.get(t, "/ws/orderbook/999")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
