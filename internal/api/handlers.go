package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gorilla/websocket"

	"predix/internal/engine"
	"predix/pkg/types"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	engine   *engine.Engine
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates the handler set. allowedOrigins restricts WebSocket
// upgrades; empty means same-origin only, "*" allows everything.
func NewHandlers(eng *engine.Engine, hub *Hub, allowedOrigins []string, logger *slog.Logger) *Handlers {
	h := &Handlers{
		engine: eng,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla's default same-origin check
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(o)] = true
	}
	return func(r *http.Request) bool {
		return set[strings.ToLower(r.Header.Get("Origin"))]
	}
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// HandleSubmitOrder accepts a limit order: POST /api/orders.
func (h *Handlers) HandleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req types.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.engine.SubmitOrder(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err, result)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleCancelOrder cancels a resting order: DELETE /api/orders/{id}?user_id=N.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}
	order, err := h.engine.CancelOrder(r.Context(), orderID, userID)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// HandleGetOrder returns one order: GET /api/orders/{id}.
func (h *Handlers) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.engine.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// HandleSnapshot returns the full L2 book: GET /api/orderbook/{event_id}.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "event_id")
	if !ok {
		return
	}
	snap, err := h.engine.Snapshot(eventID)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleDepth returns the truncated book:
// GET /api/orderbook/{event_id}/depth?levels=N.
func (h *Handlers) HandleDepth(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "event_id")
	if !ok {
		return
	}
	levels := int(types.MaxPrice)
	if raw := r.URL.Query().Get("levels"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "levels must be a positive integer")
			return
		}
		levels = n
	}
	snap, err := h.engine.Depth(eventID, levels)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleStream upgrades to the live book feed: GET /ws/orderbook/{event_id}.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "event_id")
	if !ok {
		return
	}
	if _, err := h.engine.GetEvent(r.Context(), eventID); err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn, eventID)
}

// ————————————————————————————————————————————————————————————————————————
// Events
// ————————————————————————————————————————————————————————————————————————

type createEventRequest struct {
	Title      string `json:"title"`
	CreatedBy  int64  `json:"created_by"`
	SeedShares int64  `json:"seed_shares"`
	SeedPrice  int64  `json:"seed_price"`
}

// HandleCreateEvent opens a market: POST /api/events.
func (h *Handlers) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ev, err := h.engine.CreateEvent(r.Context(), req.Title, req.CreatedBy, req.SeedShares, req.SeedPrice)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, ev)
}

// HandleListEvents lists all markets: GET /api/events.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.ListEvents(r.Context())
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

// HandleGetEvent returns one market: GET /api/events/{id}.
func (h *Handlers) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	ev, err := h.engine.GetEvent(r.Context(), eventID)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, ev)
}

type resolveEventRequest struct {
	Result types.EventResult `json:"result"`
}

// HandleResolveEvent settles a market: POST /api/events/{id}/resolve.
func (h *Handlers) HandleResolveEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req resolveEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.ResolveEvent(r.Context(), eventID, req.Result); err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"event_id": eventID,
		"result":   req.Result,
		"status":   types.EventCompleted,
	})
}

// HandleResumeEvent lifts a settlement suspension:
// POST /api/events/{id}/resume.
func (h *Handlers) HandleResumeEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	h.engine.ResumeEvent(eventID)
	h.writeJSON(w, http.StatusOK, map[string]any{"event_id": eventID, "resumed": true})
}

// HandleEventTrades returns the trade tape: GET /api/events/{id}/trades.
func (h *Handlers) HandleEventTrades(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	trades, err := h.engine.TradesForEvent(r.Context(), eventID)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// ————————————————————————————————————————————————————————————————————————
// Users
// ————————————————————————————————————————————————————————————————————————

type createUserRequest struct {
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
}

// HandleCreateUser registers an account: POST /api/users.
func (h *Handlers) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.engine.CreateUser(r.Context(), req.Username, req.Balance)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, u)
}

// HandleGetUser returns an account: GET /api/users/{id}.
func (h *Handlers) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	u, err := h.engine.GetUser(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

// HandleUserOrders returns a user's order history: GET /api/users/{id}/orders.
func (h *Handlers) HandleUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	orders, err := h.engine.OrdersForUser(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

// HandleUserPortfolios returns a user's holdings: GET /api/users/{id}/portfolios.
func (h *Handlers) HandleUserPortfolios(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	pfs, err := h.engine.PortfoliosForUser(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err, nil)
		return
	}
	h.writeJSON(w, http.StatusOK, pfs)
}

// ————————————————————————————————————————————————————————————————————————
// Operational
// ————————————————————————————————————————————————————————————————————————

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleMetrics exposes counters in Prometheus text format.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w, true)
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine error kinds onto HTTP statuses. When the
// engine produced a partial result (a rejected submission), it rides along
// in the error body.
func (h *Handlers) writeEngineError(w http.ResponseWriter, err error, result *types.OrderResult) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrEventNotAccepting):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrInsufficientShares):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrLockTimeout):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrSettlementFailed):
		status = http.StatusConflict
	}
	if result != nil {
		h.writeJSON(w, status, result)
		return
	}
	h.writeError(w, status, err.Error())
}
