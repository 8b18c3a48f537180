package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"predix/pkg/types"
)

// Mem is an in-memory Store used by tests and local runs without a database.
// It applies the same settlement constraints as Postgres: balances and
// portfolio quantities never go negative, and a failed fill leaves no
// partial writes behind.
type Mem struct {
	mu sync.Mutex

	users      map[int64]*types.User
	events     map[int64]*types.Event
	orders     map[int64]*types.Order
	trades     []types.Trade
	portfolios map[int64]*types.Portfolio

	nextUser      int64
	nextEvent     int64
	nextOrder     int64
	nextTrade     int64
	nextPortfolio int64
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		users:      make(map[int64]*types.User),
		events:     make(map[int64]*types.Event),
		orders:     make(map[int64]*types.Order),
		portfolios: make(map[int64]*types.Portfolio),
	}
}

func (m *Mem) Close() error { return nil }

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

func (m *Mem) CreateOrder(_ context.Context, o types.Order) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrder++
	o.ID = m.nextOrder
	o.CreatedAt = time.Now().UTC()
	cp := o
	m.orders[o.ID] = &cp
	return o, nil
}

func (m *Mem) UpdateOrderTerminal(_ context.Context, o types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", o.ID, ErrNotFound)
	}
	cur.FilledQuantity = o.FilledQuantity
	cur.Status = o.Status
	return nil
}

func (m *Mem) GetOrder(_ context.Context, id int64) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return types.Order{}, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return *o, nil
}

func (m *Mem) ActiveOrders(_ context.Context) ([]types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectOrders(func(o *types.Order) bool {
		return !o.Status.Terminal()
	}), nil
}

func (m *Mem) ActiveOrdersByEvent(_ context.Context, eventID int64) ([]types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectOrders(func(o *types.Order) bool {
		return o.EventID == eventID && !o.Status.Terminal()
	}), nil
}

func (m *Mem) OrdersByUser(_ context.Context, userID int64) ([]types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.selectOrders(func(o *types.Order) bool {
		return o.UserID == userID
	})
	// newest first, matching the SQL query
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// selectOrders returns matching orders ascending by id. Caller holds mu.
func (m *Mem) selectOrders(keep func(*types.Order) bool) []types.Order {
	var out []types.Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Settlement
// ————————————————————————————————————————————————————————————————————————

func (m *Mem) SettleFill(_ context.Context, f Fill) (types.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buyer, ok := m.users[f.BuyerUserID]
	if !ok {
		return types.Trade{}, fmt.Errorf("user %d: %w", f.BuyerUserID, ErrNotFound)
	}
	seller, ok := m.users[f.SellerUserID]
	if !ok {
		return types.Trade{}, fmt.Errorf("user %d: %w", f.SellerUserID, ErrNotFound)
	}

	value := f.Quantity * f.Price
	if buyer.CurrentBalance < value {
		return types.Trade{}, fmt.Errorf("user %d: %w", f.BuyerUserID, ErrInsufficientBalance)
	}
	sellerPF := m.portfolioLocked(f.SellerUserID, f.EventID, f.ShareType)
	if sellerPF == nil || sellerPF.Quantity < f.Quantity {
		return types.Trade{}, fmt.Errorf("user %d %s: %w", f.SellerUserID, f.ShareType, ErrInsufficientShares)
	}

	// all checks passed; apply every write
	buyer.CurrentBalance -= value
	seller.CurrentBalance += value
	sellerPF.Quantity -= f.Quantity
	m.upsertPortfolioLocked(f.BuyerUserID, f.EventID, f.ShareType, f.Quantity)

	m.nextTrade++
	bo, so := f.BuyerOrderID, f.SellerOrderID
	trade := types.Trade{
		ID:            m.nextTrade,
		EventID:       f.EventID,
		Price:         f.Price,
		Quantity:      f.Quantity,
		ShareType:     f.ShareType,
		BuyerUserID:   f.BuyerUserID,
		SellerUserID:  f.SellerUserID,
		BuyerOrderID:  &bo,
		SellerOrderID: &so,
		ExecutedAt:    time.Now().UTC(),
	}
	m.trades = append(m.trades, trade)
	return trade, nil
}

func (m *Mem) SettlePayout(_ context.Context, p Payout) (types.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pf, ok := m.portfolios[p.PortfolioID]
	if !ok {
		return types.Trade{}, fmt.Errorf("portfolio %d: %w", p.PortfolioID, ErrNotFound)
	}
	holder, ok := m.users[p.HolderID]
	if !ok {
		return types.Trade{}, fmt.Errorf("user %d: %w", p.HolderID, ErrNotFound)
	}
	operator, ok := m.users[p.OperatorID]
	if !ok {
		return types.Trade{}, fmt.Errorf("user %d: %w", p.OperatorID, ErrNotFound)
	}

	value := p.Quantity * p.Price
	if operator.CurrentBalance < value {
		return types.Trade{}, fmt.Errorf("user %d: %w", p.OperatorID, ErrInsufficientBalance)
	}

	operator.CurrentBalance -= value
	holder.CurrentBalance += value
	pf.Quantity = 0

	m.nextTrade++
	trade := types.Trade{
		ID:           m.nextTrade,
		EventID:      p.EventID,
		Price:        p.Price,
		Quantity:     p.Quantity,
		ShareType:    p.ShareType,
		BuyerUserID:  p.OperatorID,
		SellerUserID: p.HolderID,
		ExecutedAt:   time.Now().UTC(),
	}
	m.trades = append(m.trades, trade)
	return trade, nil
}

func (m *Mem) TradesByEvent(_ context.Context, eventID int64) ([]types.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Trade
	for _, t := range m.trades {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Events
// ————————————————————————————————————————————————————————————————————————

func (m *Mem) CreateEvent(_ context.Context, ev types.Event) (types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvent++
	ev.ID = m.nextEvent
	ev.Status = types.EventOngoing
	ev.CreatedAt = time.Now().UTC()
	cp := ev
	m.events[ev.ID] = &cp
	return ev, nil
}

func (m *Mem) GetEvent(_ context.Context, id int64) (types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return types.Event{}, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return *ev, nil
}

func (m *Mem) ListEvents(_ context.Context) ([]types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Mem) SetEventResolved(_ context.Context, id int64, result types.EventResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	ev.Status = types.EventCompleted
	r := result
	ev.Result = &r
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Users
// ————————————————————————————————————————————————————————————————————————

func (m *Mem) CreateUser(_ context.Context, u types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUser++
	u.ID = m.nextUser
	cp := u
	m.users[u.ID] = &cp
	return u, nil
}

func (m *Mem) GetUser(_ context.Context, id int64) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return types.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return *u, nil
}

func (m *Mem) AdjustBalance(_ context.Context, userID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if u.CurrentBalance+delta < 0 {
		return fmt.Errorf("user %d: %w", userID, ErrInsufficientBalance)
	}
	u.CurrentBalance += delta
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Portfolios
// ————————————————————————————————————————————————————————————————————————

func (m *Mem) PortfolioFor(_ context.Context, userID, eventID int64, share types.ShareType) (types.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pf := m.portfolioLocked(userID, eventID, share)
	if pf == nil {
		return types.Portfolio{}, ErrNotFound
	}
	return *pf, nil
}

func (m *Mem) PortfoliosByEvent(_ context.Context, eventID int64) ([]types.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectPortfolios(func(pf *types.Portfolio) bool {
		return pf.EventID == eventID
	}), nil
}

func (m *Mem) PortfoliosByUser(_ context.Context, userID int64) ([]types.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectPortfolios(func(pf *types.Portfolio) bool {
		return pf.UserID == userID
	}), nil
}

func (m *Mem) AdjustPortfolio(_ context.Context, userID, eventID int64, share types.ShareType, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if delta < 0 {
		pf := m.portfolioLocked(userID, eventID, share)
		if pf == nil || pf.Quantity+delta < 0 {
			return fmt.Errorf("user %d %s: %w", userID, share, ErrInsufficientShares)
		}
		pf.Quantity += delta
		return nil
	}
	m.upsertPortfolioLocked(userID, eventID, share, delta)
	return nil
}

func (m *Mem) selectPortfolios(keep func(*types.Portfolio) bool) []types.Portfolio {
	var out []types.Portfolio
	for _, pf := range m.portfolios {
		if keep(pf) {
			out = append(out, *pf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Mem) portfolioLocked(userID, eventID int64, share types.ShareType) *types.Portfolio {
	for _, pf := range m.portfolios {
		if pf.UserID == userID && pf.EventID == eventID && pf.ShareType == share {
			return pf
		}
	}
	return nil
}

func (m *Mem) upsertPortfolioLocked(userID, eventID int64, share types.ShareType, delta int64) {
	if pf := m.portfolioLocked(userID, eventID, share); pf != nil {
		pf.Quantity += delta
		return
	}
	m.nextPortfolio++
	m.portfolios[m.nextPortfolio] = &types.Portfolio{
		ID:        m.nextPortfolio,
		UserID:    userID,
		EventID:   eventID,
		ShareType: share,
		Quantity:  delta,
	}
}
