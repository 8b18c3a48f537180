package book

import (
	"fmt"
	"sync"

	"predix/pkg/types"
)

// OrderStore is the shared in-memory map of live (non-terminal) orders by
// id. It exclusively owns order records while they rest or match; queues
// hold only ids. Reads return copies, and every mutation goes through
// Update, which re-validates the fill invariants.
//
// Callers serialise mutations of resting orders with the enclosing queue
// lock; the store's own mutex only protects the map and record structure.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[int64]*types.Order
}

// NewOrderStore returns an empty order store.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[int64]*types.Order)}
}

// Put inserts or replaces the order record.
func (s *OrderStore) Put(o types.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := o
	s.orders[o.ID] = &cp
}

// Get returns a stable copy of the order.
func (s *OrderStore) Get(id int64) (types.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return types.Order{}, false
	}
	return *o, true
}

// Update applies mutate to the stored record and re-validates the order
// invariants. The mutation is discarded if validation fails.
func (s *OrderStore) Update(id int64, mutate func(*types.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %d not in memory", id)
	}
	cp := *o
	mutate(&cp)
	if err := cp.CheckInvariants(); err != nil {
		return fmt.Errorf("rejected update: %w", err)
	}
	*o = cp
	return nil
}

// Remove deletes the record, reporting whether it was present.
func (s *OrderStore) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orders[id]
	delete(s.orders, id)
	return ok
}

// Len returns the number of live orders held in memory.
func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
