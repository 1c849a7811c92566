package statestore

import (
	"context"
	"fmt"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/ports"
	"sync"
)

// MemoryStore keeps monitor state in process memory. State is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]domain.StabilityState
}

var _ ports.StabilityStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]domain.StabilityState)}
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (domain.StabilityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[orderID]
	if !ok {
		return domain.StabilityState{}, fmt.Errorf("stability state %q: %w", orderID, domain.ErrNotFound)
	}
	return st, nil
}

func (s *MemoryStore) Put(_ context.Context, state domain.StabilityState) error {
	if state.OrderID == "" {
		return fmt.Errorf("put stability state: empty order id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.OrderID] = state
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, orderID)
	return nil
}

// Update holds the store lock across read, fn and write.
func (s *MemoryStore) Update(_ context.Context, orderID string, fn func(*domain.StabilityState) error) (domain.StabilityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[orderID]
	if !ok {
		return domain.StabilityState{}, fmt.Errorf("stability state %q: %w", orderID, domain.ErrNotFound)
	}
	if err := fn(&st); err != nil {
		return domain.StabilityState{}, err
	}
	st.OrderID = orderID
	s.states[orderID] = st
	return st, nil
}
