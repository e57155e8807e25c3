// Package inmem implements an in-memory resume slot for tests.
package inmem

import (
	"context"
	"sync"
)

// InMem is an in-memory resume slot store.
type InMem struct {
	mu      sync.Mutex
	request []byte
	hasReq  bool
	armed   bool
}

// New creates an empty in-memory slot.
func New() *InMem {
	return &InMem{}
}

func (s *InMem) SaveRequest(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.request = append([]byte(nil), data...)
	s.hasReq = true
	return nil
}

func (s *InMem) LoadRequest(_ context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasReq {
		return nil, false, nil
	}
	return append([]byte(nil), s.request...), true, nil
}

func (s *InMem) DeleteRequest(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.request = nil
	s.hasReq = false
	return nil
}

func (s *InMem) SetArmed(_ context.Context, armed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = armed
	return nil
}

func (s *InMem) Armed(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed, nil
}
