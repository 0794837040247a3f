package core

import (
	"sync"

	"github.com/netresearch/fleetagent/core/domain"
)

// AttrStore is the atomically-refreshed snapshot of this agent's identity,
// attribute tree ("grains"), and configuration tree ("pillar"), shared
// between the Matcher (via its Get), the Job Dispatcher's targeting check,
// and the Event Multiplexer's pillar_refresh/grains_refresh handlers, which
// are this store's only writers.
type AttrStore struct {
	mu  sync.RWMutex
	ctx domain.MatcherContext
}

// NewAttrStore builds a store seeded with the agent's static identity.
func NewAttrStore(agentID string, addresses []string) *AttrStore {
	return &AttrStore{
		ctx: domain.MatcherContext{
			AgentID:   agentID,
			Addresses: addresses,
		},
	}
}

// Get returns a pointer to a copy of the current snapshot, matching the
// func() *domain.MatcherContext shape NewDispatcher expects.
func (s *AttrStore) Get() *domain.MatcherContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.ctx
	return &cp
}

// AttributeTree returns the current grains map, for grains_refresh's
// change-detection compare-before-swap.
func (s *AttrStore) AttributeTree() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx.AttributeTree
}

// SetAttributeTree replaces the grains map.
func (s *AttrStore) SetAttributeTree(m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx.AttributeTree = m
}

// SetConfigTree replaces the compiled pillar map.
func (s *AttrStore) SetConfigTree(m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx.ConfigTree = m
}
