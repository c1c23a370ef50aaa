// Package gamestate holds the decoded MSDP/GMCP key-value snapshot. The
// protocol layer writes updates as they arrive; scripts read through the
// host API. Values are canonical so nested GMCP payloads survive intact.
package gamestate

import (
	"sync"

	"github.com/bylins/mudscript/value"
)

// State the MSDP/GMCP snapshot store
type State struct {
	mu   sync.RWMutex
	msdp map[string]value.Value
	gmcp map[string]value.Value
}

// New create an empty state
func New() *State {
	return &State{
		msdp: map[string]value.Value{},
		gmcp: map[string]value.Value{},
	}
}

// UpdateMSDP merge one decoded MSDP variable
func (s *State) UpdateMSDP(key string, val value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msdp[key] = val
}

// UpdateGMCP merge one decoded GMCP package
func (s *State) UpdateGMCP(key string, val value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gmcp[key] = val
}

// MSDP one MSDP variable, Null when absent
func (s *State) MSDP(key string) value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if val, has := s.msdp[key]; has {
		return val
	}
	return value.Null()
}

// AllMSDP the whole MSDP snapshot as a map value
func (s *State) AllMSDP() value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(map[string]value.Value, len(s.msdp))
	for key, val := range s.msdp {
		m[key] = val
	}
	return value.NewMap(m)
}

// GMCP one GMCP package, Null when absent
func (s *State) GMCP(key string) value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if val, has := s.gmcp[key]; has {
		return val
	}
	return value.Null()
}
