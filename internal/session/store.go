// Package session loads companies into memory and answers questions over
// their filings with retrieval, generation and verification.
package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/finrag/internal/document"
	"github.com/kalambet/finrag/internal/knowledge"
	"github.com/kalambet/finrag/internal/retrieval"
)

// ErrNotLoaded is returned when a company has no resident state.
var ErrNotLoaded = errors.New("company not loaded")

// Key returns the session key for a company, "MARKET::TICKER".
func Key(ticker, market string) string {
	return strings.ToUpper(market) + "::" + strings.ToUpper(ticker)
}

// State is everything resident for one company. A State is fully built
// before it is published and is not mutated afterwards.
type State struct {
	Key      string
	Ticker   string
	Market   string
	Filing   document.Filing
	Report   document.Report
	Index    *retrieval.Index
	Chunks   []retrieval.Chunk
	Graph    *knowledge.Graph
	Degraded bool
	LoadedAt time.Time
}

// Store holds published session states by key.
type Store struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{states: make(map[string]*State)}
}

// Get returns the state for key.
func (s *Store) Get(key string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	return st, ok
}

// Put publishes st, replacing any previous state for the same key.
func (s *Store) Put(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Key] = st
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[key]
	delete(s.states, key)
	return ok
}

// Clear removes every state and returns how many there were.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.states)
	s.states = make(map[string]*State)
	return n
}

// Keys returns the resident keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
