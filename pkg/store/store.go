// Package store holds the reactive WidgetData map of a view: the authoritative
// server-pushed data of every widget, keyed by widget id.
//
// Writes only ever happen through Merge, which adds or overwrites keys and
// never removes them. Readers subscribe to the single widget key they render
// so a merge only wakes the bindings it touches.
package store

import (
	"sort"
	"sync"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

type Store struct {
	mu     sync.RWMutex
	sealed bool
	data   wire.WidgetsData
	keys map[string]map[uint64]func()
	all  map[uint64]func(changed []string)
	next uint64
}

func New() *Store {
	return &Store{
		data: make(wire.WidgetsData),
		keys: make(map[string]map[uint64]func()),
		all:  make(map[uint64]func(changed []string)),
	}
}

// Merge applies delta on top of the map: every widget id in delta replaces the
// stored entry, ids absent from delta are untouched. It returns the sorted ids
// it wrote. Subscribers run after the lock is released, so they may read the
// store but must not merge into it from inside the callback. A sealed store
// drops every merge and returns nil.
func (s *Store) Merge(delta wire.WidgetsData) []string {
	if len(delta) == 0 {
		return nil
	}
	changed := make([]string, 0, len(delta))
	var fns []func()

	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return nil
	}
	for id, fields := range delta {
		s.data[id] = fields.Clone()
		changed = append(changed, id)
		for _, fn := range s.keys[id] {
			fns = append(fns, fn)
		}
	}
	alls := make([]func([]string), 0, len(s.all))
	for _, fn := range s.all {
		alls = append(alls, fn)
	}
	s.mu.Unlock()

	sort.Strings(changed)
	for _, fn := range fns {
		fn()
	}
	for _, fn := range alls {
		fn(changed)
	}
	return changed
}

// Seal makes every later Merge a no-op. A merge either completes before Seal
// returns or is dropped whole.
func (s *Store) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// Get returns a copy of the entry for id.
func (s *Store) Get(id string) (wire.Fields, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.data[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// Snapshot copies the whole map.
func (s *Store) Snapshot() wire.WidgetsData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Subscribe registers fn to run after every merge that writes id. The callback
// carries no value: read the current entry with Get so that callbacks racing
// across concurrent merges always observe the latest state.
func (s *Store) Subscribe(id string, fn func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	token := s.next
	if s.keys[id] == nil {
		s.keys[id] = make(map[uint64]func())
	}
	s.keys[id][token] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.keys[id], token)
		if len(s.keys[id]) == 0 {
			delete(s.keys, id)
		}
	}
}

// SubscribeAll registers fn to run after every non-empty merge with the ids it wrote.
func (s *Store) SubscribeAll(fn func(changed []string)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	token := s.next
	s.all[token] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.all, token)
	}
}

// Subscribers reports how many key subscriptions are registered for id.
func (s *Store) Subscribers(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys[id])
}
