package clockstore

import "sync"

// Memory is an in-process Backend. Every MemoryStore opened on the same
// namespace shares one map, which makes it the test double for several
// browser tabs sharing local storage.
type Memory struct {
	mu     sync.Mutex
	spaces map[string]*memorySpace
}

type memorySpace struct {
	data map[string]string
	subs map[*memorySub]struct{}
}

type memorySub struct {
	owner *MemoryStore
	key   string
	d     *dispatcher
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{spaces: make(map[string]*memorySpace)}
}

// Open returns a new view on namespace.
func (m *Memory) Open(namespace string) Store {
	return m.OpenView(namespace)
}

// OpenView is Open with the concrete return type.
func (m *Memory) OpenView(namespace string) *MemoryStore {
	return &MemoryStore{backend: m, namespace: namespace}
}

func (m *Memory) space(namespace string) *memorySpace {
	sp, ok := m.spaces[namespace]
	if !ok {
		sp = &memorySpace{
			data: make(map[string]string),
			subs: make(map[*memorySub]struct{}),
		}
		m.spaces[namespace] = sp
	}
	return sp
}

// MemoryStore is one execution context's view of a Memory namespace.
type MemoryStore struct {
	backend   *Memory
	namespace string

	// Disabled simulates storage being unavailable: reads report absent
	// and writes are dropped.
	Disabled bool
}

var _ Store = (*MemoryStore)(nil)

// Get returns the value of key and whether it is present.
func (s *MemoryStore) Get(key string) (string, bool) {
	if s.Disabled {
		return "", false
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	v, ok := s.backend.space(s.namespace).data[key]
	return v, ok
}

// Set stores value under key and notifies other views if it changed.
func (s *MemoryStore) Set(key, value string) {
	if s.Disabled {
		return
	}
	s.backend.mu.Lock()
	sp := s.backend.space(s.namespace)
	if old, ok := sp.data[key]; ok && old == value {
		s.backend.mu.Unlock()
		return
	}
	sp.data[key] = value
	targets := s.targets(sp, key)
	s.backend.mu.Unlock()

	for _, d := range targets {
		d.push(Change{Key: key, Value: value})
	}
}

// Delete removes key and notifies other views if it was present.
func (s *MemoryStore) Delete(key string) {
	if s.Disabled {
		return
	}
	s.backend.mu.Lock()
	sp := s.backend.space(s.namespace)
	if _, ok := sp.data[key]; !ok {
		s.backend.mu.Unlock()
		return
	}
	delete(sp.data, key)
	targets := s.targets(sp, key)
	s.backend.mu.Unlock()

	for _, d := range targets {
		d.push(Change{Key: key, Deleted: true})
	}
}

// targets must be called with the backend lock held.
func (s *MemoryStore) targets(sp *memorySpace, key string) []*dispatcher {
	var out []*dispatcher
	for sub := range sp.subs {
		if sub.owner != s && sub.key == key {
			out = append(out, sub.d)
		}
	}
	return out
}

// Subscribe calls handler for every change of key made by another view.
// The returned function removes the subscription.
func (s *MemoryStore) Subscribe(key string, handler func(Change)) func() {
	sub := &memorySub{owner: s, key: key, d: newDispatcher(handler)}

	s.backend.mu.Lock()
	s.backend.space(s.namespace).subs[sub] = struct{}{}
	s.backend.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.backend.mu.Lock()
			delete(s.backend.space(s.namespace).subs, sub)
			s.backend.mu.Unlock()
			sub.d.stop()
		})
	}
}

// Close drops every subscription of this view.
func (s *MemoryStore) Close() error {
	s.backend.mu.Lock()
	sp := s.backend.space(s.namespace)
	var mine []*memorySub
	for sub := range sp.subs {
		if sub.owner == s {
			mine = append(mine, sub)
			delete(sp.subs, sub)
		}
	}
	s.backend.mu.Unlock()

	for _, sub := range mine {
		sub.d.stop()
	}
	return nil
}
