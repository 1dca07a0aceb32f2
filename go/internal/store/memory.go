package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Subscribers are notified synchronously after
// the write lock is released, in write order per Update call.
type Memory struct {
	mu     sync.RWMutex
	leaves map[string][]byte

	subsMu sync.RWMutex
	subs   map[int]subscription
	nextID int
}

type subscription struct {
	prefix string
	fn     func(Change)
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		leaves: make(map[string][]byte),
		subs:   make(map[int]subscription),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.leaves[path]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte)
	for path, v := range m.leaves {
		if Matches(path, prefix) {
			out[path] = clone(v)
		}
	}
	return out, nil
}

func (m *Memory) Update(ctx context.Context, writes map[string][]byte, guards ...Guard) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	for _, g := range guards {
		current, ok := m.leaves[g.Path]
		if g.Expect == nil {
			if ok {
				m.mu.Unlock()
				return false, nil
			}
			continue
		}
		if !ok || !SameValue(current, g.Expect) {
			m.mu.Unlock()
			return false, nil
		}
	}

	changes := make([]Change, 0, len(writes))
	for path, v := range writes {
		if v == nil {
			delete(m.leaves, path)
		} else {
			m.leaves[path] = clone(v)
		}
		changes = append(changes, Change{Path: path, Value: clone(v)})
	}
	m.mu.Unlock()

	m.notify(changes)
	return true, nil
}

func (m *Memory) Subscribe(ctx context.Context, prefix string, fn func(Change)) (func(), error) {
	m.subsMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = subscription{prefix: prefix, fn: fn}
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, id)
			m.subsMu.Unlock()
		})
	}, nil
}

func (m *Memory) notify(changes []Change) {
	m.subsMu.RLock()
	targets := make([]subscription, 0, len(m.subs))
	for _, s := range m.subs {
		targets = append(targets, s)
	}
	m.subsMu.RUnlock()

	for _, c := range changes {
		for _, s := range targets {
			if Matches(c.Path, s.prefix) {
				s.fn(c)
			}
		}
	}
}

func clone(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
