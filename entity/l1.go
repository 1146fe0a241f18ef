package entity

import (
	"container/list"
	"sync"
)

// L1 is a bounded, in-process, thread-safe map keyed by uuid with a
// size-bounded-with-recency eviction policy: a sync.Mutex-guarded map plus
// an LRU list that evicts the least recently used entry once maxSize is
// exceeded.
type L1 struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

type l1Node struct {
	key   string
	value *Entity
}

// NewL1 creates an L1 cache bounded to maxSize entries. maxSize <= 0 means
// unbounded.
func NewL1(maxSize int) *L1 {
	return &L1{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the cached entity for uuid, if present, and marks it as
// recently used.
func (l *L1) Get(uuid string) (*Entity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[uuid]
	if !ok {
		return nil, false
	}
	l.order.MoveToFront(el)
	return el.Value.(*l1Node).value.Clone(), true
}

// Put inserts or replaces the entity, evicting the least-recently-used
// entry if the cache is at capacity.
func (l *L1) Put(e *Entity) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[e.UUID]; ok {
		el.Value.(*l1Node).value = e.Clone()
		l.order.MoveToFront(el)
		return
	}

	el := l.order.PushFront(&l1Node{key: e.UUID, value: e.Clone()})
	l.items[e.UUID] = el

	if l.maxSize > 0 {
		for l.order.Len() > l.maxSize {
			oldest := l.order.Back()
			if oldest == nil {
				break
			}
			l.order.Remove(oldest)
			delete(l.items, oldest.Value.(*l1Node).key)
		}
	}
}

// Delete removes an entity from L1.
func (l *L1) Delete(uuid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[uuid]; ok {
		l.order.Remove(el)
		delete(l.items, uuid)
	}
}

// Len returns the number of cached entities.
func (l *L1) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// Snapshot returns a copy of every entity currently in L1, for use by the
// write-behind persistence job.
func (l *L1) Snapshot() []*Entity {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Entity, 0, l.order.Len())
	for el := l.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*l1Node).value.Clone())
	}
	return out
}
