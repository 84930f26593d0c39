package reconcile

import (
	"container/list"
	"sync"
)

// referenceLRU is a bounded in-memory cache of provider references that
// were already applied. It is the hot tier of callback deduplication;
// the payment_callbacks unique index is the durable tier.
type referenceLRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

func newReferenceLRU(capacity int) *referenceLRU {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &referenceLRU{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports whether the reference was seen, refreshing its slot.
func (l *referenceLRU) Contains(ref string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[ref]
	if ok {
		l.order.MoveToFront(el)
	}
	return ok
}

// Add records a reference, evicting the oldest entry at capacity.
func (l *referenceLRU) Add(ref string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[ref]; ok {
		l.order.MoveToFront(el)
		return
	}

	el := l.order.PushFront(ref)
	l.items[ref] = el

	if l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.items, oldest.Value.(string))
		}
	}
}

// Len returns the number of cached references.
func (l *referenceLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
