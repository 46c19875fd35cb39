package utils

import (
	"container/list"
	"sync"
)

type lruEntry[K comparable, V any] struct {
	key   K
	ready chan struct{}
	value V
	err   error
}

// LRU is a bounded map whose entries are constructed and destructed
// asynchronously. Lookups of a key share one construction; evicting the least
// recently used entry triggers its destruction in the background. Construction
// of a key never starts while a previous destruction of the same key is still
// running, so a destructor may safely tear down resources its constructor
// recreates.
type LRU[K comparable, V any] struct {
	mu sync.Mutex

	capacity  int
	construct func(K) (V, error)
	destruct  func(K, V)

	order        *list.List // front is the least recently used
	cache        map[K]*list.Element
	destructions map[K]chan struct{}
}

func NewLRU[K comparable, V any](capacity int, construct func(K) (V, error), destruct func(K, V)) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}

	return &LRU[K, V]{
		capacity:     capacity,
		construct:    construct,
		destruct:     destruct,
		order:        list.New(),
		cache:        map[K]*list.Element{},
		destructions: map[K]chan struct{}{},
	}
}

// Get returns the value of a key, constructing it on first use and marking it
// as most recently used. Concurrent calls for the same key share the same
// construction and its outcome.
func (l *LRU[K, V]) Get(key K) (V, error) {
	l.mu.Lock()

	if element, ok := l.cache[key]; ok {
		l.order.MoveToBack(element)
		entry := element.Value.(*lruEntry[K, V])
		l.mu.Unlock()

		<-entry.ready
		return entry.value, entry.err
	}

	entry := &lruEntry[K, V]{key: key, ready: make(chan struct{})}
	element := l.order.PushBack(entry)
	l.cache[key] = element

	// an earlier destruction of the same key must finish first
	pending := l.destructions[key]

	var evictKey K
	evict := false
	if l.order.Len() > l.capacity {
		oldest := l.order.Front().Value.(*lruEntry[K, V])
		evictKey, evict = oldest.key, true
	}

	l.mu.Unlock()

	if evict {
		go l.Delete(evictKey)
	}

	go func() {
		if pending != nil {
			<-pending
		}

		value, err := l.construct(key)

		l.mu.Lock()
		entry.value, entry.err = value, err
		if err != nil {
			// failed entries are not cached, unless already replaced
			if current, ok := l.cache[key]; ok && current == element {
				l.order.Remove(element)
				delete(l.cache, key)
			}
		}
		l.mu.Unlock()

		close(entry.ready)
	}()

	<-entry.ready
	return entry.value, entry.err
}

// Delete removes a key and runs its destructor, waiting for completion. When
// the key is absent it still waits for any destruction already in flight.
func (l *LRU[K, V]) Delete(key K) {
	l.mu.Lock()

	element, ok := l.cache[key]
	if !ok {
		pending := l.destructions[key]
		l.mu.Unlock()

		if pending != nil {
			<-pending
		}
		return
	}

	entry := element.Value.(*lruEntry[K, V])
	l.order.Remove(element)
	delete(l.cache, key)

	done := make(chan struct{})
	l.destructions[key] = done

	l.mu.Unlock()

	// the value must exist before it can be destructed
	<-entry.ready
	if entry.err == nil {
		l.destruct(key, entry.value)
	}

	l.mu.Lock()
	if l.destructions[key] == done {
		delete(l.destructions, key)
	}
	l.mu.Unlock()

	close(done)
}

// Len reports how many entries are cached, including ones still constructing.
func (l *LRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.order.Len()
}

// Values returns every fully constructed value, most recently used last.
func (l *LRU[K, V]) Values() []V {
	l.mu.Lock()
	entries := make([]*lruEntry[K, V], 0, l.order.Len())
	for element := l.order.Front(); element != nil; element = element.Next() {
		entries = append(entries, element.Value.(*lruEntry[K, V]))
	}
	l.mu.Unlock()

	values := []V{}
	for _, entry := range entries {
		select {
		case <-entry.ready:
			if entry.err == nil {
				values = append(values, entry.value)
			}
		default:
		}
	}
	return values
}

// Flush deletes every entry and waits for all destructions to finish.
func (l *LRU[K, V]) Flush() {
	for {
		l.mu.Lock()
		if l.order.Len() == 0 {
			l.mu.Unlock()
			return
		}
		key := l.order.Front().Value.(*lruEntry[K, V]).key
		l.mu.Unlock()

		l.Delete(key)
	}
}
