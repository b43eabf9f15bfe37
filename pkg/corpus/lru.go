// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"container/list"
)

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// lru is a bounded cache keeping recently used test case data resident.
// A pinned key is never evicted, the scheduler pins its current pick.
// Not thread-safe, the corpus mutex guards it.
type lru[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List
	pinned   map[K]bool
}

func newLRU[K comparable, V any](capacity int) *lru[K, V] {
	return &lru[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		pinned:   make(map[K]bool),
	}
}

func (l *lru[K, V]) get(key K) (V, bool) {
	if elem, ok := l.items[key]; ok {
		l.order.MoveToFront(elem)
		return elem.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

func (l *lru[K, V]) put(key K, value V) {
	if elem, ok := l.items[key]; ok {
		l.order.MoveToFront(elem)
		elem.Value.(*lruEntry[K, V]).value = value
		return
	}
	elem := l.order.PushFront(&lruEntry[K, V]{key: key, value: value})
	l.items[key] = elem
	for l.order.Len() > l.capacity {
		if !l.evictOldest() {
			break
		}
	}
}

// evictOldest removes the least recently used unpinned entry.
func (l *lru[K, V]) evictOldest() bool {
	for elem := l.order.Back(); elem != nil; elem = elem.Prev() {
		key := elem.Value.(*lruEntry[K, V]).key
		if l.pinned[key] {
			continue
		}
		l.order.Remove(elem)
		delete(l.items, key)
		return true
	}
	return false
}

func (l *lru[K, V]) pin(key K) {
	l.pinned[key] = true
}

func (l *lru[K, V]) unpin(key K) {
	delete(l.pinned, key)
}

func (l *lru[K, V]) len() int {
	return len(l.items)
}
