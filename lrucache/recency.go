/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

// recencyList is an intrusive doubly linked list over entry handles.
// Head is the most recently used entry, tail is the least recently used one.
type recencyList[V any] struct {
	store *entryStore[V]
	head  handle
	tail  handle
}

func newRecencyList[V any](store *entryStore[V]) *recencyList[V] {
	return &recencyList[V]{store: store, head: nilHandle, tail: nilHandle}
}

func (l *recencyList[V]) pushFront(h handle) {
	e := l.store.get(h)
	e.prev = nilHandle
	e.next = l.head
	if l.head != nilHandle {
		l.store.get(l.head).prev = h
	}
	l.head = h
	if l.tail == nilHandle {
		l.tail = h
	}
}

func (l *recencyList[V]) moveToFront(h handle) {
	if l.head == h {
		return
	}
	l.remove(h)
	l.pushFront(h)
}

func (l *recencyList[V]) remove(h handle) {
	e := l.store.get(h)
	if e.prev != nilHandle {
		l.store.get(e.prev).next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nilHandle {
		l.store.get(e.next).prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nilHandle, nilHandle
}

func (l *recencyList[V]) front() handle {
	return l.head
}

func (l *recencyList[V]) back() handle {
	return l.tail
}

func (l *recencyList[V]) reset() {
	l.head, l.tail = nilHandle, nilHandle
}
