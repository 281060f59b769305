// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ilist implements an intrusive circular doubly linked list,
// used by the collector's five queues (mark, prev-sweep, sweep,
// garbage, remained).
package ilist

import "iter"

// Node is an intrusive list link. Embed it in a struct to make that
// struct a list member; a Node belongs to at most one list at a time.
// Value optionally carries a back-reference to the embedding struct,
// mirroring the standard library's container/list.Element.Value, so a
// consumer popping a *Node off a queue can recover its owner without
// unsafe container-of arithmetic.
type Node struct {
	prev, next *Node
	Value      any
}

// Init initialises n as an empty, self-linked node usable as a list
// head, or resets it to the not-in-any-list state.
func (n *Node) Init() {
	n.prev = n
	n.next = n
}

// IsInited reports whether n has been initialised.
func (n *Node) IsInited() bool {
	return n.prev != nil && n.next != nil
}

// Empty reports whether n (used as a list head) has no elements.
func (n *Node) Empty() bool {
	return n.next == n || n.next == nil
}

// Linked reports whether n is currently spliced into some list (other
// than being its own, uninitialised, head).
func (n *Node) Linked() bool {
	return n.next != nil && n.next != n
}

// InsertLast splices n onto the end of the list headed by head.
func (head *Node) InsertLast(n *Node) {
	prev := head.prev
	n.prev = prev
	n.next = head
	prev.next = n
	head.prev = n
}

// Remove unlinks n from whatever list it is in and resets it to a
// detached, initialised node.
func (n *Node) Remove() {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.Init()
}

// PopFirst removes and returns the first element of the list headed by
// head, or nil if the list is empty.
func (head *Node) PopFirst() *Node {
	if head.Empty() {
		return nil
	}
	n := head.next
	n.Remove()
	return n
}

// Join appends all elements of other onto the end of the list headed by
// head, leaving other empty.
func (head *Node) Join(other *Node) {
	if other.Empty() {
		return
	}
	firstOther := other.next
	lastOther := other.prev
	lastSelf := head.prev

	lastSelf.next = firstOther
	firstOther.prev = lastSelf
	lastOther.next = head
	head.prev = lastOther

	other.Init()
}

// All returns an iterator over the list's elements in order, starting
// from the first and excluding the head itself.
func (head *Node) All() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for n := head.next; n != head && n != nil; n = n.next {
			if !yield(n) {
				return
			}
		}
	}
}

// Len counts the elements in the list headed by head. O(n); intended
// for tests and diagnostics, not hot paths.
func (head *Node) Len() int {
	n := 0
	for range head.All() {
		n++
	}
	return n
}
