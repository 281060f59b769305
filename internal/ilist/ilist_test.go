// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ilist

import "testing"

type elem struct {
	Node
	v int
}

func TestInsertLastOrder(t *testing.T) {
	var head Node
	head.Init()
	elems := make([]*elem, 3)
	for i := range elems {
		elems[i] = &elem{v: i}
		elems[i].Init()
		head.InsertLast(&elems[i].Node)
	}
	i := 0
	for n := range head.All() {
		found := false
		for _, e := range elems {
			if &e.Node == n {
				if e.v != i {
					t.Fatalf("element %d out of order: got v=%d", i, e.v)
				}
				found = true
			}
		}
		if !found {
			t.Fatalf("node %v not found among inserted elements", n)
		}
		i++
	}
	if i != 3 {
		t.Fatalf("iterated %d elements, want 3", i)
	}
}

func TestRemoveAndEmpty(t *testing.T) {
	var head Node
	head.Init()
	if !head.Empty() {
		t.Fatal("fresh list head should be empty")
	}
	var a, b elem
	a.Init()
	b.Init()
	head.InsertLast(&a.Node)
	head.InsertLast(&b.Node)
	if head.Empty() {
		t.Fatal("list with two elements reported empty")
	}
	a.Remove()
	if head.Len() != 1 {
		t.Fatalf("Len = %d after removing one of two", head.Len())
	}
	if a.Linked() {
		t.Fatal("removed node still reports Linked")
	}
	b.Remove()
	if !head.Empty() {
		t.Fatal("list should be empty after removing both elements")
	}
}

func TestPopFirst(t *testing.T) {
	var head Node
	head.Init()
	if head.PopFirst() != nil {
		t.Fatal("PopFirst on empty list returned non-nil")
	}
	var a, b elem
	a.Init()
	b.Init()
	head.InsertLast(&a.Node)
	head.InsertLast(&b.Node)
	first := head.PopFirst()
	if first != &a.Node {
		t.Fatal("PopFirst did not return the first-inserted node")
	}
	if head.Len() != 1 {
		t.Fatalf("Len = %d after PopFirst, want 1", head.Len())
	}
}

func TestJoin(t *testing.T) {
	var h1, h2 Node
	h1.Init()
	h2.Init()
	var a, b, c elem
	a.Init()
	b.Init()
	c.Init()
	h1.InsertLast(&a.Node)
	h1.InsertLast(&b.Node)
	h2.InsertLast(&c.Node)

	h1.Join(&h2)
	if h1.Len() != 3 {
		t.Fatalf("Len after Join = %d, want 3", h1.Len())
	}
	if !h2.Empty() {
		t.Fatal("source list should be empty after Join")
	}
	last := h1.prev
	if last != &c.Node {
		t.Fatal("joined element should be last in the combined list")
	}
}
