// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rbtree implements a comparator-driven red-black tree, the
// balanced search tree backing table entries (keyed by tvalue bytes)
// and page-pool free runs (keyed by run length).
package rbtree

import "github.com/shmtable/shmtable/internal/errs"

type color bool

const (
	red   color = true
	black color = false
)

// Comparator returns <0, 0, >0 as a compares before, equal to, or after b.
type Comparator func(a, b interface{}) int

// Node is one key/value pair stored in the tree.
type Node struct {
	key, value  interface{}
	left, right *Node
	parent      *Node
	color       color
}

// Key returns the node's key.
func (n *Node) Key() interface{} { return n.key }

// Value returns the node's value.
func (n *Node) Value() interface{} { return n.value }

// SetValue replaces the node's value in place, without perturbing tree
// shape.
func (n *Node) SetValue(v interface{}) { n.value = v }

// Tree is a red-black tree ordered by a Comparator.
type Tree struct {
	root *Node
	size int
	cmp  Comparator
}

// New returns an empty Tree ordered by cmp.
func New(cmp Comparator) *Tree {
	return &Tree{cmp: cmp}
}

// Len returns the number of entries in the tree.
func (t *Tree) Len() int { return t.size }

func nodeColor(n *Node) color {
	if n == nil {
		return black
	}
	return n.color
}

// SearchEQ returns the node whose key equals key, or nil.
func (t *Tree) SearchEQ(key interface{}) *Node {
	n := t.root
	for n != nil {
		c := t.cmp(key, n.key)
		switch {
		case c < 0:
			n = n.left
		case c > 0:
			n = n.right
		default:
			return n
		}
	}
	return nil
}

// SearchNext returns the node with the smallest key >= key (the
// in-order successor of the insertion point), or nil if none exists.
func (t *Tree) SearchNext(key interface{}) *Node {
	n := t.root
	var best *Node
	for n != nil {
		c := t.cmp(key, n.key)
		switch {
		case c <= 0:
			best = n
			n = n.left
		default:
			n = n.right
		}
	}
	return best
}

// SearchPrev returns the node with the largest key <= key, or nil.
func (t *Tree) SearchPrev(key interface{}) *Node {
	n := t.root
	var best *Node
	for n != nil {
		c := t.cmp(key, n.key)
		switch {
		case c >= 0:
			best = n
			n = n.right
		default:
			n = n.left
		}
	}
	return best
}

// LeftMost returns the node with the smallest key, or nil if empty.
func (t *Tree) LeftMost() *Node {
	n := t.root
	if n == nil {
		return nil
	}
	for n.left != nil {
		n = n.left
	}
	return n
}

// RightMost returns the node with the largest key, or nil if empty.
func (t *Tree) RightMost() *Node {
	n := t.root
	if n == nil {
		return nil
	}
	for n.right != nil {
		n = n.right
	}
	return n
}

// Successor returns the in-order successor of n, or nil if n is the
// last node.
func (t *Tree) Successor(n *Node) *Node {
	if n.right != nil {
		m := n.right
		for m.left != nil {
			m = m.left
		}
		return m
	}
	p := n.parent
	for p != nil && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (t *Tree) rotateLeft(x *Node) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *Tree) rotateRight(x *Node) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

// Insert adds key/value to the tree. If key already exists: when
// replace is true the existing value is overwritten (set_key_value's
// upsert semantics) and existed is true; when replace is false the tree
// is left untouched and an Existed error is returned (add_key_value's
// strict-insert semantics).
func (t *Tree) Insert(key, value interface{}, replace bool) (existed bool, err error) {
	var parent *Node
	n := t.root
	for n != nil {
		c := t.cmp(key, n.key)
		switch {
		case c < 0:
			parent = n
			n = n.left
		case c > 0:
			parent = n
			n = n.right
		default:
			if !replace {
				return true, errs.New(errs.Existed, "rbtree.insert")
			}
			n.value = value
			return true, nil
		}
	}
	node := &Node{key: key, value: value, parent: parent, color: red}
	if parent == nil {
		t.root = node
	} else if t.cmp(key, parent.key) < 0 {
		parent.left = node
	} else {
		parent.right = node
	}
	t.size++
	t.insertFixup(node)
	return false, nil
}

func (t *Tree) insertFixup(z *Node) {
	for nodeColor(z.parent) == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if nodeColor(y) == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
				continue
			}
			if z == z.parent.right {
				z = z.parent
				t.rotateLeft(z)
			}
			z.parent.color = black
			z.parent.parent.color = red
			t.rotateRight(z.parent.parent)
		} else {
			y := z.parent.parent.left
			if nodeColor(y) == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
				continue
			}
			if z == z.parent.left {
				z = z.parent
				t.rotateRight(z)
			}
			z.parent.color = black
			z.parent.parent.color = red
			t.rotateLeft(z.parent.parent)
		}
	}
	t.root.color = black
}

func (t *Tree) transplant(u, v *Node) {
	switch {
	case u.parent == nil:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

// Delete removes the node with the given key. Returns NotFound if the
// key is absent.
func (t *Tree) Delete(key interface{}) (interface{}, error) {
	z := t.SearchEQ(key)
	if z == nil {
		return nil, errs.New(errs.NotFound, "rbtree.delete")
	}
	val := z.value
	t.deleteNode(z)
	t.size--
	return val, nil
}

func (t *Tree) deleteNode(z *Node) {
	y := z
	yOrigColor := nodeColor(y)
	var x *Node
	var xParent *Node

	switch {
	case z.left == nil:
		x = z.right
		xParent = z.parent
		t.transplant(z, z.right)
	case z.right == nil:
		x = z.left
		xParent = z.parent
		t.transplant(z, z.left)
	default:
		y = z.right
		for y.left != nil {
			y = y.left
		}
		yOrigColor = nodeColor(y)
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}
	if yOrigColor == black {
		t.deleteFixup(x, xParent)
	}
}

func (t *Tree) deleteFixup(x, parent *Node) {
	for x != t.root && nodeColor(x) == black {
		if parent == nil {
			break
		}
		if x == parent.left {
			w := parent.right
			if nodeColor(w) == red {
				w.color = black
				parent.color = red
				t.rotateLeft(parent)
				w = parent.right
			}
			if w == nil {
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(w.left) == black && nodeColor(w.right) == black {
				w.color = red
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(w.right) == black {
				if w.left != nil {
					w.left.color = black
				}
				w.color = red
				t.rotateRight(w)
				w = parent.right
			}
			w.color = parent.color
			parent.color = black
			if w.right != nil {
				w.right.color = black
			}
			t.rotateLeft(parent)
			x = t.root
			parent = nil
		} else {
			w := parent.left
			if nodeColor(w) == red {
				w.color = black
				parent.color = red
				t.rotateRight(parent)
				w = parent.left
			}
			if w == nil {
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(w.right) == black && nodeColor(w.left) == black {
				w.color = red
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(w.left) == black {
				if w.right != nil {
					w.right.color = black
				}
				w.color = red
				t.rotateLeft(w)
				w = parent.left
			}
			w.color = parent.color
			parent.color = black
			if w.left != nil {
				w.left.color = black
			}
			t.rotateRight(parent)
			x = t.root
			parent = nil
		}
	}
	if x != nil {
		x.color = black
	}
}

// InOrder calls fn for every node in ascending key order until fn
// returns false.
func (t *Tree) InOrder(fn func(n *Node) bool) {
	var walk func(n *Node) bool
	walk = func(n *Node) bool {
		if n == nil {
			return true
		}
		if !walk(n.left) {
			return false
		}
		if !fn(n) {
			return false
		}
		return walk(n.right)
	}
	walk(t.root)
}
