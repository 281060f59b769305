// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rbtree

import (
	"math/rand"
	"testing"

	"github.com/shmtable/shmtable/internal/errs"
)

func intCmp(a, b interface{}) int {
	return a.(int) - b.(int)
}

// checkInvariants walks the tree verifying binary-search order, the
// no-red-red-edge rule, and equal black height on every root-to-leaf
// path. It calls t.Fatal on the first violation.
func checkInvariants(t *testing.T, tr *Tree) {
	t.Helper()
	if tr.root != nil && tr.root.color != black {
		t.Fatal("root is not black")
	}
	var walk func(n *Node, lo, hi *int) int
	walk = func(n *Node, lo, hi *int) int {
		if n == nil {
			return 1
		}
		k := n.key.(int)
		if lo != nil && k <= *lo {
			t.Fatalf("key %d violates lower bound %d", k, *lo)
		}
		if hi != nil && k >= *hi {
			t.Fatalf("key %d violates upper bound %d", k, *hi)
		}
		if n.color == red {
			if nodeColor(n.left) == red || nodeColor(n.right) == red {
				t.Fatalf("red node %d has a red child", k)
			}
		}
		lh := walk(n.left, lo, &k)
		rh := walk(n.right, &k, hi)
		if lh != rh {
			t.Fatalf("unequal black height at node %d: left=%d right=%d", k, lh, rh)
		}
		if n.color == black {
			return lh + 1
		}
		return lh
	}
	walk(tr.root, nil, nil)
}

func TestInsertSearchDelete(t *testing.T) {
	tr := New(intCmp)
	rng := rand.New(rand.NewSource(1))
	present := map[int]bool{}
	for i := 0; i < 2000; i++ {
		k := rng.Intn(500)
		if rng.Intn(2) == 0 {
			existed, err := tr.Insert(k, k*10, true)
			if err != nil {
				t.Fatalf("Insert(%d): %v", k, err)
			}
			if existed != present[k] {
				t.Fatalf("Insert(%d) existed=%v, want %v", k, existed, present[k])
			}
			present[k] = true
		} else {
			_, err := tr.Delete(k)
			if present[k] {
				if err != nil {
					t.Fatalf("Delete(%d): %v", k, err)
				}
				delete(present, k)
			} else if !errs.Is(err, errs.NotFound) {
				t.Fatalf("Delete(%d) of absent key: got %v, want NotFound", k, err)
			}
		}
		checkInvariants(t, tr)
	}
	if tr.Len() != len(present) {
		t.Fatalf("Len() = %d, want %d", tr.Len(), len(present))
	}
	for k := range present {
		n := tr.SearchEQ(k)
		if n == nil || n.Value().(int) != k*10 {
			t.Fatalf("SearchEQ(%d) = %v, want %d", k, n, k*10)
		}
	}
}

func TestInsertNoReplaceRejectsDuplicate(t *testing.T) {
	tr := New(intCmp)
	if _, err := tr.Insert(1, "a", false); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Insert(1, "b", false); !errs.Is(err, errs.Existed) {
		t.Fatalf("duplicate insert with replace=false: got %v, want Existed", err)
	}
	if v := tr.SearchEQ(1).Value(); v != "a" {
		t.Fatalf("value changed after rejected duplicate insert: %v", v)
	}
}

func TestSearchNextPrevLeftRight(t *testing.T) {
	tr := New(intCmp)
	for _, v := range []int{10, 20, 30, 40} {
		tr.Insert(v, v, true)
	}
	if n := tr.SearchNext(25); n == nil || n.Key().(int) != 30 {
		t.Fatalf("SearchNext(25) = %v, want 30", n)
	}
	if n := tr.SearchNext(20); n == nil || n.Key().(int) != 20 {
		t.Fatalf("SearchNext(20) = %v, want 20", n)
	}
	if n := tr.SearchPrev(25); n == nil || n.Key().(int) != 20 {
		t.Fatalf("SearchPrev(25) = %v, want 20", n)
	}
	if n := tr.LeftMost(); n.Key().(int) != 10 {
		t.Fatalf("LeftMost = %v, want 10", n.Key())
	}
	if n := tr.RightMost(); n.Key().(int) != 40 {
		t.Fatalf("RightMost = %v, want 40", n.Key())
	}
}

func TestInOrderAscending(t *testing.T) {
	tr := New(intCmp)
	vals := []int{5, 3, 8, 1, 4, 7, 9}
	for _, v := range vals {
		tr.Insert(v, v, true)
	}
	var got []int
	tr.InOrder(func(n *Node) bool {
		got = append(got, n.Key().(int))
		return true
	})
	want := []int{1, 3, 4, 5, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("InOrder produced %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("InOrder produced %v, want %v", got, want)
		}
	}
}
