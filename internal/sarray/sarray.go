// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sarray implements a sorted, dynamically growing array with
// binary-search variants, used by the garbage collector for its root
// set and by a handful of smaller index structures.
package sarray

import (
	"sort"

	"github.com/shmtable/shmtable/internal/errs"
)

// minStep is the minimum amount of slice growth performed on each
// reallocation, so repeated single-element appends don't thrash.
const minStep = 64

// Comparator returns <0, 0, >0 as a compares before, equal to, or after b.
type Comparator func(a, b interface{}) int

// Array is a sorted dynamic array of comparable elements.
//
// If Cap is non-zero the array refuses to grow past that many elements
// and Append/InsertAt return errs.OutOfMemory instead, modelling a
// caller-supplied fixed-capacity root set.
type Array struct {
	items []interface{}
	cmp   Comparator
	// Cap, if non-zero, bounds the number of elements the array will
	// ever hold.
	Cap int
}

// New returns an empty Array ordered by cmp.
func New(cmp Comparator) *Array {
	return &Array{cmp: cmp}
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.items) }

// At returns the element at index i.
func (a *Array) At(i int) interface{} { return a.items[i] }

func (a *Array) grow(extra int) error {
	if a.Cap > 0 && len(a.items)+extra > a.Cap {
		return errs.New(errs.OutOfMemory, "sarray.grow")
	}
	need := len(a.items) + extra
	if need <= cap(a.items) {
		return nil
	}
	newCap := cap(a.items) * 2
	if newCap < need {
		newCap = need
	}
	if newCap-cap(a.items) < minStep {
		newCap = cap(a.items) + minStep
	}
	if a.Cap > 0 && newCap > a.Cap {
		newCap = a.Cap
	}
	grown := make([]interface{}, len(a.items), newCap)
	copy(grown, a.items)
	a.items = grown
	return nil
}

// Append inserts x at its sorted position.
func (a *Array) Append(x interface{}) error {
	i := a.BSearchGE(x)
	return a.InsertAt(i, x)
}

// InsertAt inserts x at index i, shifting later elements right. The
// caller is responsible for maintaining sort order; Append should be
// preferred unless the caller already knows the index.
func (a *Array) InsertAt(i int, x interface{}) error {
	if err := a.grow(1); err != nil {
		return err
	}
	a.items = append(a.items, nil)
	copy(a.items[i+1:], a.items[i:])
	a.items[i] = x
	return nil
}

// RemoveAt removes the element at index i.
func (a *Array) RemoveAt(i int) error {
	if i < 0 || i >= len(a.items) {
		return errs.New(errs.IndexOutOfRange, "sarray.removeAt")
	}
	copy(a.items[i:], a.items[i+1:])
	a.items[len(a.items)-1] = nil
	a.items = a.items[:len(a.items)-1]
	return nil
}

// Sort re-sorts the array using the comparator. Needed only if the
// array's elements were mutated in a way that changed their relative
// order without going through InsertAt.
func (a *Array) Sort() {
	sort.Slice(a.items, func(i, j int) bool {
		return a.cmp(a.items[i], a.items[j]) < 0
	})
}

// BSearchLeft returns the index of the left-most element equal to x, or
// the insertion point if no element equals x.
func (a *Array) BSearchLeft(x interface{}) int {
	lo, hi := 0, len(a.items)
	for lo < hi {
		mid := (lo + hi) / 2
		if a.cmp(a.items[mid], x) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// BSearchRight returns one past the index of the right-most element
// equal to x, or the insertion point if no element equals x.
func (a *Array) BSearchRight(x interface{}) int {
	lo, hi := 0, len(a.items)
	for lo < hi {
		mid := (lo + hi) / 2
		if a.cmp(a.items[mid], x) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// BSearchGE returns the index of the left-most element >= x.
func (a *Array) BSearchGE(x interface{}) int {
	return a.BSearchLeft(x)
}

// BSearchLE returns the index of the right-most element <= x, or -1 if
// none.
func (a *Array) BSearchLE(x interface{}) int {
	i := a.BSearchRight(x)
	return i - 1
}

// Find returns the index of an element equal to x and true, or
// (0, false) if no such element exists.
func (a *Array) Find(x interface{}) (int, bool) {
	i := a.BSearchLeft(x)
	if i < len(a.items) && a.cmp(a.items[i], x) == 0 {
		return i, true
	}
	return 0, false
}
