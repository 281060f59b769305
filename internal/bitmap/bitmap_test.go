// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitmap

import (
	"testing"

	"github.com/shmtable/shmtable/internal/errs"
)

func TestSetClearGet(t *testing.T) {
	b := New(130)
	if !b.AllCleared() {
		t.Fatal("fresh bitmap should be all cleared")
	}
	for _, i := range []int{0, 1, 63, 64, 65, 129} {
		if err := b.Set(i); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
		if !b.Get(i) {
			t.Fatalf("Get(%d) = false after Set", i)
		}
	}
	if b.AllCleared() {
		t.Fatal("bitmap with bits set reported AllCleared")
	}
	if err := b.Clear(64); err != nil {
		t.Fatalf("Clear(64): %v", err)
	}
	if b.Get(64) {
		t.Fatal("Get(64) = true after Clear")
	}
}

func TestAllSet(t *testing.T) {
	b := New(70)
	for i := 0; i < 70; i++ {
		if err := b.Set(i); err != nil {
			t.Fatal(err)
		}
	}
	if !b.AllSet() {
		t.Fatal("expected AllSet after setting every bit")
	}
	if err := b.Clear(69); err != nil {
		t.Fatal(err)
	}
	if b.AllSet() {
		t.Fatal("AllSet true after clearing a bit")
	}
}

func TestEqual(t *testing.T) {
	a := New(20)
	b := New(20)
	if !a.Equal(b) {
		t.Fatal("two fresh bitmaps should be equal")
	}
	a.Set(5)
	if a.Equal(b) {
		t.Fatal("bitmaps differing by one bit reported equal")
	}
	b.Set(5)
	if !a.Equal(b) {
		t.Fatal("bitmaps with the same bits set should be equal")
	}
}

func TestFindNextBit(t *testing.T) {
	b := New(64)
	idx, err := b.FindNextBit(0, 64, true)
	if err != nil {
		t.Fatal(err)
	}
	if idx != -1 {
		t.Fatalf("FindNextBit on all-zero map = %d, want -1", idx)
	}
	b.Set(40)
	idx, err = b.FindNextBit(0, 64, true)
	if err != nil || idx != 40 {
		t.Fatalf("FindNextBit = (%d, %v), want (40, nil)", idx, err)
	}
	if _, err := b.FindNextBit(10, 10, true); !errs.Is(err, errs.IndexOutOfRange) {
		t.Fatalf("FindNextBit with start==end: got %v, want IndexOutOfRange", err)
	}
}

func TestIndexOutOfRange(t *testing.T) {
	b := New(8)
	if err := b.Set(8); !errs.Is(err, errs.IndexOutOfRange) {
		t.Fatalf("Set(8) on 8-bit map: got %v, want IndexOutOfRange", err)
	}
	if err := b.Set(-1); !errs.Is(err, errs.IndexOutOfRange) {
		t.Fatalf("Set(-1): got %v, want IndexOutOfRange", err)
	}
}
