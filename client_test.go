// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package shmtable

import (
	"testing"

	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/library"
)

func newTestClient(t *testing.T) (*library.LibraryState, *Client) {
	t.Helper()
	lib, ps, err := library.Init(library.Config{
		ArenaName:      "clienttest",
		PageSize:       256,
		PagesPerRegion: 4,
		RegionCount:    4,
		MinShift:       3,
		MaxShift:       7,
		GCTargetUsec:   1000,
		AliveDir:       t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { lib.Destroy() })
	return lib, Open(ps)
}

func TestAddGetRoundTrip(t *testing.T) {
	_, c := newTestClient(t)
	root := c.Root()

	key := NewString("name")
	val := NewString("table-store")
	if err := c.Add(root, key, val); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(root, key)
	if err != nil {
		t.Fatal(err)
	}
	if !equalValue(got, val) {
		t.Fatalf("Get() = %v, want %v", got, val)
	}
}

func TestNewTableIsPinnableAndIterable(t *testing.T) {
	_, c := newTestClient(t)
	root := c.Root()

	child, err := c.New()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(root, NewString("child"), child); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(child, NewInteger(1), NewString("one")); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(child, NewInteger(2), NewString("two")); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(root, NewString("child"))
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	it, err := c.IterInit(got, NewInteger(0), SideLeftEQ)
	if err != nil {
		t.Fatal(err)
	}
	for {
		_, _, err := it.Next()
		if errs.Is(err, errs.NotFound) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("iterated %d entries, want 2", count)
	}
	if err := it.FreeIter(); err != nil {
		t.Fatal(err)
	}
	if err := c.Free(got); err != nil {
		t.Fatal(err)
	}
}

func TestForeachViaClient(t *testing.T) {
	_, c := newTestClient(t)
	root := c.Root()
	for i := int64(0); i < 5; i++ {
		if err := c.Add(root, NewInteger(i), NewInteger(i*i)); err != nil {
			t.Fatal(err)
		}
	}
	sum := int64(0)
	err := c.Foreach(root, NewInteger(0), SideLeftEQ, func(k, v Value) error {
		n, _ := v.AsInteger()
		sum += n
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum != 0+1+4+9+16 {
		t.Fatalf("Foreach sum = %d, want 30", sum)
	}
}

func TestRemoveAllEmptiesTable(t *testing.T) {
	_, c := newTestClient(t)
	root := c.Root()
	for i := int64(0); i < 5; i++ {
		if err := c.Add(root, NewInteger(i), NewInteger(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.RemoveAll(root); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(root, NewInteger(0)); !errs.Is(err, errs.NotFound) {
		t.Fatalf("Get() after RemoveAll: got %v, want NotFound", err)
	}
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	_, c := newTestClient(t)
	root := c.Root()
	if _, err := c.Get(root, NewString("missing")); !errs.Is(err, errs.NotFound) {
		t.Fatalf("Get() of a missing key: got %v, want NotFound", err)
	}
}

func TestRefCountTracksPinsAcrossGetAndFree(t *testing.T) {
	_, c := newTestClient(t)
	root := c.Root()

	child, err := c.New()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(root, NewString("child"), child); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(root, NewString("child"))
	if err != nil {
		t.Fatal(err)
	}
	pc, total, err := c.RefCount(got)
	if err != nil {
		t.Fatal(err)
	}
	if pc != 1 || total != 1 {
		t.Fatalf("RefCount() after one Get = (%d, %d), want (1, 1)", pc, total)
	}

	got2, err := c.Get(root, NewString("child"))
	if err != nil {
		t.Fatal(err)
	}
	if pc, total, err := c.RefCount(got2); err != nil || pc != 2 || total != 2 {
		t.Fatalf("RefCount() after two Gets = (%d, %d, %v), want (2, 2, nil)", pc, total, err)
	}

	if err := c.Free(got); err != nil {
		t.Fatal(err)
	}
	if pc, total, err := c.RefCount(got2); err != nil || pc != 1 || total != 1 {
		t.Fatalf("RefCount() after one Free = (%d, %d, %v), want (1, 1, nil)", pc, total, err)
	}

	if err := c.Free(got2); err != nil {
		t.Fatal(err)
	}
	if pc, total, err := c.RefCount(got2); err != nil || pc != 0 || total != 0 {
		t.Fatalf("RefCount() after draining all pins = (%d, %d, %v), want (0, 0, nil)", pc, total, err)
	}
}

func equalValue(a, b Value) bool {
	if a.Tag != b.Tag || len(a.Bytes) != len(b.Bytes) {
		return false
	}
	for i := range a.Bytes {
		if a.Bytes[i] != b.Bytes[i] {
			return false
		}
	}
	return true
}
