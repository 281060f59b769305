// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package page

import (
	"testing"

	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/region"
)

func newPool(t *testing.T, pagesPerRegion, regionCount int) *Pool {
	t.Helper()
	regions, err := region.Init(pagesPerRegion, regionCount, true)
	if err != nil {
		t.Fatal(err)
	}
	return New(regions, 4096)
}

func TestAllocPagesBestFit(t *testing.T) {
	p := newPool(t, 16, 1)

	small, err := p.AllocPages(2)
	if err != nil {
		t.Fatal(err)
	}
	mid, err := p.AllocPages(4)
	if err != nil {
		t.Fatal(err)
	}
	if mid <= small {
		t.Fatalf("expected mid run to start after small run: small=%d mid=%d", small, mid)
	}

	// Freeing the smaller run first leaves two free extents: [0,2) and
	// [6,16). A request for 2 pages must best-fit into the exact-size
	// hole rather than carving into the larger tail.
	if err := p.FreePages(small); err != nil {
		t.Fatal(err)
	}
	again, err := p.AllocPages(2)
	if err != nil {
		t.Fatal(err)
	}
	if again != small {
		t.Fatalf("best-fit AllocPages(2) = %d, want the exact-size hole at %d", again, small)
	}
}

func TestAllocPagesOutOfMemory(t *testing.T) {
	p := newPool(t, 4, 1)
	if _, err := p.AllocPages(4); err != nil {
		t.Fatal(err)
	}
	if _, err := p.AllocPages(1); !errs.Is(err, errs.OutOfMemory) {
		t.Fatalf("AllocPages past capacity: got %v, want OutOfMemory", err)
	}
}

func TestFreeCoalescesAcrossAllocations(t *testing.T) {
	p := newPool(t, 8, 1)
	h1, err := p.AllocPages(2)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := p.AllocPages(2)
	if err != nil {
		t.Fatal(err)
	}
	h3, err := p.AllocPages(4)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.FreePages(h1); err != nil {
		t.Fatal(err)
	}
	if err := p.FreePages(h2); err != nil {
		t.Fatal(err)
	}
	if err := p.FreePages(h3); err != nil {
		t.Fatal(err)
	}
	// The whole region should be one free run again, so a full-size
	// request succeeds.
	if _, err := p.AllocPages(8); err != nil {
		t.Fatalf("AllocPages(8) after freeing everything: %v", err)
	}
}

func TestFreeUnallocatedIsStateInvalid(t *testing.T) {
	p := newPool(t, 4, 1)
	if err := p.FreePages(1); !errs.Is(err, errs.StateInvalid) {
		t.Fatalf("freeing a non-run-head page: got %v, want StateInvalid", err)
	}
}

func TestAllocPagesRejectsZero(t *testing.T) {
	p := newPool(t, 4, 1)
	if _, err := p.AllocPages(0); !errs.Is(err, errs.ArgInvalid) {
		t.Fatalf("AllocPages(0): got %v, want ArgInvalid", err)
	}
}

func TestPageSize(t *testing.T) {
	p := newPool(t, 4, 1)
	if p.PageSize() != 4096 {
		t.Fatalf("PageSize() = %d, want 4096", p.PageSize())
	}
}
