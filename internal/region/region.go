// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package region implements the bottom of the allocator stack: it
// partitions a page-index space into fixed-size regions of fixed-size
// pages (bookkeeping only; it holds no memory buffer), indexes each
// region's free pages with a bitmap,
// and serves first-fit contiguous-run allocation within a single
// region. The page pool (internal/page) builds best-fit run splitting
// and cross-region bookkeeping on top of this.
package region

import (
	"github.com/shmtable/shmtable/internal/bitmap"
	"github.com/shmtable/shmtable/internal/errs"
)

// pageState records what a page currently holds.
type pageState uint8

const (
	statePageFree pageState = iota
	statePageRunHead
	statePageRunBody
)

// region is one fixed-size slice of pagesPerRegion pages.
type region struct {
	free   *bitmap.Bitmap // bit set => page is free
	state  []pageState
	length []int // valid only at a run-head index: the run's length
}

func newRegion(pagesPerRegion int) *region {
	r := &region{
		free:   bitmap.New(pagesPerRegion),
		state:  make([]pageState, pagesPerRegion),
		length: make([]int, pagesPerRegion),
	}
	for i := 0; i < pagesPerRegion; i++ {
		r.free.Set(i)
	}
	return r
}

// findFreeRun returns the first offset within the region (first-fit)
// holding at least n consecutive free pages, or -1.
func (r *region) findFreeRun(n int) int {
	total := r.free.Len()
	i := 0
	for i < total {
		start, err := r.free.FindNextBit(i, total, true)
		if err != nil || start == -1 {
			return -1
		}
		j := start
		for j < total && r.free.Get(j) {
			j++
		}
		if j-start >= n {
			return start
		}
		i = j
	}
	return -1
}

func (r *region) allocAt(start, n int) {
	r.state[start] = statePageRunHead
	r.length[start] = n
	r.free.Clear(start)
	for i := start + 1; i < start+n; i++ {
		r.state[i] = statePageRunBody
		r.free.Clear(i)
	}
}

// canAlloc reports whether every page in [start, start+n) is free.
func (r *region) canAlloc(start, n int) bool {
	for i := start; i < start+n; i++ {
		if !r.free.Get(i) {
			return false
		}
	}
	return true
}

// freeAt releases the run headed at local index start. Coalescing with
// neighbouring free runs needs no bookkeeping of its own: the bitmap
// only ever records free/not-free per page, so a subsequent
// findFreeRun naturally sees the newly-freed pages as part of one
// larger contiguous free extent together with any free pages already
// adjacent to them.
func (r *region) freeAt(start int) (int, error) {
	if r.state[start] != statePageRunHead {
		return 0, errs.New(errs.StateInvalid, "region.free")
	}
	n := r.length[start]
	for i := start; i < start+n; i++ {
		r.state[i] = statePageFree
		r.length[i] = 0
		r.free.Set(i)
	}
	return n, nil
}

// Allocator partitions one contiguous page-index space into regionCount
// regions of pagesPerRegion pages each.
type Allocator struct {
	regions        []*region
	pagesPerRegion int
}

// Init partitions the address space into regionCount regions of
// pagesPerRegion pages each. zeroed indicates the caller's backing
// storage is already zero-filled (new, never-reused shared memory);
// page contents are not managed here, only bookkeeping, so zeroed is
// currently unused — every region starts with all pages free
// regardless.
func Init(pagesPerRegion, regionCount int, zeroed bool) (*Allocator, error) {
	if pagesPerRegion <= 0 || regionCount <= 0 {
		return nil, errs.New(errs.ArgInvalid, "region.init")
	}
	a := &Allocator{pagesPerRegion: pagesPerRegion}
	for i := 0; i < regionCount; i++ {
		a.regions = append(a.regions, newRegion(pagesPerRegion))
	}
	return a, nil
}

// PagesPerRegion returns the configured region size in pages.
func (a *Allocator) PagesPerRegion() int { return a.pagesPerRegion }

// RegionCount returns the number of regions.
func (a *Allocator) RegionCount() int { return len(a.regions) }

// AllocPages finds a free run of n contiguous pages within a single
// region (first-fit over regions) and returns its global page index.
func (a *Allocator) AllocPages(n int) (int, error) {
	if n <= 0 || n > a.pagesPerRegion {
		return 0, errs.New(errs.ArgInvalid, "region.allocPages")
	}
	for ri, r := range a.regions {
		start := r.findFreeRun(n)
		if start == -1 {
			continue
		}
		r.allocAt(start, n)
		return ri*a.pagesPerRegion + start, nil
	}
	return 0, errs.New(errs.OutOfMemory, "region.allocPages")
}

// AllocAt marks the exact range [globalStart, globalStart+n) allocated
// as a single run, without searching for it — used by the page pool
// when it has already chosen a specific free run (e.g. from its own
// best-fit index) and only needs the region bitmap updated to match.
// Returns StateInvalid if any page in the range is not currently free.
func (a *Allocator) AllocAt(globalStart, n int) error {
	ri := globalStart / a.pagesPerRegion
	local := globalStart % a.pagesPerRegion
	if ri < 0 || ri >= len(a.regions) || local+n > a.pagesPerRegion {
		return errs.New(errs.IndexOutOfRange, "region.allocAt")
	}
	r := a.regions[ri]
	if !r.canAlloc(local, n) {
		return errs.New(errs.StateInvalid, "region.allocAt")
	}
	r.allocAt(local, n)
	return nil
}

// FreePages releases the run starting at the given global run-head
// page index, coalescing with adjacent free runs in the same region.
func (a *Allocator) FreePages(runHead int) error {
	ri := runHead / a.pagesPerRegion
	local := runHead % a.pagesPerRegion
	if ri < 0 || ri >= len(a.regions) {
		return errs.New(errs.IndexOutOfRange, "region.freePages")
	}
	_, err := a.regions[ri].freeAt(local)
	return err
}

// RunLength returns the length of the run headed at the given global
// page index, or 0 if it is not a run head.
func (a *Allocator) RunLength(runHead int) int {
	ri := runHead / a.pagesPerRegion
	local := runHead % a.pagesPerRegion
	if ri < 0 || ri >= len(a.regions) {
		return 0
	}
	r := a.regions[ri]
	if r.state[local] != statePageRunHead {
		return 0
	}
	return r.length[local]
}

// Run describes one maximal contiguous free extent by its global
// run-head page index and length.
type Run struct {
	Head   int
	Length int
}

// FreeRuns reports every maximal free run in region ri, in ascending
// offset order. Used by the page pool to (re)index free runs after a
// free coalesces with its neighbours, and by allocator round-trip
// tests.
func (a *Allocator) FreeRuns(ri int) []Run {
	r := a.regions[ri]
	base := ri * a.pagesPerRegion
	var runs []Run
	i := 0
	for i < r.free.Len() {
		if !r.free.Get(i) {
			i++
			continue
		}
		j := i
		for j < r.free.Len() && r.free.Get(j) {
			j++
		}
		runs = append(runs, Run{Head: base + i, Length: j - i})
		i = j
	}
	return runs
}

// Destroy releases the allocator's bookkeeping. The backing memory
// itself is owned by internal/arena, not by this package.
func (a *Allocator) Destroy() {
	a.regions = nil
}
