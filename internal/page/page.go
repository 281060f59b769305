// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package page implements the page pool: it allocates runs of
// contiguous pages from the region allocator, best-fit splitting the
// smallest free run long enough to satisfy a request, and tracks every
// free run in a length-keyed red-black tree for that purpose.
package page

import (
	"math"
	"sync"

	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/rbtree"
	"github.com/shmtable/shmtable/internal/region"
)

// lengthKey orders runs by length, then by run-head index so distinct
// runs of equal length don't collide in the tree.
type lengthKey struct {
	length int
	head   int
}

func compareLengthKey(a, b interface{}) int {
	ka, kb := a.(lengthKey), b.(lengthKey)
	if ka.length != kb.length {
		return ka.length - kb.length
	}
	return ka.head - kb.head
}

// Pool allocates and frees runs of pages backed by a region.Allocator.
//
// The region allocator is the source of truth for which pages are
// free; freeByLength is only an accelerator letting AllocPages find the
// smallest long-enough run without a linear scan. Every call that
// changes a region's layout ends by reconciling that region's entries
// against region.FreeRuns, so the index can never drift out of sync
// with the allocator it accelerates.
type Pool struct {
	mu           sync.Mutex
	regions      *region.Allocator
	pageSize     int
	freeByLength *rbtree.Tree
	headToLength map[int]int
}

// New creates a page pool over regions, with the given page size in
// bytes, fixed for the pool's lifetime.
func New(regions *region.Allocator, pageSize int) *Pool {
	p := &Pool{
		regions:      regions,
		pageSize:     pageSize,
		freeByLength: rbtree.New(compareLengthKey),
		headToLength: make(map[int]int),
	}
	for ri := 0; ri < regions.RegionCount(); ri++ {
		p.reconcileRegion(ri)
	}
	return p
}

// PageSize returns the configured page size in bytes.
func (p *Pool) PageSize() int { return p.pageSize }

// reconcileRegion drops every indexed free run belonging to region ri
// and re-derives them from the region allocator, which always reflects
// fully-coalesced reality. Callers hold p.mu.
func (p *Pool) reconcileRegion(ri int) {
	base := ri * p.regions.PagesPerRegion()
	limit := base + p.regions.PagesPerRegion()
	for head, length := range p.headToLength {
		if head >= base && head < limit {
			p.freeByLength.Delete(lengthKey{length: length, head: head})
			delete(p.headToLength, head)
		}
	}
	for _, run := range p.regions.FreeRuns(ri) {
		p.freeByLength.Insert(lengthKey{length: run.Length, head: run.Head}, struct{}{}, true)
		p.headToLength[run.Head] = run.Length
	}
}

// AllocPages finds the smallest free run with length >= n, taking it
// from the region allocator and re-indexing whatever remains free in
// that region, and returns the run-head page index of the allocation.
func (p *Pool) AllocPages(n int) (int, error) {
	if n <= 0 {
		return 0, errs.New(errs.ArgInvalid, "page.allocPages")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if node := p.freeByLength.SearchNext(lengthKey{length: n, head: math.MinInt}); node != nil {
		key := node.Key().(lengthKey)
		if err := p.regions.AllocAt(key.head, n); err != nil {
			return 0, err
		}
		p.reconcileRegion(key.head / p.regions.PagesPerRegion())
		return key.head, nil
	}

	// No indexed run is big enough. New already reconciles every region
	// up front, so in practice this path only triggers on a genuine
	// out-of-memory.
	head, err := p.regions.AllocPages(n)
	if err != nil {
		return 0, err
	}
	p.reconcileRegion(head / p.regions.PagesPerRegion())
	return head, nil
}

// FreePages releases the run starting at runHead, returning it to the
// region allocator and re-indexing the resulting, possibly coalesced,
// free runs in that region.
func (p *Pool) FreePages(runHead int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.regions.RunLength(runHead)
	if n == 0 {
		return errs.New(errs.StateInvalid, "page.freePages")
	}
	if err := p.regions.FreePages(runHead); err != nil {
		return err
	}
	p.reconcileRegion(runHead / p.regions.PagesPerRegion())
	return nil
}
