// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slab implements the slab pool: it carves pages pulled from a
// page.Pool into power-of-two object size classes, with a per-class
// free-object list over partially-free pages and per-class usage
// statistics.
package slab

import (
	"math/bits"
	"sync"

	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/handle"
	"github.com/shmtable/shmtable/internal/page"
)

// Stats are the per-class usage counters the pool maintains purely for
// observability.
type Stats struct {
	Current int // objects currently allocated in this class
	Peak    int
	Total   int // lifetime allocation count
}

// slabPage is one page carved into objSize-byte slots for one class.
type slabPage struct {
	head         int // run-head page index, from the page pool
	slotsPerPage int
	allocated    []bool
	free         []int // stack of free slot indices
	used         int
}

type classState struct {
	mu      sync.Mutex
	objSize int
	pages   map[int]*slabPage // all pages this class currently owns, by head
	partial map[int]*slabPage // subset of pages with a free slot
	stats   Stats
}

// Pool allocates and frees fixed-size objects, grouped into power-of-two
// size classes, backed by a page.Pool.
type Pool struct {
	mu        sync.Mutex // serialises page-pool traffic
	pages     *page.Pool
	pageSize  int
	minShift  uint
	maxShift  uint
	classes   []*classState
	pageOwner map[int]int // page head -> class index, for pages currently slab-owned
}

// New creates a slab pool with size classes 2^minShift .. 2^maxShift
// bytes, backed by pages from the given page pool. maxShift must not
// exceed the page size's own log2, since no class may span more than
// one page.
func New(pages *page.Pool, pageSize int, minShift, maxShift uint) (*Pool, error) {
	if minShift > maxShift || 1<<maxShift > pageSize {
		return nil, errs.New(errs.ArgInvalid, "slab.new")
	}
	p := &Pool{
		pages:     pages,
		pageSize:  pageSize,
		minShift:  minShift,
		maxShift:  maxShift,
		pageOwner: make(map[int]int),
	}
	for shift := minShift; shift <= maxShift; shift++ {
		p.classes = append(p.classes, &classState{
			objSize: 1 << shift,
			pages:   make(map[int]*slabPage),
			partial: make(map[int]*slabPage),
		})
	}
	return p, nil
}

// classFor returns the size-class index and rounded object size for a
// requested allocation size: the class of an allocated object is the
// ceiling-log-2 of its requested size.
func (p *Pool) classFor(size int) (int, int, error) {
	if size <= 0 {
		return 0, 0, errs.New(errs.ArgInvalid, "slab.classFor")
	}
	shift := uint(bits.Len(uint(size - 1)))
	if shift < p.minShift {
		shift = p.minShift
	}
	if shift > p.maxShift {
		return 0, 0, errs.New(errs.Unsupported, "slab.classFor")
	}
	return int(shift - p.minShift), 1 << shift, nil
}

// Alloc returns a handle (generation 1) to an object of at least size
// bytes. A partial page in the matching class is reused if one exists;
// otherwise a fresh page is pulled from the page pool.
func (p *Pool) Alloc(size int) (handle.Handle, error) {
	classIdx, objSize, err := p.classFor(size)
	if err != nil {
		return handle.Nil, err
	}
	cs := p.classes[classIdx]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var sp *slabPage
	for _, candidate := range cs.partial {
		sp = candidate
		break
	}
	if sp == nil {
		sp, err = p.newPage(classIdx, objSize)
		if err != nil {
			return handle.Nil, err
		}
		cs.pages[sp.head] = sp
		cs.partial[sp.head] = sp
	}

	slot := sp.free[len(sp.free)-1]
	sp.free = sp.free[:len(sp.free)-1]
	sp.allocated[slot] = true
	sp.used++
	if len(sp.free) == 0 {
		delete(cs.partial, sp.head)
	}

	cs.stats.Current++
	cs.stats.Total++
	if cs.stats.Current > cs.stats.Peak {
		cs.stats.Peak = cs.stats.Current
	}

	offset := int64(sp.head)*int64(p.pageSize) + int64(slot)*int64(objSize)
	// Generation 1, never 0, so a valid handle at offset 0 (the very
	// first slot of the very first page) never collides with
	// handle.Nil. Slab objects don't need per-slot generation
	// bumping on reuse; that matters for table references, whose
	// generations internal/table's pool registry tracks separately.
	return handle.Handle{Offset: offset, Generation: 1}, nil
}

// newPage pulls a fresh page from the page pool and carves it into
// objSize slots for classIdx. Caller holds the class lock.
func (p *Pool) newPage(classIdx, objSize int) (*slabPage, error) {
	p.mu.Lock()
	head, err := p.pages.AllocPages(1)
	if err == nil {
		p.pageOwner[head] = classIdx
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	slots := p.pageSize / objSize
	sp := &slabPage{
		head:         head,
		slotsPerPage: slots,
		allocated:    make([]bool, slots),
	}
	for i := slots - 1; i >= 0; i-- {
		sp.free = append(sp.free, i)
	}
	return sp, nil
}

// Free releases the object h was allocated for, returning its page to
// the partial or fully-empty state, and the page itself back to the
// page pool once every slot it hosts has been freed.
func (p *Pool) Free(h handle.Handle) error {
	if h.IsNil() {
		return errs.New(errs.ArgInvalid, "slab.free")
	}
	head := int(h.Offset / int64(p.pageSize))

	p.mu.Lock()
	classIdx, ok := p.pageOwner[head]
	p.mu.Unlock()
	if !ok {
		// A handle for a page the slab doesn't own means the caller is
		// freeing something it never allocated, or freeing it twice
		// after its page already drained back to the page pool.
		return errs.New(errs.StateInvalid, "slab.free")
	}

	cs := p.classes[classIdx]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	sp, ok := cs.pages[head]
	if !ok {
		return errs.New(errs.StateInvalid, "slab.free")
	}
	slot := int((h.Offset - int64(head)*int64(p.pageSize)) / int64(cs.objSize))
	if slot < 0 || slot >= sp.slotsPerPage || !sp.allocated[slot] {
		return errs.New(errs.StateInvalid, "slab.free")
	}

	sp.allocated[slot] = false
	sp.free = append(sp.free, slot)
	sp.used--
	cs.partial[sp.head] = sp
	cs.stats.Current--

	if sp.used == 0 {
		delete(cs.partial, sp.head)
		delete(cs.pages, sp.head)
		p.mu.Lock()
		delete(p.pageOwner, sp.head)
		err := p.pages.FreePages(sp.head)
		p.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// ClassStats returns a snapshot of the usage counters for the class
// that would serve a request of the given size.
func (p *Pool) ClassStats(size int) (Stats, error) {
	classIdx, _, err := p.classFor(size)
	if err != nil {
		return Stats{}, err
	}
	cs := p.classes[classIdx]
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.stats, nil
}
