// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gc implements the incremental, time-bounded, cycle-collecting
// garbage collector: a mark phase over a root set followed by a free
// phase, self-calibrating its per-step work budget to a target
// wall-clock time.
package gc

import (
	"log"
	"sync"
	"time"
	"unsafe"

	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/ilist"
	"github.com/shmtable/shmtable/internal/sarray"
)

// mark-word epoch offsets: a Head's raw mark integer state is read
// relative to the collector's current round, so a cycle boundary
// (round += 4) silently reinterprets every stale mark as unknown
// without visiting a single table to reset it.
const (
	offsetReachable = 0
	offsetGarbage   = 1
	offsetUnknown   = 2
)

type markState int

const (
	stateUnknown markState = iota
	stateReachable
	stateGarbage
)

// Collectable is anything the collector can trace and reclaim: a table,
// in the table package's terms. Defined here (rather than imported)
// to keep internal/table and internal/gc from import-cycling.
type Collectable interface {
	// GCHead returns the object's collector bookkeeping.
	GCHead() *Head
	// Children returns the live table-typed children this object
	// currently references, evaluated fresh, not cached.
	Children() []Collectable
	// RemoveAllForGC clears every entry without posting collector
	// notifications, so the free phase doesn't re-enqueue its own
	// victims.
	RemoveAllForGC() error
	// Release returns the object's own storage to its pool.
	Release() error
}

// Head is the collector bookkeeping embedded in every collectable
// object: a mark word plus two queue links. markLink links it into the
// mark queue; sweepLink links it into at most one of the prev-sweep,
// sweep, garbage and remained queues at a time.
type Head struct {
	mark      int
	markLink  ilist.Node
	sweepLink ilist.Node
	owner     Collectable
}

// NewHead initialises the GC bookkeeping for a freshly created object,
// starting in the unknown state relative to the collector's current
// round (so it is neither accidentally reachable nor garbage until the
// collector actually visits it).
func NewHead(round int, owner Collectable) *Head {
	h := &Head{mark: round + offsetUnknown, owner: owner}
	h.markLink.Init()
	h.markLink.Value = h
	h.sweepLink.Init()
	h.sweepLink.Value = h
	return h
}

func (h *Head) state(round int) markState {
	switch h.mark - round {
	case offsetReachable:
		return stateReachable
	case offsetGarbage:
		return stateGarbage
	default:
		return stateUnknown
	}
}

func (h *Head) setReachable(round int) { h.mark = round + offsetReachable }
func (h *Head) setGarbage(round int)   { h.mark = round + offsetGarbage }

func headOf(n *ilist.Node) *Head {
	if n == nil {
		return nil
	}
	return n.Value.(*Head)
}

func compareHeadPtr(a, b interface{}) int {
	pa := uintptr(unsafe.Pointer(a.(*Head)))
	pb := uintptr(unsafe.Pointer(b.(*Head)))
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// Collector runs the incremental mark/sweep cycle.
type Collector struct {
	mu sync.Mutex

	round int
	begin bool

	markQueue      ilist.Node
	prevSweepQueue ilist.Node
	sweepQueue     ilist.Node
	garbageQueue   ilist.Node
	remainedQueue  ilist.Node
	roots          *sarray.Array

	// Self-calibrated: each step measures its own elapsed time and
	// adjusts nextVisit/nextFree to keep the next step within
	// targetUsec.
	targetUsec int64
	nextVisit  int
	nextFree   int

	logger *log.Logger // optional; nil disables cycle logging
}

// SetLogger installs a logger for end-of-cycle events. A nil logger
// (the default) disables logging.
func (c *Collector) SetLogger(l *log.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
}

// New creates an idle collector targeting roughly targetUsec of wall
// time per Run call.
func New(targetUsec int64) *Collector {
	c := &Collector{
		roots:      sarray.New(compareHeadPtr),
		targetUsec: targetUsec,
		nextVisit:  1,
		nextFree:   1,
	}
	c.markQueue.Init()
	c.prevSweepQueue.Init()
	c.sweepQueue.Init()
	c.garbageQueue.Init()
	c.remainedQueue.Init()
	return c
}

// Round returns the collector's current epoch.
func (c *Collector) Round() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}

// AddRoot registers h as an externally-anchored table. Returns Existed
// if h is already a root.
func (c *Collector) AddRoot(h *Head) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.roots.Find(h); found {
		return errs.New(errs.Existed, "gc.addRoot")
	}
	return c.roots.Append(h)
}

// RemoveRoot unregisters h. Returns NotFound if h is not a root.
func (c *Collector) RemoveRoot(h *Head) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, found := c.roots.Find(h)
	if !found {
		return errs.New(errs.NotFound, "gc.removeRoot")
	}
	return c.roots.RemoveAt(i)
}

// PushToMark enqueues h for marking if it isn't already known reachable
// or already queued. Idempotent.
func (c *Collector) PushToMark(h *Head) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushToMarkLocked(h)
}

func (c *Collector) pushToMarkLocked(h *Head) {
	if h.state(c.round) == stateReachable {
		return
	}
	if h.markLink.Linked() {
		return
	}
	c.markQueue.InsertLast(&h.markLink)
}

// PushToSweep enqueues h as a sweep candidate for the cycle now in
// progress. If h was carried over from the previous cycle's sweep
// queue, it is moved rather than duplicated, so the new cycle observes
// it fresh.
func (c *Collector) PushToSweep(h *Head) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.sweepLink.Linked() {
		h.sweepLink.Remove()
	}
	c.sweepQueue.InsertLast(&h.sweepLink)
}

// Run performs one bounded step of collector work and returns. If no
// cycle is in progress and both sweep queues are empty, it returns
// NoGCData. Callers schedule further Run calls to make progress on a
// multi-step cycle.
func (c *Collector) Run() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	err := c.step()
	elapsed := time.Since(start).Microseconds()
	c.calibrate(elapsed)
	return err
}

func (c *Collector) calibrate(elapsedUsec int64) {
	if elapsedUsec <= 0 {
		elapsedUsec = 1
	}
	usecPerUnit := elapsedUsec / int64(c.nextVisit+c.nextFree)
	if usecPerUnit <= 0 {
		usecPerUnit = 1
	}
	next := int(c.targetUsec / usecPerUnit)
	if next < 1 {
		next = 1
	}
	c.nextVisit = next
	c.nextFree = next
}

func (c *Collector) step() error {
	if !c.begin {
		if c.prevSweepQueue.Empty() && c.sweepQueue.Empty() {
			return errs.New(errs.NoGCData, "gc.run")
		}
		c.startCycle()
	}

	if err := c.markStep(); err != nil {
		return err
	}
	if !c.markQueue.Empty() || !c.prevSweepQueue.Empty() || !c.sweepQueue.Empty() {
		return nil
	}

	if err := c.freeStep(); err != nil {
		return err
	}
	if !c.garbageQueue.Empty() {
		return nil
	}

	c.endCycle()
	return nil
}

func (c *Collector) startCycle() {
	for i := 0; i < c.roots.Len(); i++ {
		c.pushToMarkLocked(c.roots.At(i).(*Head))
	}
	c.begin = true
}

// markStep drains up to nextVisit units of work from the mark queue,
// then the previous-epoch sweep queue, then this cycle's sweep queue.
func (c *Collector) markStep() error {
	budget := c.nextVisit
	for i := 0; i < budget && !c.markQueue.Empty(); i++ {
		h := headOf(c.markQueue.PopFirst())
		if h.state(c.round) == stateReachable {
			continue
		}
		h.setReachable(c.round)
		for _, child := range h.owner.Children() {
			ch := child.GCHead()
			if ch.state(c.round) == stateUnknown {
				c.pushToMarkLocked(ch)
			}
		}
	}
	if !c.markQueue.Empty() {
		return nil
	}

	for i := 0; i < budget && !c.prevSweepQueue.Empty(); i++ {
		h := headOf(c.prevSweepQueue.PopFirst())
		switch h.state(c.round) {
		case stateGarbage:
			return errs.New(errs.StateInvalid, "gc.markStep")
		case stateReachable:
			// proven reachable this cycle; simply drop it
		default:
			h.setGarbage(c.round)
			c.garbageQueue.InsertLast(&h.sweepLink)
			c.cascadeGarbageLocked(h)
		}
	}
	if !c.prevSweepQueue.Empty() {
		return nil
	}

	for i := 0; i < budget && !c.sweepQueue.Empty(); i++ {
		h := headOf(c.sweepQueue.PopFirst())
		switch h.state(c.round) {
		case stateGarbage:
			return errs.New(errs.StateInvalid, "gc.markStep")
		case stateReachable:
			c.remainedQueue.InsertLast(&h.sweepLink)
		default:
			h.setGarbage(c.round)
			c.garbageQueue.InsertLast(&h.sweepLink)
			c.cascadeGarbageLocked(h)
		}
	}
	return nil
}

// cascadeGarbageLocked pushes h's still-unknown children onto the
// garbage queue directly, since a table only reachable from a garbage
// table is itself garbage.
func (c *Collector) cascadeGarbageLocked(h *Head) {
	for _, child := range h.owner.Children() {
		ch := child.GCHead()
		if ch.state(c.round) == stateUnknown {
			ch.setGarbage(c.round)
			// ch may currently be linked into prevSweepQueue or
			// sweepQueue (it was already a sweep candidate in its own
			// right); Remove is list-head-agnostic, so this is safe
			// whether or not ch is linked anywhere yet.
			if ch.sweepLink.Linked() {
				ch.sweepLink.Remove()
			}
			c.garbageQueue.InsertLast(&ch.sweepLink)
			c.cascadeGarbageLocked(ch)
		}
	}
}

func (c *Collector) freeStep() error {
	for i := 0; i < c.nextFree && !c.garbageQueue.Empty(); i++ {
		h := headOf(c.garbageQueue.PopFirst())
		if err := h.owner.RemoveAllForGC(); err != nil {
			return err
		}
		if err := h.owner.Release(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) endCycle() {
	c.prevSweepQueue.Join(&c.remainedQueue)
	c.round += 4
	c.begin = false
	if c.logger != nil {
		c.logger.Printf("gc: cycle complete, round now %d", c.round)
	}
}

// Destroy drains the collector to completion, asserts every queue is
// empty, and releases the root set. Returns NotEmpty if a queue is
// non-empty after draining (an internal invariant breach).
func (c *Collector) Destroy() error {
	for {
		err := c.Run()
		if errs.Is(err, errs.NoGCData) {
			break
		}
		if err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.markQueue.Empty() || !c.prevSweepQueue.Empty() || !c.sweepQueue.Empty() ||
		!c.garbageQueue.Empty() || !c.remainedQueue.Empty() {
		return errs.New(errs.NotEmpty, "gc.destroy")
	}
	c.roots = nil
	return nil
}
