// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package table implements the store's ordered map: tagged key/value
// entries backed by a red-black tree, with a per-table lock, a
// collector GC head, and stable forward iteration that detects
// structural modification.
package table

import (
	"sync"

	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/gc"
	"github.com/shmtable/shmtable/internal/handle"
	"github.com/shmtable/shmtable/internal/rbtree"
	"github.com/shmtable/shmtable/internal/refcnt"
	"github.com/shmtable/shmtable/internal/slab"
	"github.com/shmtable/shmtable/internal/tvalue"
)

func compareEntryKey(a, b interface{}) int {
	return tvalue.Compare(a.(tvalue.Value), b.(tvalue.Value))
}

// Side selects an iterator's starting position relative to its init
// key.
type Side int

const (
	// SideEQ requires an exact match; IterInit fails NotFound otherwise.
	SideEQ Side = iota
	// SideLeftEQ starts at the smallest key >= the init key.
	SideLeftEQ
	// SideRightEQ starts at the largest key <= the init key.
	SideRightEQ
)

// tableHeaderSize is the slab size class backing a table's own header
// accounting. The live Table struct is ordinary Go-heap state; the
// slab slot is its arena stand-in, so a table's lifetime still
// debits/credits the same pool accounting every other allocation does.
const tableHeaderSize = 64

// Table is an ordered map of tvalue keys to tvalue values.
type Table struct {
	mu      sync.Mutex
	entries *rbtree.Tree
	version uint64
	head    *gc.Head
	pool    *Pool
	self    handle.Handle
	header  handle.Handle

	// refs tracks, per attached process, how many live client-held
	// references point at this table, plus their sum — pure
	// observability accounting, distinct from the proot pinning that
	// actually keeps the table reachable.
	refs *refcnt.Tracker
}

// Refs returns t's reference-count tracker (internal/refcnt), exported
// for the client ABI's pin/unpin bookkeeping and its RefCount query.
func (t *Table) Refs() *refcnt.Tracker { return t.refs }

// Handle returns the typed handle other tables use to reference t as a
// TABLE-tagged value.
func (t *Table) Handle() handle.Handle { return t.self }

// Lock acquires the table's own mutex. GetValue requires the caller to
// hold this lock first; Add/Set/Remove/iteration helpers manage it
// internally.
func (t *Table) Lock() { t.mu.Lock() }

// Unlock releases the table's own mutex.
func (t *Table) Unlock() { t.mu.Unlock() }

// GCHead returns the table's collector bookkeeping (gc.Collectable).
func (t *Table) GCHead() *gc.Head { return t.head }

// Children returns the tables currently referenced by a TABLE-tagged
// value in t, evaluated fresh under t's own lock.
func (t *Table) Children() []gc.Collectable {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []gc.Collectable
	t.entries.InOrder(func(n *rbtree.Node) bool {
		if child := t.pool.resolveValue(n.Value().(tvalue.Value)); child != nil {
			out = append(out, child)
		}
		return true
	})
	return out
}

// RemoveAllForGC clears every entry without collector notifications, so
// the collector's free phase doesn't re-enqueue its own victims.
func (t *Table) RemoveAllForGC() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = rbtree.New(compareEntryKey)
	t.version++
	return nil
}

// Release returns the table's own storage to its pool. Called by the
// collector's free phase, after RemoveAllForGC.
func (t *Table) Release() error {
	t.pool.unregister(t.self)
	return t.pool.slab.Free(t.header)
}

// Free explicitly releases an empty table. A non-empty table must go
// through the collector instead (NotEmpty).
func (t *Table) Free() error {
	t.mu.Lock()
	n := t.entries.Len()
	t.mu.Unlock()
	if n != 0 {
		return errs.New(errs.NotEmpty, "table.free")
	}
	return t.Release()
}

// AddKeyValue inserts key/value, failing Existed if key is already
// present. If value is a TABLE reference, the child is pushed onto the
// collector's mark queue.
func (t *Table) AddKeyValue(key, value tvalue.Value) error {
	t.mu.Lock()
	_, err := t.entries.Insert(key.Clone(), value.Clone(), false)
	var toMark *Table
	if err == nil {
		t.version++
		toMark = t.pool.resolveValue(value)
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if toMark != nil {
		t.pool.gc.PushToMark(toMark.head)
	}
	t.pool.maybeRunGC(t)
	return nil
}

// SetKeyValue upserts key/value. If it replaces an existing TABLE-typed
// value, the displaced child is pushed onto the collector's sweep
// queue (the dual of AddKeyValue's mark push); if the new value is
// itself a TABLE reference, that child is pushed onto the mark queue.
func (t *Table) SetKeyValue(key, value tvalue.Value) error {
	t.mu.Lock()
	var old tvalue.Value
	var hadOld bool
	if n := t.entries.SearchEQ(key); n != nil {
		old = n.Value().(tvalue.Value)
		hadOld = true
	}
	existed, err := t.entries.Insert(key.Clone(), value.Clone(), true)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !existed {
		t.version++
	}
	toMark := t.pool.resolveValue(value)
	var toSweep *Table
	if hadOld {
		toSweep = t.pool.resolveValue(old)
	}
	t.mu.Unlock()

	if toMark != nil {
		t.pool.gc.PushToMark(toMark.head)
	}
	if toSweep != nil {
		t.pool.gc.PushToSweep(toSweep.head)
	}
	t.pool.maybeRunGC(t)
	return nil
}

// RemoveKey deletes key, failing NotFound if absent. If the removed
// value was a TABLE reference, that child is pushed onto the
// collector's sweep queue.
func (t *Table) RemoveKey(key tvalue.Value) error {
	t.mu.Lock()
	val, err := t.entries.Delete(key)
	var toSweep *Table
	if err == nil {
		t.version++
		toSweep = t.pool.resolveValue(val.(tvalue.Value))
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if toSweep != nil {
		t.pool.gc.PushToSweep(toSweep.head)
	}
	t.pool.maybeRunGC(t)
	return nil
}

// RemoveAll empties the table atomically with respect to the
// collector; every removed TABLE value is pushed onto the sweep queue.
func (t *Table) RemoveAll() error {
	t.mu.Lock()
	var toSweep []*Table
	t.entries.InOrder(func(n *rbtree.Node) bool {
		if child := t.pool.resolveValue(n.Value().(tvalue.Value)); child != nil {
			toSweep = append(toSweep, child)
		}
		return true
	})
	t.entries = rbtree.New(compareEntryKey)
	t.version++
	t.mu.Unlock()

	for _, child := range toSweep {
		t.pool.gc.PushToSweep(child.head)
	}
	return nil
}

// GetValue looks up key. The caller must already hold t's lock (Lock).
func (t *Table) GetValue(key tvalue.Value) (tvalue.Value, error) {
	n := t.entries.SearchEQ(key)
	if n == nil {
		return tvalue.Value{}, errs.New(errs.NotFound, "table.getValue")
	}
	return n.Value().(tvalue.Value), nil
}

// Len returns the current element count.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}

// Iter is a stable forward cursor over a Table's entries in key order.
type Iter struct {
	table   *Table
	cur     *rbtree.Node
	version uint64
}

// IterInit starts an iterator positioned per side relative to initKey.
func IterInit(t *Table, initKey tvalue.Value, side Side) (*Iter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var node *rbtree.Node
	switch side {
	case SideEQ:
		node = t.entries.SearchEQ(initKey)
		if node == nil {
			return nil, errs.New(errs.NotFound, "table.iterInit")
		}
	case SideLeftEQ:
		node = t.entries.SearchNext(initKey)
	case SideRightEQ:
		node = t.entries.SearchPrev(initKey)
	default:
		return nil, errs.New(errs.ArgInvalid, "table.iterInit")
	}
	return &Iter{table: t, cur: node, version: t.version}, nil
}

// Next returns the iterator's current key/value and advances it.
// Returns TableModified if the table changed structurally since
// IterInit (or the previous Next), and NotFound once iteration is
// exhausted.
func (it *Iter) Next() (tvalue.Value, tvalue.Value, error) {
	it.table.mu.Lock()
	defer it.table.mu.Unlock()

	if it.version != it.table.version {
		return tvalue.Value{}, tvalue.Value{}, errs.New(errs.TableModified, "table.iterNext")
	}
	if it.cur == nil {
		return tvalue.Value{}, tvalue.Value{}, errs.New(errs.NotFound, "table.iterNext")
	}
	k := it.cur.Key().(tvalue.Value)
	v := it.cur.Value().(tvalue.Value)
	it.cur = it.table.entries.Successor(it.cur)
	return k, v, nil
}

// Visitor is a foreach callback; returning an errs.IterStop error stops
// iteration early without propagating as a Foreach error.
type Visitor func(key, value tvalue.Value) error

// Foreach locks t, iterates from initKey/side, and calls visitor for
// each entry until the visitor returns IterStop or iteration ends.
func Foreach(t *Table, initKey tvalue.Value, side Side, visitor Visitor) error {
	it, err := IterInit(t, initKey, side)
	if err != nil {
		return err
	}
	for {
		k, v, err := it.Next()
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if verr := visitor(k, v); verr != nil {
			if errs.Is(verr, errs.IterStop) {
				return nil
			}
			return verr
		}
	}
}

// tableSlot is one entry in the pool's generation-checked table
// registry: tables are referenced by typed handle, not raw pointer,
// everywhere a TABLE tvalue is stored.
type tableSlot struct {
	table      *Table
	generation uint32
}

// Pool owns every live table plus the slab pool and collector they're
// built from.
type Pool struct {
	mu            sync.Mutex
	slots         []tableSlot
	freeSlots     []int
	slab          *slab.Pool
	gc            *gc.Collector
	counter       int
	opportunistic bool
}

// NewPool creates a table pool over the given slab pool and collector.
// opportunistic selects whether mutation paths probabilistically call
// the collector; when false, the caller is expected to drive
// Collector.Run on its own schedule.
func NewPool(slabPool *slab.Pool, collector *gc.Collector, opportunistic bool) *Pool {
	return &Pool{slab: slabPool, gc: collector, opportunistic: opportunistic}
}

// New allocates a table, registers it in the pool's handle registry,
// and initialises its collector GC head.
func (p *Pool) New() (*Table, error) {
	header, err := p.slab.Alloc(tableHeaderSize)
	if err != nil {
		return nil, err
	}
	t := &Table{entries: rbtree.New(compareEntryKey), pool: p, header: header, refs: refcnt.New()}
	t.head = gc.NewHead(p.gc.Round(), t)
	t.self = p.register(t)
	p.mu.Lock()
	p.counter++
	p.mu.Unlock()
	return t, nil
}

// Count returns the number of currently live tables.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}

func (p *Pool) register(t *Table) handle.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.freeSlots); n > 0 {
		idx := p.freeSlots[n-1]
		p.freeSlots = p.freeSlots[:n-1]
		p.slots[idx].generation++
		p.slots[idx].table = t
		return handle.Handle{Offset: int64(idx), Generation: p.slots[idx].generation}
	}
	p.slots = append(p.slots, tableSlot{table: t, generation: 1})
	return handle.Handle{Offset: int64(len(p.slots) - 1), Generation: 1}
}

func (p *Pool) unregister(h handle.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int(h.Offset)
	if idx < 0 || idx >= len(p.slots) || p.slots[idx].generation != h.Generation {
		return
	}
	p.slots[idx].table = nil
	p.freeSlots = append(p.freeSlots, idx)
	p.counter--
}

// Resolve returns the live table referenced by h, or NotFound if h is
// stale (already freed, or never valid). Exported for the client ABI
// (root package shmtable), which only ever holds tables by handle.
func (p *Pool) Resolve(h handle.Handle) (*Table, error) {
	return p.resolve(h)
}

// resolve returns the live table for h, or NotFound if h is stale
// (already freed, or never valid).
func (p *Pool) resolve(h handle.Handle) (*Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := int(h.Offset)
	if idx < 0 || idx >= len(p.slots) {
		return nil, errs.New(errs.NotFound, "table.resolve")
	}
	slot := p.slots[idx]
	if slot.table == nil || slot.generation != h.Generation {
		return nil, errs.New(errs.NotFound, "table.resolve")
	}
	return slot.table, nil
}

// resolveValue returns the live child table v references, or nil if v
// isn't a (currently valid) TABLE value.
func (p *Pool) resolveValue(v tvalue.Value) *Table {
	if v.Tag != tvalue.Table {
		return nil
	}
	h, err := v.AsTable()
	if err != nil {
		return nil
	}
	child, err := p.resolve(h)
	if err != nil {
		return nil
	}
	return child
}

// maybeRunGC is the opportunistic collection trigger: when enabled, a
// mutation on t has roughly even odds of also driving one collector
// step, keyed off t's own handle so the decision is cheap and doesn't
// need a random source.
func (p *Pool) maybeRunGC(t *Table) {
	if !p.opportunistic {
		return
	}
	if t.self.Offset%2 == 0 {
		_ = p.gc.Run()
	}
}
