// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package shmtable is the public client ABI of the store: New/Free/Add/
// Set/Get/RemoveKey/RemoveAll/IterInit/Next/FreeIter/Foreach, each a
// thin marshalling wrapper over internal/table and internal/library.
// Values cross the boundary as tagged copies; a TABLE value handed to a
// caller is pinned in that caller's per-process root until freed.
package shmtable

import (
	"fmt"
	"sync"

	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/handle"
	"github.com/shmtable/shmtable/internal/library"
	"github.com/shmtable/shmtable/internal/table"
	"github.com/shmtable/shmtable/internal/tvalue"
)

// Side selects an iterator's starting position relative to its init
// key; re-exported from internal/table so callers never import
// internal packages directly.
type Side = table.Side

const (
	SideEQ      = table.SideEQ
	SideLeftEQ  = table.SideLeftEQ
	SideRightEQ = table.SideRightEQ
)

// Value is the tagged value callers exchange with the store;
// re-exported from internal/tvalue.
type Value = tvalue.Value

var (
	NilValue   = tvalue.NilValue
	NewString  = tvalue.NewString
	NewNumber  = tvalue.NewNumber
	NewBoolean = tvalue.NewBoolean
	NewInteger = tvalue.NewInteger
	NewU64     = tvalue.NewU64
)

// Client is one attached process's view of the store: every call is
// marshalled through the process's own ProcessState, so that TABLE
// values it hands back to the caller are pinned in that process's proot
// for as long as the caller holds them. Releasing the copy (Free)
// releases the logical reference.
type Client struct {
	ps *library.ProcessState

	mu   sync.Mutex
	pins map[handle.Handle]int
}

// Open wraps a process's library attachment (from library.Init or
// library.WorkerInit) in a Client exposing the public value-marshalling
// ABI.
func Open(ps *library.ProcessState) *Client {
	return &Client{ps: ps, pins: make(map[handle.Handle]int)}
}

// Root returns the caller's own per-process root table (proot), the
// default anchor point for values it wants to keep reachable across
// GC cycles.
func (c *Client) Root() Value {
	return tvalue.NewTable(c.ps.Proot.Handle())
}

// GRoot returns the process-global root table.
func (c *Client) GRoot() Value {
	return tvalue.NewTable(c.ps.Lib.GRoot().Handle())
}

// New allocates a fresh, empty table and returns a TABLE value
// referencing it. The new table is not yet reachable from any root;
// the caller must Add/Set it into an already-rooted table (or its own
// proot) before the collector's next cycle, or it will be reclaimed as
// unreachable garbage.
func (c *Client) New() (Value, error) {
	t, err := c.ps.Lib.Tables().New()
	if err != nil {
		return Value{}, err
	}
	return tvalue.NewTable(t.Handle()), nil
}

// Free releases the caller's hold on a TABLE value previously returned
// by Get or Next. It does not necessarily free the table's storage —
// that happens once the collector proves no root reaches it; Free only
// removes this process's pin. Values from New, Root and GRoot carry no
// pin of their own, so Free on them only removes a pin that an earlier
// Get or Next placed on the same table.
func (c *Client) Free(v Value) error {
	if v.Tag != tvalue.Table {
		return errs.New(errs.ArgInvalid, "shmtable.free")
	}
	h, err := v.AsTable()
	if err != nil {
		return err
	}
	return c.unpin(h)
}

func (c *Client) resolveTable(v Value) (*table.Table, error) {
	if v.Tag != tvalue.Table {
		return nil, errs.New(errs.ArgInvalid, "shmtable.resolveTable")
	}
	h, err := v.AsTable()
	if err != nil {
		return nil, err
	}
	return c.ps.Lib.Tables().Resolve(h)
}

// Add inserts key/value into the table referenced by tableVal, failing
// Existed if key is already present.
func (c *Client) Add(tableVal Value, key, value Value) error {
	t, err := c.resolveTable(tableVal)
	if err != nil {
		return err
	}
	return t.AddKeyValue(key, value)
}

// Set upserts key/value into the table referenced by tableVal.
func (c *Client) Set(tableVal Value, key, value Value) error {
	t, err := c.resolveTable(tableVal)
	if err != nil {
		return err
	}
	return t.SetKeyValue(key, value)
}

// Get returns a fresh copy of the value stored under key in the table
// referenced by tableVal. If the result is a TABLE value, it is pinned
// in the caller's proot until Free is called on the returned value.
func (c *Client) Get(tableVal Value, key Value) (Value, error) {
	t, err := c.resolveTable(tableVal)
	if err != nil {
		return Value{}, err
	}
	t.Lock()
	v, err := t.GetValue(key)
	t.Unlock()
	if err != nil {
		return Value{}, err
	}
	out := v.Clone()
	if err := c.pinIfTable(out); err != nil {
		return Value{}, err
	}
	return out, nil
}

// RemoveKey deletes key from the table referenced by tableVal, failing
// NotFound if absent.
func (c *Client) RemoveKey(tableVal Value, key Value) error {
	t, err := c.resolveTable(tableVal)
	if err != nil {
		return err
	}
	return t.RemoveKey(key)
}

// RemoveAll empties the table referenced by tableVal, atomically with
// respect to the collector; every removed TABLE value becomes a sweep
// candidate.
func (c *Client) RemoveAll(tableVal Value) error {
	t, err := c.resolveTable(tableVal)
	if err != nil {
		return err
	}
	return t.RemoveAll()
}

// Iter is a client-owned cursor over a table, pinning its target table
// in the owning Client's proot for the iterator's lifetime.
type Iter struct {
	c      *Client
	handle handle.Handle
	it     *table.Iter
	pinned bool
}

// IterInit starts an iterator over the table referenced by tableVal,
// positioned per side relative to initKey.
func (c *Client) IterInit(tableVal Value, initKey Value, side Side) (*Iter, error) {
	t, err := c.resolveTable(tableVal)
	if err != nil {
		return nil, err
	}
	it, err := table.IterInit(t, initKey, side)
	if err != nil {
		return nil, err
	}
	h := t.Handle()
	if err := c.pin(h); err != nil {
		return nil, err
	}
	return &Iter{c: c, handle: h, it: it, pinned: true}, nil
}

// Next advances it, returning the current key/value and copying the
// value out. Returns TableModified if the underlying table changed
// structurally since IterInit, and NotFound once iteration is
// exhausted.
func (it *Iter) Next() (Value, Value, error) {
	k, v, err := it.it.Next()
	if err != nil {
		return Value{}, Value{}, err
	}
	kc, vc := k.Clone(), v.Clone()
	if err := it.c.pinIfTable(vc); err != nil {
		return Value{}, Value{}, err
	}
	return kc, vc, nil
}

// FreeIter releases it's pin on its target table. Safe to call more
// than once.
func (it *Iter) FreeIter() error {
	if !it.pinned {
		return nil
	}
	it.pinned = false
	return it.c.unpin(it.handle)
}

// Visitor is a Foreach callback; an errs.IterStop return stops
// iteration early without propagating as a Foreach error.
type Visitor = table.Visitor

// Foreach locks the table referenced by tableVal, iterates from
// initKey/side, and calls visitor for each entry until it returns
// IterStop or iteration ends.
func (c *Client) Foreach(tableVal Value, initKey Value, side Side, visitor Visitor) error {
	t, err := c.resolveTable(tableVal)
	if err != nil {
		return err
	}
	return table.Foreach(t, initKey, side, visitor)
}

// pinIfTable pins v's referenced table if v is a TABLE value; a no-op
// for every other tag.
func (c *Client) pinIfTable(v Value) error {
	if v.Tag != tvalue.Table {
		return nil
	}
	h, err := v.AsTable()
	if err != nil {
		return nil
	}
	return c.pin(h)
}

// pin increments the reference count this process holds on h's table
// and, on the first reference, records it in this process's proot so
// the collector treats it as reachable. It also credits the table's
// refcnt.Tracker so RefCount can report live reference counts for
// observability, independent of the proot rooting mechanism itself.
func (c *Client) pin(h handle.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[h]++
	first := c.pins[h] == 1
	if t, err := c.ps.Lib.Tables().Resolve(h); err == nil {
		t.Refs().Incr(c.ps.PID, 1)
	}
	if !first {
		return nil
	}
	return c.ps.Proot.SetKeyValue(pinKey(h), tvalue.NewTable(h))
}

// unpin decrements the reference count on h and, once it reaches zero,
// removes it from this process's proot.
func (c *Client) unpin(h handle.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.pins[h]
	if !ok || n <= 0 {
		return nil
	}
	if t, err := c.ps.Lib.Tables().Resolve(h); err == nil {
		t.Refs().Decr(c.ps.PID, 1)
	}
	n--
	if n > 0 {
		c.pins[h] = n
		return nil
	}
	delete(c.pins, h)
	err := c.ps.Proot.RemoveKey(pinKey(h))
	if errs.Is(err, errs.NotFound) {
		return nil
	}
	return err
}

// RefCount reports the live reference-count accounting for the table
// referenced by tableVal: this process's own count and the sum across
// every attached process. A process that holds no reference reports a
// process count of zero rather than NotFound, since "no references
// yet" is the common case for a table this process never pinned.
func (c *Client) RefCount(tableVal Value) (processCount, totalCount int64, err error) {
	t, err := c.resolveTable(tableVal)
	if err != nil {
		return 0, 0, err
	}
	pc, perr := t.Refs().ProcessRefCount(c.ps.PID)
	if perr != nil {
		pc = 0
	}
	return pc, t.Refs().TotalRefCount(), nil
}

// pinKey derives the proot entry key for a pinned table handle: the
// handle's own (offset, generation) pair encoded as a STRING, unique
// per live allocation.
func pinKey(h handle.Handle) Value {
	return tvalue.NewString(fmt.Sprintf("%d:%d", h.Offset, h.Generation))
}
