// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package refcnt implements per-process and aggregate reference-count
// accounting: a tree-indexed table of per-pid counters plus a running
// total, guarded by a single lock. The store uses this purely for
// observability (how many live references does process P hold on this
// table, and how many in total across every attached process) —
// reachability itself is still decided by each process's proot;
// refcnt is bookkeeping distinct from the gc/table reachability graph.
package refcnt

import (
	"sync"

	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/rbtree"
)

type process struct {
	pid int
	cnt int64
}

func compareProcess(a, b interface{}) int {
	pa, pb := a.(*process).pid, b.(*process).pid
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// Tracker is a total counter plus a per-pid breakdown.
type Tracker struct {
	mu        sync.Mutex
	processes *rbtree.Tree
	total     int64
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{processes: rbtree.New(compareProcess)}
}

func (t *Tracker) find(pid int) *process {
	n := t.processes.SearchEQ(&process{pid: pid})
	if n == nil {
		return nil
	}
	return n.Key().(*process)
}

// ProcessRefCount returns pid's current reference count, or NotFound if
// pid holds no references.
func (t *Tracker) ProcessRefCount(pid int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.find(pid)
	if p == nil {
		return 0, errs.New(errs.NotFound, "refcnt.processRefCount")
	}
	return p.cnt, nil
}

// TotalRefCount returns the sum of every process's reference count.
func (t *Tracker) TotalRefCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Incr adds cnt to pid's count (creating its entry if this is pid's
// first reference) and to the running total, returning both new
// values.
func (t *Tracker) Incr(pid int, cnt int64) (processCnt, totalCnt int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.find(pid)
	if p == nil {
		p = &process{pid: pid}
		t.processes.Insert(p, nil, false)
	}
	p.cnt += cnt
	t.total += cnt
	return p.cnt, t.total
}

// Decr subtracts cnt from pid's count and the running total, returning
// both new values. Returns NotFound if pid holds no references, and
// IndexOutOfRange if cnt exceeds pid's current count. A count that
// reaches zero drops pid's entry entirely.
func (t *Tracker) Decr(pid int, cnt int64) (processCnt, totalCnt int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.find(pid)
	if p == nil {
		return 0, t.total, errs.New(errs.NotFound, "refcnt.decr")
	}
	if cnt > p.cnt {
		return 0, t.total, errs.New(errs.IndexOutOfRange, "refcnt.decr")
	}
	p.cnt -= cnt
	t.total -= cnt
	processCnt, totalCnt = p.cnt, t.total
	if p.cnt == 0 {
		t.processes.Delete(p)
	}
	return processCnt, totalCnt, nil
}
