// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package library implements process-state init/teardown, worker
// attach, the process-global root table (g_root), and recycling of
// dead workers' per-process roots (proot). Init builds the whole
// allocator/table/collector stack in rollback-capable phases; attached
// workers hold a per-process alive mutex whose release is the crash
// signal RecycleRoots probes for.
package library

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/shmtable/shmtable/internal/arena"
	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/gc"
	"github.com/shmtable/shmtable/internal/page"
	"github.com/shmtable/shmtable/internal/region"
	"github.com/shmtable/shmtable/internal/robustmutex"
	"github.com/shmtable/shmtable/internal/slab"
	"github.com/shmtable/shmtable/internal/table"
)

// phase records how far Init progressed, so a failure partway through
// unwinds only the phases that actually completed.
type phase int

const (
	phaseNone phase = iota
	phaseArena
	phaseRegion
	phasePage
	phaseSlab
	phaseTablePool
	phaseGRoot
	phasePRoots
)

// Config configures a freshly created library. There is no config file
// or environment lookup; the embedding host fixes page size and region
// layout once, at Init time, through this struct.
type Config struct {
	// ArenaName names the memfd backing the shared segment (diagnostic
	// only; memfds are anonymous).
	ArenaName string
	PageSize  int
	// PagesPerRegion and RegionCount size the region allocator.
	PagesPerRegion int
	RegionCount    int
	// MinShift/MaxShift bound the slab pool's power-of-two size
	// classes.
	MinShift, MaxShift uint
	// GCTargetUsec is the collector's per-step wall-time budget.
	GCTargetUsec int64
	// Opportunistic selects whether table mutations probabilistically
	// drive collector steps, vs. leaving that to an external timer.
	Opportunistic bool
	// AliveDir is the directory holding per-process alive-mutex lock
	// files.
	AliveDir string
	Logger   *log.Logger
}

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = 4096
	}
	if c.PagesPerRegion == 0 {
		c.PagesPerRegion = 64
	}
	if c.RegionCount == 0 {
		c.RegionCount = 4
	}
	if c.MaxShift == 0 {
		c.MinShift, c.MaxShift = 3, 12 // 8 bytes .. page size
	}
	if c.GCTargetUsec == 0 {
		c.GCTargetUsec = 1500
	}
	if c.AliveDir == "" {
		c.AliveDir = os.TempDir()
	}
	if c.ArenaName == "" {
		c.ArenaName = "shmtable"
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "shmtable: ", log.LstdFlags)
	}
	return c
}

// ProcessRecord is one entry in the library's p_roots list: a worker's
// proot table, its alive mutex, and enough identity to recycle it once
// the owner is confirmed dead.
type ProcessRecord struct {
	PID       int
	Proot     *table.Table
	alive     *robustmutex.Mutex
	alivePath string
}

// LibraryState is the shared, process-wide state of the store: the
// allocator stack, the table pool and its collector, the process-global
// root table, and the list of attached workers' roots. Exactly one OS
// process's heap holds this struct; other attached processes are
// clients of it rather than independent mutators of raw shared bytes —
// only the arena mapping and the alive-mutex files are genuinely
// cross-process (see DESIGN.md).
type LibraryState struct {
	cfg Config

	mu    sync.Mutex
	phase phase

	arena  *arena.Arena
	region *region.Allocator
	pages  *page.Pool
	slab   *slab.Pool
	gc     *gc.Collector
	tables *table.Pool
	gRoot  *table.Table

	pRootsMu sync.Mutex
	pRoots   []*ProcessRecord
}

// ProcessState is one attached process's handle: its pid, its proot,
// and a back-pointer to the shared library state. Every client ABI
// call (root package shmtable) is made through one of these.
type ProcessState struct {
	PID    int
	Lib    *LibraryState
	Proot  *table.Table
	record *ProcessRecord
}

// Tables returns the table pool, for the client ABI's New/Resolve.
func (lib *LibraryState) Tables() *table.Pool { return lib.tables }

// Collector returns the garbage collector, for callers that drive Run
// themselves (non-opportunistic mode) or that inspect GC statistics.
func (lib *LibraryState) Collector() *gc.Collector { return lib.gc }

// GRoot returns the process-global root table.
func (lib *LibraryState) GRoot() *table.Table { return lib.gRoot }

// Config returns the library's configuration.
func (lib *LibraryState) Config() Config { return lib.cfg }

// Init creates a fresh shared arena and initialises region, page, slab,
// table-pool, collector, and g_root in order, then attaches the calling
// (master) process the same way WorkerInit attaches any other. On any
// failure, everything initialised so far is unwound and a non-nil error
// is returned.
func Init(cfg Config) (*LibraryState, *ProcessState, error) {
	lib := &LibraryState{cfg: cfg.withDefaults()}

	metaSize := int64(lib.cfg.PageSize)
	regionBytes := int64(lib.cfg.PagesPerRegion) * int64(lib.cfg.RegionCount) * int64(lib.cfg.PageSize)
	ar, err := arena.Create(lib.cfg.ArenaName, metaSize+regionBytes)
	if err != nil {
		return nil, nil, errs.Wrap(errs.OutOfMemory, "library.init", err)
	}
	lib.arena = ar
	lib.phase = phaseArena

	reg, err := region.Init(lib.cfg.PagesPerRegion, lib.cfg.RegionCount, true)
	if err != nil {
		lib.teardown()
		return nil, nil, err
	}
	lib.region = reg
	lib.phase = phaseRegion

	lib.pages = page.New(reg, lib.cfg.PageSize)
	lib.phase = phasePage

	sl, err := slab.New(lib.pages, lib.cfg.PageSize, lib.cfg.MinShift, lib.cfg.MaxShift)
	if err != nil {
		lib.teardown()
		return nil, nil, err
	}
	lib.slab = sl
	lib.phase = phaseSlab

	lib.gc = gc.New(lib.cfg.GCTargetUsec)
	lib.gc.SetLogger(lib.cfg.Logger)
	lib.tables = table.NewPool(lib.slab, lib.gc, lib.cfg.Opportunistic)
	lib.phase = phaseTablePool

	gRoot, err := lib.tables.New()
	if err != nil {
		lib.teardown()
		return nil, nil, err
	}
	if err := lib.gc.AddRoot(gRoot.GCHead()); err != nil {
		lib.teardown()
		return nil, nil, err
	}
	lib.gRoot = gRoot
	lib.phase = phaseGRoot

	record, err := attachProcess(lib)
	if err != nil {
		lib.teardown()
		return nil, nil, err
	}
	lib.phase = phasePRoots

	lib.cfg.Logger.Printf("initialised arena %q: %d regions x %d pages x %d bytes",
		lib.cfg.ArenaName, lib.cfg.RegionCount, lib.cfg.PagesPerRegion, lib.cfg.PageSize)
	return lib, &ProcessState{PID: record.PID, Lib: lib, Proot: record.Proot, record: record}, nil
}

// WorkerInit attaches an additional process to an already-initialised
// library: a per-process record is created, a proot table allocated
// and registered as a collector root, and this process's alive mutex
// is locked for the remainder of its lifetime.
func WorkerInit(lib *LibraryState) (*ProcessState, error) {
	record, err := attachProcess(lib)
	if err != nil {
		return nil, err
	}
	return &ProcessState{PID: record.PID, Lib: lib, Proot: record.Proot, record: record}, nil
}

// attachProcess is the shared tail of Init (master) and WorkerInit
// (workers): allocate a proot, add it as a collector root, lock this
// process's alive mutex, and splice the record into p_roots.
func attachProcess(lib *LibraryState) (*ProcessRecord, error) {
	proot, err := lib.tables.New()
	if err != nil {
		return nil, err
	}
	if err := lib.gc.AddRoot(proot.GCHead()); err != nil {
		return nil, err
	}

	pid := os.Getpid()
	path := filepath.Join(lib.cfg.AliveDir, fmt.Sprintf("%s-alive-%d-%p.lock", lib.cfg.ArenaName, pid, proot))
	alive, err := robustmutex.Open(path)
	if err != nil {
		lib.gc.RemoveRoot(proot.GCHead())
		return nil, err
	}
	// A fresh alive mutex must never report ownerDied; that would mean
	// its lock file was reused from a still-undetected dead process.
	if ownerDied, err := alive.Lock(); err != nil {
		lib.gc.RemoveRoot(proot.GCHead())
		return nil, err
	} else if ownerDied {
		lib.gc.RemoveRoot(proot.GCHead())
		return nil, errs.New(errs.StateInvalid, "library.attachProcess")
	}

	record := &ProcessRecord{PID: pid, Proot: proot, alive: alive, alivePath: path}
	lib.pRootsMu.Lock()
	lib.pRoots = append(lib.pRoots, record)
	lib.pRootsMu.Unlock()
	return record, nil
}

// GetProcessState looks up the attached process identified by pid.
func (lib *LibraryState) GetProcessState(pid int) (*ProcessState, error) {
	lib.pRootsMu.Lock()
	defer lib.pRootsMu.Unlock()
	for _, rec := range lib.pRoots {
		if rec.PID == pid {
			return &ProcessState{PID: pid, Lib: lib, Proot: rec.Proot, record: rec}, nil
		}
	}
	return nil, errs.New(errs.NotFound, "library.getProcessState")
}

// RecycleRoots walks p_roots and try-locks each record's alive mutex.
// Acquiring it is definitive proof the owning process died (a live
// owner holds it for its entire lifetime and never releases it
// voluntarily); on success the record's alive mutex, proot root
// registration, and p_roots slot are all torn down, and the proot is
// queued as a sweep candidate so the collector can reclaim it and
// everything only it reached. max caps how many
// records are processed in this call; max <= 0 means unlimited.
func (lib *LibraryState) RecycleRoots(max int) (int, error) {
	lib.pRootsMu.Lock()
	defer lib.pRootsMu.Unlock()

	count := 0
	kept := lib.pRoots[:0:0]
	for _, rec := range lib.pRoots {
		if max > 0 && count >= max {
			kept = append(kept, rec)
			continue
		}
		// Probe with a fresh handle to the same lock file rather than
		// rec.alive itself: in a real deployment the recycler runs in
		// a different OS process than any live owner, so it always
		// trylocks through its own file descriptor. flock(2) locks are
		// scoped to the open file description, so a fresh handle here
		// correctly blocks against a still-alive owner's original fd
		// and correctly acquires once that fd is gone (clean exit or
		// crash).
		probe, err := robustmutex.Open(rec.alivePath)
		if err != nil {
			return count, err
		}
		acquired, _, err := probe.TryLock()
		if err != nil {
			probe.Destroy()
			return count, err
		}
		if !acquired {
			probe.Destroy()
			kept = append(kept, rec)
			continue
		}
		if err := probe.Unlock(); err != nil {
			return count, err
		}
		if err := probe.Destroy(); err != nil {
			return count, err
		}
		os.Remove(rec.alivePath)
		if err := lib.gc.RemoveRoot(rec.Proot.GCHead()); err != nil && !errs.Is(err, errs.NotFound) {
			return count, err
		}
		lib.gc.PushToSweep(rec.Proot.GCHead())
		lib.cfg.Logger.Printf("recycled dead process %d's root", rec.PID)
		count++
	}
	lib.pRoots = kept
	return count, nil
}

// teardown unwinds initialisation through whatever phase was last
// recorded, so a half-initialised library is safely reclaimable. It is
// also the first half of a full Destroy.
func (lib *LibraryState) teardown() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if lib.phase >= phasePRoots {
		lib.pRootsMu.Lock()
		for _, rec := range lib.pRoots {
			keep(lib.gc.RemoveRoot(rec.Proot.GCHead()))
			keep(rec.alive.Unlock())
			keep(rec.alive.Destroy())
		}
		lib.pRoots = nil
		lib.pRootsMu.Unlock()
	}
	if lib.phase >= phaseGRoot {
		keep(lib.gc.RemoveRoot(lib.gRoot.GCHead()))
	}
	if lib.phase >= phaseTablePool {
		keep(lib.gc.Destroy())
	}
	if lib.phase >= phaseRegion {
		lib.region.Destroy()
	}
	if lib.phase >= phaseArena {
		keep(lib.arena.Close())
	}
	lib.phase = phaseNone
	return first
}

// Destroy tears down a fully (or partially) initialised library:
// recycles every live p_root, removes g_root from the collector,
// drains and destroys the collector and allocators, then unmaps and
// closes the shared arena.
func (lib *LibraryState) Destroy() error {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	if lib.phase == phaseNone {
		return errs.New(errs.NotReady, "library.destroy")
	}
	return lib.teardown()
}
