// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package robustmutex

import (
	"path/filepath"
	"testing"

	"github.com/shmtable/shmtable/internal/errs"
)

func TestLockUnlockCleanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Destroy()

	ownerDied, err := m.Lock()
	if err != nil {
		t.Fatal(err)
	}
	if ownerDied {
		t.Fatal("first ever Lock reported ownerDied")
	}
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}

	ownerDied, err = m.Lock()
	if err != nil {
		t.Fatal(err)
	}
	if ownerDied {
		t.Fatal("Lock after a clean Unlock reported ownerDied")
	}
	if err := m.Unlock(); err != nil {
		t.Fatal(err)
	}
}

func TestDoubleLockIsStateInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Destroy()

	if _, err := m.Lock(); err != nil {
		t.Fatal(err)
	}
	defer m.Unlock()
	if _, err := m.Lock(); !errs.Is(err, errs.StateInvalid) {
		t.Fatalf("re-locking an already-held handle: got %v, want StateInvalid", err)
	}
}

func TestOwnerDeathIsDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	dead, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dead.Lock(); err != nil {
		t.Fatal(err)
	}
	// Simulate the holder crashing: close the fd without Unlock. The
	// kernel releases the flock automatically, but the dirty mark
	// written by Lock is left on disk.
	if err := dead.f.Close(); err != nil {
		t.Fatal(err)
	}

	survivor, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer survivor.Destroy()
	ownerDied, err := survivor.Lock()
	if err != nil {
		t.Fatal(err)
	}
	if !ownerDied {
		t.Fatal("Lock after simulated crash did not report ownerDied")
	}
	if err := survivor.Unlock(); err != nil {
		t.Fatal(err)
	}

	// A subsequent, non-crashing acquisition should see the mutex
	// marked consistent again.
	again, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer again.Destroy()
	ownerDied, err = again.Lock()
	if err != nil {
		t.Fatal(err)
	}
	if ownerDied {
		t.Fatal("Lock after a clean recovery still reported ownerDied")
	}
	again.Unlock()
}

func TestTryLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	holder, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Destroy()
	if _, err := holder.Lock(); err != nil {
		t.Fatal(err)
	}

	contender, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer contender.f.Close()
	acquired, _, err := contender.TryLock()
	if err != nil {
		t.Fatal(err)
	}
	if acquired {
		t.Fatal("TryLock succeeded while another handle held the lock")
	}

	holder.Unlock()
	acquired, ownerDied, err := contender.TryLock()
	if err != nil {
		t.Fatal(err)
	}
	if !acquired {
		t.Fatal("TryLock failed to acquire a free mutex")
	}
	if ownerDied {
		t.Fatal("TryLock after a clean Unlock reported ownerDied")
	}
	contender.Unlock()
}
