// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package refcnt

import (
	"testing"

	"github.com/shmtable/shmtable/internal/errs"
)

func TestIncrDecrTotals(t *testing.T) {
	tr := New()

	pc, total := tr.Incr(100, 2)
	if pc != 2 || total != 2 {
		t.Fatalf("got (%d, %d), want (2, 2)", pc, total)
	}

	pc, total = tr.Incr(200, 3)
	if pc != 3 || total != 5 {
		t.Fatalf("got (%d, %d), want (3, 5)", pc, total)
	}

	pc, total = tr.Incr(100, 1)
	if pc != 3 || total != 6 {
		t.Fatalf("got (%d, %d), want (3, 6)", pc, total)
	}

	if got, err := tr.ProcessRefCount(100); err != nil || got != 3 {
		t.Fatalf("ProcessRefCount(100) = (%d, %v), want (3, nil)", got, err)
	}
	if got := tr.TotalRefCount(); got != 6 {
		t.Fatalf("TotalRefCount() = %d, want 6", got)
	}

	pc, total, err := tr.Decr(100, 3)
	if err != nil || pc != 0 || total != 3 {
		t.Fatalf("Decr(100, 3) = (%d, %d, %v), want (0, 3, nil)", pc, total, err)
	}
	if _, err := tr.ProcessRefCount(100); !errs.Is(err, errs.NotFound) {
		t.Fatalf("ProcessRefCount(100) after drain = %v, want NotFound", err)
	}
}

func TestDecrUnknownProcess(t *testing.T) {
	tr := New()
	if _, _, err := tr.Decr(1, 1); !errs.Is(err, errs.NotFound) {
		t.Fatalf("Decr on unknown pid = %v, want NotFound", err)
	}
}

func TestDecrUnderflow(t *testing.T) {
	tr := New()
	tr.Incr(1, 2)
	if _, _, err := tr.Decr(1, 3); !errs.Is(err, errs.IndexOutOfRange) {
		t.Fatalf("Decr below zero = %v, want IndexOutOfRange", err)
	}
}
