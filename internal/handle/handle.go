// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package handle defines typed, generation-checked indices into a
// pool, used everywhere a table reference is stored instead of a raw
// pointer.
package handle

// Handle identifies one slot in some pool by a pool-defined Offset plus
// a generation counter, so a handle kept past its slot's reuse is
// detected rather than silently aliasing the new occupant. The table
// pool uses its registry slot index as Offset; the slab pool uses the
// object's byte offset and a fixed generation of 1.
type Handle struct {
	Offset     int64
	Generation uint32
}

// Nil is the zero Handle, never a valid allocation.
var Nil = Handle{}

// IsNil reports whether h is the zero Handle.
func (h Handle) IsNil() bool {
	return h == Nil
}
