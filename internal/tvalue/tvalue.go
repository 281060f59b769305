// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tvalue implements the typed-value ABI: a tagged {tag, bytes}
// pair carrying one of NIL, STRING, NUMBER, BOOLEAN, INTEGER, U64, or
// TABLE. The tag lives in its own field rather than as the first
// payload byte, so key ordering over the raw payload bytes stays
// deterministic, both for values living in a table entry and for
// values crossing the client ABI.
package tvalue

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/shmtable/shmtable/internal/errs"
	"github.com/shmtable/shmtable/internal/handle"
)

// Tag identifies a Value's payload interpretation.
type Tag uint8

const (
	Nil Tag = iota
	String
	Number
	Boolean
	Integer
	U64
	Table
)

func (t Tag) String() string {
	switch t {
	case Nil:
		return "NIL"
	case String:
		return "STRING"
	case Number:
		return "NUMBER"
	case Boolean:
		return "BOOLEAN"
	case Integer:
		return "INTEGER"
	case U64:
		return "U64"
	case Table:
		return "TABLE"
	default:
		return "UNKNOWN"
	}
}

// Value is the in-memory representation of a tvalue: a tag plus its raw
// payload bytes. The entry that embeds a Value owns these bytes; they
// are copied in, never aliased.
type Value struct {
	Tag   Tag
	Bytes []byte
}

// NilValue is the canonical NIL value.
var NilValue = Value{Tag: Nil}

// NewString returns a STRING value. The stored payload is
// null-terminated.
func NewString(s string) Value {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return Value{Tag: String, Bytes: b}
}

// NewNumber returns a NUMBER (IEEE 754 double) value.
func NewNumber(f float64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(f))
	return Value{Tag: Number, Bytes: b}
}

// NewBoolean returns a BOOLEAN value.
func NewBoolean(v bool) Value {
	b := byte(0)
	if v {
		b = 1
	}
	return Value{Tag: Boolean, Bytes: []byte{b}}
}

// NewInteger returns an INTEGER (machine int, stored as 64-bit) value.
func NewInteger(i int64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(i))
	return Value{Tag: Integer, Bytes: b}
}

// NewU64 returns a U64 value.
func NewU64(u uint64) Value {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, u)
	return Value{Tag: U64, Bytes: b}
}

// NewTable returns a TABLE value whose bytes hold a handle to the
// referenced table.
func NewTable(h handle.Handle) Value {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint64(b[0:8], uint64(h.Offset))
	binary.LittleEndian.PutUint32(b[8:12], h.Generation)
	return Value{Tag: Table, Bytes: b}
}

// IsNil reports whether v is the NIL value.
func (v Value) IsNil() bool { return v.Tag == Nil }

// AsString returns the value's string payload (terminator stripped).
// Returns Unsupported if v is not a STRING.
func (v Value) AsString() (string, error) {
	if v.Tag != String {
		return "", errs.New(errs.Unsupported, "tvalue.asString")
	}
	if len(v.Bytes) == 0 {
		return "", nil
	}
	return string(v.Bytes[:len(v.Bytes)-1]), nil
}

// AsNumber returns the value's float64 payload.
func (v Value) AsNumber() (float64, error) {
	if v.Tag != Number || len(v.Bytes) != 8 {
		return 0, errs.New(errs.Unsupported, "tvalue.asNumber")
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Bytes)), nil
}

// AsBoolean returns the value's bool payload.
func (v Value) AsBoolean() (bool, error) {
	if v.Tag != Boolean || len(v.Bytes) != 1 {
		return false, errs.New(errs.Unsupported, "tvalue.asBoolean")
	}
	return v.Bytes[0] != 0, nil
}

// AsInteger returns the value's int64 payload.
func (v Value) AsInteger() (int64, error) {
	if v.Tag != Integer || len(v.Bytes) != 8 {
		return 0, errs.New(errs.Unsupported, "tvalue.asInteger")
	}
	return int64(binary.LittleEndian.Uint64(v.Bytes)), nil
}

// AsU64 returns the value's uint64 payload.
func (v Value) AsU64() (uint64, error) {
	if v.Tag != U64 || len(v.Bytes) != 8 {
		return 0, errs.New(errs.Unsupported, "tvalue.asU64")
	}
	return binary.LittleEndian.Uint64(v.Bytes), nil
}

// AsTable returns the value's table handle payload.
func (v Value) AsTable() (handle.Handle, error) {
	if v.Tag != Table || len(v.Bytes) != 12 {
		return handle.Nil, errs.New(errs.Unsupported, "tvalue.asTable")
	}
	return handle.Handle{
		Offset:     int64(binary.LittleEndian.Uint64(v.Bytes[0:8])),
		Generation: binary.LittleEndian.Uint32(v.Bytes[8:12]),
	}, nil
}

// Compare orders two values lexicographically over their raw bytes,
// with Tag as the primary sort key, so two keys of different tags
// never compare equal.
func Compare(a, b Value) int {
	if a.Tag != b.Tag {
		if a.Tag < b.Tag {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.Bytes, b.Bytes)
}

// Equal reports whether a and b are byte-equal values of the same tag.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// Clone returns a deep copy of v, so the copy can be owned independently
// of whatever buffer v.Bytes currently aliases.
func (v Value) Clone() Value {
	if v.Bytes == nil {
		return Value{Tag: v.Tag}
	}
	b := make([]byte, len(v.Bytes))
	copy(b, v.Bytes)
	return Value{Tag: v.Tag, Bytes: b}
}
