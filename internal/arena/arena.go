// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arena manages the anonymous shared-memory segment backing the
// whole store: a single mmap'd region, created once by the master
// process and attached to by every worker, carved by the library
// façade into library state followed by region data.
package arena

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Arena is a memory-mapped shared segment.
type Arena struct {
	fd   int
	size int64
	data []byte
	// owned is true for the process that created the backing fd; it
	// closes the fd on Close. Attached workers leave it open (the
	// kernel keeps the memfd alive as long as any process has it
	// mapped or a reference to its fd).
	owned bool
}

// Create allocates a new anonymous shared segment of size bytes,
// backed by a memfd so that worker processes can attach to it by
// inheriting the file descriptor across fork or receiving it over a
// socket.
func Create(name string, size int64) (*Arena, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("arena: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("arena: ftruncate: %w", err)
	}
	return mapFd(fd, size, true)
}

// Attach maps an existing shared segment given its file descriptor
// (typically received via SCM_RIGHTS from the master, or inherited
// across fork). The Arena does not take ownership of fd for closing
// purposes beyond unmapping.
func Attach(fd int, size int64) (*Arena, error) {
	return mapFd(fd, size, false)
}

func mapFd(fd int, size int64, owned bool) (*Arena, error) {
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if owned {
			unix.Close(fd)
		}
		return nil, fmt.Errorf("arena: mmap: %w", err)
	}
	return &Arena{fd: fd, size: size, data: data, owned: owned}, nil
}

// FD returns the underlying file descriptor, for passing to a worker
// process that will attach via Attach.
func (a *Arena) FD() int { return a.fd }

// Size returns the total mapped length in bytes.
func (a *Arena) Size() int64 { return a.size }

// Bytes returns the full mapped segment. Callers must not retain
// slices of it past Close.
func (a *Arena) Bytes() []byte { return a.data }

// Slice returns the segment bytes in [off, off+length).
func (a *Arena) Slice(off, length int64) []byte {
	return a.data[off : off+length]
}

// Close unmaps the segment. If this Arena owns the backing fd (it was
// returned by Create), the fd is also closed.
func (a *Arena) Close() error {
	if a.data != nil {
		if err := unix.Munmap(a.data); err != nil {
			return fmt.Errorf("arena: munmap: %w", err)
		}
		a.data = nil
	}
	if a.owned {
		return os.NewFile(uintptr(a.fd), "arena").Close()
	}
	return nil
}
