// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package robustmutex implements a process-shared, error-checking,
// robust mutex: a lock that surfaces owner-death and lets a surviving
// process mark it consistent and proceed.
//
// It is built on flock(2) rather than a hand-rolled primitive: the
// kernel releases an flock'd descriptor automatically when the holding
// process exits or is killed, for any reason, which is exactly the
// owner-death signal a POSIX robust mutex provides. A one-byte "dirty"
// marker co-located in the lock file records whether the last holder
// unlocked cleanly, so a successor can distinguish "acquired after
// owner death" from "acquired after a clean unlock."
package robustmutex

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/shmtable/shmtable/internal/errs"
)

const (
	markClean = 0
	markDirty = 1
)

// Mutex is a robust, process-shared mutex backed by an flock'd file.
type Mutex struct {
	f      *os.File
	locked bool
}

// Open opens (creating if necessary) the lock file at path.
func Open(path string) (*Mutex, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errs.Wrap(errs.ArgInvalid, "robustmutex.open", err)
	}
	if fi, err := f.Stat(); err == nil && fi.Size() == 0 {
		if _, err := f.Write([]byte{markClean}); err != nil {
			f.Close()
			return nil, errs.Wrap(errs.ArgInvalid, "robustmutex.open", err)
		}
	}
	return &Mutex{f: f}, nil
}

func (m *Mutex) readMark() (byte, error) {
	buf := make([]byte, 1)
	if _, err := m.f.ReadAt(buf, 0); err != nil {
		return markClean, err
	}
	return buf[0], nil
}

func (m *Mutex) writeMark(b byte) error {
	_, err := m.f.WriteAt([]byte{b}, 0)
	return err
}

// Lock acquires the mutex, blocking until available. If the previous
// holder died while it held the lock (its dirty mark was never cleared
// by a matching Unlock), ownerDied is true and the mutex is marked
// consistent as part of this call. Calling Lock again from a holder
// that already owns it returns a StateInvalid error rather than
// deadlocking or double-acquiring.
func (m *Mutex) Lock() (ownerDied bool, err error) {
	if m.locked {
		return false, errs.New(errs.StateInvalid, "robustmutex.lock")
	}
	if err := unix.Flock(int(m.f.Fd()), unix.LOCK_EX); err != nil {
		return false, errs.Wrap(errs.StateInvalid, "robustmutex.lock", err)
	}
	m.locked = true
	mark, err := m.readMark()
	if err != nil {
		m.unlockOS()
		m.locked = false
		return false, errs.Wrap(errs.StateInvalid, "robustmutex.lock", err)
	}
	if mark == markDirty {
		ownerDied = true
	}
	if err := m.writeMark(markDirty); err != nil {
		m.unlockOS()
		m.locked = false
		return false, errs.Wrap(errs.StateInvalid, "robustmutex.lock", err)
	}
	return ownerDied, nil
}

// TryLock attempts to acquire the mutex without blocking. It returns
// (false, false, nil) if some other process currently holds it.
func (m *Mutex) TryLock() (acquired, ownerDied bool, err error) {
	if m.locked {
		return false, false, errs.New(errs.StateInvalid, "robustmutex.tryLock")
	}
	if err := unix.Flock(int(m.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return false, false, nil
		}
		return false, false, errs.Wrap(errs.StateInvalid, "robustmutex.tryLock", err)
	}
	m.locked = true
	mark, err := m.readMark()
	if err != nil {
		m.unlockOS()
		m.locked = false
		return false, false, errs.Wrap(errs.StateInvalid, "robustmutex.tryLock", err)
	}
	if err := m.writeMark(markDirty); err != nil {
		m.unlockOS()
		m.locked = false
		return false, false, errs.Wrap(errs.StateInvalid, "robustmutex.tryLock", err)
	}
	return true, mark == markDirty, nil
}

func (m *Mutex) unlockOS() error {
	return unix.Flock(int(m.f.Fd()), unix.LOCK_UN)
}

// Unlock marks the mutex consistent (clean) and releases it. Unlocking
// a mutex not held by this handle is a StateInvalid error.
func (m *Mutex) Unlock() error {
	if !m.locked {
		return errs.New(errs.StateInvalid, "robustmutex.unlock")
	}
	if err := m.writeMark(markClean); err != nil {
		return errs.Wrap(errs.StateInvalid, "robustmutex.unlock", err)
	}
	if err := m.unlockOS(); err != nil {
		return errs.Wrap(errs.StateInvalid, "robustmutex.unlock", err)
	}
	m.locked = false
	return nil
}

// Destroy closes the lock file. It is an error to destroy a mutex this
// handle currently holds locked.
func (m *Mutex) Destroy() error {
	if m.locked {
		return errs.New(errs.NotReady, "robustmutex.destroy")
	}
	return m.f.Close()
}

// CloseDirty closes the underlying lock file descriptor without
// writing the clean mark or releasing the flock in an orderly way,
// simulating an abrupt process exit (crash, SIGKILL). The kernel still
// releases the flock when the last fd referencing it closes, so a
// subsequent Lock by a survivor observes ownerDied, exactly as it would
// for a real crash. Used by crash-recovery tests, and usable by a
// host's own fatal-signal handler that can't reach Unlock before
// exiting.
func (m *Mutex) CloseDirty() error {
	return m.f.Close()
}

// Path returns the backing file's name, for diagnostics.
func (m *Mutex) Path() string {
	return m.f.Name()
}

func (m *Mutex) String() string {
	return fmt.Sprintf("robustmutex(%s, locked=%v)", m.f.Name(), m.locked)
}
