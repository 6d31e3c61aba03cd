// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

//go:build linux

package ufs

import (
	"errors"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// AccessHandle is an exclusive, synchronous handle on a single regular file
// in the store. Only one AccessHandle may be open for a file at any time, a
// second attempt fails with ErrLocked until the first one is closed.
//
// The exclusive lock is a flock(2) on the open file description, so two
// handles opened from the same process conflict with each other just like
// handles from different processes do.
type AccessHandle struct {
	mu     sync.Mutex
	name   string
	f      File
	closed bool
}

// OpenAccessHandle opens name for reading and writing, creating it and any
// missing parent directories if needed, and takes the exclusive lock on it.
func (fs *UnixFS) OpenAccessHandle(name string) (*AccessHandle, error) {
	f, err := fs.Touch(name, O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, convertErrorType(err)
	}
	if !st.Mode().IsRegular() {
		_ = f.Close()
		return nil, &PathError{Op: "open", Path: name, Err: ErrIsDirectory}
	}
	if err := ignoringEINTR(func() error {
		return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	}); err != nil {
		_ = f.Close()
		return nil, convertErrorType(&PathError{Op: "flock", Path: name, Err: err})
	}
	return &AccessHandle{name: name, f: f}, nil
}

// Name returns the path the handle was opened with.
func (h *AccessHandle) Name() string {
	return h.name
}

// ReadAt reads up to len(p) bytes starting at off. Reading past the end of
// the file is not an error, the returned count is simply short.
func (h *AccessHandle) ReadAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	n, err := h.f.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// WriteAt writes p at off, extending the file if required.
func (h *AccessHandle) WriteAt(p []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	return h.f.WriteAt(p, off)
}

// Truncate changes the size of the file to size bytes.
func (h *AccessHandle) Truncate(size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return h.f.Truncate(size)
}

// Size returns the current size of the file in bytes.
func (h *AccessHandle) Size() (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	st, err := h.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Flush commits any written data to stable storage.
func (h *AccessHandle) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return h.f.Sync()
}

// Close releases the lock and the underlying file. Calling Close more than
// once returns ErrClosed.
func (h *AccessHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	_ = unix.Flock(int(h.f.Fd()), unix.LOCK_UN)
	return h.f.Close()
}
