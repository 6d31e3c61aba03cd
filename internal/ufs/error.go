// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ufs

import (
	"errors"
	iofs "io/fs"

	"golang.org/x/sys/unix"
)

var (
	// ErrIsDirectory is an error for when an operation that operates only on
	// files is given a path to a directory.
	ErrIsDirectory = errors.New("is a directory")
	// ErrNotDirectory is an error for when an operation that operates only on
	// directories is given a path to a file.
	ErrNotDirectory = errors.New("not a directory")
	// ErrBadPathResolution is an error for when a sand-boxed filesystem
	// resolves a given path to a forbidden location.
	ErrBadPathResolution = errors.New("bad path resolution")
	// ErrLocked is returned when an access handle cannot be opened because
	// another access handle already holds the file.
	ErrLocked = errors.New("access handle already open for file")

	// ErrClosed is an error for when an entry was accessed after being closed.
	ErrClosed = iofs.ErrClosed
	// ErrInvalid is an error for when an invalid argument was used.
	ErrInvalid = iofs.ErrInvalid
	// ErrExist is an error for when an entry already exists.
	ErrExist = iofs.ErrExist
	// ErrNotExist is an error for when an entry does not exist.
	ErrNotExist = iofs.ErrNotExist
	// ErrPermission is an error for when the required permissions to perform an
	// operation are missing.
	ErrPermission = iofs.ErrPermission
)

// PathError records an error and the operation and file path that caused it.
type PathError = iofs.PathError

// convertErrorType converts errors into our custom errors to ensure consistent
// error values.
func convertErrorType(err error) error {
	if err == nil {
		return nil
	}
	var pErr *PathError
	if !errors.As(err, &pErr) {
		return err
	}
	var converted error
	switch {
	case errors.Is(pErr.Err, unix.EEXIST):
		converted = ErrExist
	case errors.Is(pErr.Err, unix.EISDIR):
		converted = ErrIsDirectory
	case errors.Is(pErr.Err, unix.ENOTDIR):
		converted = ErrNotDirectory
	case errors.Is(pErr.Err, unix.ENOENT):
		converted = ErrNotExist
	case errors.Is(pErr.Err, unix.EPERM), errors.Is(pErr.Err, unix.EACCES):
		converted = ErrPermission
	case errors.Is(pErr.Err, unix.EWOULDBLOCK):
		converted = ErrLocked
	// A cross-device link or a symlink loop both mean the path tried to leave
	// the base directory.
	case errors.Is(pErr.Err, unix.EXDEV), errors.Is(pErr.Err, unix.ELOOP):
		converted = ErrBadPathResolution
	default:
		return err
	}
	return &PathError{Op: pErr.Op, Path: pErr.Path, Err: converted}
}
