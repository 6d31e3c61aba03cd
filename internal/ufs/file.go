// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

//go:build linux

package ufs

import (
	"io"
	iofs "io/fs"

	"golang.org/x/sys/unix"
)

// DirEntry is an entry read from a directory.
type DirEntry = iofs.DirEntry

// File describes a readable and/or writable file opened from the store.
type File interface {
	// Name returns the name the file was opened with.
	Name() string

	// Stat returns the FileInfo structure describing the file.
	Stat() (FileInfo, error)

	// Fd returns the integer Unix file descriptor referencing the open file.
	Fd() uintptr

	// Truncate changes the size of the file. It does not change the I/O
	// offset.
	Truncate(size int64) error

	// Sync commits the current contents of the file to stable storage.
	Sync() error

	io.Closer
	io.ReaderAt
	io.WriterAt
}

// FileInfo describes a file and is returned by Stat and Lstat.
type FileInfo = iofs.FileInfo

// FileMode represents a file's mode and permission bits.
type FileMode = iofs.FileMode

const (
	// ModeDir represents a directory.
	ModeDir = iofs.ModeDir
	// ModeSymlink represents a symbolic link.
	ModeSymlink = iofs.ModeSymlink
	// ModeDevice represents a device file.
	ModeDevice = iofs.ModeDevice
	// ModeCharDevice represents a Unix character device, when ModeDevice is set.
	ModeCharDevice = iofs.ModeCharDevice
	// ModeNamedPipe represents a named pipe (FIFO).
	ModeNamedPipe = iofs.ModeNamedPipe
	// ModeSocket represents a Unix domain socket.
	ModeSocket = iofs.ModeSocket
	// ModeSetuid represents setuid.
	ModeSetuid = iofs.ModeSetuid
	// ModeSetgid represents setgid.
	ModeSetgid = iofs.ModeSetgid
	// ModeSticky represents sticky.
	ModeSticky = iofs.ModeSticky
	// ModeType is the mask for the type bits.
	ModeType = iofs.ModeType
	// ModePerm is the mask for the Unix permission bits, 0o777.
	ModePerm = iofs.ModePerm
)

const (
	O_RDONLY    = unix.O_RDONLY
	O_WRONLY    = unix.O_WRONLY
	O_RDWR      = unix.O_RDWR
	O_APPEND    = unix.O_APPEND
	O_CREATE    = unix.O_CREAT
	O_EXCL      = unix.O_EXCL
	O_TRUNC     = unix.O_TRUNC
	O_DIRECTORY = unix.O_DIRECTORY
	O_NOFOLLOW  = unix.O_NOFOLLOW
	O_CLOEXEC   = unix.O_CLOEXEC
	O_LARGEFILE = unix.O_LARGEFILE
)

const (
	AT_SYMLINK_NOFOLLOW = unix.AT_SYMLINK_NOFOLLOW
	AT_REMOVEDIR        = unix.AT_REMOVEDIR
	AT_EMPTY_PATH       = unix.AT_EMPTY_PATH
)

// FileInfoToDirEntry returns a DirEntry that returns information from info.
func FileInfoToDirEntry(info FileInfo) DirEntry {
	return iofs.FileInfoToDirEntry(info)
}
