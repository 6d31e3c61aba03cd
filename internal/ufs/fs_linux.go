// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

//go:build linux

package ufs

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// UnixFS is a filesystem that uses the unix package to make io calls.
//
// This is used for proper sand-boxing and full control over the exact syscalls
// being performed.
type UnixFS struct {
	// basePath is the base path for file operations to take place in.
	basePath string

	// dirfd holds the file descriptor of BasePath and is used to ensure
	// operations are restricted into descendants of BasePath.
	dirfd atomic.Int64

	// useOpenat2 controls whether the `openat2` syscall is used instead of the
	// older `openat` syscall.
	useOpenat2 bool
}

// NewUnixFS creates a new sandboxed unix filesystem. BasePath is used as the
// sandbox path, operations on BasePath itself are not allowed, but any
// operations on its descendants are. Symlinks pointing outside BasePath are
// checked and prevented from enabling an escape in a non-raceable manor.
func NewUnixFS(basePath string, useOpenat2 bool) (*UnixFS, error) {
	basePath = strings.TrimSuffix(basePath, "/")
	dirfd, err := unix.Openat(unix.AT_FDCWD, basePath, O_DIRECTORY|O_RDONLY|O_CLOEXEC, 0)
	if err != nil {
		return nil, convertErrorType(&PathError{Op: "open", Path: basePath, Err: err})
	}
	fs := &UnixFS{
		basePath:   basePath,
		useOpenat2: useOpenat2,
	}
	fs.dirfd.Store(int64(dirfd))
	return fs, nil
}

// BasePath returns the base path of the UnixFS sandbox, file operations
// pointing outside this path are prohibited and will be blocked by all
// operations implemented by UnixFS.
func (fs *UnixFS) BasePath() string {
	return fs.basePath
}

// Close releases the file descriptor used to sandbox operations within the
// base path of the filesystem.
func (fs *UnixFS) Close() error {
	fd := fs.dirfd.Swap(-1)
	if fd == -1 {
		return ErrClosed
	}
	return unix.Close(int(fd))
}

// Mkdir creates a new directory with the specified name and permission
// bits (before umask).
func (fs *UnixFS) Mkdir(name string, mode FileMode) error {
	dirfd, name, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return err
	}
	if err := unix.Mkdirat(dirfd, name, uint32(mode)); err != nil {
		return convertErrorType(&PathError{Op: "mkdirat", Path: name, Err: err})
	}
	return nil
}

// MkdirAll creates a directory named path, along with any necessary
// parents. If path is already a directory, MkdirAll does nothing and
// returns nil.
func (fs *UnixFS) MkdirAll(name string, mode FileMode) error {
	name, err := fs.unsafePath(name)
	if err != nil {
		return err
	}
	if name == "." {
		return nil
	}
	return fs.mkdirAll(name, mode)
}

// OpenFile opens the named file with specified flag (O_RDONLY etc.). If the
// file does not exist, and the O_CREATE flag is passed, it is created with
// mode perm (before umask).
func (fs *UnixFS) OpenFile(name string, flag int, mode FileMode) (File, error) {
	dirfd, name, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return nil, err
	}
	return fs.openFileat(dirfd, name, flag, mode)
}

func (fs *UnixFS) openFileat(dirfd int, name string, flag int, mode FileMode) (File, error) {
	fd, err := fs.openat(dirfd, name, flag, mode)
	if err != nil {
		return nil, err
	}
	// The returned File owns fd from here on.
	return os.NewFile(uintptr(fd), name), nil
}

// Touch will attempt to open a file for reading and/or writing. If the file
// does not exist it will be created, and any missing parent directories will
// also be created. The opened file may be truncated, only if `flag` has
// O_TRUNC set.
func (fs *UnixFS) Touch(path string, flag int, mode FileMode) (File, error) {
	if flag&O_CREATE == 0 {
		flag |= O_CREATE
	}
	dirfd, name, closeFd, err := fs.safePath(path)
	defer closeFd()
	if err == nil {
		return fs.openFileat(dirfd, name, flag, mode)
	}
	var pathErr *PathError
	if !errors.Is(err, ErrNotExist) || !errors.As(err, &pathErr) {
		return nil, err
	}
	if err := fs.MkdirAll(pathErr.Path, 0o755); err != nil {
		return nil, err
	}
	// Try to open the file one more time after creating its parent directories.
	return fs.OpenFile(path, flag, mode)
}

// ReadDir reads the named directory and returns all of its entries sorted by
// filename. Entries are described with Lstat, symlinks are never followed.
func (fs *UnixFS) ReadDir(path string) ([]DirEntry, error) {
	dirfd, name, closeFd, err := fs.safePath(path)
	defer closeFd()
	if err != nil {
		return nil, err
	}
	f, err := fs.openFileat(dirfd, name, O_DIRECTORY|O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fs.readDir(f.(*os.File))
}

func (fs *UnixFS) readDir(f *os.File) ([]DirEntry, error) {
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, convertErrorType(err)
	}
	fd := int(f.Fd())
	out := make([]DirEntry, 0, len(names))
	for _, n := range names {
		st, err := fs.Lstatat(fd, n)
		if err != nil {
			// The entry was removed between reading the names and stat'ing it.
			if errors.Is(err, ErrNotExist) {
				continue
			}
			return out, err
		}
		out = append(out, FileInfoToDirEntry(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// Remove removes the named file or (empty) directory.
func (fs *UnixFS) Remove(name string) error {
	dirfd, name, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return err
	}
	// Prevent trying to Remove the base directory.
	if name == "." {
		return &PathError{Op: "remove", Path: name, Err: ErrBadPathResolution}
	}
	err = fs.unlinkat(dirfd, name, 0)
	if err == nil {
		return nil
	}
	err1 := fs.unlinkat(dirfd, name, AT_REMOVEDIR)
	if err1 == nil {
		return nil
	}
	// rmdir(file) returns ENOTDIR on every platform we care about, so use that
	// to decide which of the two errors is the real one.
	if err1 != unix.ENOTDIR {
		err = err1
	}
	return convertErrorType(&PathError{Op: "remove", Path: name, Err: err})
}

// RemoveAll removes path and any children it contains. It removes everything
// it can but returns the first error it encounters. If the path does not
// exist, RemoveAll returns nil.
func (fs *UnixFS) RemoveAll(name string) error {
	cleaned, err := fs.unsafePath(name)
	if err != nil {
		return err
	}
	if cleaned == "." {
		return &PathError{Op: "removeall", Path: name, Err: ErrBadPathResolution}
	}
	dirfd, base, closeFd, err := fs.safePath(cleaned)
	defer closeFd()
	if err != nil {
		// If the parent does not exist, base cannot exist either.
		if errors.Is(err, ErrNotExist) || errors.Is(err, ErrNotDirectory) {
			return nil
		}
		return err
	}
	return fs.removeAllat(dirfd, base)
}

func (fs *UnixFS) removeAllat(parentfd int, name string) error {
	err := fs.unlinkat(parentfd, name, 0)
	if err == nil || err == unix.ENOENT {
		return nil
	}
	st, serr := fs.Lstatat(parentfd, name)
	if serr != nil {
		if errors.Is(serr, ErrNotExist) {
			return nil
		}
		return serr
	}
	if !st.IsDir() {
		return convertErrorType(&PathError{Op: "unlinkat", Path: name, Err: err})
	}

	f, err := fs.openFileat(parentfd, name, O_DIRECTORY|O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return nil
		}
		return err
	}
	names, err := f.(*os.File).Readdirnames(-1)
	if err != nil {
		_ = f.Close()
		return convertErrorType(err)
	}
	var first error
	for _, n := range names {
		if err := fs.removeAllat(int(f.Fd()), n); err != nil && first == nil {
			first = err
		}
	}
	_ = f.Close()
	if first != nil {
		return first
	}
	if err := fs.unlinkat(parentfd, name, AT_REMOVEDIR); err != nil && err != unix.ENOENT {
		return convertErrorType(&PathError{Op: "rmdir", Path: name, Err: err})
	}
	return nil
}

func (fs *UnixFS) unlinkat(dirfd int, name string, flags int) error {
	return ignoringEINTR(func() error {
		return unix.Unlinkat(dirfd, name, flags)
	})
}

// Stat returns a FileInfo describing the named file.
func (fs *UnixFS) Stat(name string) (FileInfo, error) {
	return fs.fstat(name, 0)
}

// Lstat returns a FileInfo describing the named file. If the file is a
// symbolic link, the returned FileInfo describes the symbolic link.
func (fs *UnixFS) Lstat(name string) (FileInfo, error) {
	return fs.fstat(name, AT_SYMLINK_NOFOLLOW)
}

// Lstatat is like Lstat but allows passing an existing directory file
// descriptor rather than needing to resolve one.
func (fs *UnixFS) Lstatat(dirfd int, name string) (FileInfo, error) {
	return fs.fstatat(dirfd, name, AT_SYMLINK_NOFOLLOW)
}

func (fs *UnixFS) fstat(name string, flags int) (FileInfo, error) {
	dirfd, name, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return nil, err
	}
	return fs.fstatat(dirfd, name, flags)
}

func (fs *UnixFS) fstatat(dirfd int, name string, flags int) (FileInfo, error) {
	var s fileStat
	if err := ignoringEINTR(func() error {
		return unix.Fstatat(dirfd, name, &s.sys, flags)
	}); err != nil {
		return nil, convertErrorType(&PathError{Op: "stat", Path: name, Err: err})
	}
	fillFileStatFromSys(&s, name)
	return &s, nil
}

// openat is a wrapper around both unix.Openat and unix.Openat2. If the UnixFS
// was configured to enable openat2 support, unix.Openat2 will be used instead
// of unix.Openat due to having better security properties for our use-case.
func (fs *UnixFS) openat(dirfd int, name string, flag int, mode FileMode) (int, error) {
	// Symlinks inside the origin are never followed.
	flag |= O_NOFOLLOW | O_CLOEXEC

	var fd int
	for {
		var err error
		if fs.useOpenat2 {
			fd, err = unix.Openat2(dirfd, name, &unix.OpenHow{
				Flags:   uint64(flag) | O_LARGEFILE,
				Mode:    uint64(syscallMode(mode)),
				Resolve: unix.RESOLVE_BENEATH,
			})
		} else {
			fd, err = unix.Openat(dirfd, name, flag, uint32(syscallMode(mode)))
		}
		if err == nil {
			break
		}
		// We have to check EINTR here, per issues https://go.dev/issue/11180 and https://go.dev/issue/39237.
		if err == unix.EINTR {
			continue
		}
		return 0, convertErrorType(&PathError{Op: "openat", Path: name, Err: err})
	}

	// Without RESOLVE_BENEATH the kernel did not check where we ended up, so
	// look at what the new descriptor actually points to.
	if !fs.useOpenat2 {
		finalPath, err := filepath.EvalSymlinks(filepath.Join("/proc/self/fd/", strconv.Itoa(fd)))
		if err != nil {
			_ = unix.Close(fd)
			return 0, convertErrorType(err)
		}
		if !fs.unsafeIsPathInsideOfBase(finalPath) {
			_ = unix.Close(fd)
			return 0, &PathError{Op: "openat", Path: name, Err: ErrBadPathResolution}
		}
	}
	return fd, nil
}

func (fs *UnixFS) safePath(path string) (dirfd int, file string, closeFd func(), err error) {
	// Default closeFd to a NO-OP.
	closeFd = func() {}

	var name string
	name, err = fs.unsafePath(path)
	if err != nil {
		return
	}

	// Check if dirfd was closed, this will happen if (*UnixFS).Close()
	// was called.
	fsDirfd := int(fs.dirfd.Load())
	if fsDirfd == -1 {
		err = ErrClosed
		return
	}

	var dir string
	dir, file = filepath.Split(name)
	if dir == "" {
		// `fs.dirfd` is re-used until the filesystem is no-longer needed, so
		// there is nothing to close.
		dirfd = fsDirfd
		return
	}

	dir = strings.TrimSuffix(dir, "/")
	dirfd, err = fs.openat(fsDirfd, dir, O_DIRECTORY|O_RDONLY, 0)
	if err == nil {
		fd := dirfd
		closeFd = func() { _ = unix.Close(fd) }
	}
	return
}

// unsafePath prefixes the given path and prefixes it with the filesystem's
// base path, cleaning the result. The path returned by this function may not
// be inside the filesystem's base path, additional checks are required to
// safely use paths returned by this function.
func (fs *UnixFS) unsafePath(path string) (string, error) {
	r := filepath.Clean(filepath.Join(fs.basePath, strings.TrimPrefix(path, fs.basePath)))

	if fs.unsafeIsPathInsideOfBase(r) {
		// We are operating with dirfds and `*at` syscalls which behave
		// differently if given an absolute path, so hand back a relative one.
		r = strings.TrimPrefix(strings.TrimPrefix(r, fs.basePath), "/")
		if r == "" {
			return ".", nil
		}
		return r, nil
	}

	return "", &PathError{Op: "safePath", Path: path, Err: ErrBadPathResolution}
}

// unsafeIsPathInsideOfBase checks if the given path is inside the filesystem's
// base path.
func (fs *UnixFS) unsafeIsPathInsideOfBase(path string) bool {
	return strings.HasPrefix(strings.TrimSuffix(path, "/")+"/", fs.basePath+"/")
}

// ignoringEINTR makes a function call and repeats it if it returns an
// EINTR error.
func ignoringEINTR(fn func() error) error {
	for {
		err := fn()
		if err != unix.EINTR {
			return err
		}
	}
}

// syscallMode returns the syscall-specific mode bits from Go's portable mode bits.
func syscallMode(i FileMode) (o FileMode) {
	o |= i.Perm()
	if i&ModeSetuid != 0 {
		o |= unix.S_ISUID
	}
	if i&ModeSetgid != 0 {
		o |= unix.S_ISGID
	}
	if i&ModeSticky != 0 {
		o |= unix.S_ISVTX
	}
	return
}
