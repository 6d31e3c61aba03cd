// SPDX-License-Identifier: BSD-3-Clause

// Code in this file was derived from `go/src/os/path.go`.

// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the `go.LICENSE` file.

//go:build linux

package ufs

import (
	"strings"

	"golang.org/x/sys/unix"
)

// mkdirAll is a recursive Mkdir implementation. Symlinks are never treated as
// directories since every open inside the store uses O_NOFOLLOW.
func (fs *UnixFS) mkdirAll(name string, mode FileMode) error {
	name = strings.TrimRight(name, "/")
	if name == "" {
		return nil
	}

	st, err := fs.Lstat(name)
	if err == nil {
		if st.IsDir() {
			return nil
		}
		return convertErrorType(&PathError{Op: "mkdir", Path: name, Err: unix.ENOTDIR})
	}

	if i := strings.LastIndexByte(name, '/'); i > 0 {
		if err := fs.mkdirAll(name[:i], mode); err != nil {
			return err
		}
	}

	if err := fs.Mkdir(name, mode); err != nil {
		// Lost a race with another creator, that is fine as long as the
		// winner made a directory.
		if st, err1 := fs.Lstat(name); err1 == nil && st.IsDir() {
			return nil
		}
		return err
	}
	return nil
}
