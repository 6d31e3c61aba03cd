// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

// Package ufs implements the origin store primitive: a "chroot-like" wrapper
// around the unix package that confines every operation to one base
// directory, plus the exclusive synchronous AccessHandle that is the only
// way file bytes are read or written.
//
// Nothing in this package is safe to expose to untrusted callers on its own,
// paths given to it are resolved beneath the base directory and symlinks are
// never followed, but exclusivity of access handles is only guaranteed for
// callers that go through OpenAccessHandle.
package ufs
