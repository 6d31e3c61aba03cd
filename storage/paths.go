package storage

import (
	"strings"

	"emperror.dev/errors"
)

var errEmptyPath = errors.Sentinel("path has no segments")

// segments returns the non-empty segments of p.
func segments(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
}

// SplitPath splits p into its parent path and final segment. The root "/" is
// the only path without a parent and returns two empty strings. Every other
// parent starts with a "/".
func SplitPath(p string) (parent string, name string, err error) {
	segs := segments(p)
	if len(segs) == 0 {
		if p == "/" {
			return "", "", nil
		}
		return "", "", NewError(ErrCodeInvalidPath, "", p, errEmptyPath)
	}
	return "/" + strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// JoinPath joins a and b with a separator and collapses every run of
// separators in the result into a single one.
func JoinPath(a, b string) string {
	joined := a + "/" + b
	var sb strings.Builder
	sb.Grow(len(joined))
	for i := 0; i < len(joined); i++ {
		if joined[i] == '/' && i > 0 && joined[i-1] == '/' {
			continue
		}
		sb.WriteByte(joined[i])
	}
	return sb.String()
}

// Base returns the final segment of p, or an empty string for the root or a
// malformed path.
func Base(p string) string {
	_, name, _ := SplitPath(p)
	return name
}

// validSegment reports whether s can name an entry in the store. The store
// never interprets "." or ".." so they are refused outright.
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsRune(s, 0)
}

// relative converts an absolute store path into the path handed to the
// sandboxed filesystem, validating every segment along the way.
func relative(p string) (string, error) {
	segs := segments(p)
	for _, s := range segs {
		if !validSegment(s) {
			return "", NewErrorf(ErrCodeInvalidPath, "", p, "invalid path segment %q", s)
		}
	}
	return strings.Join(segs, "/"), nil
}
