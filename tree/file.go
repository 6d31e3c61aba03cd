package tree

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pterodactyl/originfs/access"
	"github.com/pterodactyl/originfs/storage"
)

// File is a file in the tree, which may or may not exist.
type File struct {
	node
}

// Kind always returns storage.KindFile.
func (f File) Kind() storage.Kind {
	return storage.KindFile
}

// Exists reports whether the path resolves to a file.
func (f File) Exists() bool {
	if f.invalid {
		return false
	}
	e, _ := f.tree.store.Resolve(f.path, storage.ResolveOptions{WantFile: true})
	return e != nil
}

// Remove deletes the file. A missing file is not an error.
func (f File) Remove() error {
	if err := f.check(); err != nil {
		return err
	}
	if f.isRoot() || f.tree.Dir(f.path).Exists() {
		return storage.NewErrorf(storage.ErrCodeKindMismatch, "remove", f.path, "entry is a directory")
	}
	return f.tree.store.Remove(f.path)
}

// Stat returns the size and modification time of the file.
func (f File) Stat() (*storage.Entry, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	e, err := f.tree.store.Stat(f.path)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, storage.NewErrorf(storage.ErrCodeKindMismatch, "stat", f.path, "entry is a directory")
	}
	return e, nil
}

// Open registers the file with a worker and returns the access handle. The
// file is created if it does not exist. The caller must close the handle.
func (f File) Open(ctx context.Context) (*access.Handle, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.tree.open(ctx, f.path)
}

// openExisting opens an existing file, failing with a NotFoundError instead of
// creating it.
func (f File) openExisting(ctx context.Context, verb string) (*access.Handle, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	if !f.Exists() {
		return nil, storage.NewErrorf(storage.ErrCodeNotFound, verb, f.path, "file does not exist")
	}
	return f.tree.open(ctx, f.path)
}

// ReadAll returns the full contents of the file.
func (f File) ReadAll(ctx context.Context) (b []byte, err error) {
	h, err := f.openExisting(ctx, "read")
	if err != nil {
		return nil, err
	}
	defer closeHandle(ctx, h, &err)

	size, err := h.Size(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, size)
	chunk := int64(f.tree.opts.ChunkSize)
	for off := int64(0); off < size; {
		buf, err := h.Read(ctx, off, min(chunk, size-off))
		if err != nil {
			return nil, err
		}
		if buf.Len() == 0 {
			break
		}
		out = append(out, buf.Bytes()...)
		off += int64(buf.Len())
		buf.Release()
	}
	return out, nil
}

// Text returns the contents of the file as a string.
func (f File) Text(ctx context.Context) (string, error) {
	b, err := f.ReadAll(ctx)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Mimetype detects the content type of the file from its first chunk.
func (f File) Mimetype(ctx context.Context) (mt string, err error) {
	h, err := f.openExisting(ctx, "read")
	if err != nil {
		return "", err
	}
	defer closeHandle(ctx, h, &err)

	buf, err := h.Read(ctx, 0, int64(f.tree.opts.ChunkSize))
	if err != nil {
		return "", err
	}
	return mimetype.Detect(buf.Bytes()).String(), nil
}

// Write replaces the contents of the file with everything read from r,
// creating the file and its parents if needed.
func (f File) Write(ctx context.Context, r io.Reader) error {
	return f.tree.Write(ctx, f.path, r)
}

// WriteString replaces the contents of the file with s.
func (f File) WriteString(ctx context.Context, s string) error {
	return f.Write(ctx, strings.NewReader(s))
}

// WriteBytes replaces the contents of the file with b.
func (f File) WriteBytes(ctx context.Context, b []byte) error {
	return f.Write(ctx, bytes.NewReader(b))
}

// CopyTo copies the file. When dest is a Directory the copy is placed inside
// it under the same name, when dest is a File it is created or overwritten.
func (f File) CopyTo(ctx context.Context, dest Node) (File, error) {
	if err := f.check(); err != nil {
		return File{}, err
	}
	if dest == nil {
		return File{}, storage.NewErrorf(storage.ErrCodeInvalidPath, "copy", "", "no destination")
	}
	if err := dest.check(); err != nil {
		return File{}, err
	}
	var target File
	switch d := dest.(type) {
	case Directory:
		target = f.tree.File(storage.JoinPath(d.path, f.name))
	case File:
		target = d
	}
	if target == f {
		if !f.Exists() {
			return File{}, storage.NewErrorf(storage.ErrCodeNotFound, "copy", f.path, "source file does not exist")
		}
		return f, nil
	}
	if err := f.copyTo(ctx, target); err != nil {
		return File{}, err
	}
	return target, nil
}

func (f File) copyInto(ctx context.Context, dir Directory) error {
	return f.copyTo(ctx, f.tree.File(storage.JoinPath(dir.path, f.name)))
}

func (f File) copyTo(ctx context.Context, target File) (err error) {
	h, err := f.openExisting(ctx, "copy")
	if err != nil {
		return err
	}
	defer closeHandle(ctx, h, &err)

	return f.tree.Write(ctx, target.path, &handleReader{ctx: ctx, h: h, chunk: f.tree.opts.ChunkSize})
}

// MoveTo copies the file like CopyTo, checks that the copy exists with the
// same size, then removes the original. The move is not atomic. If the copy
// cannot be verified the original is kept.
func (f File) MoveTo(ctx context.Context, dest Node) (File, error) {
	target, err := f.CopyTo(ctx, dest)
	if err != nil {
		return File{}, err
	}
	if target == f {
		return f, nil
	}
	src, err := f.Stat()
	if err != nil {
		return File{}, err
	}
	dst, err := target.Stat()
	if err != nil || dst.Size != src.Size {
		return File{}, storage.NewErrorf(storage.ErrCodeNotFound, "move", target.path, "copy is missing or incomplete, source was kept")
	}
	if err := f.Remove(); err != nil {
		return target, err
	}
	return target, nil
}
