package tree

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pterodactyl/originfs/storage"
)

// Directory is a directory in the tree, which may or may not exist.
type Directory struct {
	node
}

// Kind always returns storage.KindDirectory.
func (d Directory) Kind() storage.Kind {
	return storage.KindDirectory
}

// CreateDirectory creates the directory and any missing parents. It does
// nothing if the directory already exists.
func (d Directory) CreateDirectory() (Directory, error) {
	if err := d.check(); err != nil {
		return d, err
	}
	if _, err := d.tree.store.Resolve(d.path, storage.ResolveOptions{Create: true}); err != nil {
		return d, err
	}
	return d, nil
}

// Exists reports whether the path resolves to a directory.
func (d Directory) Exists() bool {
	if d.invalid {
		return false
	}
	e, _ := d.tree.store.Resolve(d.path, storage.ResolveOptions{})
	return e != nil
}

// Remove deletes the directory and everything inside it. Removing the root
// empties it. A missing directory is not an error.
func (d Directory) Remove() error {
	if err := d.check(); err != nil {
		return err
	}
	if !d.isRoot() {
		if f := d.tree.File(d.path); f.Exists() {
			return storage.NewErrorf(storage.ErrCodeKindMismatch, "remove", d.path, "entry is a file")
		}
	}
	return d.tree.store.Remove(d.path)
}

// Children returns the entries directly inside the directory, sorted by name.
// A missing or unreadable directory has no children.
func (d Directory) Children() []Node {
	if d.invalid {
		return []Node{}
	}
	entries, err := d.tree.store.List(d.path)
	if err != nil {
		if !storage.IsErrorCode(err, storage.ErrCodeNotFound) {
			d.tree.log(d.path).WithField("error", err).Warn("failed to list directory")
		}
		return []Node{}
	}
	out := make([]Node, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, d.tree.Dir(e.Path))
		} else {
			out = append(out, d.tree.File(e.Path))
		}
	}
	return out
}

// CopyTo copies the directory and everything inside it. When dest is an
// existing directory the copy is placed inside it under the same name,
// otherwise dest is the path of the copy. The location of the copy is
// returned. dest must be a Directory.
func (d Directory) CopyTo(ctx context.Context, dest Node) (Directory, error) {
	if err := d.check(); err != nil {
		return Directory{}, err
	}
	if dest == nil {
		return Directory{}, storage.NewErrorf(storage.ErrCodeInvalidPath, "copy", "", "no destination")
	}
	if err := dest.check(); err != nil {
		return Directory{}, err
	}
	if !d.Exists() {
		return Directory{}, storage.NewErrorf(storage.ErrCodeNotFound, "copy", d.path, "source directory does not exist")
	}
	dir, ok := dest.(Directory)
	if !ok {
		return Directory{}, storage.NewErrorf(storage.ErrCodeKindMismatch, "copy", dest.Path(), "cannot copy a directory onto a file")
	}
	if d.isRoot() {
		return Directory{}, storage.NewErrorf(storage.ErrCodeInvalidPath, "copy", d.path, "cannot copy the root directory")
	}
	target := dir
	if dir.Exists() {
		target = d.tree.Dir(storage.JoinPath(dir.path, d.name))
	}
	if target.path == d.path || strings.HasPrefix(target.path, d.path+"/") {
		return Directory{}, storage.NewErrorf(storage.ErrCodeInvalidPath, "copy", target.path, "cannot copy a directory into itself")
	}
	if err := d.copyTree(ctx, target); err != nil {
		return Directory{}, err
	}
	return target, nil
}

func (d Directory) copyInto(ctx context.Context, dir Directory) error {
	return d.copyTree(ctx, d.tree.Dir(storage.JoinPath(dir.path, d.name)))
}

// copyTree creates target and copies every child of d into it.
func (d Directory) copyTree(ctx context.Context, target Directory) error {
	if _, err := target.CreateDirectory(); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.tree.opts.CopyConcurrency)
	for _, child := range d.Children() {
		child := child
		g.Go(func() error {
			return child.copyInto(ctx, target)
		})
	}
	return g.Wait()
}

// MoveTo copies the directory like CopyTo, checks that the copy exists, then
// removes the original. The move is not atomic. If the copy cannot be found
// the original is kept.
func (d Directory) MoveTo(ctx context.Context, dest Node) (Directory, error) {
	target, err := d.CopyTo(ctx, dest)
	if err != nil {
		return Directory{}, err
	}
	if !target.Exists() {
		return Directory{}, storage.NewErrorf(storage.ErrCodeNotFound, "move", target.path, "copy is missing, source was kept")
	}
	if err := d.Remove(); err != nil {
		return target, err
	}
	return target, nil
}
