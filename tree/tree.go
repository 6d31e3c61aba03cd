package tree

import (
	"context"
	"io"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/creasty/defaults"

	"github.com/pterodactyl/originfs/access"
	"github.com/pterodactyl/originfs/pool"
	"github.com/pterodactyl/originfs/rpc"
	"github.com/pterodactyl/originfs/storage"
)

type Options struct {
	// ChunkSize is the number of bytes moved per read or write call.
	ChunkSize int `default:"65536"`
	// CopyConcurrency bounds how many children of one directory are copied at
	// the same time.
	CopyConcurrency int `default:"8"`
	// CallTimeout bounds every call made to a worker. Zero means no bound.
	CallTimeout time.Duration
}

// Tree is the path-addressed view of an origin. It keeps no state of its own,
// every operation is resolved against the store when it is performed.
type Tree struct {
	store *storage.Store
	pool  *pool.Pool
	opts  Options
}

// New returns a tree over store that performs file I/O through p.
func New(store *storage.Store, p *pool.Pool, opts Options) *Tree {
	if err := defaults.Set(&opts); err != nil {
		log.WithField("error", err).Warn("tree: failed to apply default options")
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 1
	}
	if opts.CopyConcurrency < 1 {
		opts.CopyConcurrency = 1
	}
	return &Tree{store: store, pool: p, opts: opts}
}

// Store returns the store the tree is built on.
func (t *Tree) Store() *storage.Store {
	return t.store
}

func (t *Tree) log(p string) *log.Entry {
	return log.WithFields(log.Fields{"subsystem": "tree", "path": p})
}

// Node is either a Directory or a File.
type Node interface {
	Path() string
	Name() string
	Kind() storage.Kind
	Parent() (Directory, bool)
	Exists() bool
	Remove() error

	check() error
	copyInto(ctx context.Context, dir Directory) error
}

// node is the value shared by directories and files. It is comparable, two
// nodes built from the same path on the same tree are equal.
type node struct {
	tree    *Tree
	path    string
	parent  string
	name    string
	invalid bool
}

func (t *Tree) node(p string) node {
	parent, name, err := storage.SplitPath(p)
	if err != nil {
		return node{tree: t, path: p, invalid: true}
	}
	n := node{tree: t, path: "/", parent: parent, name: name}
	if name != "" {
		n.path = storage.JoinPath(parent, name)
	}
	return n
}

// Dir returns the directory at p. No I/O is performed, a malformed path is
// reported by the first operation that needs it.
func (t *Tree) Dir(p string) Directory {
	return Directory{t.node(p)}
}

// File returns the file at p. No I/O is performed, a malformed path is
// reported by the first operation that needs it.
func (t *Tree) File(p string) File {
	return File{t.node(p)}
}

// Lookup returns whatever exists at p. A directory is returned as a Directory,
// anything else as a File. The boolean is false when nothing exists at p, in
// which case the File is returned.
func (t *Tree) Lookup(p string) (Node, bool) {
	if d := t.Dir(p); d.Exists() {
		return d, true
	}
	f := t.File(p)
	return f, f.Exists()
}

// Path returns the path of the node.
func (n node) Path() string {
	return n.path
}

// Name returns the final segment of the path, empty for the root.
func (n node) Name() string {
	return n.name
}

// Parent returns the directory containing the node. The root has no parent.
func (n node) Parent() (Directory, bool) {
	if n.invalid || n.parent == "" {
		return Directory{}, false
	}
	return n.tree.Dir(n.parent), true
}

func (n node) isRoot() bool {
	return !n.invalid && n.parent == ""
}

// check returns the path error deferred at construction time, if any.
func (n node) check() error {
	if !n.invalid {
		return nil
	}
	_, _, err := storage.SplitPath(n.path)
	return err
}

func (t *Tree) open(ctx context.Context, p string) (*access.Handle, error) {
	var opts []access.Option
	if t.opts.CallTimeout > 0 {
		opts = append(opts, access.WithTimeout(t.opts.CallTimeout))
	}
	return access.Open(ctx, t.pool, p, opts...)
}

// closeHandle closes h even when ctx is already done, so a failed operation
// never leaves the file locked.
func closeHandle(ctx context.Context, h *access.Handle, err *error) {
	cerr := h.Close(context.WithoutCancel(ctx))
	if *err == nil && cerr != nil {
		*err = cerr
	}
}

// Write creates or replaces the file at p with everything read from r. Data
// is streamed to the worker in chunks written at explicit offsets, and the
// file is flushed before its handle is closed. The handle is closed even when
// the write fails.
func (t *Tree) Write(ctx context.Context, p string, r io.Reader) (err error) {
	f := t.File(p)
	if err := f.check(); err != nil {
		return err
	}
	h, err := t.open(ctx, f.path)
	if err != nil {
		return err
	}
	defer closeHandle(ctx, h, &err)

	if err := h.Truncate(ctx, 0); err != nil {
		return err
	}
	var off int64
	for {
		buf := make([]byte, t.opts.ChunkSize)
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			w, err := h.Write(ctx, rpc.NewBuffer(buf[:n]), access.WriteAt(off))
			if err != nil {
				return err
			}
			off += w
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return storage.NewError(storage.ErrCodeIO, "write", f.path, errors.WithMessage(rerr, "failed to read content"))
		}
	}
	return h.Flush(ctx)
}

// handleReader reads an open handle sequentially in chunks.
type handleReader struct {
	ctx   context.Context
	h     *access.Handle
	off   int64
	chunk int
}

func (r *handleReader) Read(p []byte) (int, error) {
	if len(p) > r.chunk {
		p = p[:r.chunk]
	}
	buf, err := r.h.Read(r.ctx, r.off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, buf.Bytes())
	buf.Release()
	r.off += int64(n)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}
