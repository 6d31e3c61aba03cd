package storage

import (
	"os"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/pterodactyl/originfs/internal/ufs"
)

// Kind is the type of an entry in the store.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindFile      Kind = "file"
)

// Entry describes a resolved file or directory.
type Entry struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Kind    Kind      `json:"kind"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

type ResolveOptions struct {
	// Create missing parent directories and the final entry.
	Create bool
	// WantFile resolves the final segment as a file instead of a directory.
	WantFile bool
}

// Store is the origin-scoped storage tree. Every path it accepts is absolute
// and slash-delimited, and is resolved beneath the origin root directory.
type Store struct {
	fs *ufs.UnixFS
}

// New opens the origin root at dir, creating it if it does not exist yet.
func New(dir string, useOpenat2 bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "storage: failed to create origin root")
	}
	fs, err := ufs.NewUnixFS(dir, useOpenat2)
	if err != nil {
		return nil, errors.Wrap(err, "storage: failed to open origin root")
	}
	return &Store{fs: fs}, nil
}

// Root returns the host directory backing the store.
func (s *Store) Root() string {
	return s.fs.BasePath()
}

// Close releases the origin root.
func (s *Store) Close() error {
	return s.fs.Close()
}

func (s *Store) log(p string) *log.Entry {
	return log.WithFields(log.Fields{"subsystem": "storage", "path": p})
}

// Resolve walks p from the root. With Create set, missing directories along
// the way and the final entry are created, and any failure is returned. Without
// it, every failure is logged and reported as a nil entry, meaning the path
// does not exist as the requested kind.
func (s *Store) Resolve(p string, opts ResolveOptions) (*Entry, error) {
	e, err := s.resolve(p, opts)
	if err != nil && !opts.Create {
		s.log(p).WithField("error", err).Debug("path does not resolve")
		return nil, nil
	}
	return e, err
}

func (s *Store) resolve(p string, opts ResolveOptions) (*Entry, error) {
	verb := "resolve"
	parent, name, err := SplitPath(p)
	if err != nil {
		return nil, err
	}
	if name == "" {
		if opts.WantFile {
			return nil, NewErrorf(ErrCodeKindMismatch, verb, p, "root is a directory")
		}
		st, err := s.fs.Stat(".")
		if err != nil {
			return nil, FromError(verb, p, err)
		}
		return &Entry{Path: "/", Kind: KindDirectory, ModTime: st.ModTime()}, nil
	}

	if _, err := s.walk(parent, opts.Create); err != nil {
		return nil, err
	}

	full := JoinPath(parent, name)
	rel, err := relative(full)
	if err != nil {
		return nil, err
	}
	st, err := s.fs.Lstat(rel)
	if err != nil {
		if !errors.Is(err, ufs.ErrNotExist) || !opts.Create {
			return nil, FromError(verb, full, err)
		}
		if err := s.create(rel, opts.WantFile); err != nil {
			return nil, FromError(verb, full, err)
		}
		if st, err = s.fs.Lstat(rel); err != nil {
			return nil, FromError(verb, full, err)
		}
	}
	e, err := toEntry(full, st)
	if err != nil {
		return nil, err
	}
	if e.IsDir() == opts.WantFile {
		return nil, NewErrorf(ErrCodeKindMismatch, verb, full, "entry is a %s", e.Kind)
	}
	return e, nil
}

// walk ensures every segment of dir is a directory, creating the missing ones
// when create is set. It returns the relative path of dir.
func (s *Store) walk(dir string, create bool) (string, error) {
	rel, err := relative(dir)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return "", nil
	}
	var cur string
	for _, seg := range strings.Split(rel, "/") {
		if cur == "" {
			cur = seg
		} else {
			cur += "/" + seg
		}
		st, err := s.fs.Lstat(cur)
		if err == nil {
			if !st.IsDir() {
				return "", NewErrorf(ErrCodeKindMismatch, "resolve", "/"+cur, "entry is not a directory")
			}
			continue
		}
		if !errors.Is(err, ufs.ErrNotExist) || !create {
			return "", FromError("resolve", "/"+cur, err)
		}
		if err := s.fs.Mkdir(cur, 0o755); err != nil && !errors.Is(err, ufs.ErrExist) {
			return "", FromError("resolve", "/"+cur, err)
		}
	}
	return rel, nil
}

func (s *Store) create(rel string, file bool) error {
	if !file {
		err := s.fs.Mkdir(rel, 0o755)
		if errors.Is(err, ufs.ErrExist) {
			return nil
		}
		return err
	}
	f, err := s.fs.OpenFile(rel, ufs.O_RDWR|ufs.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Remove deletes p and everything beneath it. Removing the root deletes every
// child of the root but keeps the root itself. A missing entry, or a missing
// parent, is not an error.
func (s *Store) Remove(p string) error {
	parent, name, err := SplitPath(p)
	if err != nil {
		return err
	}
	if name == "" {
		entries, err := s.fs.ReadDir(".")
		if err != nil {
			return FromError("remove", p, err)
		}
		for _, e := range entries {
			if err := s.removeEntry(e.Name(), e.IsDir()); err != nil {
				return FromError("remove", JoinPath("/", e.Name()), err)
			}
		}
		return nil
	}
	if dir, _ := s.Resolve(parent, ResolveOptions{}); dir == nil {
		return nil
	}
	full := JoinPath(parent, name)
	rel, err := relative(full)
	if err != nil {
		return err
	}
	st, err := s.fs.Lstat(rel)
	if err != nil {
		if errors.Is(err, ufs.ErrNotExist) {
			return nil
		}
		return FromError("remove", full, err)
	}
	if err := s.removeEntry(rel, st.IsDir()); err != nil {
		return FromError("remove", full, err)
	}
	return nil
}

// removeEntry unlinks a single file, or removes a directory with everything
// beneath it.
func (s *Store) removeEntry(rel string, dir bool) error {
	if !dir {
		return s.fs.Remove(rel)
	}
	return s.fs.RemoveAll(rel)
}

// List returns the entries directly inside the directory at p, sorted by
// name. Anything that is neither a regular file nor a directory is skipped.
func (s *Store) List(p string) ([]Entry, error) {
	dir, err := s.resolve(p, ResolveOptions{})
	if err != nil {
		return nil, err
	}
	rel, err := relative(dir.Path)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		rel = "."
	}
	des, err := s.fs.ReadDir(rel)
	if err != nil {
		return nil, FromError("list", dir.Path, err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			return nil, FromError("list", dir.Path, err)
		}
		e, err := toEntry(JoinPath(dir.Path, de.Name()), info)
		if err != nil {
			s.log(dir.Path).WithField("entry", de.Name()).Debug("skipping unsupported entry")
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// Stat returns the entry at p, whichever kind it is.
func (s *Store) Stat(p string) (*Entry, error) {
	_, name, err := SplitPath(p)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return s.resolve(p, ResolveOptions{})
	}
	rel, err := relative(p)
	if err != nil {
		return nil, err
	}
	st, err := s.fs.Lstat(rel)
	if err != nil {
		return nil, FromError("stat", p, err)
	}
	return toEntry("/"+rel, st)
}

// OpenAccessHandle creates any missing parent directories and the file at p,
// and opens the exclusive access handle for it. A second open for the same
// file fails with a HandleRegistrationError until the first is closed.
func (s *Store) OpenAccessHandle(p string) (*ufs.AccessHandle, error) {
	parent, name, err := SplitPath(p)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, NewErrorf(ErrCodeKindMismatch, "register", p, "root is a directory")
	}
	if _, err := s.walk(parent, true); err != nil {
		return nil, err
	}
	full := JoinPath(parent, name)
	rel, err := relative(full)
	if err != nil {
		return nil, err
	}
	h, err := s.fs.OpenAccessHandle(rel)
	if err != nil {
		return nil, FromError("register", full, err)
	}
	return h, nil
}

func toEntry(p string, info ufs.FileInfo) (*Entry, error) {
	e := &Entry{Path: p, Name: Base(p), ModTime: info.ModTime()}
	switch {
	case info.IsDir():
		e.Kind = KindDirectory
	case info.Mode().IsRegular():
		e.Kind = KindFile
		e.Size = info.Size()
	default:
		return nil, NewErrorf(ErrCodeKindMismatch, "stat", p, "unsupported entry type %s", info.Mode().Type())
	}
	return e, nil
}
