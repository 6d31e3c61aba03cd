package tree

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/franela/goblin"

	"github.com/pterodactyl/originfs/pool"
	"github.com/pterodactyl/originfs/storage"
)

const testChunkSize = 1024

// NewTestTree returns a tree over a fresh origin root along with the host
// path of that root.
func NewTestTree(t *testing.T) (*Tree, string) {
	tmpDir, err := os.MkdirTemp(os.TempDir(), "originfs")
	if err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(tmpDir, "origin")
	s, err := storage.New(root, false)
	if err != nil {
		t.Fatal(err)
	}
	p := pool.New(s, pool.Options{Capacity: 3})
	t.Cleanup(func() {
		_ = p.Close()
		_ = s.Close()
		_ = os.RemoveAll(tmpDir)
	})
	return New(s, p, Options{ChunkSize: testChunkSize, CopyConcurrency: 4}), root
}

func TestTree(t *testing.T) {
	g := Goblin(t)
	tr, root := NewTestTree(t)
	ctx := context.Background()

	g.Describe("Tree", func() {
		g.AfterEach(func() {
			_ = tr.Dir("/").Remove()
		})

		g.Describe("Dir and File", func() {
			g.It("builds equal values for the same path", func() {
				g.Assert(tr.Dir("/a/b") == tr.Dir("/a/b")).IsTrue()
				g.Assert(tr.File("/a/b/") == tr.File("/a/b")).IsTrue()
				g.Assert(tr.Dir("/a").Name()).Equal("a")
				g.Assert(tr.Dir("/").Name()).Equal("")
			})

			g.It("reports parents", func() {
				p, ok := tr.File("/a/b/c").Parent()
				g.Assert(ok).IsTrue()
				g.Assert(p.Path()).Equal("/a/b")

				_, ok = tr.Dir("/").Parent()
				g.Assert(ok).IsFalse()
			})

			g.It("looks up existing nodes by kind", func() {
				g.Assert(tr.File("/look/f.txt").WriteString(ctx, "x")).IsNil()

				n, ok := tr.Lookup("/look")
				g.Assert(ok).IsTrue()
				g.Assert(n.Kind()).Equal(storage.KindDirectory)

				n, ok = tr.Lookup("/look/f.txt")
				g.Assert(ok).IsTrue()
				g.Assert(n.Kind()).Equal(storage.KindFile)

				n, ok = tr.Lookup("/look/missing")
				g.Assert(ok).IsFalse()
				g.Assert(n.Path()).Equal("/look/missing")
			})

			g.It("defers malformed path errors to the first operation", func() {
				d := tr.Dir("")
				g.Assert(d.Exists()).IsFalse()
				_, err := d.CreateDirectory()
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeInvalidPath)).IsTrue()

				err = tr.File("//").WriteString(ctx, "x")
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeInvalidPath)).IsTrue()
				g.Assert(len(tr.Dir("").Children())).Equal(0)
			})
		})

		g.Describe("Write", func() {
			g.It("creates the file and its parents", func() {
				err := tr.Write(ctx, "/x/y", bytes.NewReader([]byte("hello")))
				g.Assert(err).IsNil()

				children := tr.Dir("/x").Children()
				g.Assert(len(children)).Equal(1)
				f, ok := children[0].(File)
				g.Assert(ok).IsTrue()
				g.Assert(f.Name()).Equal("y")

				text, err := f.Text(ctx)
				g.Assert(err).IsNil()
				g.Assert(text).Equal("hello")
			})

			g.It("round trips content of every size", func() {
				for _, size := range []int{0, 1, testChunkSize - 1, testChunkSize, testChunkSize + 1, 3*testChunkSize + 17} {
					data := make([]byte, size)
					_, _ = rand.Read(data)

					f := tr.File("/sizes/file.bin")
					g.Assert(f.WriteBytes(ctx, data)).IsNil()

					out, err := f.ReadAll(ctx)
					g.Assert(err).IsNil()
					g.Assert(bytes.Equal(out, data)).IsTrue()

					st, err := f.Stat()
					g.Assert(err).IsNil()
					g.Assert(st.Size).Equal(int64(size))
				}
			})

			g.It("overwrites a longer file completely", func() {
				f := tr.File("/over")
				g.Assert(f.WriteString(ctx, "a much longer original text")).IsNil()
				g.Assert(f.WriteString(ctx, "short")).IsNil()

				text, _ := f.Text(ctx)
				g.Assert(text).Equal("short")
			})

			g.It("releases the handle after writing", func() {
				g.Assert(tr.File("/released").WriteString(ctx, "1")).IsNil()
				g.Assert(tr.File("/released").WriteString(ctx, "2")).IsNil()

				h, err := tr.File("/released").Open(ctx)
				g.Assert(err).IsNil()
				g.Assert(h.Close(ctx)).IsNil()
			})

			g.It("fails while another handle holds the file", func() {
				h, err := tr.File("/held").Open(ctx)
				g.Assert(err).IsNil()
				defer h.Close(ctx)

				err = tr.File("/held").WriteString(ctx, "nope")
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeHandleRegistration)).IsTrue()
			})

			g.It("refuses to write over a directory", func() {
				_, _ = tr.Dir("/dir").CreateDirectory()
				err := tr.File("/dir").WriteString(ctx, "x")
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeKindMismatch)).IsTrue()
			})
		})

		g.Describe("Directory", func() {
			g.It("creates directories idempotently", func() {
				d, err := tr.Dir("/a/b/c").CreateDirectory()
				g.Assert(err).IsNil()
				g.Assert(d.Exists()).IsTrue()

				_, err = tr.Dir("/a/b/c").CreateDirectory()
				g.Assert(err).IsNil()
				g.Assert(len(tr.Dir("/a/b").Children())).Equal(1)
			})

			g.It("only exists as the right kind", func() {
				_ = tr.File("/f").WriteString(ctx, "x")
				g.Assert(tr.Dir("/f").Exists()).IsFalse()
				g.Assert(tr.File("/f").Exists()).IsTrue()
				g.Assert(tr.Dir("/").Exists()).IsTrue()
				g.Assert(tr.File("/").Exists()).IsFalse()
			})

			g.It("removes everything beneath it", func() {
				_ = tr.File("/r/a/b/c.txt").WriteString(ctx, "x")
				_ = tr.File("/r/d.txt").WriteString(ctx, "y")

				g.Assert(tr.Dir("/r").Remove()).IsNil()
				g.Assert(tr.Dir("/r").Exists()).IsFalse()
				g.Assert(tr.File("/r/a/b/c.txt").Exists()).IsFalse()
				g.Assert(tr.Dir("/r").Remove()).IsNil()
			})

			g.It("empties the root without removing it", func() {
				_ = tr.File("/one").WriteString(ctx, "1")
				_, _ = tr.Dir("/two").CreateDirectory()

				g.Assert(tr.Dir("/").Remove()).IsNil()
				g.Assert(len(tr.Dir("/").Children())).Equal(0)
				_, err := os.Stat(root)
				g.Assert(err).IsNil()
			})

			g.It("returns sorted children and nothing for a missing directory", func() {
				_ = tr.File("/s/b").WriteString(ctx, "")
				_, _ = tr.Dir("/s/a").CreateDirectory()
				_ = tr.File("/s/c").WriteString(ctx, "")

				children := tr.Dir("/s").Children()
				g.Assert(len(children)).Equal(3)
				g.Assert(children[0].Name()).Equal("a")
				g.Assert(children[0].Kind()).Equal(storage.KindDirectory)
				g.Assert(children[2].Name()).Equal("c")

				g.Assert(len(tr.Dir("/missing").Children())).Equal(0)
			})

			g.It("nests a copy inside an existing destination", func() {
				_ = tr.File("/a/b/file.txt").WriteString(ctx, "nested")
				_ = tr.File("/a/b/deeper/more.txt").WriteString(ctx, "more")
				_, _ = tr.Dir("/c").CreateDirectory()

				copied, err := tr.Dir("/a/b").CopyTo(ctx, tr.Dir("/c"))
				g.Assert(err).IsNil()
				g.Assert(copied.Path()).Equal("/c/b")

				text, err := tr.File("/c/b/file.txt").Text(ctx)
				g.Assert(err).IsNil()
				g.Assert(text).Equal("nested")
				text, _ = tr.File("/c/b/deeper/more.txt").Text(ctx)
				g.Assert(text).Equal("more")
				g.Assert(tr.Dir("/a/b").Exists()).IsTrue()
			})

			g.It("copies to a literal path when the destination is missing", func() {
				_ = tr.File("/a/b/file.txt").WriteString(ctx, "renamed")
				_, _ = tr.Dir("/c").CreateDirectory()

				copied, err := tr.Dir("/a/b").CopyTo(ctx, tr.Dir("/c/d"))
				g.Assert(err).IsNil()
				g.Assert(copied.Path()).Equal("/c/d")

				text, _ := tr.File("/c/d/file.txt").Text(ctx)
				g.Assert(text).Equal("renamed")
				g.Assert(tr.Dir("/c/d/b").Exists()).IsFalse()
			})

			g.It("copies many children concurrently", func() {
				for i := 0; i < 20; i++ {
					_ = tr.File("/many/f" + string(rune('a'+i))).WriteString(ctx, string(rune('a'+i)))
				}
				_, err := tr.Dir("/many").CopyTo(ctx, tr.Dir("/many-copy"))
				g.Assert(err).IsNil()
				g.Assert(len(tr.Dir("/many-copy").Children())).Equal(20)
				text, _ := tr.File("/many-copy/fk").Text(ctx)
				g.Assert(text).Equal("k")
			})

			g.It("fails to copy a missing directory or onto a file", func() {
				_, err := tr.Dir("/nope").CopyTo(ctx, tr.Dir("/c"))
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeNotFound)).IsTrue()

				_, _ = tr.Dir("/src").CreateDirectory()
				_ = tr.File("/dst").WriteString(ctx, "")
				_, err = tr.Dir("/src").CopyTo(ctx, tr.File("/dst"))
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeKindMismatch)).IsTrue()
			})

			g.It("reports a missing source before a file destination", func() {
				_ = tr.File("/dst").WriteString(ctx, "")
				_, err := tr.Dir("/nope").CopyTo(ctx, tr.File("/dst"))
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeNotFound)).IsTrue()

				_, err = tr.Dir("/nope").MoveTo(ctx, tr.File("/dst"))
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeNotFound)).IsTrue()
				g.Assert(tr.File("/dst").Exists()).IsTrue()
			})

			g.It("refuses to copy a directory into itself", func() {
				_, _ = tr.Dir("/loop/inner").CreateDirectory()
				_, err := tr.Dir("/loop").CopyTo(ctx, tr.Dir("/loop/inner"))
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeInvalidPath)).IsTrue()
			})

			g.It("moves by copying then removing the source", func() {
				_ = tr.File("/m/src/a.txt").WriteString(ctx, "moved")
				_, _ = tr.Dir("/m/dst").CreateDirectory()

				moved, err := tr.Dir("/m/src").MoveTo(ctx, tr.Dir("/m/dst"))
				g.Assert(err).IsNil()
				g.Assert(moved.Path()).Equal("/m/dst/src")
				g.Assert(tr.Dir("/m/src").Exists()).IsFalse()

				text, _ := tr.File("/m/dst/src/a.txt").Text(ctx)
				g.Assert(text).Equal("moved")
			})
		})

		g.Describe("File", func() {
			g.It("copies into a directory under the same name", func() {
				_ = tr.File("/docs/note.txt").WriteString(ctx, "note")
				_, _ = tr.Dir("/backup").CreateDirectory()

				copied, err := tr.File("/docs/note.txt").CopyTo(ctx, tr.Dir("/backup"))
				g.Assert(err).IsNil()
				g.Assert(copied.Path()).Equal("/backup/note.txt")
				text, _ := copied.Text(ctx)
				g.Assert(text).Equal("note")
			})

			g.It("overwrites a file destination", func() {
				big := bytes.Repeat([]byte("z"), 3*testChunkSize)
				_ = tr.File("/big").WriteBytes(ctx, big)
				_ = tr.File("/target").WriteString(ctx, "this will be replaced by something else entirely")

				_, err := tr.File("/big").CopyTo(ctx, tr.File("/target"))
				g.Assert(err).IsNil()
				out, _ := tr.File("/target").ReadAll(ctx)
				g.Assert(bytes.Equal(out, big)).IsTrue()
			})

			g.It("fails to copy, read or move a missing file", func() {
				_, err := tr.File("/ghost").CopyTo(ctx, tr.Dir("/"))
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeNotFound)).IsTrue()

				_, err = tr.File("/ghost").ReadAll(ctx)
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeNotFound)).IsTrue()

				_, err = tr.File("/ghost").MoveTo(ctx, tr.File("/elsewhere"))
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeNotFound)).IsTrue()
				g.Assert(tr.File("/ghost").Exists()).IsFalse()
			})

			g.It("moves and removes the source", func() {
				_ = tr.File("/from.txt").WriteString(ctx, "content")

				moved, err := tr.File("/from.txt").MoveTo(ctx, tr.File("/to/renamed.txt"))
				g.Assert(err).IsNil()
				g.Assert(moved.Path()).Equal("/to/renamed.txt")
				g.Assert(tr.File("/from.txt").Exists()).IsFalse()

				text, _ := moved.Text(ctx)
				g.Assert(text).Equal("content")
			})

			g.It("treats a copy onto itself as a no-op", func() {
				_ = tr.File("/self").WriteString(ctx, "same")
				_, err := tr.File("/self").CopyTo(ctx, tr.File("/self"))
				g.Assert(err).IsNil()
				text, _ := tr.File("/self").Text(ctx)
				g.Assert(text).Equal("same")
			})

			g.It("detects the mimetype", func() {
				_ = tr.File("/page.html").WriteString(ctx, "<!DOCTYPE html><html><body>hi</body></html>")
				mt, err := tr.File("/page.html").Mimetype(ctx)
				g.Assert(err).IsNil()
				g.Assert(strings.HasPrefix(mt, "text/html")).IsTrue()
			})

			g.It("refuses to remove a directory as a file", func() {
				_, _ = tr.Dir("/notafile").CreateDirectory()
				err := tr.File("/notafile").Remove()
				g.Assert(storage.IsErrorCode(err, storage.ErrCodeKindMismatch)).IsTrue()
				g.Assert(tr.File("/never-there").Remove()).IsNil()
			})
		})
	})
}
