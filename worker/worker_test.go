package worker

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	. "github.com/franela/goblin"

	"github.com/pterodactyl/originfs/rpc"
	"github.com/pterodactyl/originfs/storage"
)

type harness struct {
	w       *Worker
	replies chan rpc.Envelope
	nextID  atomic.Uint64
}

func newHarness(s *storage.Store, id string) *harness {
	replies := make(chan rpc.Envelope, 16)
	return &harness{w: New(id, s, rpc.JSON, replies), replies: replies}
}

func (h *harness) call(verb rpc.Verb, args rpc.Args, transfer ...*rpc.Buffer) (rpc.Response, []*rpc.Buffer) {
	id := h.nextID.Add(1)
	b, err := rpc.JSON.Marshal(rpc.Request{CorrelationID: id, Verb: verb, Args: args})
	if err != nil {
		panic(err)
	}
	if err := h.w.Post(rpc.Envelope{Payload: b, Transfer: rpc.TransferAll(transfer)}); err != nil {
		panic(err)
	}
	env := <-h.replies
	var resp rpc.Response
	if err := rpc.JSON.Unmarshal(env.Payload, &resp); err != nil {
		panic(err)
	}
	if resp.CorrelationID != id {
		panic("correlation id mismatch")
	}
	return resp, env.Transfer
}

func TestWorker(t *testing.T) {
	g := Goblin(t)

	tmpDir, err := os.MkdirTemp(os.TempDir(), "originfs")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpDir)
	s, err := storage.New(filepath.Join(tmpDir, "origin"), false)
	if err != nil {
		panic(err)
	}
	defer s.Close()

	g.Describe("Worker", func() {
		var h *harness

		g.BeforeEach(func() {
			h = newHarness(s, "test")
		})

		g.AfterEach(func() {
			h.w.Terminate()
			_ = s.Remove("/")
		})

		g.It("registers, writes, reads and closes", func() {
			resp, _ := h.call(rpc.VerbRegister, rpc.Args{Path: "/x/y"})
			g.Assert(resp.Kind).Equal(rpc.KindSuccess)

			data := rpc.NewBuffer([]byte("hello"))
			at := int64(0)
			resp, _ = h.call(rpc.VerbWrite, rpc.Args{Path: "/x/y", At: &at}, data)
			g.Assert(resp.Value).Equal(int64(5))
			g.Assert(data.Detached()).IsTrue()

			resp, out := h.call(rpc.VerbRead, rpc.Args{Path: "/x/y", Offset: 1, Size: 100})
			g.Assert(resp.Value).Equal(int64(4))
			g.Assert(len(out)).Equal(1)
			g.Assert(out[0].String()).Equal("ello")

			resp, _ = h.call(rpc.VerbGetSize, rpc.Args{Path: "/x/y"})
			g.Assert(resp.Value).Equal(int64(5))

			resp, _ = h.call(rpc.VerbFlush, rpc.Args{Path: "/x/y"})
			g.Assert(resp.Kind).Equal(rpc.KindSuccess)

			resp, _ = h.call(rpc.VerbClose, rpc.Args{Path: "/x/y"})
			g.Assert(resp.Kind).Equal(rpc.KindSuccess)

			b, err := os.ReadFile(filepath.Join(s.Root(), "x/y"))
			g.Assert(err).IsNil()
			g.Assert(string(b)).Equal("hello")
		})

		g.It("appends when no offset is given", func() {
			h.call(rpc.VerbRegister, rpc.Args{Path: "/log"})
			h.call(rpc.VerbWrite, rpc.Args{Path: "/log"}, rpc.NewBuffer([]byte("ab")))
			resp, _ := h.call(rpc.VerbWrite, rpc.Args{Path: "/log"}, rpc.NewBuffer([]byte("cd")))
			g.Assert(resp.Value).Equal(int64(2))

			_, out := h.call(rpc.VerbRead, rpc.Args{Path: "/log", Size: 10})
			g.Assert(out[0].String()).Equal("abcd")
		})

		g.It("truncates", func() {
			h.call(rpc.VerbRegister, rpc.Args{Path: "/t"})
			h.call(rpc.VerbWrite, rpc.Args{Path: "/t"}, rpc.NewBuffer([]byte("123456")))
			h.call(rpc.VerbTruncate, rpc.Args{Path: "/t", NewSize: 2})
			resp, _ := h.call(rpc.VerbGetSize, rpc.Args{Path: "/t"})
			g.Assert(resp.Value).Equal(int64(2))
		})

		g.It("reads nothing past the end", func() {
			h.call(rpc.VerbRegister, rpc.Args{Path: "/e"})
			resp, out := h.call(rpc.VerbRead, rpc.Args{Path: "/e", Offset: 10, Size: 4})
			g.Assert(resp.Kind).Equal(rpc.KindSuccess)
			g.Assert(resp.Value).Equal(int64(0))
			g.Assert(out[0].Len()).Equal(0)
		})

		g.It("reports a closed handle for unregistered paths", func() {
			resp, _ := h.call(rpc.VerbRead, rpc.Args{Path: "/nope", Size: 1})
			g.Assert(resp.Kind).Equal(rpc.KindError)
			g.Assert(resp.Class).Equal("HandleClosedError")
			g.Assert(resp.Request != "").IsTrue()

			h.call(rpc.VerbRegister, rpc.Args{Path: "/c"})
			h.call(rpc.VerbClose, rpc.Args{Path: "/c"})
			resp, _ = h.call(rpc.VerbGetSize, rpc.Args{Path: "/c"})
			g.Assert(resp.Class).Equal("HandleClosedError")
		})

		g.It("refuses a duplicate register", func() {
			h.call(rpc.VerbRegister, rpc.Args{Path: "/d"})
			resp, _ := h.call(rpc.VerbRegister, rpc.Args{Path: "/d"})
			g.Assert(resp.Kind).Equal(rpc.KindError)
			g.Assert(resp.Class).Equal("HandleRegistrationError")

			// The original registration is untouched.
			resp, _ = h.call(rpc.VerbGetSize, rpc.Args{Path: "/d"})
			g.Assert(resp.Kind).Equal(rpc.KindSuccess)
		})

		g.It("refuses a register held by another worker", func() {
			other := newHarness(s, "other")
			defer other.w.Terminate()

			resp, _ := other.call(rpc.VerbRegister, rpc.Args{Path: "/shared"})
			g.Assert(resp.Kind).Equal(rpc.KindSuccess)

			resp, _ = h.call(rpc.VerbRegister, rpc.Args{Path: "/shared"})
			g.Assert(resp.Class).Equal("HandleRegistrationError")

			resp, _ = other.call(rpc.VerbWrite, rpc.Args{Path: "/shared"}, rpc.NewBuffer([]byte("still works")))
			g.Assert(resp.Kind).Equal(rpc.KindSuccess)
		})

		g.It("reports the kind mismatch when registering a directory", func() {
			_, _ = s.Resolve("/dir", storage.ResolveOptions{Create: true})
			resp, _ := h.call(rpc.VerbRegister, rpc.Args{Path: "/dir"})
			g.Assert(resp.Class).Equal("KindMismatchError")
		})

		g.It("rejects unknown verbs without crashing", func() {
			resp, _ := h.call(rpc.Verb("explode"), rpc.Args{Path: "/a"})
			g.Assert(resp.Class).Equal("TransportError")

			resp, _ = h.call(rpc.VerbRegister, rpc.Args{Path: "/a"})
			g.Assert(resp.Kind).Equal(rpc.KindSuccess)
		})

		g.It("recovers from a panicking handler", func() {
			broken := newHarness(nil, "broken")
			defer broken.w.Terminate()

			resp, _ := broken.call(rpc.VerbRegister, rpc.Args{Path: "/p"})
			g.Assert(resp.Kind).Equal(rpc.KindError)
			g.Assert(resp.Class).Equal("IOError")

			resp, _ = broken.call(rpc.VerbFlush, rpc.Args{Path: "/p"})
			g.Assert(resp.Class).Equal("HandleClosedError")
		})

		g.It("closes open handles on terminate", func() {
			h.call(rpc.VerbRegister, rpc.Args{Path: "/left-open"})
			h.w.Terminate()

			other := newHarness(s, "other")
			defer other.w.Terminate()
			resp, _ := other.call(rpc.VerbRegister, rpc.Args{Path: "/left-open"})
			g.Assert(resp.Kind).Equal(rpc.KindSuccess)

			g.Assert(h.w.Post(rpc.Envelope{})).Equal(ErrTerminated)
		})
	})
}
