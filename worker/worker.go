package worker

import (
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gammazero/workerpool"

	"github.com/pterodactyl/originfs/internal/ufs"
	"github.com/pterodactyl/originfs/rpc"
	"github.com/pterodactyl/originfs/storage"
)

// ErrTerminated is returned when posting to a worker that has been terminated.
var ErrTerminated = errors.Sentinel("worker: terminated")

// Worker is the only place access handles are opened and used. Every message
// posted to it is handled to completion, one at a time and in arrival order,
// on a single goroutine. Results are posted back on the reply channel.
type Worker struct {
	id      string
	store   *storage.Store
	codec   rpc.Codec
	replies chan<- rpc.Envelope

	// This utilizes a workerpool with a limit of one worker so that every
	// message executes in a sync manner and in FIFO order.
	exec *workerpool.WorkerPool

	// Only touched from within exec.
	openHandles map[string]*ufs.AccessHandle

	mu         sync.RWMutex
	terminated bool
}

// New starts a worker that posts its replies to replies. The channel is never
// closed by the worker.
func New(id string, store *storage.Store, codec rpc.Codec, replies chan<- rpc.Envelope) *Worker {
	return &Worker{
		id:          id,
		store:       store,
		codec:       codec,
		replies:     replies,
		exec:        workerpool.New(1),
		openHandles: make(map[string]*ufs.AccessHandle),
	}
}

// ID returns the identifier of the worker.
func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) log() *log.Entry {
	return log.WithFields(log.Fields{"subsystem": "worker", "worker": w.id})
}

// Post queues an envelope for the worker. Ownership of every buffer in the
// transfer list passes to the worker.
func (w *Worker) Post(env rpc.Envelope) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.terminated {
		env.Release()
		return ErrTerminated
	}
	w.exec.Submit(func() {
		w.handle(env)
	})
	return nil
}

// Terminate waits for every queued message to be handled, closes any access
// handles that are still open and stops the worker. It is safe to call more
// than once.
func (w *Worker) Terminate() {
	w.mu.Lock()
	if w.terminated {
		w.mu.Unlock()
		return
	}
	w.terminated = true
	w.mu.Unlock()

	w.exec.StopWait()
	for p, h := range w.openHandles {
		w.log().WithField("path", p).Warn("closing access handle left open at termination")
		if err := h.Close(); err != nil {
			w.log().WithField("path", p).WithField("error", err).Warn("failed to close access handle")
		}
		delete(w.openHandles, p)
	}
}

func (w *Worker) handle(env rpc.Envelope) {
	var req rpc.Request
	if err := w.codec.Unmarshal(env.Payload, &req); err != nil {
		env.Release()
		// Without a correlation id there is nobody to answer, the caller will
		// give up on its own context.
		w.log().WithField("error", err).Error("failed to decode request")
		return
	}

	res, out, err := w.dispatch(req, env.Transfer)
	// The write handler consumed its buffer already, anything else left in the
	// transfer list is not needed.
	env.Release()

	resp := rpc.Response{CorrelationID: req.CorrelationID, Kind: rpc.KindSuccess, Value: res}
	if err != nil {
		resp = errorResponse(req, err)
		out = nil
		w.log().WithFields(log.Fields{"verb": req.Verb, "path": req.Args.Path, "correlation_id": req.CorrelationID, "error": err}).
			Debug("request failed")
	}
	payload, merr := w.codec.Marshal(resp)
	if merr != nil {
		w.log().WithField("error", merr).Error("failed to encode response")
		return
	}
	w.replies <- rpc.Envelope{Payload: payload, Transfer: rpc.TransferAll(out)}
}

func errorResponse(req rpc.Request, err error) rpc.Response {
	class := storage.Code(err)
	msg := err.Error()
	var serr *storage.Error
	if errors.As(err, &serr) {
		msg = serr.Message()
	}
	return rpc.Response{
		CorrelationID: req.CorrelationID,
		Kind:          rpc.KindError,
		Class:         string(class),
		Message:       msg,
		Request:       rpc.RequestJSON(req),
	}
}

// dispatch runs the handler for a single request. A panic inside a handler
// is turned into an error for that request only.
func (w *Worker) dispatch(req rpc.Request, in []*rpc.Buffer) (value int64, out []*rpc.Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log().WithFields(log.Fields{"verb": req.Verb, "path": req.Args.Path, "panic": r}).Error("recovered from panic in handler")
			value, out = 0, nil
			err = storage.NewErrorf(storage.ErrCodeIO, string(req.Verb), req.Args.Path, "panic: %v", r)
		}
	}()

	p := req.Args.Path
	if req.Verb == rpc.VerbRegister {
		return 0, nil, w.register(p)
	}

	h, ok := w.openHandles[p]
	if !ok {
		if !isVerb(req.Verb) {
			return 0, nil, storage.NewErrorf(storage.ErrCodeTransport, string(req.Verb), p, "unknown verb")
		}
		return 0, nil, storage.NewErrorf(storage.ErrCodeHandleClosed, string(req.Verb), p, "no access handle registered for path")
	}

	verb := string(req.Verb)
	switch req.Verb {
	case rpc.VerbRead:
		if req.Args.Size < 0 || req.Args.Offset < 0 {
			return 0, nil, storage.NewErrorf(storage.ErrCodeIO, verb, p, "negative offset or size")
		}
		size, err := h.Size()
		if err != nil {
			return 0, nil, storage.FromError(verb, p, err)
		}
		want := req.Args.Size
		if remaining := size - req.Args.Offset; want > remaining {
			want = max(remaining, 0)
		}
		buf := make([]byte, want)
		n, err := h.ReadAt(buf, req.Args.Offset)
		if err != nil {
			return 0, nil, storage.FromError(verb, p, err)
		}
		return int64(n), []*rpc.Buffer{rpc.NewBuffer(buf).TransferN(n)}, nil
	case rpc.VerbWrite:
		var data []byte
		if len(in) > 0 {
			data = in[0].Bytes()
		}
		var at int64
		if req.Args.At != nil {
			at = *req.Args.At
		} else if at, err = h.Size(); err != nil {
			return 0, nil, storage.FromError(verb, p, err)
		}
		if at < 0 {
			return 0, nil, storage.NewErrorf(storage.ErrCodeIO, verb, p, "negative write offset")
		}
		n, err := h.WriteAt(data, at)
		if err != nil {
			return int64(n), nil, storage.FromError(verb, p, err)
		}
		return int64(n), nil, nil
	case rpc.VerbTruncate:
		if req.Args.NewSize < 0 {
			return 0, nil, storage.NewErrorf(storage.ErrCodeIO, verb, p, "negative size")
		}
		return 0, nil, storage.FromError(verb, p, h.Truncate(req.Args.NewSize))
	case rpc.VerbGetSize:
		size, err := h.Size()
		if err != nil {
			return 0, nil, storage.FromError(verb, p, err)
		}
		return size, nil, nil
	case rpc.VerbFlush:
		return 0, nil, storage.FromError(verb, p, h.Flush())
	case rpc.VerbClose:
		// The entry goes away even if closing the file fails.
		delete(w.openHandles, p)
		return 0, nil, storage.FromError(verb, p, h.Close())
	}
	return 0, nil, storage.NewErrorf(storage.ErrCodeTransport, verb, p, "unknown verb")
}

func (w *Worker) register(p string) error {
	if _, ok := w.openHandles[p]; ok {
		return storage.NewErrorf(storage.ErrCodeHandleRegistration, "register", p, "access handle already registered in this worker")
	}
	h, err := w.store.OpenAccessHandle(p)
	if err != nil {
		return err
	}
	w.openHandles[p] = h
	w.log().WithField("path", p).Debug("registered access handle")
	return nil
}

func isVerb(v rpc.Verb) bool {
	for _, known := range rpc.Verbs {
		if v == known {
			return true
		}
	}
	return false
}
