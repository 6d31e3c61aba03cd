package access

import (
	"context"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/pterodactyl/originfs/pool"
	"github.com/pterodactyl/originfs/rpc"
	"github.com/pterodactyl/originfs/storage"
)

// Handle is an open, exclusive access handle on one file. It is bound to a
// single worker slot for its whole life, so every call on it is handled in
// the order it was made.
type Handle struct {
	path    string
	slot    *pool.Slot
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

type Option func(h *Handle)

// WithTimeout bounds every call made through the handle, including the
// register performed by Open. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(h *Handle) {
		h.timeout = d
	}
}

// Open binds path to a slot from p and registers it with that slot's worker.
// The file and any missing parent directories are created. Open fails with a
// HandleRegistrationError while another handle on the same file is open.
func Open(ctx context.Context, p *pool.Pool, path string, opts ...Option) (*Handle, error) {
	slot, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	h := &Handle{path: path, slot: slot}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.register(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// register sends the register call without letting ctx abandon it. If ctx is
// done first Open returns straight away, and a successful register that
// lands afterwards is closed again so the file does not stay locked by a
// handle nobody holds.
func (h *Handle) register(ctx context.Context) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return storage.NewError(storage.ErrCodeTransport, string(rpc.VerbRegister), h.path, errors.WithMessage(err, "not sent"))
	}

	detached := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := h.slot.Send(detached, rpc.VerbRegister, rpc.Args{Path: h.path})
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-done; err != nil {
				return
			}
			if _, err := h.slot.Send(detached, rpc.VerbClose, rpc.Args{Path: h.path}); err != nil {
				log.WithFields(log.Fields{"subsystem": "access", "path": h.path, "error": err}).Warn("failed to release abandoned access handle")
			}
		}()
		return storage.NewError(storage.ErrCodeTransport, string(rpc.VerbRegister), h.path, errors.WithMessage(ctx.Err(), "no response"))
	}
}

// Path returns the path the handle is bound to.
func (h *Handle) Path() string {
	return h.path
}

// Slot returns the slot the handle is bound to.
func (h *Handle) Slot() *pool.Slot {
	return h.slot
}

func (h *Handle) send(ctx context.Context, verb rpc.Verb, args rpc.Args, transfer ...*rpc.Buffer) (pool.Result, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return pool.Result{}, storage.NewErrorf(storage.ErrCodeHandleClosed, string(verb), h.path, "access handle is closed")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	args.Path = h.path
	return h.slot.Send(ctx, verb, args, transfer...)
}

// Read reads up to size bytes starting at offset. The returned buffer is
// shorter than size when the end of the file is reached.
func (h *Handle) Read(ctx context.Context, offset, size int64) (*rpc.Buffer, error) {
	res, err := h.send(ctx, rpc.VerbRead, rpc.Args{Offset: offset, Size: size})
	if err != nil {
		return nil, err
	}
	if res.Buffer == nil {
		return rpc.NewBuffer([]byte{}), nil
	}
	return res.Buffer, nil
}

type WriteOption func(args *rpc.Args)

// WriteAt writes at the given offset instead of the end of the file.
func WriteAt(offset int64) WriteOption {
	return func(args *rpc.Args) {
		args.At = &offset
	}
}

// Write hands buf over to the worker and writes it, at the end of the file
// unless WriteAt is given. buf is detached once Write returns, whatever the
// outcome, unless the handle was already closed.
func (h *Handle) Write(ctx context.Context, buf *rpc.Buffer, opts ...WriteOption) (int64, error) {
	var args rpc.Args
	for _, opt := range opts {
		opt(&args)
	}
	res, err := h.send(ctx, rpc.VerbWrite, args, buf)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// Truncate resizes the file to size bytes.
func (h *Handle) Truncate(ctx context.Context, size int64) error {
	_, err := h.send(ctx, rpc.VerbTruncate, rpc.Args{NewSize: size})
	return err
}

// Size returns the current size of the file.
func (h *Handle) Size(ctx context.Context) (int64, error) {
	res, err := h.send(ctx, rpc.VerbGetSize, rpc.Args{})
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// Flush commits written data to stable storage.
func (h *Handle) Flush(ctx context.Context) error {
	_, err := h.send(ctx, rpc.VerbFlush, rpc.Args{})
	return err
}

// Close releases the handle. The handle is unusable afterwards even if the
// worker failed to close the underlying file.
func (h *Handle) Close(ctx context.Context) error {
	_, err := h.send(ctx, rpc.VerbClose, rpc.Args{})
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return err
}
