package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/pterodactyl/originfs/metrics"
	"github.com/pterodactyl/originfs/rpc"
	"github.com/pterodactyl/originfs/storage"
	"github.com/pterodactyl/originfs/worker"
)

type callState int

const (
	stateSent callState = iota
	stateCompleted
	stateTimedOut
)

// call is one entry of a slot's pending table. It leaves the table exactly
// once, either when its response arrives or when its caller gives up.
type call struct {
	verb    rpc.Verb
	path    string
	started time.Time
	state   callState
	done    chan reply
}

type reply struct {
	resp rpc.Response
	bufs []*rpc.Buffer
	err  error
}

// Result is the value of a successful call. Buffer is only set for reads and
// is owned by the caller.
type Result struct {
	Value  int64
	Buffer *rpc.Buffer
}

// Slot is one worker together with everything needed to talk to it.
type Slot struct {
	id      string
	codec   rpc.Codec
	worker  *worker.Worker
	replies chan rpc.Envelope
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*call
	closed  bool

	demuxDone chan struct{}
}

func newSlot(store *storage.Store, codec rpc.Codec) *Slot {
	s := &Slot{
		id:        uuid.NewString(),
		codec:     codec,
		replies:   make(chan rpc.Envelope, 64),
		pending:   make(map[uint64]*call),
		demuxDone: make(chan struct{}),
	}
	s.worker = worker.New(s.id, store, codec, s.replies)
	go s.demux()
	return s
}

// ID returns the unique identifier of the slot.
func (s *Slot) ID() string {
	return s.id
}

func (s *Slot) log() *log.Entry {
	return log.WithFields(log.Fields{"subsystem": "pool", "slot": s.id})
}

// Send posts one request to the worker and waits for its response or for ctx
// to be done, whichever comes first. Ownership of every buffer in transfer
// moves to the worker, the caller's buffers are detached before Send returns.
// Errors reported by the worker come back as *storage.Error values.
func (s *Slot) Send(ctx context.Context, verb rpc.Verb, args rpc.Args, transfer ...*rpc.Buffer) (Result, error) {
	id := s.nextID.Add(1)
	moved := rpc.TransferAll(transfer)

	payload, err := s.codec.Marshal(rpc.Request{CorrelationID: id, Verb: verb, Args: args})
	if err != nil {
		rpc.Envelope{Transfer: moved}.Release()
		return Result{}, storage.NewError(storage.ErrCodeTransport, string(verb), args.Path, errors.WithMessage(err, "failed to encode request"))
	}

	c := &call{verb: verb, path: args.Path, started: time.Now(), state: stateSent, done: make(chan reply, 1)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		rpc.Envelope{Transfer: moved}.Release()
		metrics.ObserveRequest(string(verb), metrics.OutcomeRejected, c.started)
		return Result{}, storage.NewErrorf(storage.ErrCodeTransport, string(verb), args.Path, "worker terminated")
	}
	s.pending[id] = c
	s.mu.Unlock()
	metrics.PendingCalls.Inc()

	if err := s.worker.Post(rpc.Envelope{Payload: payload, Transfer: moved}); err != nil {
		if s.take(id) != nil {
			metrics.PendingCalls.Dec()
		}
		metrics.ObserveRequest(string(verb), metrics.OutcomeRejected, c.started)
		return Result{}, storage.NewError(storage.ErrCodeTransport, string(verb), args.Path, err)
	}

	select {
	case r := <-c.done:
		return s.resolve(c, r)
	case <-ctx.Done():
		s.mu.Lock()
		if c.state == stateSent {
			c.state = stateTimedOut
			delete(s.pending, id)
			s.mu.Unlock()
			metrics.PendingCalls.Dec()
			metrics.ObserveRequest(string(verb), metrics.OutcomeTimeout, c.started)
			s.log().WithFields(log.Fields{"verb": verb, "path": args.Path, "correlation_id": id}).Debug("call abandoned before a response arrived")
			return Result{}, storage.NewError(storage.ErrCodeTransport, string(verb), args.Path, errors.WithMessage(ctx.Err(), "no response"))
		}
		s.mu.Unlock()
		// The response won the race, it is already waiting on the channel.
		return s.resolve(c, <-c.done)
	}
}

// take removes and returns the pending call for id, or nil if it has already
// been resolved.
func (s *Slot) take(id uint64) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	c.state = stateCompleted
	return c
}

func (s *Slot) resolve(c *call, r reply) (Result, error) {
	if r.err != nil {
		metrics.ObserveRequest(string(c.verb), metrics.OutcomeRejected, c.started)
		return Result{}, r.err
	}
	if r.resp.Kind == rpc.KindError {
		rpc.Envelope{Transfer: r.bufs}.Release()
		metrics.ObserveRequest(string(c.verb), metrics.OutcomeError, c.started)
		return Result{}, remoteError(c.verb, c.path, r.resp)
	}
	metrics.ObserveRequest(string(c.verb), metrics.OutcomeSuccess, c.started)
	res := Result{Value: r.resp.Value}
	if len(r.bufs) > 0 {
		res.Buffer = r.bufs[0]
		rpc.Envelope{Transfer: r.bufs[1:]}.Release()
	}
	return res, nil
}

// remoteError rebuilds a worker-reported failure. Classes this side does not
// know about are reported as transport errors.
func remoteError(verb rpc.Verb, path string, resp rpc.Response) error {
	code, ok := storage.ParseErrorCode(resp.Class)
	if !ok {
		code = storage.ErrCodeTransport
	}
	return storage.NewError(code, string(verb), path, errors.NewPlain(resp.Message))
}

// demux completes pending calls as their responses arrive. It runs until the
// reply channel is closed.
func (s *Slot) demux() {
	defer close(s.demuxDone)
	for env := range s.replies {
		var resp rpc.Response
		if err := s.codec.Unmarshal(env.Payload, &resp); err != nil {
			env.Release()
			s.log().WithField("error", err).Error("failed to decode response")
			continue
		}
		c := s.take(resp.CorrelationID)
		if c == nil {
			env.Release()
			metrics.LateReplies.Inc()
			s.log().WithField("correlation_id", resp.CorrelationID).Warn("dropping response for a call that is no longer pending")
			continue
		}
		metrics.PendingCalls.Dec()
		c.done <- reply{resp: resp, bufs: env.Transfer}
	}
}

// close terminates the worker and rejects anything still waiting on it.
func (s *Slot) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.worker.Terminate()
	close(s.replies)
	<-s.demuxDone

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.pending {
		delete(s.pending, id)
		c.state = stateCompleted
		metrics.PendingCalls.Dec()
		c.done <- reply{err: storage.NewErrorf(storage.ErrCodeTransport, string(c.verb), c.path, "worker terminated")}
	}
}
