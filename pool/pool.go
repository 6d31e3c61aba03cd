package pool

import (
	"sync"

	"github.com/apex/log"
	"github.com/creasty/defaults"

	"github.com/pterodactyl/originfs/metrics"
	"github.com/pterodactyl/originfs/rpc"
	"github.com/pterodactyl/originfs/storage"
)

type Options struct {
	// Capacity is the maximum number of workers the pool will start.
	Capacity int `default:"3"`
	// Codec is shared by every slot. Defaults to JSON.
	Codec rpc.Codec
}

// Pool is a bounded set of workers shared by any number of files. Workers are
// started lazily, one per Acquire, until the pool is at capacity. After that
// slots are handed out round-robin.
type Pool struct {
	store *storage.Store
	opts  Options

	mu     sync.Mutex
	slots  []*Slot
	cursor int
	closed bool
}

// New returns a pool that serves files from store. No worker is started until
// the first call to Acquire.
func New(store *storage.Store, opts Options) *Pool {
	if err := defaults.Set(&opts); err != nil {
		log.WithField("error", err).Warn("pool: failed to apply default options")
	}
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	if opts.Codec == nil {
		opts.Codec = rpc.JSON
	}
	return &Pool{store: store, opts: opts}
}

// Capacity returns the maximum number of slots.
func (p *Pool) Capacity() int {
	return p.opts.Capacity
}

// Len returns the number of slots started so far.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Acquire returns the slot the next file should be bound to.
func (p *Pool) Acquire() (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, storage.NewErrorf(storage.ErrCodeTransport, "acquire", "", "pool is closed")
	}
	if len(p.slots) < p.opts.Capacity {
		s := newSlot(p.store, p.opts.Codec)
		p.slots = append(p.slots, s)
		metrics.Slots.Inc()
		s.log().WithField("codec", p.opts.Codec.Name()).Debug("started worker")
		return s, nil
	}
	s := p.slots[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.slots)
	return s, nil
}

// Close terminates every worker and rejects any call still waiting for a
// response. Calling Close more than once is a no-op.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	slots := p.slots
	p.slots = nil
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range slots {
		wg.Add(1)
		go func(s *Slot) {
			defer wg.Done()
			s.close()
			metrics.Slots.Dec()
		}(s)
	}
	wg.Wait()
	return nil
}
