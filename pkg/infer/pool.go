// Package infer schedules batched inference over a fixed set of
// request slots. Submissions gather into batches without blocking the
// caller, batches execute asynchronously on an inference backend, and
// results are polled back in completion order.
package infer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emergingrobotics/inferpipe/pkg/backend"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

const (
	// MaxRequests bounds the number of request slots a pool may hold
	MaxRequests = 128

	defaultFlushLimit = 1000
	flushPollInterval = time.Millisecond
	closeFlushTimeout = 5 * time.Second
)

// Pool schedules batched inference over nireq request slots backed by
// one inference backend. Submit and Poll never block; execution runs
// on goroutines gated to the slot count.
type Pool struct {
	backend    backend.Backend
	nireq      int
	batchSize  int
	flushLimit int
	log        *slog.Logger

	// inflight gates executing goroutines to the slot count
	inflight chan struct{}

	mu       sync.Mutex
	slots    []*Request
	filling  int
	doneTick uint64
	closed   bool
}

// Option configures a Pool
type Option func(*Pool)

// WithRequests sets the number of request slots, 1 to MaxRequests
func WithRequests(n int) Option {
	return func(p *Pool) {
		p.nireq = n
	}
}

// WithBatchSize sets the number of samples gathered per execution
func WithBatchSize(n int) Option {
	return func(p *Pool) {
		p.batchSize = n
	}
}

// WithLogger routes pool diagnostics to l
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// WithFlushLimit caps the polling rounds a single Flush may spend
// waiting for in-flight batches
func WithFlushLimit(n int) Option {
	return func(p *Pool) {
		p.flushLimit = n
	}
}

// New creates a request pool bound to a backend. The pool does not own
// the backend; closing the pool leaves the backend open.
func New(b backend.Backend, opts ...Option) (*Pool, error) {
	if b == nil {
		return nil, ErrNilBackend
	}

	p := &Pool{
		backend:    b,
		nireq:      1,
		batchSize:  1,
		flushLimit: defaultFlushLimit,
		log:        slog.Default(),
		filling:    -1,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.nireq < 1 || p.nireq > MaxRequests {
		return nil, fmt.Errorf("%w: %d", ErrBadRequests, p.nireq)
	}
	if p.batchSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBadBatchSize, p.batchSize)
	}

	p.inflight = make(chan struct{}, p.nireq)
	p.slots = make([]*Request, p.nireq)
	for i := range p.slots {
		p.slots[i] = &Request{id: i}
	}
	return p, nil
}

// Submit queues one sample without blocking. The sample joins the slot
// currently filling, or claims a free slot; once the slot reaches the
// batch size its batch is dispatched to the backend asynchronously.
// When every slot is busy Submit returns ErrPoolExhausted and the
// caller decides whether to drop or retry.
func (p *Pool) Submit(s Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	r := p.fillingSlot()
	if r == nil {
		return ErrPoolExhausted
	}

	r.samples = append(r.samples, s)
	if len(r.samples) == p.batchSize {
		p.dispatchLocked(r)
	}
	return nil
}

// fillingSlot returns the slot accepting samples, claiming a free slot
// when none is filling. Returns nil when every slot is busy. The
// caller holds p.mu.
func (p *Pool) fillingSlot() *Request {
	if p.filling >= 0 {
		return p.slots[p.filling]
	}
	for i, r := range p.slots {
		if r.state == StateFree {
			r.state = StateFilling
			p.filling = i
			return r
		}
	}
	return nil
}

// dispatchLocked hands a filling slot to the backend. The caller holds
// p.mu.
func (p *Pool) dispatchLocked(r *Request) {
	r.state = StateSubmitted
	if p.filling == r.id {
		p.filling = -1
	}
	go p.run(r)
}

// run executes one batch and completes its slot
func (p *Pool) run(r *Request) {
	p.inflight <- struct{}{}
	defer func() {
		<-p.inflight
	}()

	outputs, err := p.execute(r)

	p.mu.Lock()
	r.outputs = outputs
	r.err = err
	p.doneTick++
	r.doneSeq = p.doneTick
	r.state = StateCompleted
	p.mu.Unlock()

	if err != nil {
		p.log.Error("batch execution failed",
			"slot", r.id, "samples", len(r.samples), "err", err)
	}
}

// execute binds the batch to the slot, runs it and collects the
// outputs
func (p *Pool) execute(r *Request) ([]*tensor.Tensor, error) {
	for i := range r.samples {
		if err := p.backend.SetInput(r.id, i, r.samples[i].Input); err != nil {
			return nil, fmt.Errorf("bind batch index %d: %w", i, err)
		}
	}
	if err := p.backend.Execute(r.id); err != nil {
		return nil, err
	}

	outputs := make([]*tensor.Tensor, len(p.backend.OutputInfo()))
	for i := range outputs {
		t, err := p.backend.Output(r.id, i)
		if err != nil {
			return nil, fmt.Errorf("fetch output %d: %w", i, err)
		}
		outputs[i] = t
	}
	return outputs, nil
}

// Poll returns the oldest completed batch without blocking, or nil
// when no batch is ready. The returned slot stays reserved until the
// result's Release, so repeated polls hand out distinct batches.
func (p *Pool) Poll() *Completed {
	p.mu.Lock()
	defer p.mu.Unlock()

	var oldest *Request
	for _, r := range p.slots {
		if r.state != StateCompleted || r.claimed {
			continue
		}
		if oldest == nil || r.doneSeq < oldest.doneSeq {
			oldest = r
		}
	}
	if oldest == nil {
		return nil
	}

	oldest.claimed = true
	return &Completed{
		Samples: oldest.samples,
		Outputs: oldest.outputs,
		Err:     oldest.err,
		pool:    p,
		req:     oldest,
	}
}

// release returns a claimed slot to free
func (p *Pool) release(r *Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r.state = StateFree
	r.claimed = false
	r.samples = nil
	r.outputs = nil
	r.err = nil
}

// ResourceStatus returns the number of slots that can still accept
// samples: free slots plus the one currently filling
func (p *Pool) ResourceStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, r := range p.slots {
		switch r.state {
		case StateFree:
			n++
		case StateFilling:
			if len(r.samples) < p.batchSize {
				n++
			}
		}
	}
	return n
}

// InFlight returns the number of slots currently executing
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, r := range p.slots {
		if r.state == StateSubmitted {
			n++
		}
	}
	return n
}

// Flush dispatches any partially filled batch and waits until no slot
// remains in flight. Completed batches are not discarded; they wait
// for Poll. The wait is bounded by the flush limit and by ctx.
// Flushing an idle pool returns immediately, so Flush is idempotent.
func (p *Pool) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.filling >= 0 {
		r := p.slots[p.filling]
		p.log.Debug("flushing partial batch", "slot", r.id, "samples", len(r.samples))
		p.dispatchLocked(r)
	}
	p.mu.Unlock()

	for i := 0; i < p.flushLimit; i++ {
		if p.InFlight() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(flushPollInterval):
		}
	}
	return ErrFlushTimeout
}

// Close flushes in-flight work with a bounded background wait and
// rejects further submissions. Pending completed batches remain
// pollable. The backend stays open; its owner closes it. Close is
// idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	return p.Flush(ctx)
}
