package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emergingrobotics/inferpipe/pkg/infer"
	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/meta"
	"github.com/emergingrobotics/inferpipe/pkg/postproc"
	"github.com/emergingrobotics/inferpipe/pkg/preproc"
)

// Detector runs whole-frame detection inference. Frames go in
// through Submit, annotated frames come back out through Poll; both
// are non-blocking so a caller can pump them from one loop.
type Detector struct {
	name     string
	pre      preproc.Preprocessor
	rule     postproc.Rule
	outName  string
	maxDets  int
	interval int
	log      *slog.Logger
	pool     *infer.Pool

	mu    sync.Mutex
	seq   uint64
	ready []*Result
}

// NewDetector creates a detection stage from a configuration.
// Construction fails on a missing backend or preprocessor, a model
// without outputs, or bad pool sizes.
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.Backend == nil {
		return nil, ErrNoBackend
	}
	if cfg.Pre == nil {
		return nil, ErrNoPreprocessor
	}
	outputs := cfg.Backend.OutputInfo()
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	name := cfg.Name
	if name == "" {
		name = "detector"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := cfg.Interval
	if interval < 1 {
		interval = 1
	}

	// The first output layer carries the detection rows; its rule
	// supplies labels, the config threshold wins when set.
	outName := outputs[0].Name
	rule, ok := cfg.Rules.Lookup(outName)
	if !ok {
		rule = postproc.Rule{Layer: outName}
	}
	if cfg.Threshold != 0 {
		rule.Threshold = cfg.Threshold
	}

	pool, err := newPool(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Detector{
		name:     name,
		pre:      cfg.Pre,
		rule:     rule,
		outName:  outName,
		maxDets:  cfg.MaxDetections,
		interval: interval,
		log:      log,
		pool:     pool,
	}, nil
}

// newPool builds the request pool shared by all stage kinds
func newPool(cfg Config, log *slog.Logger) (*infer.Pool, error) {
	opts := []infer.Option{infer.WithLogger(log)}
	if cfg.Requests > 0 {
		opts = append(opts, infer.WithRequests(cfg.Requests))
	}
	if cfg.BatchSize > 0 {
		opts = append(opts, infer.WithBatchSize(cfg.BatchSize))
	}
	pool, err := infer.New(cfg.Backend, opts...)
	if err != nil {
		return nil, fmt.Errorf("request pool: %w", err)
	}
	return pool, nil
}

// Submit queues a frame for detection. With an interval above 1 only
// every Nth frame is submitted; skipped frames consume a sequence
// number but produce no Result. A full pool surfaces
// infer.ErrPoolExhausted and the frame is not queued.
func (d *Detector) Submit(frame *media.Frame) error {
	d.mu.Lock()
	seq := d.seq
	d.seq++
	d.mu.Unlock()

	if d.interval > 1 && seq%uint64(d.interval) != 0 {
		return nil
	}

	input, err := d.pre.Prepare(frame, nil)
	if err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	return d.pool.Submit(infer.Sample{Frame: frame, Input: input, Seq: seq})
}

// Poll returns the next annotated frame, or nil when none is ready.
// Detection decoding happens while the completed slot is still held,
// then the slot is released before the Result surfaces. A frame whose
// batch failed or whose rows would not decode surfaces with an empty
// sealed annotation.
func (d *Detector) Poll() *Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.ready) == 0 {
		d.drainPoolLocked()
	}
	if len(d.ready) == 0 {
		return nil
	}
	r := d.ready[0]
	d.ready = d.ready[1:]
	return r
}

// drainPoolLocked decodes one completed batch into ready results
func (d *Detector) drainPoolLocked() {
	c := d.pool.Poll()
	if c == nil {
		return
	}
	defer c.Release()

	if c.Err != nil {
		d.log.Warn("batch failed, frames surface unannotated",
			"model", d.name, "slot", c.Slot(), "frames", len(c.Samples))
		for _, s := range c.Samples {
			d.ready = append(d.ready, emptyResult(s))
		}
		return
	}
	if len(c.Outputs) == 0 {
		d.log.Error("batch completed without outputs", "model", d.name, "slot", c.Slot())
		for _, s := range c.Samples {
			d.ready = append(d.ready, emptyResult(s))
		}
		return
	}

	batch := len(c.Samples)
	for i, s := range c.Samples {
		dets, err := postproc.DecodeDetections(c.Outputs[0], batch,
			s.Frame.Width, s.Frame.Height, d.rule, d.maxDets)
		if err != nil {
			d.log.Error("detection decode failed",
				"model", d.name, "layer", d.outName, "slot", c.Slot(), "err", err)
			d.ready = append(d.ready, emptyResult(s))
			continue
		}

		ann := meta.NewAnnotation()
		for _, det := range dets[i] {
			ann.AddDetection(det)
		}
		ann.Seal()
		d.ready = append(d.ready, &Result{Frame: s.Frame, Meta: ann, Seq: s.Seq})
	}
}

// emptyResult wraps a sample in a sealed, empty annotation
func emptyResult(s infer.Sample) *Result {
	ann := meta.NewAnnotation()
	ann.Seal()
	return &Result{Frame: s.Frame, Meta: ann, Seq: s.Seq}
}

// Status returns how many request slots can still take frames
func (d *Detector) Status() int {
	return d.pool.ResourceStatus()
}

// Flush dispatches any partial batch and waits for in-flight work.
// Completed batches remain available through Poll.
func (d *Detector) Flush(ctx context.Context) error {
	return d.pool.Flush(ctx)
}

// Close flushes the pool, discards results nobody polled and closes
// the preprocessor. The backend stays open for its owner.
func (d *Detector) Close() error {
	err := d.pool.Close()

	d.mu.Lock()
	dropped := len(d.ready)
	for _, r := range d.ready {
		r.Meta.Release()
	}
	d.ready = nil
	d.mu.Unlock()
	for {
		c := d.pool.Poll()
		if c == nil {
			break
		}
		dropped += len(c.Samples)
		c.Release()
	}
	if dropped > 0 {
		d.log.Debug("discarded undelivered results", "model", d.name, "count", dropped)
	}

	if cerr := d.pre.Close(); err == nil {
		err = cerr
	}
	return err
}
