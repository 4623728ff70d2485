package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/emergingrobotics/inferpipe/pkg/backend"
	"github.com/emergingrobotics/inferpipe/pkg/infer"
	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/meta"
	"github.com/emergingrobotics/inferpipe/pkg/postproc"
	"github.com/emergingrobotics/inferpipe/pkg/preproc"
)

// Classifier runs secondary inference over detected regions. Regions
// are submitted incrementally as request slots free up; each
// completed region yields one classification per rule-bound output
// layer, keyed to the detection it came from.
type Classifier struct {
	name        string
	pre         preproc.Preprocessor
	rules       postproc.RuleSet
	objectClass string
	outputs     []backend.TensorInfo
	log         *slog.Logger
	pool        *infer.Pool

	mu  sync.Mutex
	seq uint64
}

// NewClassifier creates a region classification stage
func NewClassifier(cfg Config) (*Classifier, error) {
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
		name = "classifier"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	pool, err := newPool(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		name:        name,
		pre:         cfg.Pre,
		rules:       cfg.Rules,
		objectClass: cfg.ObjectClass,
		outputs:     outputs,
		log:         log,
		pool:        pool,
	}, nil
}

// SubmitRegions queues detected regions of a frame for inference and
// returns how many entries of dets were consumed. At most
// ResourceStatus() regions are submitted per call; the caller resumes
// from the returned offset once slots free up. Detections filtered by
// ObjectClass, or whose region cannot be prepared, are consumed
// without a submission.
func (c *Classifier) SubmitRegions(frame *media.Frame, dets []meta.Detection) (int, error) {
	budget := c.pool.ResourceStatus()
	consumed := 0
	for _, det := range dets {
		if c.objectClass != "" && det.Label() != c.objectClass {
			consumed++
			continue
		}
		if budget <= 0 {
			break
		}

		crop := det.Rect
		input, err := c.pre.Prepare(frame, &crop)
		if err != nil {
			c.log.Warn("region preprocess failed",
				"model", c.name, "object", det.ObjectID, "err", err)
			consumed++
			continue
		}

		c.mu.Lock()
		seq := c.seq
		c.seq++
		c.mu.Unlock()

		err = c.pool.Submit(infer.Sample{
			Frame: frame,
			Crop:  &crop,
			Input: input,
			Seq:   seq,
			Ref:   det,
		})
		if err != nil {
			if errors.Is(err, infer.ErrPoolExhausted) {
				break
			}
			return consumed, err
		}
		budget--
		consumed++
	}
	return consumed, nil
}

// Poll decodes one completed batch into classification records, or
// returns nil when none is ready. Records carry the originating
// detection's ObjectID; output layers without a rule are skipped and
// per-layer decode failures are logged and isolated.
func (c *Classifier) Poll() []meta.Classification {
	done := c.pool.Poll()
	if done == nil {
		return nil
	}
	defer done.Release()

	if done.Err != nil {
		c.log.Warn("region batch failed",
			"model", c.name, "slot", done.Slot(), "regions", len(done.Samples))
		return nil
	}

	count := len(done.Samples)
	var recs []meta.Classification
	for oi, out := range done.Outputs {
		layer := ""
		if oi < len(c.outputs) {
			layer = c.outputs[oi].Name
		}
		rule, ok := c.rules.Lookup(layer)
		if !ok {
			continue
		}
		rule.Layer = layer

		decoded, err := postproc.DecodeClassifications(out, count, rule, c.name)
		if err != nil {
			c.log.Error("classification decode failed",
				"model", c.name, "layer", layer, "slot", done.Slot(), "err", err)
			continue
		}
		for i := range decoded {
			if det, ok := done.Samples[decoded[i].DetectionID].Ref.(meta.Detection); ok {
				decoded[i].DetectionID = det.ObjectID
			}
		}
		recs = append(recs, decoded...)
	}
	return recs
}

// Status returns how many request slots can still take regions
func (c *Classifier) Status() int {
	return c.pool.ResourceStatus()
}

// Flush dispatches any partial batch and waits for in-flight work
func (c *Classifier) Flush(ctx context.Context) error {
	return c.pool.Flush(ctx)
}

// Close flushes the pool, discards unread results and closes the
// preprocessor
func (c *Classifier) Close() error {
	err := c.pool.Close()
	for {
		done := c.pool.Poll()
		if done == nil {
			break
		}
		done.Release()
	}
	if cerr := c.pre.Close(); err == nil {
		err = cerr
	}
	return err
}
