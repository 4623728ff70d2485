// Package pipeline assembles preprocessing, batched inference and
// output decoding into per-frame stages. A Detector annotates whole
// frames with detections; a Classifier runs per-region inference over
// earlier detections; an Identifier resolves embedding outputs
// against a reference gallery.
package pipeline

import (
	"log/slog"

	"github.com/emergingrobotics/inferpipe/pkg/backend"
	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/meta"
	"github.com/emergingrobotics/inferpipe/pkg/postproc"
	"github.com/emergingrobotics/inferpipe/pkg/preproc"
)

// pipelineError is a simple error type for the pipeline package
type pipelineError string

func (e pipelineError) Error() string { return string(e) }

// Errors for stage construction
const (
	ErrNoBackend      = pipelineError("stage requires a backend")
	ErrNoPreprocessor = pipelineError("stage requires a preprocessor")
	ErrNoOutputs      = pipelineError("model has no outputs")
	ErrNoGallery      = pipelineError("identifier requires a gallery")
)

// Config carries the settings shared by pipeline stages
type Config struct {
	// Name tags log records and produced metadata with the model.
	Name string
	// Backend runs the inference; the stage does not close it.
	Backend backend.Backend
	// Pre prepares frames or regions into input tensors. The stage
	// owns it and closes it with Close.
	Pre preproc.Preprocessor
	// Rules select converters and labels per output layer.
	Rules postproc.RuleSet
	// Threshold overrides the detection rule's confidence cutoff
	// when nonzero.
	Threshold float32
	// MaxDetections caps detections per frame, 0 for no cap.
	MaxDetections int
	// Requests is the request slot count, default 1.
	Requests int
	// BatchSize is the samples gathered per execution, default 1.
	BatchSize int
	// Interval submits every Nth frame, default 1 (every frame).
	Interval int
	// ObjectClass restricts region stages to detections with a
	// matching label, empty for all.
	ObjectClass string
	// Logger receives stage diagnostics, default slog.Default().
	Logger *slog.Logger
}

// Result is one annotated frame surfaced by Detector.Poll
type Result struct {
	Frame *media.Frame
	Meta  *meta.Annotation
	Seq   uint64
}
