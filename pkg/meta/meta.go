// Package meta defines the inference result records attached to frames:
// detections, classifications, and the per-frame annotation that collects
// them.
package meta

import (
	"sync"
	"sync/atomic"

	"github.com/emergingrobotics/inferpipe/pkg/label"
	"github.com/emergingrobotics/inferpipe/pkg/media"
)

type metaError string

func (e metaError) Error() string { return string(e) }

const (
	// ErrSealed is returned when adding records to a sealed annotation
	ErrSealed = metaError("meta: annotation is sealed")
)

// Box is a detection rectangle in normalized [0,1] coordinates relative
// to the frame the model saw.
type Box struct {
	XMin float32
	YMin float32
	XMax float32
	YMax float32
}

// Detection is one detected object in a frame.
type Detection struct {
	// ObjectID is assigned sequentially within the frame, starting at 0.
	ObjectID int
	// LabelID indexes into Labels when a table is attached.
	LabelID    int
	Confidence float32
	// Box holds the normalized coordinates as the model produced them.
	Box Box
	// Rect holds the same region converted to pixels and clamped to the
	// frame bounds.
	Rect media.Rect
	// Labels resolves LabelID to a class name. May be nil.
	Labels *label.Table
}

// Label resolves the detection's class name, or "" without a table
func (d *Detection) Label() string {
	return d.Labels.At(d.LabelID)
}

// Classification is a secondary inference result attached to a detection,
// such as an attribute or an identity match.
type Classification struct {
	// DetectionID is the ObjectID of the detection this classifies, or -1
	// for a whole-frame classification.
	DetectionID int
	// Name is the attribute name from the conversion rule, for example
	// "color" or "face_id".
	Name string
	// Model and Layer record which network output produced the record.
	Model string
	Layer string

	LabelID    int
	Confidence float32
	// Value carries the scalar for value-type conversions.
	Value float32
	// Raw carries the unconverted tensor bytes for raw conversions.
	Raw []byte
	// Labels resolves LabelID to an attribute name. May be nil.
	Labels *label.Table
}

// Label resolves the classification's label, or "" without a table
func (c *Classification) Label() string {
	return c.Labels.At(c.LabelID)
}

// Annotation collects the inference results for one frame. Producers add
// records while the frame moves through postprocessing, then seal it;
// consumers hold references while they read.
type Annotation struct {
	mu              sync.Mutex
	sealed          bool
	detections      []Detection
	classifications []Classification
	refs            atomic.Int64
}

// NewAnnotation returns an empty, unsealed annotation with one reference
func NewAnnotation() *Annotation {
	a := &Annotation{}
	a.refs.Store(1)
	return a
}

// AddDetection appends a detection, assigning its ObjectID. The
// annotation takes a reference on the detection's label table and holds
// it until the annotation itself is released.
func (a *Annotation) AddDetection(d Detection) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return -1, ErrSealed
	}
	d.ObjectID = len(a.detections)
	d.Labels.Retain()
	a.detections = append(a.detections, d)
	return d.ObjectID, nil
}

// AddClassification appends a classification record, taking a reference
// on its label table as AddDetection does
func (a *Annotation) AddClassification(c Classification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return ErrSealed
	}
	c.Labels.Retain()
	a.classifications = append(a.classifications, c)
	return nil
}

// Seal marks the annotation read-only. Sealing twice is harmless.
func (a *Annotation) Seal() {
	a.mu.Lock()
	a.sealed = true
	a.mu.Unlock()
}

// Sealed reports whether the annotation accepts further records
func (a *Annotation) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

// Detections returns the detection records in insertion order. The
// returned slice is shared; callers must not modify it after sealing
// unless they hold the only reference.
func (a *Annotation) Detections() []Detection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detections
}

// Classifications returns the classification records in insertion order
func (a *Annotation) Classifications() []Classification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.classifications
}

// ClassificationsFor returns the records attached to one detection
func (a *Annotation) ClassificationsFor(objectID int) []Classification {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Classification
	for _, c := range a.classifications {
		if c.DetectionID == objectID {
			out = append(out, c)
		}
	}
	return out
}

// Retain adds a reference and returns the annotation for chaining
func (a *Annotation) Retain() *Annotation {
	if a == nil {
		return nil
	}
	a.refs.Add(1)
	return a
}

// Release drops a reference and returns the remaining count. When the
// count reaches zero the label table references held by the records are
// released. Releasing below zero panics; it indicates a double release.
func (a *Annotation) Release() int64 {
	if a == nil {
		return 0
	}
	n := a.refs.Add(-1)
	if n < 0 {
		panic("meta: annotation released more times than retained")
	}
	if n == 0 {
		a.releaseTables()
	}
	return n
}

// releaseTables drops the per-record table references. Runs exactly once,
// on the release that brought the count to zero. The record pointers stay
// set so slices handed out earlier remain readable.
func (a *Annotation) releaseTables() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.detections {
		a.detections[i].Labels.Release()
	}
	for i := range a.classifications {
		a.classifications[i].Labels.Release()
	}
}

// Refs returns the current reference count
func (a *Annotation) Refs() int64 {
	if a == nil {
		return 0
	}
	return a.refs.Load()
}
