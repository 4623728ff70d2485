package pipeline

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/meta"
	"github.com/emergingrobotics/inferpipe/pkg/postproc"
)

// Identifier wraps a Classifier whose rules produce raw embedding
// records and resolves each embedding against a reference gallery.
// Matched records carry the gallery label and match confidence;
// unmatched ones carry label 0.
type Identifier struct {
	cls     *Classifier
	gallery *postproc.Gallery
}

// NewIdentifier creates an identification stage over an embedding
// classifier and a loaded gallery
func NewIdentifier(cls *Classifier, gallery *postproc.Gallery) (*Identifier, error) {
	if cls == nil {
		return nil, ErrNoBackend
	}
	if gallery == nil {
		return nil, ErrNoGallery
	}
	return &Identifier{cls: cls, gallery: gallery}, nil
}

// SubmitRegions queues detected regions for embedding extraction
func (id *Identifier) SubmitRegions(frame *media.Frame, dets []meta.Detection) (int, error) {
	return id.cls.SubmitRegions(frame, dets)
}

// Poll returns the next batch of identity records. Raw embedding
// records are rewritten in place: label and confidence from the
// gallery match, the gallery's label table for resolution, raw bytes
// dropped. Records that are not embeddings pass through untouched.
func (id *Identifier) Poll() []meta.Classification {
	recs := id.cls.Poll()
	for i := range recs {
		vec, ok := embeddingVec(recs[i].Raw)
		if !ok {
			continue
		}
		labelID, conf := id.gallery.Match(vec)
		recs[i].LabelID = labelID
		recs[i].Confidence = conf
		recs[i].Labels = id.gallery.Labels()
		recs[i].Name = id.gallery.Labels().At(labelID)
		recs[i].Raw = nil
	}
	return recs
}

// embeddingVec decodes raw bytes as a little-endian embedding vector
func embeddingVec(raw []byte) ([]float32, bool) {
	if len(raw) != postproc.EmbeddingSize*4 {
		return nil, false
	}
	vec := make([]float32, postproc.EmbeddingSize)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, true
}

// Status returns how many request slots can still take regions
func (id *Identifier) Status() int {
	return id.cls.Status()
}

// Flush dispatches any partial batch and waits for in-flight work
func (id *Identifier) Flush(ctx context.Context) error {
	return id.cls.Flush(ctx)
}

// Close closes the wrapped classifier
func (id *Identifier) Close() error {
	return id.cls.Close()
}
