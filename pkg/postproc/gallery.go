package postproc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/emergingrobotics/inferpipe/pkg/label"
)

const (
	// EmbeddingSize is the reference feature vector length
	EmbeddingSize = 256

	// DefaultMatchThreshold is the maximum angle in degrees between a
	// probe and its closest reference for a match
	DefaultMatchThreshold = 70.0

	// UnknownLabel is the gallery label id for unmatched probes
	UnknownLabel = 0

	matchPi = 3.1415926
)

// galleryEntry is one reference vector with its cached L2 norm
type galleryEntry struct {
	labelID int
	vec     []float32
	norm    float64
}

// Gallery matches probe embeddings against a set of reference
// embeddings by the angle between them. Label id 0 is reserved for
// unmatched probes.
type Gallery struct {
	entries   []galleryEntry
	labels    *label.Table
	threshold float64
}

// NewGallery creates an empty gallery. Label id 0 resolves to
// "Unknown_Person"; reference labels start at 1.
func NewGallery() *Gallery {
	return &Gallery{
		labels:    label.New([]string{"Unknown_Person"}),
		threshold: DefaultMatchThreshold,
	}
}

// SetThreshold overrides the match angle threshold in degrees
func (g *Gallery) SetThreshold(degrees float64) {
	g.threshold = degrees
}

// AddPerson registers a label name and returns its label id. The
// gallery's table is rebuilt; records already annotated keep the table
// they were resolved against.
func (g *Gallery) AddPerson(name string) int {
	names := append(g.labels.Strings(), name)
	old := g.labels
	g.labels = label.New(names)
	old.Release()
	return len(names) - 1
}

// AddFeature registers one reference vector for a label id
func (g *Gallery) AddFeature(labelID int, vec []float32) error {
	if len(vec) != EmbeddingSize {
		return fmt.Errorf("%w: feature length %d, expected %d", ErrMalformedOutput, len(vec), EmbeddingSize)
	}
	if labelID < 1 || labelID >= g.labels.Len() {
		return fmt.Errorf("unknown gallery label id %d", labelID)
	}
	own := make([]float32, EmbeddingSize)
	copy(own, vec)
	g.entries = append(g.entries, galleryEntry{
		labelID: labelID,
		vec:     own,
		norm:    l2norm(own),
	})
	return nil
}

// Labels returns the gallery's label table
func (g *Gallery) Labels() *label.Table {
	return g.labels
}

// Size returns the number of reference vectors
func (g *Gallery) Size() int {
	return len(g.entries)
}

// Match finds the reference closest to probe by angle. The global
// minimum angle is found first, then checked against the threshold:
// a match returns the reference's label id and (90-angle)/90 as
// confidence, a miss returns label 0 with confidence 0.
func (g *Gallery) Match(probe []float32) (int, float32) {
	if len(probe) != EmbeddingSize || len(g.entries) == 0 {
		return UnknownLabel, 0
	}

	normProbe := l2norm(probe)
	minAngle := math.MaxFloat64
	best := UnknownLabel
	for i := range g.entries {
		e := &g.entries[i]
		var dot float64
		for j := 0; j < EmbeddingSize; j++ {
			dot += float64(e.vec[j]) * float64(probe[j])
		}
		angle := math.Acos((dot-0.0001)/(e.norm*normProbe)) / matchPi * 180
		if angle < minAngle {
			minAngle = angle
			best = e.labelID
		}
	}

	if minAngle < g.threshold {
		return best, float32((90 - minAngle) / 90)
	}
	return UnknownLabel, 0
}

// l2norm returns the Euclidean norm of a vector
func l2norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// galleryEntryFile is one person in the gallery document
type galleryEntryFile struct {
	Label    string   `json:"label"`
	Features []string `json:"features"`
}

// LoadGallery reads a gallery document, a JSON array of
// {"label": ..., "features": [paths]} entries. Each feature file
// holds 256 little-endian float32s; relative paths resolve against
// the document's directory.
func LoadGallery(path string) (*Gallery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery file: %w", err)
	}

	var entries []galleryEntryFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	g := NewGallery()
	dir := filepath.Dir(path)
	for _, e := range entries {
		id := g.AddPerson(e.Label)
		for _, fp := range e.Features {
			if !filepath.IsAbs(fp) {
				fp = filepath.Join(dir, fp)
			}
			vec, err := readEmbedding(fp)
			if err != nil {
				return nil, fmt.Errorf("feature %s: %w", fp, err)
			}
			if err := g.AddFeature(id, vec); err != nil {
				return nil, fmt.Errorf("feature %s: %w", fp, err)
			}
		}
	}
	return g, nil
}

// readEmbedding reads one reference vector file
func readEmbedding(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != EmbeddingSize*4 {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrMalformedOutput, len(data), EmbeddingSize*4)
	}
	vec := make([]float32, EmbeddingSize)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
