package postproc

import (
	"fmt"

	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/meta"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

// detectionRowSize is the element count of one SSD-style detection
// row: {image_id, label_id, confidence, xmin, ymin, xmax, ymax}
const detectionRowSize = 7

// DecodeDetections decodes an SSD-style detection output into per
// batch element detection lists. The tensor holds rows of 7 floats;
// a row whose image id falls outside [0,batch) terminates decoding,
// rows below the rule's threshold are skipped. Normalized corners are
// converted to pixels against roiW x roiH and clamped to the frame.
// maxCount caps detections per batch element, 0 means no cap.
func DecodeDetections(t *tensor.Tensor, batch, roiW, roiH int, rule Rule, maxCount int) ([][]meta.Detection, error) {
	if batch < 1 {
		return nil, fmt.Errorf("%w: batch %d", ErrMalformedOutput, batch)
	}
	if t.Precision != tensor.PrecisionFP32 {
		return nil, fmt.Errorf("%w: %s detection output, expected fp32", ErrMalformedOutput, t.Precision)
	}
	if last := t.Shape.Dim(len(t.Shape) - 1); last != detectionRowSize {
		return nil, fmt.Errorf("%w: row size %d, expected %d", ErrMalformedOutput, last, detectionRowSize)
	}

	vals, err := t.Floats()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	out := make([][]meta.Detection, batch)
	rows := len(vals) / detectionRowSize
	for i := 0; i < rows; i++ {
		row := vals[i*detectionRowSize : (i+1)*detectionRowSize]

		imageID := int(row[0])
		if imageID < 0 || imageID >= batch {
			break
		}
		confidence := row[2]
		if confidence < rule.Threshold {
			continue
		}
		if maxCount > 0 && len(out[imageID]) >= maxCount {
			continue
		}

		d := meta.Detection{
			ObjectID:   len(out[imageID]),
			LabelID:    int(row[1]),
			Confidence: confidence,
			Box: meta.Box{
				XMin: row[3],
				YMin: row[4],
				XMax: row[5],
				YMax: row[6],
			},
			Rect: media.Rect{
				X0: toPixel(row[3], roiW),
				Y0: toPixel(row[4], roiH),
				X1: toPixel(row[5], roiW),
				Y1: toPixel(row[6], roiH),
			},
			Labels: rule.Labels,
		}
		out[imageID] = append(out[imageID], d)
	}
	return out, nil
}

// toPixel converts a normalized coordinate to pixels, clamped to the
// dimension
func toPixel(v float32, dim int) int {
	p := int(v*float32(dim) + 0.5)
	if p < 0 {
		return 0
	}
	if p > dim {
		return dim
	}
	return p
}
