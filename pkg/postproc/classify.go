package postproc

import (
	"fmt"
	"strings"

	"github.com/emergingrobotics/inferpipe/pkg/meta"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

// defaultCompoundThreshold filters compound elements when the rule
// carries no threshold
const defaultCompoundThreshold = 0.5

// DecodeClassifications decodes a classification output into one
// record per batch element, for the first count elements. The rule's
// converter selects the method; DetectionID is set to the batch index
// and rewritten by callers that know which region each element came
// from. An empty converter copies raw bytes, like ConverterRaw.
func DecodeClassifications(t *tensor.Tensor, count int, rule Rule, model string) ([]meta.Classification, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count %d", ErrMalformedOutput, count)
	}
	if count > t.Batch() {
		return nil, fmt.Errorf("%w: count %d exceeds tensor batch %d", ErrMalformedOutput, count, t.Batch())
	}

	out := make([]meta.Classification, 0, count)
	for b := 0; b < count; b++ {
		c := meta.Classification{
			DetectionID: b,
			Name:        rule.Name,
			Model:       model,
			Layer:       rule.Layer,
			Labels:      rule.Labels,
		}

		var err error
		switch rule.Converter {
		case ConverterMax:
			err = convertMax(t, b, rule, &c)
		case ConverterCompound:
			err = convertCompound(t, b, rule, &c)
		case ConverterIndex:
			err = convertIndex(t, b, rule, &c)
		case ConverterScalar:
			err = convertScalar(t, b, rule, &c)
		case ConverterRaw, "":
			err = convertRaw(t, b, &c)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownConverter, rule.Converter)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// elemView returns batch element b as float32s
func elemView(t *tensor.Tensor, b int) ([]float32, error) {
	vals, err := t.Floats()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	per := t.Elems() / t.Batch()
	if per < 1 {
		return nil, fmt.Errorf("%w: empty batch element", ErrMalformedOutput)
	}
	return vals[b*per : (b+1)*per], nil
}

// convertMax picks the highest scoring class
func convertMax(t *tensor.Tensor, b int, rule Rule, c *meta.Classification) error {
	view, err := elemView(t, b)
	if err != nil {
		return err
	}
	best := 0
	for i, v := range view {
		if v > view[best] {
			best = i
		}
	}
	c.LabelID = best
	c.Confidence = view[best]
	return nil
}

// convertCompound concatenates the labels of every element at or
// above the threshold; confidence is the best qualifying element
func convertCompound(t *tensor.Tensor, b int, rule Rule, c *meta.Classification) error {
	view, err := elemView(t, b)
	if err != nil {
		return err
	}
	threshold := rule.Threshold
	if threshold == 0 {
		threshold = defaultCompoundThreshold
	}

	var sb strings.Builder
	c.LabelID = -1
	for i, v := range view {
		if v < threshold {
			continue
		}
		sb.WriteString(rule.Labels.At(i))
		if v > c.Confidence {
			c.Confidence = v
			c.LabelID = i
		}
	}
	if sb.Len() > 0 {
		c.Name = sb.String()
	}
	return nil
}

// convertIndex treats elements as label indices; an out of range
// index stops the element loop
func convertIndex(t *tensor.Tensor, b int, rule Rule, c *meta.Classification) error {
	view, err := elemView(t, b)
	if err != nil {
		return err
	}

	var sb strings.Builder
	c.LabelID = -1
	for _, v := range view {
		idx := int(v)
		if idx < 0 || idx >= rule.Labels.Len() {
			break
		}
		sb.WriteString(rule.Labels.At(idx))
	}
	c.Name = sb.String()
	return nil
}

// convertScalar scales the first element into a numeric value
func convertScalar(t *tensor.Tensor, b int, rule Rule, c *meta.Classification) error {
	view, err := elemView(t, b)
	if err != nil {
		return err
	}
	scale := rule.Scale
	if scale == 0 {
		scale = 1
	}
	c.Value = float32(float64(view[0]) * scale)
	return nil
}

// convertRaw copies the batch element's bytes verbatim
func convertRaw(t *tensor.Tensor, b int, c *meta.Classification) error {
	src, err := t.BatchBytes(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	c.Raw = make([]byte, len(src))
	copy(c.Raw, src)
	return nil
}
