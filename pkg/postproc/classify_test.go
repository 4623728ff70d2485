//go:build unit

package postproc

import (
	"errors"
	"testing"

	"github.com/emergingrobotics/inferpipe/pkg/label"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
	"github.com/emergingrobotics/inferpipe/testutil"
)

func classTensor(t *testing.T, batch int, rows ...[]float32) *tensor.Tensor {
	t.Helper()
	var values []float32
	for _, r := range rows {
		values = append(values, r...)
	}
	return testutil.MakeFloatTensor(tensor.Shape{batch, len(rows[0])}, tensor.LayoutNC, values)
}

func TestConvertMax(t *testing.T) {
	out := classTensor(t, 2,
		[]float32{0.1, 0.7, 0.2, 0.0},
		[]float32{0.05, 0.1, 0.15, 0.7},
	)
	rule := Rule{
		Layer:     "prob",
		Converter: ConverterMax,
		Name:      "vehicle_type",
		Labels:    label.New([]string{"car", "bus", "truck", "van"}),
	}

	recs, err := DecodeClassifications(out, 2, rule, "vehicle-attrs")
	if err != nil {
		t.Fatalf("DecodeClassifications failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, expected 2", len(recs))
	}

	if recs[0].LabelID != 1 || recs[0].Confidence != 0.7 {
		t.Errorf("recs[0] = label %d conf %v, expected label 1 conf 0.7",
			recs[0].LabelID, recs[0].Confidence)
	}
	if got := recs[0].Label(); got != "bus" {
		t.Errorf("recs[0].Label() = %q, expected bus", got)
	}
	if recs[1].LabelID != 3 {
		t.Errorf("recs[1].LabelID = %d, expected 3", recs[1].LabelID)
	}
	if recs[0].DetectionID != 0 || recs[1].DetectionID != 1 {
		t.Errorf("DetectionIDs = %d/%d, expected batch indices 0/1",
			recs[0].DetectionID, recs[1].DetectionID)
	}
	if recs[0].Model != "vehicle-attrs" || recs[0].Layer != "prob" {
		t.Errorf("record tags = %q/%q, expected model and layer", recs[0].Model, recs[0].Layer)
	}
}

func TestConvertCompound(t *testing.T) {
	out := classTensor(t, 1, []float32{0.6, 0.4, 0.9, 0.1})
	rule := Rule{
		Converter: ConverterCompound,
		Name:      "attributes",
		Labels:    label.New([]string{"glasses", "hat", "beard", "mask"}),
	}

	recs, err := DecodeClassifications(out, 1, rule, "face-attrs")
	if err != nil {
		t.Fatalf("DecodeClassifications failed: %v", err)
	}
	// Elements 0 and 2 clear the default 0.5 threshold
	if recs[0].Name != "glassesbeard" {
		t.Errorf("Name = %q, expected glassesbeard", recs[0].Name)
	}
	if recs[0].Confidence != 0.9 {
		t.Errorf("Confidence = %v, expected 0.9", recs[0].Confidence)
	}
	if recs[0].LabelID != 2 {
		t.Errorf("LabelID = %d, expected 2", recs[0].LabelID)
	}
}

func TestConvertCompoundCustomThreshold(t *testing.T) {
	out := classTensor(t, 1, []float32{0.6, 0.4, 0.9, 0.1})
	rule := Rule{
		Converter: ConverterCompound,
		Name:      "attributes",
		Threshold: 0.85,
		Labels:    label.New([]string{"glasses", "hat", "beard", "mask"}),
	}

	recs, err := DecodeClassifications(out, 1, rule, "m")
	if err != nil {
		t.Fatalf("DecodeClassifications failed: %v", err)
	}
	if recs[0].Name != "beard" {
		t.Errorf("Name = %q, expected beard", recs[0].Name)
	}
}

func TestConvertCompoundNoneQualify(t *testing.T) {
	out := classTensor(t, 1, []float32{0.1, 0.2})
	rule := Rule{
		Converter: ConverterCompound,
		Name:      "attributes",
		Labels:    label.New([]string{"a", "b"}),
	}

	recs, err := DecodeClassifications(out, 1, rule, "m")
	if err != nil {
		t.Fatalf("DecodeClassifications failed: %v", err)
	}
	if recs[0].Name != "attributes" {
		t.Errorf("Name = %q, expected attribute name kept", recs[0].Name)
	}
	if recs[0].LabelID != -1 || recs[0].Confidence != 0 {
		t.Errorf("rec = label %d conf %v, expected -1/0", recs[0].LabelID, recs[0].Confidence)
	}
}

func TestConvertIndex(t *testing.T) {
	out := classTensor(t, 1, []float32{2, 0, 9})
	rule := Rule{
		Converter: ConverterIndex,
		Labels:    label.New([]string{"a", "b", "c"}),
	}

	recs, err := DecodeClassifications(out, 1, rule, "m")
	if err != nil {
		t.Fatalf("DecodeClassifications failed: %v", err)
	}
	// Index 9 is out of range and stops the element loop
	if recs[0].Name != "ca" {
		t.Errorf("Name = %q, expected ca", recs[0].Name)
	}
}

func TestConvertScalar(t *testing.T) {
	out := classTensor(t, 1, []float32{1.2, 0, 0})
	rule := Rule{Converter: ConverterScalar, Scale: 2.5}

	recs, err := DecodeClassifications(out, 1, rule, "m")
	if err != nil {
		t.Fatalf("DecodeClassifications failed: %v", err)
	}
	testutil.AssertFloat32Near(t, recs[0].Value, 3.0, 1e-5, "scaled value")

	// Scale 0 falls back to 1.0
	recs, err = DecodeClassifications(out, 1, Rule{Converter: ConverterScalar}, "m")
	if err != nil {
		t.Fatalf("DecodeClassifications failed: %v", err)
	}
	testutil.AssertFloat32Near(t, recs[0].Value, 1.2, 1e-6, "unscaled value")
}

func TestConvertRaw(t *testing.T) {
	raw, err := tensor.New(tensor.Shape{2, 3}, tensor.PrecisionU8, tensor.LayoutNC)
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	copy(raw.Data, []byte{0, 1, 2, 3, 4, 5})

	for _, converter := range []string{ConverterRaw, ""} {
		rule := Rule{Layer: "fc256", Converter: converter, Name: "embedding"}
		recs, err := DecodeClassifications(raw, 2, rule, "reid")
		if err != nil {
			t.Fatalf("DecodeClassifications(%q) failed: %v", converter, err)
		}
		testutil.AssertBytesEqual(t, recs[0].Raw, []byte{0, 1, 2}, "element 0 bytes")
		testutil.AssertBytesEqual(t, recs[1].Raw, []byte{3, 4, 5}, "element 1 bytes")
		if recs[0].Model != "reid" || recs[0].Layer != "fc256" {
			t.Errorf("raw record tags = %q/%q, expected reid/fc256", recs[0].Model, recs[0].Layer)
		}
	}

	// The copy must not alias the tensor
	recs, err := DecodeClassifications(raw, 1, Rule{}, "reid")
	if err != nil {
		t.Fatalf("DecodeClassifications failed: %v", err)
	}
	raw.Data[0] = 99
	if recs[0].Raw[0] != 0 {
		t.Errorf("raw record aliases tensor memory")
	}
}

func TestDecodeClassificationsErrors(t *testing.T) {
	out := classTensor(t, 2, []float32{1, 2}, []float32{3, 4})

	if _, err := DecodeClassifications(out, 3, Rule{}, "m"); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("count beyond batch error = %v, expected ErrMalformedOutput", err)
	}
	if _, err := DecodeClassifications(out, 0, Rule{}, "m"); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("count 0 error = %v, expected ErrMalformedOutput", err)
	}
	rule := Rule{Converter: "nonsense"}
	if _, err := DecodeClassifications(out, 1, rule, "m"); !errors.Is(err, ErrUnknownConverter) {
		t.Errorf("unknown converter error = %v, expected ErrUnknownConverter", err)
	}

	u8, err := tensor.New(tensor.Shape{1, 4}, tensor.PrecisionU8, tensor.LayoutNC)
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	if _, err := DecodeClassifications(u8, 1, Rule{Converter: ConverterMax}, "m"); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("max on u8 error = %v, expected ErrMalformedOutput", err)
	}
}
