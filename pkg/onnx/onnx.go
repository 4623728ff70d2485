// Package onnx reads the metadata of ONNX model files: producer fields,
// opset, and the graph's input and output tensor descriptions. It walks
// the protobuf wire format directly against the public onnx.proto field
// numbers, so no generated code is needed.
package onnx

import (
	"errors"
	"fmt"

	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

// Errors
var (
	ErrMalformedModel = errors.New("malformed ONNX model")
	ErrNoGraph        = errors.New("ONNX model has no graph")
)

// DataType is the ONNX TensorProto.DataType enum
type DataType int32

const (
	TypeUndefined  DataType = 0
	TypeFloat      DataType = 1
	TypeUint8      DataType = 2
	TypeInt8       DataType = 3
	TypeUint16     DataType = 4
	TypeInt16      DataType = 5
	TypeInt32      DataType = 6
	TypeInt64      DataType = 7
	TypeString     DataType = 8
	TypeBool       DataType = 9
	TypeFloat16    DataType = 10
	TypeDouble     DataType = 11
	TypeUint32     DataType = 12
	TypeUint64     DataType = 13
	TypeComplex64  DataType = 14
	TypeComplex128 DataType = 15
	TypeBFloat16   DataType = 16
)

// String returns the lowercase ONNX type name
func (d DataType) String() string {
	switch d {
	case TypeFloat:
		return "float"
	case TypeUint8:
		return "uint8"
	case TypeInt8:
		return "int8"
	case TypeUint16:
		return "uint16"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeFloat16:
		return "float16"
	case TypeDouble:
		return "double"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeComplex64:
		return "complex64"
	case TypeComplex128:
		return "complex128"
	case TypeBFloat16:
		return "bfloat16"
	}
	return "undefined"
}

// Precision maps the ONNX type onto a pipeline tensor precision. The
// second result is false for types the pipeline cannot carry.
func (d DataType) Precision() (tensor.Precision, bool) {
	switch d {
	case TypeFloat:
		return tensor.PrecisionFP32, true
	case TypeUint8:
		return tensor.PrecisionU8, true
	case TypeUint16:
		return tensor.PrecisionU16, true
	case TypeFloat16:
		return tensor.PrecisionFP16, true
	case TypeInt32:
		return tensor.PrecisionI32, true
	}
	return 0, false
}

// TensorInfo describes one graph input or output.
type TensorInfo struct {
	Name     string
	ElemType DataType
	// Dims holds the declared shape; a zero entry is a dynamic dimension,
	// named in the matching DimNames slot when the model names it.
	Dims     []int64
	DimNames []string
}

// Elems returns the element count of the static shape, treating dynamic
// dimensions as one
func (t *TensorInfo) Elems() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		if d > 0 {
			n *= d
		}
	}
	return n
}

// ModelInfo is the parsed model metadata.
type ModelInfo struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	GraphName       string
	// OpsetVersion is the version imported for the default ONNX domain
	OpsetVersion int64
	Inputs       []TensorInfo
	Outputs      []TensorInfo
}

// Input returns the named graph input
func (m *ModelInfo) Input(name string) (*TensorInfo, error) {
	for i := range m.Inputs {
		if m.Inputs[i].Name == name {
			return &m.Inputs[i], nil
		}
	}
	return nil, fmt.Errorf("input %q not found", name)
}

// Output returns the named graph output
func (m *ModelInfo) Output(name string) (*TensorInfo, error) {
	for i := range m.Outputs {
		if m.Outputs[i].Name == name {
			return &m.Outputs[i], nil
		}
	}
	return nil, fmt.Errorf("output %q not found", name)
}

// DefaultInput returns the first graph input
func (m *ModelInfo) DefaultInput() (*TensorInfo, error) {
	if len(m.Inputs) == 0 {
		return nil, fmt.Errorf("model has no inputs")
	}
	return &m.Inputs[0], nil
}

// DefaultOutput returns the first graph output
func (m *ModelInfo) DefaultOutput() (*TensorInfo, error) {
	if len(m.Outputs) == 0 {
		return nil, fmt.Errorf("model has no outputs")
	}
	return &m.Outputs[0], nil
}
