package onnx

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from the public onnx.proto schema
const (
	modelIRVersion       = 1
	modelProducerName    = 2
	modelProducerVersion = 3
	modelDomain          = 4
	modelVersion         = 5
	modelGraph           = 7
	modelOpsetImport     = 8

	graphName        = 2
	graphInitializer = 5
	graphInput       = 11
	graphOutput      = 12

	valueInfoName = 1
	valueInfoType = 2

	typeTensorType = 1

	tensorTypeElemType = 1
	tensorTypeShape    = 2

	shapeDim = 1

	dimValue = 1
	dimParam = 2

	tensorProtoName = 8

	opsetDomain  = 1
	opsetVersion = 2
)

// Parse reads and parses an ONNX model file
func Parse(path string) (*ModelInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses an ONNX model from raw bytes
func ParseBytes(data []byte) (*ModelInfo, error) {
	info := &ModelInfo{}
	var graph []byte

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireErr(n)
		}
		b = b[n:]

		var err error
		switch num {
		case modelIRVersion:
			var v uint64
			v, b, err = fieldVarint(b)
			info.IRVersion = int64(v)
		case modelProducerName:
			info.ProducerName, b, err = fieldString(b)
		case modelProducerVersion:
			info.ProducerVersion, b, err = fieldString(b)
		case modelDomain:
			info.Domain, b, err = fieldString(b)
		case modelVersion:
			var v uint64
			v, b, err = fieldVarint(b)
			info.ModelVersion = int64(v)
		case modelGraph:
			graph, b, err = fieldBytes(b)
		case modelOpsetImport:
			var op []byte
			op, b, err = fieldBytes(b)
			if err == nil {
				err = parseOpset(op, info)
			}
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return nil, err
		}
	}

	if graph == nil {
		return nil, ErrNoGraph
	}
	if err := parseGraph(graph, info); err != nil {
		return nil, err
	}
	return info, nil
}

// parseGraph fills the graph name and IO descriptions. Graph inputs that
// name an initializer are weights, not feeds, and are dropped.
func parseGraph(b []byte, info *ModelInfo) error {
	initializers := make(map[string]bool)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireErr(n)
		}
		b = b[n:]

		var err error
		switch num {
		case graphName:
			info.GraphName, b, err = fieldString(b)
		case graphInput:
			var vi []byte
			vi, b, err = fieldBytes(b)
			if err == nil {
				var ti TensorInfo
				if ti, err = parseValueInfo(vi); err == nil {
					info.Inputs = append(info.Inputs, ti)
				}
			}
		case graphOutput:
			var vi []byte
			vi, b, err = fieldBytes(b)
			if err == nil {
				var ti TensorInfo
				if ti, err = parseValueInfo(vi); err == nil {
					info.Outputs = append(info.Outputs, ti)
				}
			}
		case graphInitializer:
			var tp []byte
			tp, b, err = fieldBytes(b)
			if err == nil {
				var name string
				if name, err = parseTensorName(tp); err == nil && name != "" {
					initializers[name] = true
				}
			}
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return err
		}
	}

	if len(initializers) > 0 {
		feeds := info.Inputs[:0]
		for _, in := range info.Inputs {
			if !initializers[in.Name] {
				feeds = append(feeds, in)
			}
		}
		info.Inputs = feeds
	}
	return nil
}

// parseValueInfo reads one ValueInfoProto
func parseValueInfo(b []byte) (TensorInfo, error) {
	var ti TensorInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ti, wireErr(n)
		}
		b = b[n:]

		var err error
		switch num {
		case valueInfoName:
			ti.Name, b, err = fieldString(b)
		case valueInfoType:
			var tp []byte
			tp, b, err = fieldBytes(b)
			if err == nil {
				err = parseType(tp, &ti)
			}
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return ti, err
		}
	}
	return ti, nil
}

// parseType reads a TypeProto, following only the tensor_type arm
func parseType(b []byte, ti *TensorInfo) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireErr(n)
		}
		b = b[n:]

		var err error
		switch num {
		case typeTensorType:
			var tt []byte
			tt, b, err = fieldBytes(b)
			if err == nil {
				err = parseTensorType(tt, ti)
			}
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// parseTensorType reads a TypeProto.Tensor
func parseTensorType(b []byte, ti *TensorInfo) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireErr(n)
		}
		b = b[n:]

		var err error
		switch num {
		case tensorTypeElemType:
			var v uint64
			v, b, err = fieldVarint(b)
			ti.ElemType = DataType(v)
		case tensorTypeShape:
			var sh []byte
			sh, b, err = fieldBytes(b)
			if err == nil {
				err = parseShape(sh, ti)
			}
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// parseShape reads a TensorShapeProto
func parseShape(b []byte, ti *TensorInfo) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireErr(n)
		}
		b = b[n:]

		var err error
		switch num {
		case shapeDim:
			var d []byte
			d, b, err = fieldBytes(b)
			if err == nil {
				var value int64
				var name string
				if value, name, err = parseDim(d); err == nil {
					ti.Dims = append(ti.Dims, value)
					ti.DimNames = append(ti.DimNames, name)
				}
			}
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// parseDim reads one shape dimension: a fixed value or a symbolic name
func parseDim(b []byte) (int64, string, error) {
	var value int64
	var name string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, "", wireErr(n)
		}
		b = b[n:]

		var err error
		switch num {
		case dimValue:
			var v uint64
			v, b, err = fieldVarint(b)
			value = int64(v)
		case dimParam:
			name, b, err = fieldString(b)
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return 0, "", err
		}
	}
	return value, name, nil
}

// parseTensorName pulls just the name out of a TensorProto initializer
func parseTensorName(b []byte) (string, error) {
	var name string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", wireErr(n)
		}
		b = b[n:]

		var err error
		switch num {
		case tensorProtoName:
			name, b, err = fieldString(b)
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return "", err
		}
	}
	return name, nil
}

// parseOpset records the version imported for the default ONNX domain
func parseOpset(b []byte, info *ModelInfo) error {
	var domain string
	var version int64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireErr(n)
		}
		b = b[n:]

		var err error
		switch num {
		case opsetDomain:
			domain, b, err = fieldString(b)
		case opsetVersion:
			var v uint64
			v, b, err = fieldVarint(b)
			version = int64(v)
		default:
			b, err = skipField(num, typ, b)
		}
		if err != nil {
			return err
		}
	}
	if domain == "" || domain == "ai.onnx" {
		info.OpsetVersion = version
	}
	return nil
}

func fieldVarint(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, wireErr(n)
	}
	return v, b[n:], nil
}

func fieldBytes(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, wireErr(n)
	}
	return v, b[n:], nil
}

func fieldString(b []byte) (string, []byte, error) {
	v, rest, err := fieldBytes(b)
	return string(v), rest, err
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return nil, wireErr(n)
	}
	return b[n:], nil
}

func wireErr(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformedModel, protowire.ParseError(n))
}
