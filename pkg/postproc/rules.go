// Package postproc turns raw output tensors into detection and
// classification records. Decoding is rule driven: a RuleSet maps
// output layer names to converters, thresholds and label tables, the
// way model-proc configuration files describe a network's outputs.
package postproc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/emergingrobotics/inferpipe/pkg/label"
)

// Converter names understood by DecodeClassifications. An empty
// converter is treated as raw.
const (
	ConverterMax      = "max"
	ConverterCompound = "compound"
	ConverterIndex    = "index"
	ConverterRaw      = "raw"
	ConverterScalar   = "scalar"
)

// Rule describes how one output layer is decoded
type Rule struct {
	// Layer is the output layer name the rule applies to, empty for
	// the default rule.
	Layer string
	// Converter selects the decoding method.
	Converter string
	// Name tags the produced records, such as an attribute name.
	Name string
	// Threshold filters detections and compound elements.
	Threshold float32
	// Scale multiplies the first element for scalar conversion.
	Scale float64
	// Labels resolves class and attribute indices to strings.
	Labels *label.Table
}

// RuleSet maps output layer names to decoding rules
type RuleSet map[string]Rule

// Lookup returns the rule for a layer, falling back to the default
// rule registered under the empty layer name
func (s RuleSet) Lookup(layer string) (Rule, bool) {
	if r, ok := s[layer]; ok {
		return r, true
	}
	if r, ok := s[""]; ok {
		return r, true
	}
	return Rule{}, false
}

// Validate checks that every rule names a known converter
func (s RuleSet) Validate() error {
	for layer, r := range s {
		switch r.Converter {
		case "", ConverterMax, ConverterCompound, ConverterIndex, ConverterRaw, ConverterScalar:
		default:
			return fmt.Errorf("layer %q: %w: %q", layer, ErrUnknownConverter, r.Converter)
		}
	}
	return nil
}

type ruleEntry struct {
	LayerName string   `json:"layer_name"`
	Converter string   `json:"converter"`
	Attribute string   `json:"attribute_name"`
	Threshold float32  `json:"threshold"`
	Scale     float64  `json:"scale"`
	Labels    []string `json:"labels"`
}

// ParseRules reads a model-proc style rules document:
//
//	{"output_postproc": [{"layer_name": ..., "converter": ...,
//	 "attribute_name": ..., "threshold": ..., "scale": ...,
//	 "labels": [...]}, ...]}
//
// Malformed entries are skipped with a warning; a document that does
// not parse at all returns ErrConfigParse.
func ParseRules(r io.Reader) (RuleSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	var doc struct {
		OutputPostproc []json.RawMessage `json:"output_postproc"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	rules := make(RuleSet)
	for i, raw := range doc.OutputPostproc {
		var e ruleEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			slog.Warn("skipping malformed postproc rule", "index", i, "err", err)
			continue
		}
		rule := Rule{
			Layer:     e.LayerName,
			Converter: e.Converter,
			Name:      e.Attribute,
			Threshold: e.Threshold,
			Scale:     e.Scale,
		}
		if len(e.Labels) > 0 {
			rule.Labels = label.New(e.Labels)
		}
		rules[e.LayerName] = rule
	}
	return rules, nil
}

// LoadRules reads a rules document from a file
func LoadRules(path string) (RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()
	return ParseRules(f)
}
