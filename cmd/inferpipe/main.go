package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/emergingrobotics/inferpipe/pkg/label"
	"github.com/emergingrobotics/inferpipe/pkg/onnx"
	"github.com/emergingrobotics/inferpipe/pkg/postproc"
)

// Version information (set by ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "model-info":
		if len(args) < 1 {
			fmt.Println("Usage: inferpipe model-info <model.onnx>")
			os.Exit(1)
		}
		modelInfo(args[0])
	case "rules":
		if len(args) < 1 {
			fmt.Println("Usage: inferpipe rules <rules.json>")
			os.Exit(1)
		}
		rulesInfo(args[0])
	case "labels":
		if len(args) < 1 {
			fmt.Println("Usage: inferpipe labels <labels.txt>")
			os.Exit(1)
		}
		labelsInfo(args[0])
	case "version":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Inference Pipeline CLI")
	fmt.Println()
	fmt.Println("Usage: inferpipe <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  model-info <model>  Show ONNX model metadata and IO shapes")
	fmt.Println("  rules <file>        Validate and print a postproc rules file")
	fmt.Println("  labels <file>       Print a label table")
	fmt.Println("  version             Print version information")
	fmt.Println("  help                Show this help")
}

func printVersion() {
	fmt.Printf("inferpipe version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Go version: %s\n", GoVersion)
}

func modelInfo(path string) {
	info, err := onnx.Parse(path)
	if err != nil {
		fmt.Printf("Error parsing model %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("Model: %s\n", path)
	fmt.Printf("  IR Version:  %d\n", info.IRVersion)
	fmt.Printf("  Opset:       %d\n", info.OpsetVersion)
	if info.ProducerName != "" {
		fmt.Printf("  Producer:    %s %s\n", info.ProducerName, info.ProducerVersion)
	}
	if info.GraphName != "" {
		fmt.Printf("  Graph:       %s\n", info.GraphName)
	}

	fmt.Printf("\nInputs (%d):\n", len(info.Inputs))
	for _, ti := range info.Inputs {
		fmt.Printf("  %-24s %s %s\n", ti.Name, ti.ElemType, formatDims(&ti))
	}
	fmt.Printf("\nOutputs (%d):\n", len(info.Outputs))
	for _, ti := range info.Outputs {
		fmt.Printf("  %-24s %s %s\n", ti.Name, ti.ElemType, formatDims(&ti))
	}
}

// formatDims renders a shape as 1x3x416x416, naming dynamic dimensions
func formatDims(ti *onnx.TensorInfo) string {
	if len(ti.Dims) == 0 {
		return "scalar"
	}
	parts := make([]string, len(ti.Dims))
	for i, d := range ti.Dims {
		switch {
		case d > 0:
			parts[i] = fmt.Sprintf("%d", d)
		case i < len(ti.DimNames) && ti.DimNames[i] != "":
			parts[i] = ti.DimNames[i]
		default:
			parts[i] = "?"
		}
	}
	return strings.Join(parts, "x")
}

func rulesInfo(path string) {
	rules, err := postproc.LoadRules(path)
	if err != nil {
		fmt.Printf("Error loading rules %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := rules.Validate(); err != nil {
		fmt.Printf("Invalid rules %s: %v\n", path, err)
		os.Exit(1)
	}

	layers := make([]string, 0, len(rules))
	for layer := range rules {
		layers = append(layers, layer)
	}
	sort.Strings(layers)

	fmt.Printf("Rules: %s (%d layer(s))\n", path, len(rules))
	for _, layer := range layers {
		rule := rules[layer]
		name := layer
		if name == "" {
			name = "(default)"
		}
		fmt.Printf("  %s:\n", name)
		fmt.Printf("    Converter: %s\n", converterName(rule.Converter))
		if rule.Name != "" {
			fmt.Printf("    Attribute: %s\n", rule.Name)
		}
		if rule.Threshold != 0 {
			fmt.Printf("    Threshold: %.2f\n", rule.Threshold)
		}
		if rule.Scale != 0 {
			fmt.Printf("    Scale:     %g\n", rule.Scale)
		}
		if rule.Labels != nil {
			fmt.Printf("    Labels:    %d\n", rule.Labels.Len())
		}
	}
}

func converterName(c string) string {
	if c == "" {
		return "raw (default)"
	}
	return c
}

func labelsInfo(path string) {
	table, err := label.Load(path)
	if err != nil {
		fmt.Printf("Error loading labels %s: %v\n", path, err)
		os.Exit(1)
	}
	defer table.Release()

	fmt.Printf("Labels: %s (%d entries)\n", path, table.Len())
	for i := 0; i < table.Len(); i++ {
		fmt.Printf("  [%d] %s\n", i, table.At(i))
	}
}
