// Command detect runs a detection model over a single image file.
//
// Usage:
//
//	detect -model <path-to-onnx> -image <path-to-image> [-rules <rules.json>]
//	       [-labels <labels.txt>] [-threshold 0.5] [-output annotated.png]
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/emergingrobotics/inferpipe/internal/config"
	"github.com/emergingrobotics/inferpipe/pkg/backend"
	"github.com/emergingrobotics/inferpipe/pkg/backend/ort"
	"github.com/emergingrobotics/inferpipe/pkg/label"
	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/pipeline"
	"github.com/emergingrobotics/inferpipe/pkg/postproc"
	"github.com/emergingrobotics/inferpipe/pkg/preproc"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

func main() {
	cfg := config.Load()

	modelPath := flag.String("model", cfg.ModelPath, "Path to ONNX model file")
	imagePath := flag.String("image", "", "Path to input image (JPEG or PNG)")
	rulesPath := flag.String("rules", cfg.RulesPath, "Path to postproc rules JSON")
	labelsPath := flag.String("labels", cfg.LabelsPath, "Path to label table")
	libPath := flag.String("lib", cfg.RuntimePath, "Path to the ONNX Runtime shared library")
	threshold := flag.Float64("threshold", cfg.Threshold, "Minimum detection confidence")
	maxDets := flag.Int("max", cfg.MaxDetections, "Detection cap per frame (0 = unlimited)")
	output := flag.String("output", "", "Write an annotated copy of the image here")
	verbose := flag.Bool("v", false, "Log stage diagnostics")
	flag.Parse()

	if *modelPath == "" || *imagePath == "" {
		fmt.Println("Usage: detect -model <path-to-onnx> -image <path-to-image>")
		os.Exit(1)
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.Level()}))

	if *libPath != "" {
		onnxrt.SetSharedLibraryPath(*libPath)
	}
	if err := onnxrt.InitializeEnvironment(); err != nil {
		fatalf("Error initializing ONNX Runtime: %v", err)
	}
	defer onnxrt.DestroyEnvironment()

	fmt.Printf("Loading model: %s\n", *modelPath)
	startLoad := time.Now()
	be, err := ort.Open(ort.Config{ModelPath: *modelPath})
	if err != nil {
		fatalf("Error opening model: %v", err)
	}
	defer be.Close()
	fmt.Printf("Model loaded in %v\n", time.Since(startLoad))

	in := be.InputInfo()[0]
	fmt.Printf("Input: %s %v %s\n", in.Name, in.Shape, in.Layout)

	target, err := targetFor(in)
	if err != nil {
		fatalf("Error deriving input target: %v", err)
	}
	pre, err := preproc.NewSoftware(target)
	if err != nil {
		fatalf("Error creating preprocessor: %v", err)
	}

	rules, err := loadRules(*rulesPath, *labelsPath, be)
	if err != nil {
		fatalf("Error loading rules: %v", err)
	}

	det, err := pipeline.NewDetector(pipeline.Config{
		Name:          filepath.Base(*modelPath),
		Backend:       be,
		Pre:           pre,
		Rules:         rules,
		Threshold:     float32(*threshold),
		MaxDetections: *maxDets,
		Logger:        logger,
	})
	if err != nil {
		fatalf("Error creating detector: %v", err)
	}
	defer det.Close()

	fmt.Printf("Loading image: %s\n", *imagePath)
	img, err := imaging.Open(*imagePath)
	if err != nil {
		fatalf("Error loading image: %v", err)
	}
	rgba := imaging.Clone(img)
	frame, err := media.WrapFrame(rgba.Rect.Dx(), rgba.Rect.Dy(), media.FormatRGBA,
		[][]byte{rgba.Pix}, []int{rgba.Stride})
	if err != nil {
		fatalf("Error wrapping image: %v", err)
	}

	fmt.Println("Running inference...")
	startInfer := time.Now()
	if err := det.Submit(frame); err != nil {
		fatalf("Error submitting frame: %v", err)
	}
	if err := det.Flush(context.Background()); err != nil {
		fatalf("Error flushing pipeline: %v", err)
	}
	result := det.Poll()
	if result == nil {
		fatalf("No result produced")
	}
	defer result.Meta.Release()
	fmt.Printf("Inference completed in %v\n", time.Since(startInfer))

	dets := result.Meta.Detections()
	fmt.Printf("\nDetections: %d\n", len(dets))
	for i, d := range dets {
		fmt.Printf("  %d: %s (%.1f%%) at [%d, %d, %d, %d]\n",
			i+1, d.Label(), d.Confidence*100,
			d.Rect.X0, d.Rect.Y0, d.Rect.X1, d.Rect.Y1)
	}

	if *output != "" {
		for _, d := range dets {
			drawBox(rgba, d.Rect, color.NRGBA{R: 255, A: 255})
		}
		if err := imaging.Save(rgba, *output); err != nil {
			fatalf("Error saving annotated image: %v", err)
		}
		fmt.Printf("\nAnnotated image written to %s\n", *output)
	}
}

func fatalf(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

// targetFor derives the preprocessing target from the model input
func targetFor(in backend.TensorInfo) (preproc.Target, error) {
	var w, h int
	switch in.Layout {
	case tensor.LayoutNCHW:
		h, w = in.Shape[2], in.Shape[3]
	case tensor.LayoutNHWC:
		h, w = in.Shape[1], in.Shape[2]
	default:
		return preproc.Target{}, fmt.Errorf("model input %q is not an image tensor", in.Name)
	}
	return preproc.Target{
		Width:     w,
		Height:    h,
		Format:    media.FormatBGR24,
		Layout:    in.Layout,
		Precision: tensor.PrecisionU8,
	}, nil
}

// loadRules assembles the rule set from the optional rules and labels files.
// A labels file without a matching rule becomes the default rule.
func loadRules(rulesPath, labelsPath string, be backend.Backend) (postproc.RuleSet, error) {
	rules := postproc.RuleSet{}
	if rulesPath != "" {
		loaded, err := postproc.LoadRules(rulesPath)
		if err != nil {
			return nil, err
		}
		if err := loaded.Validate(); err != nil {
			return nil, err
		}
		rules = loaded
	}
	if labelsPath != "" {
		table, err := label.Load(labelsPath)
		if err != nil {
			return nil, err
		}
		outName := be.OutputInfo()[0].Name
		if _, ok := rules.Lookup(outName); !ok {
			rules[""] = postproc.Rule{Labels: table}
		}
	}
	return rules, nil
}

// drawBox outlines a detection on the image, two pixels thick
func drawBox(img *image.NRGBA, r media.Rect, c color.NRGBA) {
	b := img.Bounds()
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	x0 := clamp(r.X0, b.Min.X, b.Max.X-1)
	x1 := clamp(r.X1, b.Min.X, b.Max.X-1)
	y0 := clamp(r.Y0, b.Min.Y, b.Max.Y-1)
	y1 := clamp(r.Y1, b.Min.Y, b.Max.Y-1)

	for t := 0; t < 2; t++ {
		for x := x0; x <= x1; x++ {
			img.SetNRGBA(x, clamp(y0+t, y0, y1), c)
			img.SetNRGBA(x, clamp(y1-t, y0, y1), c)
		}
		for y := y0; y <= y1; y++ {
			img.SetNRGBA(clamp(x0+t, x0, x1), y, c)
			img.SetNRGBA(clamp(x1-t, x0, x1), y, c)
		}
	}
}
