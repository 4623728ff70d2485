//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/emergingrobotics/inferpipe/pkg/backend"
	"github.com/emergingrobotics/inferpipe/pkg/backend/ort"
	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/pipeline"
	"github.com/emergingrobotics/inferpipe/pkg/postproc"
	"github.com/emergingrobotics/inferpipe/pkg/preproc"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
	"github.com/emergingrobotics/inferpipe/testutil"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime initializes the process-global ONNX Runtime environment
// once; tests that reach it have already passed the skip gates.
func initRuntime(t *testing.T, libPath string) {
	t.Helper()
	runtimeOnce.Do(func() {
		onnxrt.SetSharedLibraryPath(libPath)
		runtimeErr = onnxrt.InitializeEnvironment()
	})
	if runtimeErr != nil {
		t.Fatalf("Failed to initialize ONNX Runtime: %v", runtimeErr)
	}
}

func openDetector(t *testing.T, nireq int) (*pipeline.Detector, *ort.Backend) {
	t.Helper()

	libPath := testutil.SkipIfNoRuntime(t)
	modelPath := testutil.SkipIfNoModel(t)
	initRuntime(t, libPath)

	be, err := ort.Open(ort.Config{ModelPath: modelPath, Slots: nireq})
	if err != nil {
		t.Fatalf("Failed to open model: %v", err)
	}

	target, err := imageTarget(be.InputInfo()[0])
	if err != nil {
		be.Close()
		t.Fatalf("Failed to derive target: %v", err)
	}
	pre, err := preproc.NewSoftware(target)
	if err != nil {
		be.Close()
		t.Fatalf("Failed to create preprocessor: %v", err)
	}

	det, err := pipeline.NewDetector(pipeline.Config{
		Name:      "integration",
		Backend:   be,
		Pre:       pre,
		Rules:     postproc.RuleSet{},
		Threshold: 0.5,
		Requests:  nireq,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		be.Close()
		t.Fatalf("Failed to create detector: %v", err)
	}
	return det, be
}

func imageTarget(in backend.TensorInfo) (preproc.Target, error) {
	var w, h int
	switch in.Layout {
	case tensor.LayoutNCHW:
		h, w = in.Shape[2], in.Shape[3]
	case tensor.LayoutNHWC:
		h, w = in.Shape[1], in.Shape[2]
	default:
		return preproc.Target{}, fmt.Errorf("input %q is not an image tensor", in.Name)
	}
	return preproc.Target{
		Width:     w,
		Height:    h,
		Format:    media.FormatBGR24,
		Layout:    in.Layout,
		Precision: tensor.PrecisionU8,
	}, nil
}

func TestDetectorEndToEnd(t *testing.T) {
	det, be := openDetector(t, 1)
	defer be.Close()
	defer det.Close()

	t.Logf("Model input: %v", be.InputInfo()[0].Shape)
	t.Logf("Model output: %v", be.OutputInfo()[0].Shape)

	t.Log("Step 1: Building test frame...")
	frame := testutil.MakeFrame(640, 480, media.FormatBGR24)

	t.Log("Step 2: Running inference...")
	start := time.Now()
	if err := det.Submit(frame); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := det.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	result := det.Poll()
	if result == nil {
		t.Fatal("No result produced")
	}
	defer result.Meta.Release()
	t.Logf("Inference completed in %v", time.Since(start))

	t.Log("Step 3: Checking result...")
	if result.Frame != frame {
		t.Error("Result carries the wrong frame")
	}
	if !result.Meta.Sealed() {
		t.Error("Annotation not sealed")
	}
	t.Logf("Detections: %d", len(result.Meta.Detections()))
}

func TestDetectorSustainedLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping sustained load test in short mode")
	}

	det, be := openDetector(t, 2)
	defer be.Close()
	defer det.Close()

	const numFrames = 50
	frame := testutil.MakeFrame(640, 480, media.FormatBGR24)

	t.Logf("Running %d frames...", numFrames)
	start := time.Now()

	received := 0
	for i := 0; i < numFrames; i++ {
		for {
			err := det.Submit(frame)
			if err == nil {
				break
			}
			if r := det.Poll(); r != nil {
				r.Meta.Release()
				received++
			}
		}
		if r := det.Poll(); r != nil {
			r.Meta.Release()
			received++
		}
	}
	if err := det.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	for r := det.Poll(); r != nil; r = det.Poll() {
		r.Meta.Release()
		received++
	}

	elapsed := time.Since(start)
	if received != numFrames {
		t.Errorf("Received %d results, expected %d", received, numFrames)
	}
	t.Logf("Completed %d frames in %v (%.1f fps)",
		numFrames, elapsed, float64(numFrames)/elapsed.Seconds())
}

func TestDetectorReload(t *testing.T) {
	// Open and close the full stack several times to shake out
	// lifecycle leaks
	for i := 0; i < 3; i++ {
		det, be := openDetector(t, 1)

		frame := testutil.MakeFrame(320, 240, media.FormatBGR24)
		if err := det.Submit(frame); err != nil {
			t.Fatalf("Iteration %d: Submit failed: %v", i, err)
		}
		if err := det.Flush(context.Background()); err != nil {
			t.Fatalf("Iteration %d: Flush failed: %v", i, err)
		}
		r := det.Poll()
		if r == nil {
			t.Fatalf("Iteration %d: no result", i)
		}
		r.Meta.Release()

		if err := det.Close(); err != nil {
			t.Errorf("Iteration %d: detector close: %v", i, err)
		}
		if err := be.Close(); err != nil {
			t.Errorf("Iteration %d: backend close: %v", i, err)
		}
	}
}
