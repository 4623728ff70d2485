// Command inferserver serves single-image detection over HTTP.
//
// POST /v1/detect accepts a JPEG or PNG (raw body or multipart field
// "image"/"file") and returns the detection list as JSON. GET /v1/status
// reports pool capacity and request counters. Configuration comes from
// the environment (see internal/config).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/emergingrobotics/inferpipe/internal/config"
	"github.com/emergingrobotics/inferpipe/pkg/backend"
	"github.com/emergingrobotics/inferpipe/pkg/backend/ort"
	"github.com/emergingrobotics/inferpipe/pkg/label"
	"github.com/emergingrobotics/inferpipe/pkg/media"
	"github.com/emergingrobotics/inferpipe/pkg/meta"
	"github.com/emergingrobotics/inferpipe/pkg/pipeline"
	"github.com/emergingrobotics/inferpipe/pkg/postproc"
	"github.com/emergingrobotics/inferpipe/pkg/preproc"
	"github.com/emergingrobotics/inferpipe/pkg/tensor"
)

type server struct {
	det     *pipeline.Detector
	log     *slog.Logger
	model   string
	started time.Time

	// One inference round trip at a time keeps results paired with
	// their requests; slot parallelism lives inside the pool.
	mu sync.Mutex

	requests   atomic.Uint64
	failures   atomic.Uint64
	detections atomic.Uint64
}

type detectionJSON struct {
	Label      string  `json:"label,omitempty"`
	LabelID    int     `json:"label_id"`
	Confidence float32 `json:"confidence"`
	Box        [4]int  `json:"box"`
}

type detectResponse struct {
	ID         string          `json:"id"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Detections []detectionJSON `json:"detections"`
	ElapsedMS  float64         `json:"elapsed_ms"`
}

type statusResponse struct {
	Model      string  `json:"model"`
	FreeSlots  int     `json:"free_slots"`
	Requests   uint64  `json:"requests"`
	Failures   uint64  `json:"failures"`
	Detections uint64  `json:"detections"`
	UptimeSec  float64 `json:"uptime_sec"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if cfg.ModelPath == "" {
		logger.Error("MODEL_PATH is not set")
		os.Exit(1)
	}

	if cfg.RuntimePath != "" {
		onnxrt.SetSharedLibraryPath(cfg.RuntimePath)
	}
	if err := onnxrt.InitializeEnvironment(); err != nil {
		logger.Error("onnx runtime init failed", "err", err)
		os.Exit(1)
	}
	defer onnxrt.DestroyEnvironment()

	be, err := ort.Open(ort.Config{
		ModelPath: cfg.ModelPath,
		Slots:     cfg.Requests,
		BatchSize: cfg.BatchSize,
	})
	if err != nil {
		logger.Error("model load failed", "model", cfg.ModelPath, "err", err)
		os.Exit(1)
	}
	defer be.Close()

	target, err := targetFor(be.InputInfo()[0])
	if err != nil {
		logger.Error("unusable model input", "err", err)
		os.Exit(1)
	}
	pre, err := preproc.NewSoftware(target)
	if err != nil {
		logger.Error("preprocessor setup failed", "err", err)
		os.Exit(1)
	}

	rules, err := loadRules(cfg, be)
	if err != nil {
		logger.Error("rules load failed", "err", err)
		os.Exit(1)
	}

	det, err := pipeline.NewDetector(pipeline.Config{
		Name:          filepath.Base(cfg.ModelPath),
		Backend:       be,
		Pre:           pre,
		Rules:         rules,
		Threshold:     float32(cfg.Threshold),
		MaxDetections: cfg.MaxDetections,
		Requests:      cfg.Requests,
		BatchSize:     cfg.BatchSize,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("detector setup failed", "err", err)
		os.Exit(1)
	}
	defer det.Close()

	s := &server{
		det:     det,
		log:     logger,
		model:   filepath.Base(cfg.ModelPath),
		started: time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/v1/status", s.handleStatus).Methods("GET")

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.ListenAddr,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "model", cfg.ModelPath,
			"nireq", cfg.Requests, "batch", cfg.BatchSize)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "err", err)
	}
}

func (s *server) handleDetect(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	start := time.Now()
	log := s.log.With("req", reqID)

	imgBytes, err := readImage(r)
	if err != nil {
		s.failures.Add(1)
		writeError(w, "invalid_request", err, http.StatusBadRequest)
		return
	}
	img, err := imaging.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		s.failures.Add(1)
		writeError(w, "invalid_image", err, http.StatusBadRequest)
		return
	}
	rgba := imaging.Clone(img)
	frame, err := media.WrapFrame(rgba.Rect.Dx(), rgba.Rect.Dy(), media.FormatRGBA,
		[][]byte{rgba.Pix}, []int{rgba.Stride})
	if err != nil {
		s.failures.Add(1)
		writeError(w, "invalid_image", err, http.StatusBadRequest)
		return
	}

	dets, err := s.detect(r.Context(), frame)
	if err != nil {
		s.failures.Add(1)
		log.Error("inference failed", "err", err)
		writeError(w, "inference_error", err, http.StatusInternalServerError)
		return
	}

	s.requests.Add(1)
	s.detections.Add(uint64(len(dets)))
	log.Info("detect", "width", frame.Width, "height", frame.Height,
		"detections", len(dets), "elapsed", time.Since(start))

	resp := detectResponse{
		ID:        reqID,
		Width:     frame.Width,
		Height:    frame.Height,
		ElapsedMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	for _, d := range dets {
		resp.Detections = append(resp.Detections, detectionJSON{
			Label:      d.Label(),
			LabelID:    d.LabelID,
			Confidence: d.Confidence,
			Box:        [4]int{d.Rect.X0, d.Rect.Y0, d.Rect.X1, d.Rect.Y1},
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// detect runs one frame through the pipeline and collects its result
func (s *server) detect(ctx context.Context, frame *media.Frame) ([]meta.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.det.Submit(frame); err != nil {
		return nil, err
	}
	if err := s.det.Flush(ctx); err != nil {
		return nil, err
	}
	res := s.det.Poll()
	if res == nil {
		return nil, fmt.Errorf("no result for frame")
	}
	dets := res.Meta.Detections()
	res.Meta.Release()
	return dets, nil
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Model:      s.model,
		FreeSlots:  s.det.Status(),
		Requests:   s.requests.Load(),
		Failures:   s.failures.Load(),
		Detections: s.detections.Load(),
		UptimeSec:  time.Since(s.started).Seconds(),
	})
}

// readImage pulls the image bytes from a multipart field or the raw body
func readImage(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, err
		}
		var file multipart.File
		var err error
		for _, field := range []string{"image", "file"} {
			file, _, err = r.FormFile(field)
			if err == nil {
				break
			}
		}
		if err != nil {
			return nil, fmt.Errorf("no image field in form")
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code string, err error, status int) {
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
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

// loadRules builds the rule set from RULES_PATH, with LABELS_PATH as the
// default rule when the output layer is otherwise unbound
func loadRules(cfg *config.Config, be backend.Backend) (postproc.RuleSet, error) {
	rules := postproc.RuleSet{}
	if cfg.RulesPath != "" {
		loaded, err := postproc.LoadRules(cfg.RulesPath)
		if err != nil {
			return nil, err
		}
		if err := loaded.Validate(); err != nil {
			return nil, err
		}
		rules = loaded
	}
	if cfg.LabelsPath != "" {
		table, err := label.Load(cfg.LabelsPath)
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
