// Package vision runs face detection, landmarks and embedding with ONNX Runtime.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
)

// cropPad widens the detector box before landmarks and embedding.
const cropPad = 0.1

var envOnce struct {
	sync.Mutex
	done bool
}

// initEnvironment loads the shared library once per process.
func initEnvironment(lib string) error {
	envOnce.Lock()
	defer envOnce.Unlock()
	if envOnce.done || ort.IsInitialized() {
		envOnce.done = true
		return nil
	}
	ort.SetSharedLibraryPath(lib)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	envOnce.done = true
	return nil
}

// Runtime is the face pipeline behind capture and verification. Until Load
// succeeds every Detect returns models.ErrModelNotLoaded. Sessions are not
// safe for concurrent runs, so Detect serialises on a mutex.
type Runtime struct {
	cfg    config.VisionConfig
	loaded atomic.Bool

	mu   sync.Mutex
	det  *faceDetector
	lm   *landmarker
	emb  *embedder
	stop bool
}

func NewRuntime(cfg config.VisionConfig) *Runtime {
	return &Runtime{cfg: cfg}
}

// Bootstrap loads the models, giving up after the configured bootstrap
// timeout unless ctx already carries an earlier deadline.
func (r *Runtime) Bootstrap(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && r.cfg.BootstrapTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.BootstrapTimeout)
		defer cancel()
	}
	return r.Load(ctx)
}

func (r *Runtime) modelPaths() (det, lm, emb string) {
	return filepath.Join(r.cfg.ModelsDir, r.cfg.DetectorModel),
		filepath.Join(r.cfg.ModelsDir, r.cfg.LandmarkModel),
		filepath.Join(r.cfg.ModelsDir, r.cfg.EmbedderModel)
}

// Load initialises ONNX Runtime and the three sessions. When ctx ends first
// Load returns at once; sessions finishing later are released.
func (r *Runtime) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrModelNotLoaded, err)
	}
	if r.loaded.Load() {
		return nil
	}
	detPath, lmPath, embPath := r.modelPaths()
	for _, p := range []string{detPath, lmPath, embPath} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", models.ErrModelNotLoaded, err)
		}
	}

	start := time.Now()
	done := make(chan error, 1)
	var abandoned atomic.Bool
	go func() {
		det, lm, emb, err := r.open(detPath, lmPath, embPath)
		if err != nil {
			done <- err
			return
		}
		r.mu.Lock()
		if abandoned.Load() || r.stop {
			r.mu.Unlock()
			det.close()
			lm.close()
			emb.close()
			done <- errors.New("runtime load abandoned")
			return
		}
		r.det, r.lm, r.emb = det, lm, emb
		r.loaded.Store(true)
		r.mu.Unlock()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrModelNotLoaded, err)
		}
		slog.Info("vision runtime ready", "took", time.Since(start), "embedding_dim", r.cfg.EmbeddingDim)
		return nil
	case <-ctx.Done():
		abandoned.Store(true)
		return fmt.Errorf("%w: %v", models.ErrModelNotLoaded, ctx.Err())
	}
}

func (r *Runtime) open(detPath, lmPath, embPath string) (*faceDetector, *landmarker, *embedder, error) {
	if err := initEnvironment(r.cfg.ONNXLibrary); err != nil {
		return nil, nil, nil, err
	}

	slog.Info("loading detection model", "path", detPath)
	det, err := newFaceDetector(detPath, float32(r.cfg.DetectionThreshold))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading landmark model", "path", lmPath)
	lm, err := newLandmarker(lmPath)
	if err != nil {
		det.close()
		return nil, nil, nil, fmt.Errorf("load landmarks: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := newEmbedder(embPath, r.cfg.EmbeddingDim)
	if err != nil {
		det.close()
		lm.close()
		return nil, nil, nil, fmt.Errorf("load embedder: %w", err)
	}
	return det, lm, emb, nil
}

// Ready reports whether Load has succeeded.
func (r *Runtime) Ready() bool { return r.loaded.Load() }

// Detect finds the presented face in img and returns its box, landmarks and
// descriptor. A frame without a face yields (nil, nil).
func (r *Runtime) Detect(ctx context.Context, img image.Image) (*models.FaceDetection, error) {
	if !r.loaded.Load() {
		return nil, models.ErrModelNotLoaded
	}
	if img == nil || img.Bounds().Empty() {
		return nil, models.ErrNoFrame
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.det == nil {
		return nil, models.ErrModelNotLoaded
	}

	bounds := img.Bounds()
	start := time.Now()
	dets, err := r.det.detect(toCHW(img, r.det.inputW, r.det.inputH, detMean, detStd), bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	face, ok := primary(dets)
	if !ok {
		return nil, nil
	}
	// Detector coordinates are relative to the frame origin.
	face.Box.X1 += float64(bounds.Min.X)
	face.Box.X2 += float64(bounds.Min.X)
	face.Box.Y1 += float64(bounds.Min.Y)
	face.Box.Y2 += float64(bounds.Min.Y)

	rect := squareCrop(bounds, face.Box, cropPad)
	if rect.Empty() {
		return nil, nil
	}
	faceCrop := crop(img, rect)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start = time.Now()
	landmarks, err := r.lm.predict(faceCrop, rect)
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("landmarks").Observe(time.Since(start).Seconds())

	start = time.Now()
	embedding, err := r.emb.embed(faceCrop)
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	return &models.FaceDetection{
		Box:       face.Box,
		Landmarks: landmarks,
		Score:     face.Score,
		Embedding: embedding,
	}, nil
}

// Close releases all ONNX sessions. Detect returns ErrModelNotLoaded afterwards.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stop = true
	r.loaded.Store(false)
	if r.det != nil {
		r.det.close()
	}
	if r.lm != nil {
		r.lm.close()
	}
	if r.emb != nil {
		r.emb.close()
	}
	r.det, r.lm, r.emb = nil, nil, nil
}
