package models

import "errors"

// LandmarkCount is the size of the landmark scheme the runtime must emit.
// Indices follow the 68-point iBUG layout: jaw 0-16, brows 17-26, nose 27-35,
// left eye 36-41, right eye 42-47, outer lip 48-59, inner lip 60-67.
const LandmarkCount = 68

var (
	ErrModelNotLoaded = errors.New("face model not loaded")
	ErrNoFrame        = errors.New("no camera frame available")
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is a face bounding box in frame pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// FaceDetection is the per-frame output of the embedding runtime. Never persisted.
type FaceDetection struct {
	Box       Box       `json:"box"`
	Landmarks []Point   `json:"landmarks"`
	Score     float64   `json:"score"`
	Embedding []float32 `json:"-"`
}
