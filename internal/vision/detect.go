package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/attendance/internal/models"
)

// Detection is one face proposal from the detector, in frame pixels.
type Detection struct {
	Box       models.Box
	Score     float64
	Keypoints [5]models.Point // eyes, nose, mouth corners
}

// faceDetector runs RetinaFace (det_10g) with ONNX Runtime.
type faceDetector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// RetinaFace feature map strides; each cell carries two anchors.
var strides = []int{8, 16, 32}

const (
	anchorsPerStride = 2
	nmsIoU           = 0.4
)

func newFaceDetector(modelPath string, threshold float32) (*faceDetector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Outputs carry no batch dimension: scores [N,1], boxes [N,4],
	// keypoints [N,10] per stride with N = (640/stride)^2 * 2.
	type outputSpec struct {
		name  string
		shape ort.Shape
	}
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	for i, spec := range outputs {
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		outputNames[i] = spec.name
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &faceDetector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// detect runs one pass over a CHW input already scaled to the model size.
func (d *faceDetector) detect(input []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), input)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	return nms(d.decode(origW, origH), nmsIoU), nil
}

// decode turns anchor offsets at every stride into frame coordinates.
func (d *faceDetector) decode(origW, origH int) []Detection {
	var out []Detection
	scaleW := float64(origW) / float64(d.inputW)
	scaleH := float64(origH) / float64(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+3].GetData()
		kps := d.outputTensors[si+6].GetData()
		fmW, fmH := d.inputW/stride, d.inputH/stride
		st := float64(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if scores[idx] >= d.threshold {
						ax, ay := float64(cx)*st, float64(cy)*st
						det := Detection{
							Box: models.Box{
								X1: clamp((ax-float64(boxes[idx*4+0])*st)*scaleW, 0, float64(origW)),
								Y1: clamp((ay-float64(boxes[idx*4+1])*st)*scaleH, 0, float64(origH)),
								X2: clamp((ax+float64(boxes[idx*4+2])*st)*scaleW, 0, float64(origW)),
								Y2: clamp((ay+float64(boxes[idx*4+3])*st)*scaleH, 0, float64(origH)),
							},
							Score: float64(scores[idx]),
						}
						for k := 0; k < 5; k++ {
							det.Keypoints[k] = models.Point{
								X: (ax + float64(kps[idx*10+k*2])*st) * scaleW,
								Y: (ay + float64(kps[idx*10+k*2+1])*st) * scaleH,
							}
						}
						out = append(out, det)
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *faceDetector) close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms keeps the highest scoring box of every overlapping cluster.
func nms(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) == 0 {
		return dets
	}
	sort.Slice(dets, func(i, j int) bool { return dets[i].Score > dets[j].Score })

	keep := make([]bool, len(dets))
	for i := range keep {
		keep[i] = true
	}
	for i := range dets {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(dets); j++ {
			if keep[j] && iou(dets[i].Box, dets[j].Box) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var out []Detection
	for i, d := range dets {
		if keep[i] {
			out = append(out, d)
		}
	}
	return out
}

func iou(a, b models.Box) float64 {
	w := math.Max(0, math.Min(a.X2, b.X2)-math.Max(a.X1, b.X1))
	h := math.Max(0, math.Min(a.Y2, b.Y2)-math.Max(a.Y1, b.Y1))
	inter := w * h
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// primary picks the face the user is presenting: the largest box, with score
// breaking ties.
func primary(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if a, b := d.Box.Area(), best.Box.Area(); a > b || (a == b && d.Score > best.Score) {
			best = d
		}
	}
	return best, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
