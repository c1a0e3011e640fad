package vision

import (
	"fmt"
	"image"

	"github.com/your-org/attendance/internal/models"
)

// landmarker predicts the 68-point layout on a square face crop. The model
// emits x,y pairs normalised to the crop.
type landmarker struct {
	*tensorModel
}

func newLandmarker(path string) (*landmarker, error) {
	m, err := loadTensorModel(path, models.LandmarkCount*2)
	if err != nil {
		return nil, err
	}
	return &landmarker{m}, nil
}

// predict runs on faceCrop, which was cut from the frame at r.
func (l *landmarker) predict(faceCrop image.Image, r image.Rectangle) ([]models.Point, error) {
	raw, err := l.run(toCHW(faceCrop, l.inputW, l.inputH, lmMean, lmStd))
	if err != nil {
		return nil, fmt.Errorf("run landmarks: %w", err)
	}
	return cropToFrame(raw, r), nil
}

// cropToFrame maps normalised crop coordinates back into the frame.
func cropToFrame(raw []float32, r image.Rectangle) []models.Point {
	pts := make([]models.Point, len(raw)/2)
	w, h := float64(r.Dx()), float64(r.Dy())
	for i := range pts {
		pts[i] = models.Point{
			X: float64(r.Min.X) + float64(raw[2*i])*w,
			Y: float64(r.Min.Y) + float64(raw[2*i+1])*h,
		}
	}
	return pts
}
