package quality

import (
	"image"
	"math"
	"strings"

	"github.com/your-org/attendance/internal/models"
)

// Occlusion reasons, joined with "+" when several fire.
const (
	ReasonEyesCovered      = "eyes-covered"
	ReasonMouthAbnormal    = "mouth-abnormal"
	ReasonLowerFaceCovered = "lower-face-covered"
)

// Thresholds for the occlusion heuristics. Each rule needs two independent
// signals to agree before it blocks.
const (
	eyeSymmetryMin      = 0.35
	eyeStdFloor         = 6.0
	eyeAreaRatioMin     = 0.0015
	eyeAreaBalanceMin   = 0.35
	eyeSkinImbalanceMax = 0.35

	mouthAreaRatioMin  = 0.004
	mouthAreaRatioMax  = 0.12
	mouthWidthRatioMin = 0.22
	mouthWidthRatioMax = 0.75

	lowerSkinRatioMin = 0.35
	upperSkinValidMin = 0.25
	mouthStdFloor     = 8.0
)

// 68-point landmark index ranges.
var (
	leftEyeIdx    = [2]int{36, 42}
	rightEyeIdx   = [2]int{42, 48}
	outerLipIdx   = [2]int{48, 60}
	noseTipIdx    = 30
	chinIdx       = 8
	mouthLeftIdx  = 48
	mouthRightIdx = 54
)

// Occlusion is the outcome of CheckOcclusion with the raw signals kept for diagnostics.
type Occlusion struct {
	Blocked bool
	Reason  string

	EyeStdLeft       float64
	EyeStdRight      float64
	EyeSymmetry      float64
	EyeSkinLeft      float64
	EyeSkinRight     float64
	EyeSkinImbalance float64
	EyeAreaLeft      float64
	EyeAreaRight     float64

	MouthAreaRatio  float64
	MouthWidthRatio float64
	MouthStd        float64

	UpperSkin  float64
	LowerSkin  float64
	LowerRatio float64
}

// CheckOcclusion looks for covered eyes, an implausible mouth contour, or a
// covered lower face. Landmarks must follow the 68-point layout; with fewer
// points the face is treated as unobstructed.
func CheckOcclusion(img image.Image, box models.Box, lm []models.Point) Occlusion {
	var o Occlusion
	faceArea := box.Area()
	if len(lm) < models.LandmarkCount || faceArea <= 0 {
		return o
	}

	var reasons []string

	// Eyes: texture symmetry must collapse and either geometry or skin balance agree.
	leftRect := eyeRegion(lm[leftEyeIdx[0]:leftEyeIdx[1]], box)
	rightRect := eyeRegion(lm[rightEyeIdx[0]:rightEyeIdx[1]], box)
	_, o.EyeStdLeft = meanStd(img, leftRect)
	_, o.EyeStdRight = meanStd(img, rightRect)
	o.EyeSymmetry = ratio(o.EyeStdLeft, o.EyeStdRight)
	textureAsym := o.EyeSymmetry < eyeSymmetryMin || math.Min(o.EyeStdLeft, o.EyeStdRight) < eyeStdFloor

	o.EyeSkinLeft = SkinRatio(img, leftRect)
	o.EyeSkinRight = SkinRatio(img, rightRect)
	o.EyeSkinImbalance = math.Abs(o.EyeSkinLeft - o.EyeSkinRight)

	o.EyeAreaLeft = PolygonArea(lm[leftEyeIdx[0]:leftEyeIdx[1]]) / faceArea
	o.EyeAreaRight = PolygonArea(lm[rightEyeIdx[0]:rightEyeIdx[1]]) / faceArea
	eyeGeomAbnormal := math.Min(o.EyeAreaLeft, o.EyeAreaRight) < eyeAreaRatioMin ||
		ratio(o.EyeAreaLeft, o.EyeAreaRight) < eyeAreaBalanceMin

	if textureAsym && (eyeGeomAbnormal || o.EyeSkinImbalance > eyeSkinImbalanceMax) {
		reasons = append(reasons, ReasonEyesCovered)
	}

	// Mouth: both area and width must be out of range.
	o.MouthAreaRatio = PolygonArea(lm[outerLipIdx[0]:outerLipIdx[1]]) / faceArea
	o.MouthWidthRatio = math.Abs(lm[mouthRightIdx].X-lm[mouthLeftIdx].X) / box.Width()
	areaOut := o.MouthAreaRatio < mouthAreaRatioMin || o.MouthAreaRatio > mouthAreaRatioMax
	widthOut := o.MouthWidthRatio < mouthWidthRatioMin || o.MouthWidthRatio > mouthWidthRatioMax
	if areaOut && widthOut {
		reasons = append(reasons, ReasonMouthAbnormal)
	}

	// Lower face: skin collapses below the nose while the cheeks still read as
	// skin, and the mouth itself is hidden. A beard takes the skin away but
	// leaves the lips visible, so the mouth keeps its geometry and contrast.
	upper, lower := faceBands(lm, box)
	o.UpperSkin = SkinRatio(img, upper)
	o.LowerSkin = SkinRatio(img, lower)
	if o.UpperSkin > 0 {
		o.LowerRatio = o.LowerSkin / o.UpperSkin
	}
	_, o.MouthStd = meanStd(img, mouthRegion(lm[outerLipIdx[0]:outerLipIdx[1]]))
	mouthHidden := areaOut || widthOut || o.MouthStd < mouthStdFloor
	if o.UpperSkin >= upperSkinValidMin && o.LowerRatio < lowerSkinRatioMin && mouthHidden {
		reasons = append(reasons, ReasonLowerFaceCovered)
	}

	o.Blocked = len(reasons) > 0
	o.Reason = strings.Join(reasons, "+")
	return o
}

// eyeRegion pads the eye contour bbox by 30% horizontally and 100% vertically,
// never smaller than 10% x 6% of the face box.
func eyeRegion(pts []models.Point, box models.Box) image.Rectangle {
	minX, minY, maxX, maxY := bounds(pts)
	w, h := maxX-minX, maxY-minY
	cx, cy := (minX+maxX)/2, (minY+maxY)/2

	hw := math.Max(w*1.3, box.Width()*0.10) / 2
	hh := math.Max(h*2.0, box.Height()*0.06) / 2
	return rectF(cx-hw, cy-hh, cx+hw, cy+hh)
}

// mouthRegion pads the outer lip bbox by 10% horizontally and 25% vertically
// so the lip edge is always inside.
func mouthRegion(pts []models.Point) image.Rectangle {
	minX, minY, maxX, maxY := bounds(pts)
	padX, padY := (maxX-minX)*0.1, (maxY-minY)*0.25
	return rectF(minX-padX, minY-padY, maxX+padX, maxY+padY)
}

// faceBands returns the upper cheek reference band (below the eyes down to the
// nose tip) and the lower band (nose tip to chin, spanning the mouth).
func faceBands(lm []models.Point, box models.Box) (image.Rectangle, image.Rectangle) {
	_, _, _, eyeBottom := bounds(lm[leftEyeIdx[0]:rightEyeIdx[1]])
	noseY := lm[noseTipIdx].Y
	chinY := lm[chinIdx].Y

	upper := rectF(box.X1+0.2*box.Width(), eyeBottom+0.02*box.Height(), box.X1+0.8*box.Width(), noseY)

	pad := 0.1 * box.Width()
	left := math.Min(lm[mouthLeftIdx].X, lm[mouthRightIdx].X) - pad
	right := math.Max(lm[mouthLeftIdx].X, lm[mouthRightIdx].X) + pad
	lower := rectF(left, noseY, right, math.Min(chinY, box.Y2))
	return upper, lower
}

// PolygonArea is the shoelace area of a closed contour.
func PolygonArea(pts []models.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var s float64
	for i := range pts {
		j := (i + 1) % len(pts)
		s += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(s) / 2
}

func bounds(pts []models.Point) (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return
}

// ratio returns min/max of two non-negative values; 0 when both are zero.
func ratio(a, b float64) float64 {
	hi := math.Max(a, b)
	if hi <= 0 {
		return 0
	}
	return math.Min(a, b) / hi
}

func rectF(x1, y1, x2, y2 float64) image.Rectangle {
	return image.Rect(int(math.Floor(x1)), int(math.Floor(y1)), int(math.Ceil(x2)), int(math.Ceil(y2)))
}
