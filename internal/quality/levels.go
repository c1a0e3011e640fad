package quality

// Level is a coarse diagnostic grade shown to the user and used to scale thresholds.
type Level string

const (
	LevelGood     Level = "GOOD"
	LevelWarn     Level = "WARN"
	LevelCritical Level = "CRITICAL"
)

// ClassifyLight grades mean frame brightness.
func ClassifyLight(brightness float64) Level {
	switch {
	case brightness < 50 || brightness > 235:
		return LevelCritical
	case brightness < 85 || brightness > 210:
		return LevelWarn
	default:
		return LevelGood
	}
}

// ClassifyDistance grades how much of the frame width the face occupies.
func ClassifyDistance(faceWidth, frameWidth float64) Level {
	if frameWidth <= 0 || faceWidth <= 0 {
		return LevelCritical
	}
	ratio := faceWidth / frameWidth
	switch {
	case ratio < 0.2:
		return LevelCritical
	case ratio < 0.3 || ratio > 0.85:
		return LevelWarn
	default:
		return LevelGood
	}
}

// BlurScale is the multiplier applied to the base blur threshold for a light level.
func BlurScale(light Level) float64 {
	switch light {
	case LevelWarn:
		return 0.8
	case LevelCritical:
		return 0.6
	default:
		return 1.0
	}
}
