package scoring

import (
	"math"

	"github.com/large-farva/poise/internal/landmark"
)

func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Norm01 maps x linearly from [a,b] onto [0,1], clamped. A zero-width range
// maps everything to 0.
func Norm01(x, a, b float64) float64 {
	if a == b {
		return 0
	}
	return Clamp01((x - a) / (b - a))
}

// PenaltyBetween is the lower-is-better penalty: 0 at or below goodMax, 1 at
// or above badMax, linear in between.
func PenaltyBetween(value, goodMax, badMax float64) float64 {
	return Norm01(value, goodMax, badMax)
}

// PenaltyBetweenMin is the higher-is-better penalty: 0 at or above goodMin,
// 1 at or below badMin.
func PenaltyBetweenMin(value, goodMin, badMin float64) float64 {
	if value >= goodMin {
		return 0
	}
	if value <= badMin {
		return 1
	}
	return Clamp01((goodMin - value) / (goodMin - badMin))
}

// Dist2 is the distance between a and b in the image plane.
func Dist2(a, b landmark.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func Mid(a, b landmark.Point) landmark.Point {
	return landmark.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Z: (a.Z + b.Z) / 2}
}

func Rad2Deg(r float64) float64 { return r * 180 / math.Pi }

// combine folds weighted penalties into a 0-100 score.
func combine(weights, penalties [3]float64) (float64, int) {
	var sum float64
	for i := range weights {
		sum += weights[i] * penalties[i]
	}
	wp := Clamp01(sum)
	return wp, int(math.Round(100 * (1 - wp)))
}
