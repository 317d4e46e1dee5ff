package aggregate

import (
	"math"
	"time"
)

// Point is one timeline sample: seconds since the response phase started
// and the good-frame percentage at that moment.
type Point struct {
	Timestamp  float64 `json:"timestamp"`
	Percentage int     `json:"percentage"`
}

// Timeline is an append-only series with non-decreasing timestamps.
type Timeline struct {
	points []Point
}

// Append records a point at elapsed, rounded to hundredths of a second. An
// elapsed earlier than the last point is clamped to it.
func (t *Timeline) Append(elapsed time.Duration, pct int) Point {
	ts := math.Round(elapsed.Seconds()*100) / 100
	if ts < 0 {
		ts = 0
	}
	if n := len(t.points); n > 0 && ts < t.points[n-1].Timestamp {
		ts = t.points[n-1].Timestamp
	}
	p := Point{Timestamp: ts, Percentage: pct}
	t.points = append(t.points, p)
	return p
}

func (t *Timeline) Len() int { return len(t.points) }

// Points returns a copy of the series.
func (t *Timeline) Points() []Point {
	out := make([]Point, len(t.points))
	copy(out, t.points)
	return out
}

// Pairs returns the series as [timestamp, percentage] pairs.
func (t *Timeline) Pairs() [][2]float64 {
	out := make([][2]float64, len(t.points))
	for i, p := range t.points {
		out[i] = [2]float64{p.Timestamp, float64(p.Percentage)}
	}
	return out
}

func (t *Timeline) Reset() { t.points = nil }
