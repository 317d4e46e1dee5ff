// Package aggregate smooths per-frame scores and accumulates the good-frame
// percentages and timelines for a session.
package aggregate

import "math"

// EMA returns the exponential moving average after observing x. A nil prev
// means no previous value.
func EMA(prev *float64, x, alpha float64) float64 {
	if prev == nil {
		return x
	}
	return (1-alpha)*(*prev) + alpha*x
}

// Smoother keeps the running EMA for one metric stream.
type Smoother struct {
	alpha float64
	value *float64
}

func NewSmoother(alpha float64) *Smoother {
	return &Smoother{alpha: alpha}
}

// Update folds x in and returns the new smoothed value.
func (s *Smoother) Update(x float64) float64 {
	v := EMA(s.value, x, s.alpha)
	s.value = &v
	return v
}

// Value returns the smoothed value, or false if nothing has been observed.
func (s *Smoother) Value() (float64, bool) {
	if s.value == nil {
		return 0, false
	}
	return *s.value, true
}

func (s *Smoother) Reset() { s.value = nil }

// Counter tracks how many scored frames met the good threshold.
type Counter struct {
	Frames     int `json:"frames"`
	GoodFrames int `json:"goodFrames"`
}

func (c *Counter) Add(good bool) {
	c.Frames++
	if good {
		c.GoodFrames++
	}
}

// Percentage is the share of good frames, 0 when nothing was counted.
func (c Counter) Percentage() int {
	return int(math.Round(100 * float64(c.GoodFrames) / float64(max(c.Frames, 1))))
}
