package aggregate

import (
	"math"
	"time"
)

// StreamSnapshot is the externally visible state of one metric.
type StreamSnapshot struct {
	Score      *int `json:"score"`
	Smoothed   *int `json:"smoothed"`
	Percentage int  `json:"goodPct"`
	Counter
	Metrics any `json:"metrics"`
}

// Stream bundles everything tracked for one metric: smoothing, good-frame
// counting, the timeline and the last raw result.
type Stream struct {
	threshold int
	smoother  *Smoother
	counter   Counter
	timeline  Timeline
	last      *int
	metrics   any
}

func NewStream(alpha float64, goodThreshold int) *Stream {
	return &Stream{threshold: goodThreshold, smoother: NewSmoother(alpha)}
}

// Observe records one scored frame and appends a timeline point at elapsed.
// Goodness is judged on the raw score.
func (s *Stream) Observe(score int, metrics any, elapsed time.Duration) Point {
	s.smoother.Update(float64(score))
	s.counter.Add(score >= s.threshold)
	v := score
	s.last = &v
	s.metrics = metrics
	return s.timeline.Append(elapsed, s.counter.Percentage())
}

func (s *Stream) Counter() Counter { return s.counter }

func (s *Stream) Timeline() []Point { return s.timeline.Points() }

func (s *Stream) TimelinePairs() [][2]float64 { return s.timeline.Pairs() }

func (s *Stream) Snapshot() StreamSnapshot {
	snap := StreamSnapshot{
		Percentage: s.counter.Percentage(),
		Counter:    s.counter,
		Metrics:    s.metrics,
	}
	if s.last != nil {
		v := *s.last
		snap.Score = &v
	}
	if v, ok := s.smoother.Value(); ok {
		r := int(math.Round(v))
		snap.Smoothed = &r
	}
	return snap
}

func (s *Stream) Reset() {
	s.smoother.Reset()
	s.counter = Counter{}
	s.timeline.Reset()
	s.last = nil
	s.metrics = nil
}

// Snapshot is the combined per-frame state handed to observers and included
// in the analysis payload.
type Snapshot struct {
	Posture StreamSnapshot `json:"posture"`
	Eye     StreamSnapshot `json:"eye"`
	Elapsed float64        `json:"elapsed"`
}

// Timelines is the timeline document shape consumed downstream.
type Timelines struct {
	Posture []Point `json:"posture_timeline"`
	Eye     []Point `json:"eye_timeline"`
}

// Set holds the posture and eye streams for one session.
type Set struct {
	Posture *Stream
	Eye     *Stream
	elapsed time.Duration
}

func NewSet(alpha float64, goodThreshold int) *Set {
	return &Set{
		Posture: NewStream(alpha, goodThreshold),
		Eye:     NewStream(alpha, goodThreshold),
	}
}

// Mark notes the elapsed time of the latest processed frame.
func (s *Set) Mark(elapsed time.Duration) { s.elapsed = elapsed }

func (s *Set) Snapshot() Snapshot {
	return Snapshot{
		Posture: s.Posture.Snapshot(),
		Eye:     s.Eye.Snapshot(),
		Elapsed: math.Round(s.elapsed.Seconds()*100) / 100,
	}
}

func (s *Set) Timelines() Timelines {
	return Timelines{Posture: s.Posture.Timeline(), Eye: s.Eye.Timeline()}
}

func (s *Set) Reset() {
	s.Posture.Reset()
	s.Eye.Reset()
	s.elapsed = 0
}
