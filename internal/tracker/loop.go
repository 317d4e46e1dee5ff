// Package tracker runs the throttled per-frame pipeline: grab the latest
// camera frame, render it, and while scoring is enabled detect landmarks,
// score them and fold the results into the session aggregates.
package tracker

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/poise/internal/aggregate"
	"github.com/large-farva/poise/internal/clock"
	"github.com/large-farva/poise/internal/landmark"
	"github.com/large-farva/poise/internal/media"
	"github.com/large-farva/poise/internal/metrics"
	"github.com/large-farva/poise/internal/scoring"
)

// FrameSource yields the latest camera frame. media.Stream satisfies it.
type FrameSource interface {
	Frame() (*media.Frame, bool)
}

// Renderer draws each processed frame. Overlay is only called for scored
// frames; Flush ends every processed frame.
type Renderer interface {
	Raw(f *media.Frame)
	Overlay(d landmark.Detection, snap aggregate.Snapshot)
	Flush()
}

type Config struct {
	HostFPS   int
	TargetFPS int
	Posture   scoring.PostureConfig
	Eye       scoring.EyeConfig
}

// Loop is not safe for concurrent use. Every method, and every timer
// callback it schedules, must run on the owner's goroutine; Dispatch is how
// timer callbacks get there.
type Loop struct {
	clock    clock.Scheduler
	cfg      Config
	detector landmark.Detector
	agg      *aggregate.Set
	render   Renderer
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	// Dispatch moves a timer callback onto the owner's goroutine. Nil runs
	// it in place.
	Dispatch func(func())
	// OnUpdate receives the snapshot after every scored frame.
	OnUpdate func(aggregate.Snapshot)

	source   FrameSource
	running  bool
	gen      uint64
	timer    clock.Timer
	last     time.Time
	haveLast bool

	scoring bool
	epoch   time.Time
}

// New returns a stopped loop. A nil detector gives a preview-only loop that
// never scores.
func New(clk clock.Scheduler, cfg Config, det landmark.Detector, agg *aggregate.Set, r Renderer, m *metrics.Metrics, log logrus.FieldLogger) *Loop {
	if cfg.HostFPS <= 0 {
		cfg.HostFPS = 60
	}
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 20
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loop{clock: clk, cfg: cfg, detector: det, agg: agg, render: r, metrics: m, log: log}
}

// CanScore reports whether a detector is available.
func (l *Loop) CanScore() bool { return l.detector != nil }

func (l *Loop) Running() bool { return l.running }

func (l *Loop) Scoring() bool { return l.scoring }

// Start begins ticking at the host cadence, reading frames from src. A
// second Start while running is a no-op.
func (l *Loop) Start(src FrameSource) {
	if l.running {
		return
	}
	l.source = src
	l.running = true
	l.haveLast = false
	l.gen++
	l.schedule(0)
}

// Stop cancels the pending tick. It is safe to call when stopped.
func (l *Loop) Stop() {
	if !l.running {
		return
	}
	l.running = false
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.scoring = false
	l.source = nil
}

// BeginScoring enables detection; timeline timestamps are measured from
// epoch.
func (l *Loop) BeginScoring(epoch time.Time) {
	if l.detector == nil {
		return
	}
	l.scoring = true
	l.epoch = epoch
}

func (l *Loop) EndScoring() { l.scoring = false }

func (l *Loop) hostInterval() time.Duration { return time.Second / time.Duration(l.cfg.HostFPS) }

func (l *Loop) minDelta() time.Duration { return time.Second / time.Duration(l.cfg.TargetFPS) }

func (l *Loop) schedule(d time.Duration) {
	if !l.running {
		return
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	gen := l.gen
	l.timer = l.clock.AfterFunc(d, func() {
		l.dispatch(func() {
			if !l.running || gen != l.gen {
				return
			}
			l.Tick(l.clock.Now())
		})
	})
}

func (l *Loop) dispatch(fn func()) {
	if l.Dispatch == nil {
		fn()
		return
	}
	l.Dispatch(fn)
}

// Tick is one host frame. Frames closer than 1/TargetFPS to the previous
// processed frame are skipped, with half a host interval of slack so the
// truncated host period still lands on the target rate.
func (l *Loop) Tick(now time.Time) {
	l.metrics.HostTicks.Add(1)
	defer l.schedule(l.hostInterval())

	if l.haveLast && now.Sub(l.last) < l.minDelta()-l.hostInterval()/2 {
		return
	}
	l.last, l.haveLast = now, true
	l.metrics.FramesProcessed.Add(1)

	var frame *media.Frame
	if l.source != nil {
		frame, _ = l.source.Frame()
	}
	if l.render != nil {
		l.render.Raw(frame)
	}
	if !l.scoring {
		if l.render != nil {
			l.render.Flush()
		}
		return
	}

	start := time.Now()
	l.process(frame, now)
	l.metrics.ObserveProcess(time.Since(start))
}

func (l *Loop) process(frame *media.Frame, now time.Time) {
	elapsed := now.Sub(l.epoch)
	l.metrics.FramesScored.Add(1)

	det, err := l.detector.Detect(frame, elapsed)
	if err != nil {
		l.metrics.DetectorErrors.Add(1)
		if errors.Is(err, landmark.ErrClosed) {
			l.log.Warn("detector closed, scoring disabled")
			l.scoring = false
		} else {
			l.log.WithError(err).Debug("detect")
		}
		det = landmark.Detection{}
	}

	if p, err := scoring.Posture(det.Pose, l.cfg.Posture); err == nil {
		l.agg.Posture.Observe(p.Score, p, elapsed)
	} else {
		l.metrics.PostureGaps.Add(1)
	}
	if e, err := scoring.EyeContact(det.Face, det.Rotation, l.cfg.Eye); err == nil {
		l.agg.Eye.Observe(e.Score, e, elapsed)
	} else {
		l.metrics.EyeGaps.Add(1)
	}
	l.agg.Mark(elapsed)

	snap := l.agg.Snapshot()
	l.metrics.PostureGoodPct.Store(uint64(snap.Posture.Percentage))
	l.metrics.EyeGoodPct.Store(uint64(snap.Eye.Percentage))
	if l.OnUpdate != nil {
		l.OnUpdate(snap)
	}
	if l.render != nil {
		l.render.Overlay(det, snap)
		l.render.Flush()
	}
}
