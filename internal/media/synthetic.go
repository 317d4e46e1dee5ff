package media

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/large-farva/poise/internal/clock"
)

// Synthetic is a device that needs no hardware: video is a color-bar test
// pattern with a sweeping marker, audio is a sine tone. It lets the whole
// session pipeline run on a headless machine.
type Synthetic struct {
	Clock  clock.Scheduler
	ToneHz float64

	// Deny makes Acquire fail as if the user refused camera access.
	Deny bool
	// NoAudio produces a video-only stream.
	NoAudio bool

	mu    sync.Mutex
	owner Stream
}

// NewSynthetic returns a synthetic device with a 440 Hz tone.
func NewSynthetic(clk clock.Scheduler) *Synthetic {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Synthetic{Clock: clk, ToneHz: 440}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AcquisitionError{Device: s.Name(), Err: err}
	}
	if s.Deny {
		return nil, &AcquisitionError{Device: s.Name(), Err: ErrPermissionDenied}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != nil {
		return nil, &AcquisitionError{Device: s.Name(), Err: ErrDeviceBusy}
	}

	w, h := c.Width, c.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}

	st := &syntheticStream{id: uuid.NewString(), clock: s.Clock, width: w, height: h}
	video := &baseTrack{kind: KindVideo, label: "synthetic camera"}
	st.tracks = append(st.tracks, video)

	if c.Audio && !s.NoAudio {
		rate := c.SampleRate
		if rate <= 0 {
			rate = 48000
		}
		st.tracks = append(st.tracks, &toneTrack{
			baseTrack: baseTrack{kind: KindAudio, label: "synthetic microphone"},
			clock:     s.Clock,
			rate:      rate,
			freq:      s.ToneHz,
			last:      s.Clock.Now(),
		})
	}

	st.release = func() {
		s.mu.Lock()
		if s.owner == st {
			s.owner = nil
		}
		s.mu.Unlock()
	}
	s.owner = st
	return st, nil
}

type syntheticStream struct {
	id     string
	clock  clock.Scheduler
	width  int
	height int
	tracks []Track

	mu      sync.Mutex
	seq     uint64
	stopped bool
	release func()
}

func (s *syntheticStream) ID() string                { return s.id }
func (s *syntheticStream) Tracks() []Track           { return s.tracks }
func (s *syntheticStream) AudioTracks() []AudioTrack { return audioOnly(s.tracks) }

func (s *syntheticStream) Frame() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	s.seq++
	now := s.clock.Now()
	return &Frame{Image: colorBars(s.width, s.height, now), Seq: s.seq, Captured: now}, true
}

func (s *syntheticStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	stopAll(s.tracks)
	if s.release != nil {
		s.release()
	}
}

var barColors = []color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 0, G: 255, B: 0, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 0, G: 0, B: 0, A: 255},
}

// colorBars renders the SMPTE-ish test pattern with a dark marker row that
// sweeps down once every two seconds, so a frozen preview is obvious.
func colorBars(w, h int, now time.Time) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	barWidth := w / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	phase := float64(now.UnixMilli()%2000) / 2000
	markerY := int(phase * float64(h))

	for y := range h {
		dark := y >= markerY && y < markerY+4
		for x := range w {
			idx := x / barWidth
			if idx >= len(barColors) {
				idx = len(barColors) - 1
			}
			c := barColors[idx]
			if dark {
				c = color.RGBA{R: c.R / 4, G: c.G / 4, B: c.B / 4, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// toneTrack synthesizes as many samples as wall time has elapsed since the
// previous Drain.
type toneTrack struct {
	baseTrack
	clock clock.Scheduler
	rate  int
	freq  float64

	pmu   sync.Mutex
	last  time.Time
	total int
}

func (t *toneTrack) SampleRate() int { return t.rate }

func (t *toneTrack) Drain() []int16 {
	if !t.Live() {
		return nil
	}
	t.pmu.Lock()
	defer t.pmu.Unlock()

	now := t.clock.Now()
	n := int(now.Sub(t.last).Seconds() * float64(t.rate))
	if n <= 0 {
		return nil
	}
	// Advance by whole samples so rounding never drops time.
	t.last = t.last.Add(time.Duration(float64(n) / float64(t.rate) * float64(time.Second)))

	out := make([]int16, n)
	for i := range out {
		ts := float64(t.total+i) / float64(t.rate)
		out[i] = int16(12000.0 * math.Sin(2.0*math.Pi*t.freq*ts))
	}
	t.total += n
	return out
}
