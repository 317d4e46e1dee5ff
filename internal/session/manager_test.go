package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/large-farva/poise/internal/aggregate"
	"github.com/large-farva/poise/internal/analysis"
	"github.com/large-farva/poise/internal/audio"
	"github.com/large-farva/poise/internal/clock"
	"github.com/large-farva/poise/internal/landmark"
	"github.com/large-farva/poise/internal/media"
	"github.com/large-farva/poise/internal/metrics"
	"github.com/large-farva/poise/internal/scoring"
	"github.com/large-farva/poise/internal/tracker"
)

// uprightDetector always finds a level, upright subject looking at the camera.
type uprightDetector struct{}

func (uprightDetector) Detect(*media.Frame, time.Duration) (landmark.Detection, error) {
	pose := make(landmark.PoseSet, landmark.PoseCount)
	pose[landmark.PoseNose] = landmark.Point{X: 0.5, Y: 0.3}
	pose[landmark.PoseLeftEar] = landmark.Point{X: 0.45, Y: 0.28}
	pose[landmark.PoseRightEar] = landmark.Point{X: 0.55, Y: 0.28}
	pose[landmark.PoseLeftShoulder] = landmark.Point{X: 0.3, Y: 0.6}
	pose[landmark.PoseRightShoulder] = landmark.Point{X: 0.7, Y: 0.6}

	face := make(landmark.FaceSet, landmark.FaceCount)
	face[landmark.FaceNoseTip] = landmark.Point{X: 0.5, Y: 0.5}
	face[landmark.FaceLeftEyeOuter] = landmark.Point{X: 0.4, Y: 0.5}
	face[landmark.FaceRightEyeOuter] = landmark.Point{X: 0.6, Y: 0.5}
	return landmark.Detection{Pose: pose, Face: face}, nil
}

func (uprightDetector) Close() error { return nil }

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []analysis.Payload
	err      error
	gate     chan struct{}
	ctxErrs  []error
}

func (f *fakeSubmitter) Submit(ctx context.Context, p analysis.Payload) (*analysis.Result, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.ctxErrs = append(f.ctxErrs, ctx.Err())
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Result{Status: 200, Body: json.RawMessage(`{"ok":true}`)}, nil
}

func (f *fakeSubmitter) calls() []analysis.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analysis.Payload(nil), f.payloads...)
}

func (f *fakeSubmitter) cancelled() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.ctxErrs...)
}

// capturingDevice remembers every stream it hands out.
type capturingDevice struct {
	media.Device
	mu      sync.Mutex
	streams []media.Stream
}

func (c *capturingDevice) Acquire(ctx context.Context, cs media.Constraints) (media.Stream, error) {
	s, err := c.Device.Acquire(ctx, cs)
	if err == nil {
		c.mu.Lock()
		c.streams = append(c.streams, s)
		c.mu.Unlock()
	}
	return s, err
}

func (c *capturingDevice) last() media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

// recordingClock keeps every callback handed to AfterFunc so a test can
// replay one.
type recordingClock struct {
	*clock.Fake
	mu  sync.Mutex
	fns map[time.Duration][]func()
}

func (r *recordingClock) AfterFunc(d time.Duration, fn func()) clock.Timer {
	r.mu.Lock()
	if r.fns == nil {
		r.fns = make(map[time.Duration][]func())
	}
	r.fns[d] = append(r.fns[d], fn)
	r.mu.Unlock()
	return r.Fake.AfterFunc(d, fn)
}

func (r *recordingClock) callbacks(d time.Duration) []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]func(){}, r.fns[d]...)
}

type harness struct {
	t       *testing.T
	clk     *clock.Fake
	dev     *media.Synthetic
	sub     *fakeSubmitter
	metrics *metrics.Metrics
	m       *Manager

	mu        sync.Mutex
	phases    []Phase
	countdown []int
	statuses  []string
	results   int
	errs      []error
	ended     []analysis.Summary
}

type option func(*Config, *Deps)

func newHarness(t *testing.T, cfg Config, opts ...option) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	log, _ := test.NewNullLogger()
	h := &harness{t: t, clk: clk, dev: media.NewSynthetic(clk), sub: &fakeSubmitter{}, metrics: metrics.New()}

	if cfg.Constraints == (media.Constraints{}) {
		cfg.Constraints = media.Constraints{Width: 64, Height: 48, Audio: true, SampleRate: 8000}
	}
	if cfg.Audio.Timeslice == 0 {
		cfg.Audio.Timeslice = time.Hour
	}

	agg := aggregate.NewSet(0.15, 75)
	deps := Deps{
		Clock:     clk,
		Device:    h.dev,
		Aggregate: agg,
		Submitter: h.sub,
		Metrics:   h.metrics,
		Log:       log,
	}
	var det landmark.Detector = uprightDetector{}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	if deps.Loop == nil {
		deps.Loop = tracker.New(deps.Clock, tracker.Config{Posture: scoring.DefaultPosture(), Eye: scoring.DefaultEye()}, det, agg, nil, h.metrics, log)
	}

	m := New(cfg, deps)
	m.OnPhaseChange = func(_, to Phase) {
		h.mu.Lock()
		h.phases = append(h.phases, to)
		h.mu.Unlock()
	}
	m.OnCountdown = func(_ Phase, left int) {
		h.mu.Lock()
		h.countdown = append(h.countdown, left)
		h.mu.Unlock()
	}
	m.OnStatus = func(msg string) {
		h.mu.Lock()
		h.statuses = append(h.statuses, msg)
		h.mu.Unlock()
	}
	m.OnAnalysisResult = func(*analysis.Result) {
		h.mu.Lock()
		h.results++
		h.mu.Unlock()
	}
	m.OnAnalysisError = func(err error) {
		h.mu.Lock()
		h.errs = append(h.errs, err)
		h.mu.Unlock()
	}
	m.OnEnd = func(s analysis.Summary) {
		h.mu.Lock()
		h.ended = append(h.ended, s)
		h.mu.Unlock()
	}
	h.m = m

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return h
}

// sync waits until everything queued so far has run.
func (h *harness) sync() {
	h.t.Helper()
	done := make(chan struct{})
	h.m.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("manager queue stalled")
	}
}

// advance moves the fake clock in 50ms steps, letting the manager catch up
// after each.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	const step = 50 * time.Millisecond
	for d > 0 {
		s := min(step, d)
		h.clk.Advance(s)
		h.sync()
		d -= s
	}
}

func (h *harness) send(cmdType string, payload any) CommandResult {
	h.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			h.t.Fatal(err)
		}
		raw = b
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.m.Send(ctx, cmdType, raw)
	if err != nil {
		h.t.Fatalf("send %s: %v", cmdType, err)
	}
	return res
}

func (h *harness) waitPhase(want Phase) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.sync()
		if h.m.Status().Phase == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	h.t.Fatalf("phase = %s, want %s", h.m.Status().Phase, want)
}

func (h *harness) sawStatus(sub string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.statuses {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (h *harness) waitSubmission() {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(h.sub.calls()) == 0 {
		if time.Now().After(deadline) {
			h.t.Fatal("submission never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) phaseCount(p Phase) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, got := range h.phases {
		if got == p {
			n++
		}
	}
	return n
}

func TestThinkingCountdownEntersResponse(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 3, ResponseSeconds: 60})
	res := h.send("start", StartRequest{PromptID: "q-1", PromptText: "Why us?"})
	if !res.OK {
		t.Fatalf("start: %+v", res)
	}
	if st := h.m.Status(); st.Phase != Thinking || st.TimeLeft != 3 || st.SessionID == "" {
		t.Fatalf("after start: %+v", st)
	}

	h.advance(2 * time.Second)
	if st := h.m.Status(); st.Phase != Thinking || st.TimeLeft != 1 {
		t.Fatalf("after 2s: %+v", st)
	}
	h.advance(time.Second)
	st := h.m.Status()
	if st.Phase != Response || st.TimeLeft != 60 {
		t.Fatalf("after 3s: %+v", st)
	}
	if !st.Scoring || !st.Recording {
		t.Fatalf("response should score and record: %+v", st)
	}

	h.mu.Lock()
	got := append([]int(nil), h.countdown...)
	h.mu.Unlock()
	want := []int{3, 2, 1, 0, 60}
	if len(got) != len(want) {
		t.Fatalf("countdown = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("countdown = %v, want %v", got, want)
		}
	}
}

func TestThinkingTimerReplayIsIgnored(t *testing.T) {
	rc := &recordingClock{Fake: clock.NewFake(time.Unix(0, 0))}
	h := newHarness(t, Config{ThinkingSeconds: 1, ResponseSeconds: 30}, func(_ *Config, d *Deps) {
		d.Clock = rc
	})
	h.clk = rc.Fake
	h.dev.Clock = rc

	h.send("start", nil)
	h.advance(time.Second)
	if p := h.m.Status().Phase; p != Response {
		t.Fatalf("phase = %s", p)
	}

	thinking := rc.callbacks(time.Second)
	if len(thinking) == 0 {
		t.Fatal("no countdown timer recorded")
	}
	for range 3 {
		thinking[0]()
	}
	h.sync()

	if n := h.phaseCount(Response); n != 1 {
		t.Fatalf("entered response %d times", n)
	}
	if st := h.m.Status(); st.Phase != Response || st.TimeLeft != 30 {
		t.Fatalf("status = %+v", st)
	}
}

func TestAcquisitionErrorStaysIdle(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 1, ResponseSeconds: 1})
	h.dev.Deny = true

	res := h.send("start", nil)
	if res.OK || !strings.Contains(res.Error, "permission denied") || res.Code != http.StatusServiceUnavailable {
		t.Fatalf("start = %+v", res)
	}
	if st := h.m.Status(); st.Phase != Idle || !strings.Contains(st.Message, "unavailable") {
		t.Fatalf("status = %+v", st)
	}
	if h.metrics.AcquisitionErrors.Load() != 1 {
		t.Fatal("acquisition error not counted")
	}

	// Nothing was held, so a retry succeeds.
	h.dev.Deny = false
	if res := h.send("start", nil); !res.OK {
		t.Fatalf("retry = %+v", res)
	}
}

func TestStartWhileActiveFails(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 5, ResponseSeconds: 5})
	h.send("start", nil)
	res := h.send("start", nil)
	if res.OK || res.Error != ErrSessionActive.Error() || res.Code != http.StatusConflict {
		t.Fatalf("second start = %+v", res)
	}
}

func TestReconfigureAppliesToNextSession(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 5, ResponseSeconds: 5})
	ctx := context.Background()
	next := Config{ThinkingSeconds: 2, ResponseSeconds: 5, Constraints: h.m.cfg.Constraints, Audio: h.m.cfg.Audio}

	h.send("start", nil)
	if err := h.m.Reconfigure(ctx, next); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("reconfigure while thinking: %v", err)
	}
	h.send("restart", nil)
	if err := h.m.Reconfigure(ctx, next); err != nil {
		t.Fatal(err)
	}
	h.send("start", nil)
	if st := h.m.Status(); st.TimeLeft != 2 {
		t.Fatalf("time left = %d", st.TimeLeft)
	}
}

func TestEndNowIsIdempotentAndHandsOff(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 0, ResponseSeconds: 10})
	h.send("start", StartRequest{PromptID: "q-9", PromptType: "technical"})
	if p := h.m.Status().Phase; p != Response {
		t.Fatalf("zero thinking time: phase = %s", p)
	}

	h.advance(600 * time.Millisecond)
	if res := h.send("end", nil); !res.OK || res.Message != "response ended, finalizing" {
		t.Fatalf("end = %+v", res)
	}
	if res := h.send("end", nil); !res.OK || res.Message != "response already ended" {
		t.Fatalf("second end = %+v", res)
	}
	h.waitPhase(Done)

	// The response countdown must not fire a second transition.
	h.advance(11 * time.Second)
	if n := h.phaseCount(Finishing); n != 1 {
		t.Fatalf("finishing entered %d times", n)
	}

	calls := h.sub.calls()
	if len(calls) != 1 {
		t.Fatalf("submissions = %d", len(calls))
	}
	p := calls[0]
	if p.Prompt.ID != "q-9" || p.Prompt.Type != "technical" {
		t.Fatalf("prompt = %+v", p.Prompt)
	}
	if p.Audio == nil || p.Audio.MediaType != audio.MediaTypeWAV || p.Audio.Size() <= 44 {
		t.Fatalf("audio = %+v", p.Audio)
	}
	if p.Vision.Posture.Frames == 0 || len(p.Timelines.Posture) != p.Vision.Posture.Frames {
		t.Fatalf("vision = %+v, timeline %d", p.Vision.Posture, len(p.Timelines.Posture))
	}
	if p.Vision.Posture.Percentage != 100 {
		t.Fatalf("upright posture pct = %d", p.Vision.Posture.Percentage)
	}
	s := p.Summary
	if !s.EndedEarly || s.AudioStatus != AudioRecorded || s.PromptID != "q-9" || s.ResponseSeconds != 0.6 {
		t.Fatalf("summary = %+v", s)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.results != 1 || len(h.errs) != 0 || len(h.ended) != 1 {
		t.Fatalf("results=%d errs=%v ended=%d", h.results, h.errs, len(h.ended))
	}
	if h.metrics.SessionsCompleted.Load() != 1 {
		t.Fatal("completion not counted")
	}
}

func TestEndOutsideResponse(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 5, ResponseSeconds: 5})
	if res := h.send("end", nil); res.OK {
		t.Fatalf("end while idle = %+v", res)
	}
	h.send("start", nil)
	if res := h.send("end", nil); res.OK || res.Error != ErrNotResponding.Error() || res.Code != http.StatusConflict {
		t.Fatalf("end while thinking = %+v", res)
	}
}

func TestResponseCountdownFinishes(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 1, ResponseSeconds: 2})
	h.send("start", nil)
	h.advance(3 * time.Second)
	h.waitPhase(Done)

	calls := h.sub.calls()
	if len(calls) != 1 || calls[0].Summary.EndedEarly || calls[0].Summary.ResponseSeconds != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	res := h.send("analysis", nil)
	out, ok := res.Data.(Outcome)
	if !res.OK || !ok || out.Result == nil || out.Error != "" {
		t.Fatalf("analysis = %+v", res)
	}

	// Devices were released: a new session can acquire them.
	if res := h.send("start", nil); !res.OK {
		t.Fatalf("start after done = %+v", res)
	}
	if p := h.m.Status().Phase; p != Thinking {
		t.Fatalf("phase = %s", p)
	}
	if res := h.send("analysis", nil); res.OK {
		t.Fatal("outcome should be cleared by the implicit restart")
	}
}

func TestSubmissionFailureStillCompletes(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 0, ResponseSeconds: 1})
	h.sub.err = &analysis.SubmissionError{Status: 503, Body: "busy"}
	h.send("start", nil)
	h.advance(time.Second)
	h.waitPhase(Done)

	h.mu.Lock()
	errs := append([]error(nil), h.errs...)
	ended := len(h.ended)
	h.mu.Unlock()
	var se *analysis.SubmissionError
	if len(errs) != 1 || !errors.As(errs[0], &se) || se.Status != 503 {
		t.Fatalf("errors = %v", errs)
	}
	if ended != 1 {
		t.Fatal("OnEnd not fired")
	}
	res := h.send("analysis", nil)
	if out := res.Data.(Outcome); !strings.Contains(out.Error, "503") {
		t.Fatalf("outcome = %+v", out)
	}
	if h.metrics.SubmissionErrors.Load() != 1 {
		t.Fatal("submission error not counted")
	}
}

func TestNoAudioTrackContinuesVideoOnly(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 0, ResponseSeconds: 1})
	h.dev.NoAudio = true
	h.send("start", nil)
	if st := h.m.Status(); st.Phase != Response || st.Recording || !strings.Contains(st.Message, "video-only") {
		t.Fatalf("status = %+v", st)
	}
	h.advance(time.Second)
	h.waitPhase(Done)

	p := h.sub.calls()[0]
	if p.Audio != nil || p.Summary.AudioStatus != AudioUnavailable || p.Summary.AudioBytes != 0 {
		t.Fatalf("payload audio=%v summary=%+v", p.Audio, p.Summary)
	}
	if p.Vision.Posture.Frames == 0 {
		t.Fatal("video scoring should continue without audio")
	}
}

func TestRestartDiscardsPendingCompletion(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 0, ResponseSeconds: 5})
	gate := make(chan struct{})
	h.sub.gate = gate
	h.send("start", nil)
	h.advance(200 * time.Millisecond)
	h.send("end", nil)
	h.waitSubmission()

	if res := h.send("restart", nil); !res.OK {
		t.Fatalf("restart = %+v", res)
	}
	if p := h.m.Status().Phase; p != Idle {
		t.Fatalf("phase = %s", p)
	}
	close(gate)
	for h.metrics.Submissions.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	h.sync()

	if p := h.m.Status().Phase; p != Idle {
		t.Fatalf("stale completion moved phase to %s", p)
	}
	h.mu.Lock()
	results, ended := h.results, len(h.ended)
	h.mu.Unlock()
	if results != 0 || ended != 0 {
		t.Fatalf("stale completion delivered: results=%d ended=%d", results, ended)
	}
	if res := h.send("start", nil); !res.OK {
		t.Fatalf("stream not released on restart: %+v", res)
	}
}

func TestRestartCancelsInFlightSubmission(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 0, ResponseSeconds: 5})
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	h.sub.gate = gate
	h.send("start", nil)
	h.advance(200 * time.Millisecond)
	h.send("end", nil)
	h.waitSubmission()

	h.send("restart", nil)
	deadline := time.Now().Add(2 * time.Second)
	for len(h.sub.cancelled()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("submission context not cancelled by restart")
		}
		time.Sleep(time.Millisecond)
	}
	if errs := h.sub.cancelled(); !errors.Is(errs[0], context.Canceled) {
		t.Fatalf("ctx err = %v", errs[0])
	}
	h.sync()
	if p := h.m.Status().Phase; p != Idle {
		t.Fatalf("phase = %s", p)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) != 0 || len(h.ended) != 0 {
		t.Fatalf("abandoned submission reported: errs=%v ended=%d", h.errs, len(h.ended))
	}
}

func TestRecorderStopErrorStillCompletes(t *testing.T) {
	dev := &capturingDevice{}
	h := newHarness(t, Config{ThinkingSeconds: 0, ResponseSeconds: 5}, func(_ *Config, d *Deps) {
		dev.Device = d.Device
		d.Device = dev
	})
	h.send("start", nil)
	if st := h.m.Status(); !st.Recording {
		t.Fatalf("status = %+v", st)
	}
	h.advance(300 * time.Millisecond)

	stream := dev.last()
	for _, tr := range stream.AudioTracks() {
		tr.Stop()
	}
	h.send("end", nil)
	h.waitPhase(Done)

	calls := h.sub.calls()
	if len(calls) != 1 || calls[0].Summary.AudioStatus != AudioFailed {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Vision.Posture.Frames == 0 {
		t.Fatal("video scoring should survive a recorder failure")
	}
	if !h.sawStatus("audio recording error") {
		t.Fatal("recorder failure not reported")
	}
	if h.metrics.RecorderErrors.Load() != 1 {
		t.Fatal("recorder error not counted")
	}
	for _, tr := range stream.Tracks() {
		if tr.Live() {
			t.Fatalf("%s track still live after done", tr.Kind())
		}
	}
	if res := h.send("start", nil); !res.OK {
		t.Fatalf("stream not released: %+v", res)
	}
}

func TestMissingDetectorStillCompletes(t *testing.T) {
	var loop *tracker.Loop
	h := newHarness(t, Config{ThinkingSeconds: 1, ResponseSeconds: 1}, func(_ *Config, d *Deps) {
		loop = tracker.New(d.Clock, tracker.Config{}, nil, d.Aggregate, nil, d.Metrics, d.Log)
		d.Loop = loop
	})
	if st := h.m.Status(); st.DetectorReady {
		t.Fatalf("status = %+v", st)
	}

	h.send("start", nil)
	h.advance(time.Second)
	if st := h.m.Status(); st.Phase != Response || st.Scoring {
		t.Fatalf("status = %+v", st)
	}
	if !h.sawStatus("landmark detector unavailable") {
		t.Fatal("missing detector not reported")
	}
	processed := h.metrics.FramesProcessed.Load()
	h.advance(500 * time.Millisecond)
	if !loop.Running() || h.metrics.FramesProcessed.Load() <= processed {
		t.Fatal("preview stopped without a detector")
	}

	h.advance(time.Second)
	h.waitPhase(Done)
	if h.metrics.FramesScored.Load() != 0 {
		t.Fatalf("scored %d frames without a detector", h.metrics.FramesScored.Load())
	}
	p := h.sub.calls()[0]
	if p.Vision.Posture.Frames != 0 || p.Summary.AudioStatus != AudioRecorded {
		t.Fatalf("payload vision=%+v summary=%+v", p.Vision.Posture, p.Summary)
	}
}

func TestTimelinesCommand(t *testing.T) {
	h := newHarness(t, Config{ThinkingSeconds: 0, ResponseSeconds: 5})
	h.send("start", nil)
	h.advance(300 * time.Millisecond)

	res := h.send("timelines", map[string]string{"format": "pairs"})
	pairs, ok := res.Data.(map[string][][2]float64)
	if !res.OK || !ok || len(pairs["posture_timeline"]) == 0 {
		t.Fatalf("pairs = %+v", res)
	}
	prev := -1.0
	for _, p := range pairs["posture_timeline"] {
		if p[0] < prev {
			t.Fatalf("timeline went backwards: %v", pairs["posture_timeline"])
		}
		prev = p[0]
	}

	res = h.send("timelines", nil)
	if tl, ok := res.Data.(aggregate.Timelines); !ok || len(tl.Posture) != len(pairs["posture_timeline"]) {
		t.Fatalf("points = %+v", res)
	}
	if res := h.send("timelines", map[string]string{"format": "csv"}); res.OK {
		t.Fatal("unknown format accepted")
	}
	if res := h.send("bogus", nil); res.OK || !strings.Contains(res.Error, "unknown command") {
		t.Fatalf("bogus = %+v", res)
	}
}

func TestShutdownReleasesDevices(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	log, _ := test.NewNullLogger()
	dev := media.NewSynthetic(clk)
	agg := aggregate.NewSet(0.15, 75)
	loop := tracker.New(clk, tracker.Config{}, nil, agg, nil, nil, log)
	m := New(Config{ThinkingSeconds: 10, ResponseSeconds: 10}, Deps{Clock: clk, Device: dev, Loop: loop, Aggregate: agg, Log: log})

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	if res, err := m.Send(ctx, "start", nil); err != nil || !res.OK {
		t.Fatalf("start = %+v, %v", res, err)
	}
	cancel()
	<-m.Done()

	if st := m.Status(); st.Phase != Idle {
		t.Fatalf("phase after shutdown = %s", st.Phase)
	}
	if _, err := m.Send(context.Background(), "status", nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("send after shutdown: %v", err)
	}
	s, err := dev.Acquire(context.Background(), media.Constraints{})
	if err != nil {
		t.Fatalf("device still held: %v", err)
	}
	s.Stop()
	clk.Advance(5 * time.Second)
	if loop.Running() {
		t.Fatal("loop still running")
	}
}
