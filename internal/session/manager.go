package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/large-farva/poise/internal/aggregate"
	"github.com/large-farva/poise/internal/analysis"
	"github.com/large-farva/poise/internal/audio"
	"github.com/large-farva/poise/internal/clock"
	"github.com/large-farva/poise/internal/media"
	"github.com/large-farva/poise/internal/metrics"
	"github.com/large-farva/poise/internal/tracker"
)

// Deps are the collaborators a Manager drives. Loop must have been built
// over Aggregate.
type Deps struct {
	Clock     clock.Scheduler
	Device    media.Device
	Loop      *tracker.Loop
	Aggregate *aggregate.Set
	Submitter analysis.Submitter
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger
}

// Manager owns the session state machine. All state lives on the goroutine
// running Run; timers, the frame loop, and async completions post closures
// onto its queue, and external callers go through Commands.
type Manager struct {
	Hooks

	// Commands receives external commands from HTTP handlers.
	Commands chan Command

	clock     clock.Scheduler
	cfg       Config
	device    media.Device
	loop      *tracker.Loop
	agg       *aggregate.Set
	submitter analysis.Submitter
	metrics   *metrics.Metrics
	log       logrus.FieldLogger

	queue   chan func()
	done    chan struct{}
	runOnce sync.Once
	ctx     context.Context

	// sessCtx scopes the current session's async work and is cancelled when
	// the session is abandoned.
	sessCtx    context.Context
	sessCancel context.CancelFunc

	// Owned by the Run goroutine.
	alive        bool
	gen          uint64
	phase        Phase
	timeLeft     int
	countdown    clock.Timer
	countdownSeq uint64
	stream       media.Stream
	rec          *audio.Recorder
	recTried     bool
	prompt       analysis.Prompt
	sessionID    string
	startedAt    time.Time
	responseAt   time.Time
	endedAt      time.Time
	endedEarly   bool
	audioStatus  string
	message      string
	outcome      *Outcome

	viewMu sync.RWMutex
	view   Status
}

func New(cfg Config, d Deps) *Manager {
	if cfg.CountdownInterval <= 0 {
		cfg.CountdownInterval = time.Second
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	m := &Manager{
		Commands:  make(chan Command, 4),
		clock:     d.Clock,
		cfg:       cfg,
		device:    d.Device,
		loop:      d.Loop,
		agg:       d.Aggregate,
		submitter: d.Submitter,
		metrics:   d.Metrics,
		log:       d.Log,
		queue:     make(chan func(), 256),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		sessCtx:   context.Background(),
		alive:     true,
		phase:     Idle,
	}
	m.loop.Dispatch = m.post
	m.loop.OnUpdate = m.onUpdate
	m.publish()
	return m
}

// Run processes commands, timer callbacks and async completions until ctx
// is cancelled, then releases everything the session holds.
func (m *Manager) Run(ctx context.Context) {
	started := false
	m.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	m.ctx = ctx
	defer m.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-m.queue:
			fn()
		case cmd := <-m.Commands:
			m.handleCommand(cmd)
		}
	}
}

// Reconfigure swaps the settings used from the next Start on. It fails with
// ErrSessionActive while a session holds devices.
func (m *Manager) Reconfigure(ctx context.Context, cfg Config) error {
	if cfg.CountdownInterval <= 0 {
		cfg.CountdownInterval = time.Second
	}
	errc := make(chan error, 1)
	go m.post(func() {
		if m.phase.Active() {
			errc <- ErrSessionActive
			return
		}
		m.cfg = cfg
		errc <- nil
	})
	select {
	case err := <-errc:
		return err
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} { return m.done }

// post queues fn for the Run goroutine. It must not be called from that
// goroutine. After teardown fn is dropped.
func (m *Manager) post(fn func()) {
	select {
	case m.queue <- fn:
	case <-m.done:
	}
}

func (m *Manager) teardown() {
	m.alive = false
	m.gen++
	m.cancelSession()
	m.stopCountdown()
	m.release()
	if m.phase.Active() {
		m.message = "session aborted by shutdown"
		m.setPhase(Idle)
	}
	m.publish()
	close(m.done)
	m.log.Debug("session manager stopped")
}

// Status returns the most recently published view of the manager.
func (m *Manager) Status() Status {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view
}

func (m *Manager) publish() {
	st := Status{
		Phase:         m.phase,
		TimeLeft:      m.timeLeft,
		SessionID:     m.sessionID,
		Prompt:        m.prompt,
		Message:       m.message,
		Scoring:       m.loop.Scoring(),
		DetectorReady: m.loop.CanScore(),
		Recording:     m.rec != nil && m.phase == Response,
	}
	if !m.startedAt.IsZero() {
		t := m.startedAt
		st.StartedAt = &t
	}
	if m.rec != nil {
		st.AudioBytes = m.rec.Bytes()
	}
	m.viewMu.Lock()
	m.view = st
	m.viewMu.Unlock()
}

func (m *Manager) setPhase(to Phase) {
	from := m.phase
	if from == to {
		return
	}
	m.phase = to
	m.metrics.Phase.Store(uint64(to.Ordinal()))
	m.log.WithFields(logrus.Fields{"from": from, "to": to, "session": m.sessionID}).Info("phase change")
	m.publish()
	if m.OnPhaseChange != nil {
		m.OnPhaseChange(from, to)
	}
}

func (m *Manager) setStatus(msg string) {
	m.message = msg
	m.log.WithField("session", m.sessionID).Info(msg)
	m.publish()
	if m.OnStatus != nil {
		m.OnStatus(msg)
	}
}

func (m *Manager) onUpdate(snap aggregate.Snapshot) {
	if !m.alive || m.phase != Response {
		return
	}
	if m.OnUpdate != nil {
		m.OnUpdate(snap)
	}
}

// Start acquires the devices and enters the thinking phase. A finished
// session is reset first; an active one yields ErrSessionActive.
func (m *Manager) Start(p analysis.Prompt) error {
	if !m.alive {
		return ErrStopped
	}
	if m.phase.Active() {
		return ErrSessionActive
	}
	if m.phase == Done {
		m.Restart()
	}

	stream, err := m.device.Acquire(m.ctx, m.cfg.Constraints)
	if err != nil {
		m.metrics.AcquisitionErrors.Add(1)
		m.setStatus("camera/microphone unavailable: " + err.Error())
		return err
	}

	m.gen++
	m.cancelSession()
	m.sessCtx, m.sessCancel = context.WithCancel(m.ctx)
	m.stream = stream
	m.rec = nil
	m.recTried = false
	m.prompt = p
	m.sessionID = uuid.NewString()
	m.startedAt = m.clock.Now()
	m.responseAt = time.Time{}
	m.endedAt = time.Time{}
	m.endedEarly = false
	m.audioStatus = AudioNone
	m.message = ""
	m.agg.Reset()
	m.metrics.SessionsStarted.Add(1)

	m.log.WithFields(logrus.Fields{
		"session": m.sessionID,
		"prompt":  p.ID,
		"stream":  stream.ID(),
	}).Info("session started")

	m.loop.Start(stream)
	m.setPhase(Thinking)
	if m.cfg.ThinkingSeconds <= 0 {
		m.beginResponse()
		return nil
	}
	m.startCountdown(m.cfg.ThinkingSeconds)
	return nil
}

// EndNow cuts the response short. Calling it again, or after the countdown
// already ended the response, does nothing.
func (m *Manager) EndNow() error {
	switch m.phase {
	case Response:
		m.endResponse(true)
		return nil
	case Finishing, Done:
		return nil
	}
	return ErrNotResponding
}

// Restart abandons whatever is in progress and returns to idle. Pending
// timers and async completions of the abandoned session are ignored.
func (m *Manager) Restart() {
	m.gen++
	m.cancelSession()
	m.stopCountdown()
	m.release()
	m.rec = nil
	m.timeLeft = 0
	m.outcome = nil
	if m.phase != Idle {
		m.setPhase(Idle)
	}
	m.publish()
}

func (m *Manager) cancelSession() {
	if m.sessCancel != nil {
		m.sessCancel()
		m.sessCancel = nil
	}
}

func (m *Manager) startCountdown(secs int) {
	m.timeLeft = secs
	m.emitCountdown()
	m.scheduleCountdown()
}

func (m *Manager) scheduleCountdown() {
	m.stopCountdown()
	m.countdownSeq++
	seq, gen := m.countdownSeq, m.gen
	m.countdown = m.clock.AfterFunc(m.cfg.CountdownInterval, func() {
		m.post(func() {
			if !m.alive || gen != m.gen || seq != m.countdownSeq {
				return
			}
			m.countdownTick()
		})
	})
}

func (m *Manager) stopCountdown() {
	// Bumping the sequence also voids a callback that already fired but has
	// not run yet.
	m.countdownSeq++
	if m.countdown != nil {
		m.countdown.Stop()
		m.countdown = nil
	}
}

func (m *Manager) countdownTick() {
	m.countdown = nil
	m.countdownSeq++
	if m.timeLeft > 0 {
		m.timeLeft--
	}
	m.emitCountdown()
	if m.timeLeft > 0 {
		m.scheduleCountdown()
		return
	}
	switch m.phase {
	case Thinking:
		m.beginResponse()
	case Response:
		m.endResponse(false)
	}
}

func (m *Manager) emitCountdown() {
	m.publish()
	if m.OnCountdown != nil {
		m.OnCountdown(m.phase, m.timeLeft)
	}
}

func (m *Manager) beginResponse() {
	m.responseAt = m.clock.Now()
	m.setPhase(Response)
	m.loop.BeginScoring(m.responseAt)
	if !m.loop.CanScore() {
		m.setStatus("landmark detector unavailable, scoring disabled")
	}
	m.startRecorder()
	if m.cfg.ResponseSeconds <= 0 {
		m.endResponse(false)
		return
	}
	m.startCountdown(m.cfg.ResponseSeconds)
}

func (m *Manager) startRecorder() {
	if m.recTried {
		return
	}
	m.recTried = true
	rec, err := audio.NewRecorder(m.stream, m.cfg.Audio, m.log)
	if err != nil {
		m.audioStatus = AudioUnavailable
		m.setStatus("audio recording unavailable, continuing video-only: " + err.Error())
		return
	}
	rec.OnChunk = func(n int) { m.metrics.AudioBytes.Add(uint64(n)) }
	m.rec = rec
	m.audioStatus = AudioRecorded
	rec.Start()
	m.publish()
}

func (m *Manager) endResponse(early bool) {
	if m.phase != Response {
		return
	}
	m.stopCountdown()
	m.timeLeft = 0
	m.endedEarly = early
	m.endedAt = m.clock.Now()
	m.loop.EndScoring()
	m.setPhase(Finishing)

	gen, rec := m.gen, m.rec
	go func() {
		var err error
		if rec != nil {
			err = <-rec.Stop()
		}
		m.post(func() {
			if !m.alive || gen != m.gen {
				return
			}
			m.handoff(err)
		})
	}()
}

// handoff runs once the recorder has acknowledged its stop.
func (m *Manager) handoff(recErr error) {
	if recErr != nil {
		m.metrics.RecorderErrors.Add(1)
		m.audioStatus = AudioFailed
		m.setStatus("audio recording error: " + recErr.Error())
	}
	var blob *audio.Blob
	if m.rec != nil {
		blob = m.rec.Blob()
	}
	summary := m.summary(blob)

	if m.submitter == nil {
		m.setStatus("analysis service not configured, skipping submission")
		m.complete(summary, nil, nil)
		return
	}

	payload := analysis.Payload{
		Prompt:    m.prompt,
		Audio:     blob,
		Vision:    m.agg.Snapshot(),
		Timelines: m.agg.Timelines(),
		Summary:   summary,
	}
	gen, ctx, sub := m.gen, m.sessCtx, m.submitter
	timeout := m.cfg.SubmitTimeout
	m.log.WithFields(logrus.Fields{"session": m.sessionID, "audio_bytes": blob.Size()}).Info("submitting for analysis")

	go func() {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		res, err := sub.Submit(ctx, payload)
		m.metrics.ObserveSubmission(time.Since(start), err)
		m.post(func() {
			if !m.alive || gen != m.gen {
				return
			}
			m.complete(summary, res, err)
		})
	}()
}

func (m *Manager) complete(summary analysis.Summary, res *analysis.Result, err error) {
	out := &Outcome{SessionID: m.sessionID, Result: res, Summary: summary}
	switch {
	case err != nil:
		out.Error = err.Error()
		m.setStatus("analysis failed: " + err.Error())
		if m.OnAnalysisError != nil {
			m.OnAnalysisError(err)
		}
	case res != nil:
		if m.OnAnalysisResult != nil {
			m.OnAnalysisResult(res)
		}
	}
	m.outcome = out

	m.release()
	m.metrics.SessionsCompleted.Add(1)
	m.setPhase(Done)
	m.log.WithFields(logrus.Fields{
		"session":     m.sessionID,
		"posture_pct": summary.PostureGoodPct,
		"eye_pct":     summary.EyeGoodPct,
	}).Info("session complete")
	if m.OnEnd != nil {
		m.OnEnd(summary)
	}
}

// release stops the frame loop and recorder, then the stream's tracks.
func (m *Manager) release() {
	m.loop.Stop()
	if m.rec != nil {
		m.rec.Stop()
	}
	if m.stream != nil {
		m.stream.Stop()
		m.stream = nil
	}
}

func (m *Manager) summary(blob *audio.Blob) analysis.Summary {
	snap := m.agg.Snapshot()
	s := analysis.Summary{
		SessionID:       m.sessionID,
		PromptID:        m.prompt.ID,
		StartedAt:       m.startedAt,
		ResponseStarted: m.responseAt,
		EndedAt:         m.endedAt,
		EndedEarly:      m.endedEarly,
		PostureGoodPct:  snap.Posture.Percentage,
		EyeGoodPct:      snap.Eye.Percentage,
		PostureFrames:   snap.Posture.Frames,
		EyeFrames:       snap.Eye.Frames,
		AudioBytes:      blob.Size(),
		AudioStatus:     m.audioStatus,
	}
	if !m.responseAt.IsZero() {
		s.ResponseSeconds = m.endedAt.Sub(m.responseAt).Seconds()
	}
	return s
}
