// Package app wires together the HTTP server, the WebSocket hub and ingest
// socket, the frame loop, and the session manager. It owns the daemon's
// lifecycle and the mapping between session callbacks and wire events.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/poise/internal/aggregate"
	"github.com/large-farva/poise/internal/analysis"
	"github.com/large-farva/poise/internal/audio"
	"github.com/large-farva/poise/internal/clock"
	"github.com/large-farva/poise/internal/config"
	"github.com/large-farva/poise/internal/demo"
	"github.com/large-farva/poise/internal/landmark"
	"github.com/large-farva/poise/internal/media"
	"github.com/large-farva/poise/internal/metrics"
	"github.com/large-farva/poise/internal/render"
	"github.com/large-farva/poise/internal/session"
	"github.com/large-farva/poise/internal/telemetry"
	"github.com/large-farva/poise/internal/tracker"
	"github.com/large-farva/poise/internal/ws"
)

// Options holds everything the App needs from the caller. Clock, Device and
// Submitter override what the configuration would build.
type Options struct {
	Logger     *logrus.Logger
	Cfg        config.Config
	ConfigPath string
	Bind       string

	Clock     clock.Scheduler
	Device    media.Device
	Submitter analysis.Submitter
}

// App is the top-level daemon process.
type App struct {
	log        *logrus.Logger
	bind       string
	clock      clock.Scheduler
	startedAt  time.Time
	cfgMu      sync.RWMutex
	cfg        config.Config
	configPath string

	hub       *ws.Hub
	ingest    *ws.Ingest
	metrics   *metrics.Metrics
	frames    *render.Broadcaster
	preview   *render.Preview
	blank     []byte
	manager   *session.Manager
	relay     *media.Relay
	detector  landmark.Detector
	detErr    error
	submitter analysis.Submitter
	logs      *logRing
	stats     sessionStats

	mux    *http.ServeMux
	server *http.Server
}

// New builds the daemon from its configuration. Nothing runs until Run.
func New(opts Options) (*App, error) {
	cfg := opts.Cfg
	log := opts.Logger
	if log == nil {
		var err error
		if log, err = NewLogger(cfg.Logging); err != nil {
			return nil, err
		}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	a := &App{
		log:        log,
		bind:       opts.Bind,
		clock:      clk,
		startedAt:  time.Now(),
		cfg:        cfg,
		configPath: opts.ConfigPath,
		hub:        ws.NewHub(),
		metrics:    metrics.New(),
		frames:     render.NewBroadcaster(),
	}
	a.logs = newLogRing(cfg.Logging.Buffer, a.hub.BroadcastJSON)
	log.AddHook(a.logs)
	a.metrics.PreviewClients = a.frames.Subscribers

	blank, err := render.BlankJPEG(cfg.Video.Width, cfg.Video.Height)
	if err != nil {
		return nil, fmt.Errorf("blank preview frame: %w", err)
	}
	a.blank = blank
	canvas := render.NewCanvas(cfg.Video.Width, cfg.Video.Height, cfg.Video.PreviewQuality)
	a.preview = render.NewPreview(canvas, a.frames, cfg.Video.PreviewLandmarks, a.component("render"))

	var remote *landmark.Remote
	a.detector, remote, a.detErr = buildDetector(cfg, clk)
	if a.detErr != nil {
		a.component("tracker").WithError(a.detErr).Warn("landmark detector unavailable, preview only")
	}

	device := opts.Device
	if device == nil {
		device = a.buildDevice(cfg, clk)
	}

	a.submitter = opts.Submitter
	if a.submitter == nil && cfg.Analysis.URL != "" {
		a.submitter = analysis.NewHTTPClient(cfg.Analysis.URL, cfg.Analysis.Timeout())
	}

	agg := aggregate.NewSet(cfg.Smoothing.Alpha, cfg.Smoothing.GoodThreshold)
	loop := tracker.New(clk, tracker.Config{
		HostFPS:   cfg.Video.HostFPS,
		TargetFPS: cfg.Video.TargetFPS,
		Posture:   cfg.Posture,
		Eye:       cfg.Eye,
	}, a.detector, agg, a.preview, a.metrics, a.component("tracker"))

	a.manager = session.New(sessionConfig(cfg), session.Deps{
		Clock:     clk,
		Device:    device,
		Loop:      loop,
		Aggregate: agg,
		Submitter: a.submitter,
		Metrics:   a.metrics,
		Log:       a.component("session"),
	})
	a.wireHooks()

	a.ingest = ws.NewIngest(&ingestSink{clock: clk, relay: a.relay, remote: remote}, a.component("ingest"))
	a.ingest.OnMessage = func(err error) {
		a.metrics.IngestMessages.Add(1)
		if err != nil {
			a.metrics.IngestErrors.Add(1)
		}
	}

	a.routes()
	return a, nil
}

func (a *App) component(name string) logrus.FieldLogger {
	return a.log.WithField("component", name)
}

// buildDetector returns the configured detector. When kind is remote the
// same detector is also returned as a *landmark.Remote for the ingest socket.
func buildDetector(cfg config.Config, clk clock.Scheduler) (landmark.Detector, *landmark.Remote, error) {
	switch cfg.Detector.Kind {
	case "remote":
		r := landmark.NewRemote(clk, cfg.Detector.Stale())
		return r, r, nil
	case "script":
		s, err := landmark.LoadScript(cfg.Detector.Script)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case "demo":
		return demo.NewDetector(demo.DetectorOptions{
			Drift:         cfg.Demo.Drift,
			FaceDropout:   cfg.Demo.FaceDropout,
			SlouchPercent: cfg.Demo.SlouchPercent,
			Seed:          cfg.Demo.Seed,
		}), nil, nil
	}
	return nil, nil, &landmark.ModelUnavailableError{Model: cfg.Detector.Kind, Err: errors.New("no detector configured")}
}

func (a *App) buildDevice(cfg config.Config, clk clock.Scheduler) media.Device {
	if cfg.Media.Source == "relay" {
		a.relay = media.NewRelay()
		return a.relay
	}
	s := media.NewSynthetic(clk)
	s.ToneHz = cfg.Media.ToneHz
	return s
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		ThinkingSeconds:   cfg.Session.ThinkingSeconds,
		ResponseSeconds:   cfg.Session.ResponseSeconds,
		CountdownInterval: cfg.Session.CountdownInterval(),
		Constraints: media.Constraints{
			Width:      cfg.Video.Width,
			Height:     cfg.Video.Height,
			Audio:      cfg.Audio.Enabled,
			SampleRate: cfg.Audio.SampleRate,
		},
		Audio: audio.Config{
			Timeslice: cfg.Audio.Timeslice(),
			MediaType: cfg.Audio.MediaType,
			MaxBytes:  cfg.Audio.MaxBytes,
		},
		SubmitTimeout: cfg.Analysis.Timeout(),
	}
}

// wireHooks turns session callbacks into WebSocket events. The hooks run on
// the manager's goroutine, which also owns the preview.
func (a *App) wireHooks() {
	m := a.manager
	m.OnUpdate = func(s aggregate.Snapshot) {
		a.hub.BroadcastJSON(telemetry.NewMetrics(s))
	}
	m.OnPhaseChange = func(from, to session.Phase) {
		a.hub.BroadcastJSON(telemetry.NewPhaseChange(string(from), string(to), m.Status().SessionID))
		if to == session.Idle {
			a.preview.SetStatus("")
		}
	}
	m.OnCountdown = func(p session.Phase, left int) {
		a.hub.BroadcastJSON(telemetry.NewCountdown(string(p), left))
	}
	m.OnStatus = func(msg string) {
		a.preview.SetStatus(msg)
		a.hub.BroadcastJSON(telemetry.NewStatus(msg))
	}
	m.OnAnalysisResult = func(r *analysis.Result) {
		a.hub.BroadcastJSON(telemetry.NewAnalysisResult(r))
	}
	m.OnAnalysisError = func(err error) {
		a.stats.analysisFailed()
		a.hub.BroadcastJSON(telemetry.NewAnalysisError(err))
	}
	m.OnEnd = func(s analysis.Summary) {
		a.stats.record(s)
		a.hub.BroadcastJSON(telemetry.NewSessionEnd(s))
	}
}

func (a *App) routes() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/version", a.handleVersion)
	mux.HandleFunc("GET /api/config", a.handleConfig)
	mux.HandleFunc("POST /api/reload", a.handleReload)
	mux.HandleFunc("POST /api/session/start", a.handleStart)
	mux.HandleFunc("POST /api/session/end", a.handleCommand("end"))
	mux.HandleFunc("POST /api/session/restart", a.handleCommand("restart"))
	mux.HandleFunc("GET /api/session/metrics", a.handleCommand("snapshot"))
	mux.HandleFunc("GET /api/session/timelines", a.handleTimelines)
	mux.HandleFunc("GET /api/session/analysis", a.handleCommand("analysis"))
	mux.HandleFunc("GET /api/logs", a.handleLogs)
	mux.HandleFunc("GET /api/stats", a.handleStats)
	mux.Handle("GET /ws", a.hub.Handler())
	mux.Handle("GET /ws/ingest", a.ingest)
	mux.Handle("GET /preview.mjpg", render.MJPEGHandler(a.frames, a.blank, 0, a.component("preview")))
	mux.Handle("GET /metrics", a.metrics.Handler())
	a.mux = mux
}

// Handler is the daemon's HTTP surface.
func (a *App) Handler() http.Handler { return a.mux }

// start launches the background goroutines: hub, session manager,
// heartbeat, and the demo runner when enabled.
func (a *App) start(ctx context.Context) {
	go a.hub.Run(ctx)
	go a.manager.Run(ctx)
	go a.heartbeatLoop(ctx)

	cfg := a.getConfig()
	if cfg.Demo.Enabled && cfg.Demo.AutoStart {
		r := demo.New(a.manager, a.component("demo"))
		r.Pause = time.Duration(cfg.Demo.PauseSeconds) * time.Second
		go r.Run(ctx)
	}
}

// Run starts serving and blocks until ctx is cancelled or the server fails.
// The session manager is drained before Run returns.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = a.getConfig().Server.Bind
	}

	a.server = &http.Server{
		Addr:              bind,
		Handler:           a.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.start(ctx)
	a.component("poised").WithField("addr", "http://"+bind).Info("listening")

	go func() {
		<-ctx.Done()
		a.component("poised").Info("shutdown requested")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = a.server.Shutdown(shutdownCtx)
	}()

	err = a.server.Serve(ln)
	cancel()
	<-a.manager.Done()
	if a.detector != nil {
		_ = a.detector.Close()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) getConfig() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

// heartbeatLoop sends a periodic heartbeat event so clients can detect
// connectivity and track uptime without polling.
func (a *App) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.hub.BroadcastJSON(telemetry.NewHeartbeat(
				string(a.manager.Status().Phase),
				time.Since(a.startedAt),
				a.frames.Subscribers(),
			))
		}
	}
}
