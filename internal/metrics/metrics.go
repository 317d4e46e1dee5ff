package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's counters and gauges. Fields are updated with
// atomics from the owning goroutines and read by the Prometheus collectors.
type Metrics struct {
	// Frame loop
	HostTicks        atomic.Uint64
	FramesProcessed  atomic.Uint64
	FramesScored     atomic.Uint64
	PostureGaps      atomic.Uint64
	EyeGaps          atomic.Uint64
	DetectorErrors   atomic.Uint64
	ProcessLatencyUs atomic.Uint64

	// Sessions
	SessionsStarted   atomic.Uint64
	SessionsCompleted atomic.Uint64
	AcquisitionErrors atomic.Uint64
	Phase             atomic.Uint64
	PostureGoodPct    atomic.Uint64
	EyeGoodPct        atomic.Uint64

	// Audio and handoff
	AudioBytes          atomic.Uint64
	RecorderErrors      atomic.Uint64
	Submissions         atomic.Uint64
	SubmissionErrors    atomic.Uint64
	SubmissionLatencyMs atomic.Uint64

	// Transport
	IngestMessages atomic.Uint64
	IngestErrors   atomic.Uint64
	PreviewClients func() int

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) register() {
	m.counter("poise_host_ticks_total", "Frame loop invocations, throttled or not", &m.HostTicks)
	m.counter("poise_frames_processed_total", "Frames that passed the FPS throttle", &m.FramesProcessed)
	m.counter("poise_frames_scored_total", "Frames run through detection during the response phase", &m.FramesScored)
	m.counter("poise_posture_gaps_total", "Scored frames with no usable pose landmarks", &m.PostureGaps)
	m.counter("poise_eye_gaps_total", "Scored frames with no usable face landmarks", &m.EyeGaps)
	m.counter("poise_detector_errors_total", "Detector calls that returned an error", &m.DetectorErrors)
	m.gauge("poise_process_latency_us", "Time spent on the last processed frame in microseconds", &m.ProcessLatencyUs)

	m.counter("poise_sessions_started_total", "Sessions that acquired media and entered thinking", &m.SessionsStarted)
	m.counter("poise_sessions_completed_total", "Sessions that reached done", &m.SessionsCompleted)
	m.counter("poise_acquisition_errors_total", "Failed camera/microphone acquisitions", &m.AcquisitionErrors)
	m.gauge("poise_session_phase", "Current phase (0 idle, 1 thinking, 2 response, 3 finishing, 4 done)", &m.Phase)
	m.gauge("poise_posture_good_percent", "Posture good-frame percentage of the current session", &m.PostureGoodPct)
	m.gauge("poise_eye_good_percent", "Eye-contact good-frame percentage of the current session", &m.EyeGoodPct)

	m.counter("poise_audio_bytes_total", "PCM bytes captured by the recorder", &m.AudioBytes)
	m.counter("poise_recorder_errors_total", "Recorder start or stop failures", &m.RecorderErrors)
	m.counter("poise_submissions_total", "Analysis submissions attempted", &m.Submissions)
	m.counter("poise_submission_errors_total", "Analysis submissions that failed", &m.SubmissionErrors)
	m.gauge("poise_submission_latency_ms", "Duration of the last analysis submission", &m.SubmissionLatencyMs)

	m.counter("poise_ingest_messages_total", "Messages received on the ingest socket", &m.IngestMessages)
	m.counter("poise_ingest_errors_total", "Ingest messages rejected", &m.IngestErrors)
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "poise_preview_clients", Help: "Attached MJPEG preview clients"},
		func() float64 {
			if m.PreviewClients == nil {
				return 0
			}
			return float64(m.PreviewClients())
		},
	))
}

// ObserveProcess records how long a processed frame took.
func (m *Metrics) ObserveProcess(d time.Duration) {
	m.ProcessLatencyUs.Store(uint64(d.Microseconds()))
}

func (m *Metrics) ObserveSubmission(d time.Duration, err error) {
	m.Submissions.Add(1)
	m.SubmissionLatencyMs.Store(uint64(d.Milliseconds()))
	if err != nil {
		m.SubmissionErrors.Add(1)
	}
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
