// Package session runs one interview exercise at a time: it acquires the
// camera and microphone, walks the thinking and response countdowns, scores
// frames during the response, records audio, and hands the results to the
// analysis service before releasing the devices.
package session

import (
	"errors"
	"time"

	"github.com/large-farva/poise/internal/aggregate"
	"github.com/large-farva/poise/internal/analysis"
	"github.com/large-farva/poise/internal/audio"
	"github.com/large-farva/poise/internal/media"
)

// Phase is one step of the session lifecycle.
type Phase string

const (
	Idle      Phase = "idle"
	Thinking  Phase = "thinking"
	Response  Phase = "response"
	Finishing Phase = "finishing"
	Done      Phase = "done"
)

// Ordinal is the phase's position in the lifecycle, used for the phase gauge.
func (p Phase) Ordinal() int {
	switch p {
	case Thinking:
		return 1
	case Response:
		return 2
	case Finishing:
		return 3
	case Done:
		return 4
	}
	return 0
}

// Active reports whether a session holds devices or timers in this phase.
func (p Phase) Active() bool {
	return p == Thinking || p == Response || p == Finishing
}

var (
	ErrSessionActive = errors.New("a session is already in progress")
	ErrNotResponding = errors.New("no response in progress")
	ErrStopped       = errors.New("session manager stopped")
)

// Audio status values reported in the summary.
const (
	AudioRecorded    = "recorded"
	AudioUnavailable = "unavailable"
	AudioFailed      = "failed"
	AudioNone        = "none"
)

type Config struct {
	ThinkingSeconds   int
	ResponseSeconds   int
	CountdownInterval time.Duration
	Constraints       media.Constraints
	Audio             audio.Config
	// SubmitTimeout bounds the analysis handoff; 0 leaves it to the client.
	SubmitTimeout time.Duration
}

// Status is a point-in-time view of the manager, safe to hand to other
// goroutines.
type Status struct {
	Phase         Phase           `json:"phase"`
	TimeLeft      int             `json:"time_left"`
	SessionID     string          `json:"session_id,omitempty"`
	Prompt        analysis.Prompt `json:"prompt"`
	Message       string          `json:"message,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	Scoring       bool            `json:"scoring"`
	DetectorReady bool            `json:"detector_ready"`
	Recording     bool            `json:"recording"`
	AudioBytes    int64           `json:"audio_bytes"`
}

// Outcome is the analysis result, or failure, of the last finished session.
type Outcome struct {
	SessionID string           `json:"session_id"`
	Result    *analysis.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Summary   analysis.Summary `json:"summary"`
}

// Hooks are called on the manager's goroutine. They must not block.
type Hooks struct {
	OnUpdate         func(aggregate.Snapshot)
	OnPhaseChange    func(from, to Phase)
	OnCountdown      func(phase Phase, timeLeft int)
	OnStatus         func(msg string)
	OnAnalysisResult func(*analysis.Result)
	OnAnalysisError  func(error)
	OnEnd            func(analysis.Summary)
}
