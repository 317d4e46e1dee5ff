// Package analysis assembles the end-of-session payload and submits it to
// the external analysis service.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/large-farva/poise/internal/aggregate"
	"github.com/large-farva/poise/internal/audio"
)

// Prompt identifies the question being answered. Any field may be empty.
type Prompt struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Type       string `json:"type"`
	Difficulty string `json:"difficulty"`
}

// Summary describes how the session went, independent of the audio.
type Summary struct {
	SessionID       string    `json:"session_id"`
	PromptID        string    `json:"prompt_id"`
	StartedAt       time.Time `json:"started_at"`
	ResponseStarted time.Time `json:"response_started"`
	EndedAt         time.Time `json:"ended_at"`
	ResponseSeconds float64   `json:"response_seconds"`
	EndedEarly      bool      `json:"ended_early"`
	PostureGoodPct  int       `json:"posture_good_pct"`
	EyeGoodPct      int       `json:"eye_good_pct"`
	PostureFrames   int       `json:"posture_frames"`
	EyeFrames       int       `json:"eye_frames"`
	AudioBytes      int       `json:"audio_bytes"`
	AudioStatus     string    `json:"audio_status"`
}

// Payload is built once when the response phase ends.
type Payload struct {
	Prompt    Prompt
	Audio     *audio.Blob
	Vision    aggregate.Snapshot
	Timelines aggregate.Timelines
	Summary   Summary
}

// VisionMetrics is the flattened snapshot sent as vision_metrics.
type VisionMetrics struct {
	PostureScore   *int `json:"postureScore"`
	EyeScore       *int `json:"eyeScore"`
	PostureGoodPct int  `json:"postureGoodPct"`
	EyeGoodPct     int  `json:"eyeGoodPct"`
	PostureMetrics any  `json:"postureMetrics"`
	EyeMetrics     any  `json:"eyeMetrics"`
}

func (p Payload) VisionMetrics() VisionMetrics {
	return VisionMetrics{
		PostureScore:   p.Vision.Posture.Smoothed,
		EyeScore:       p.Vision.Eye.Smoothed,
		PostureGoodPct: p.Vision.Posture.Percentage,
		EyeGoodPct:     p.Vision.Eye.Percentage,
		PostureMetrics: p.Vision.Posture.Metrics,
		EyeMetrics:     p.Vision.Eye.Metrics,
	}
}

// Fields returns the JSON-encoded form fields of the payload.
func (p Payload) Fields() (map[string]string, error) {
	vision, err := json.Marshal(p.VisionMetrics())
	if err != nil {
		return nil, fmt.Errorf("encode vision metrics: %w", err)
	}
	summary, err := json.Marshal(p.Summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	timelines, err := json.Marshal(p.Timelines)
	if err != nil {
		return nil, fmt.Errorf("encode timelines: %w", err)
	}
	return map[string]string{
		"prompt_id":           p.Prompt.ID,
		"prompt_text":         p.Prompt.Text,
		"prompt_type":         p.Prompt.Type,
		"prompt_difficulty":   p.Prompt.Difficulty,
		"vision_metrics":      string(vision),
		"interview_summary":   string(summary),
		"interview_timelines": string(timelines),
	}, nil
}

// Result is the service's response, kept verbatim.
type Result struct {
	Status     int             `json:"status"`
	Body       json.RawMessage `json:"body"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Submitter hands a payload to the analysis service.
type Submitter interface {
	Submit(ctx context.Context, p Payload) (*Result, error)
}

// SubmissionError is a failed submission. Status is 0 when no response
// arrived.
type SubmissionError struct {
	Status int
	Body   string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("analysis submission: status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("analysis submission: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
