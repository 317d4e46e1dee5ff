package ctl

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus mirrors the session view inside GET /api/status.
type SessionStatus struct {
	Phase     string `json:"phase"`
	TimeLeft  int    `json:"time_left"`
	SessionID string `json:"session_id"`
	Prompt    struct {
		ID         string `json:"id"`
		Text       string `json:"text"`
		Type       string `json:"type"`
		Difficulty string `json:"difficulty"`
	} `json:"prompt"`
	Message       string     `json:"message"`
	StartedAt     *time.Time `json:"started_at"`
	Scoring       bool       `json:"scoring"`
	DetectorReady bool       `json:"detector_ready"`
	Recording     bool       `json:"recording"`
	AudioBytes    int64      `json:"audio_bytes"`
}

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string        `json:"name"`
	Mode          string        `json:"mode"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Session       SessionStatus `json:"session"`
	Detector      struct {
		Kind  string `json:"kind"`
		Ready bool   `json:"ready"`
		Error string `json:"error"`
	} `json:"detector"`
	MediaSource     string `json:"media_source"`
	Publisher       bool   `json:"publisher"`
	Watchers        int    `json:"watchers"`
	PreviewClients  int    `json:"preview_clients"`
	AnalysisEnabled bool   `json:"analysis_enabled"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	st := s.Session
	header("POISE STATUS", 44)
	field("Daemon", s.Name+" ("+s.Mode+")")
	field("Uptime", formatDuration(time.Duration(s.UptimeSeconds)*time.Second))
	field("Phase", colorize(phaseStyle(st.Phase), st.Phase))
	if st.Phase == "thinking" || st.Phase == "response" {
		field("Time left", fmt.Sprintf("%ds", st.TimeLeft))
	}
	if st.SessionID != "" {
		field("Session", st.SessionID)
	}
	if st.Prompt.ID != "" || st.Prompt.Text != "" {
		field("Prompt", strings.TrimSpace(st.Prompt.ID+" "+st.Prompt.Text))
	}
	if st.Recording {
		field("Recording", formatBytes(st.AudioBytes))
	}
	if st.Message != "" {
		field("Status", st.Message)
	}

	det := s.Detector.Kind
	if s.Detector.Ready {
		det = colorize(green, det+" ready")
	} else {
		det = colorize(red, det+" unavailable")
		if s.Detector.Error != "" {
			det += colorize(dim, " ("+s.Detector.Error+")")
		}
	}
	field("Detector", det)

	media := s.MediaSource
	if s.MediaSource == "relay" {
		if s.Publisher {
			media += colorize(green, " publisher connected")
		} else {
			media += colorize(yellow, " waiting for publisher")
		}
	}
	field("Media", media)
	field("Analysis", map[bool]string{true: "enabled", false: "disabled"}[s.AnalysisEnabled])
	field("Clients", fmt.Sprintf("%d watchers, %d preview", s.Watchers, s.PreviewClients))
	field("Host", baseURL)
	outln()

	return nil
}
