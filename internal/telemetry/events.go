// Package telemetry defines the typed event structs that flow over the
// WebSocket connection between poised and its clients.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/large-farva/poise/internal/aggregate"
	"github.com/large-farva/poise/internal/analysis"
)

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventPhase     EventType = "phase"
	EventCountdown EventType = "countdown"
	EventMetrics   EventType = "metrics"
	EventStatus    EventType = "status"
	EventAnalysis  EventType = "analysis"
	EventEnd       EventType = "session_end"
	EventLog       EventType = "log"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func envelope(t EventType, component string) Event {
	return Event{Type: t, TS: NowTS(), Component: component}
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	Phase         string `json:"phase"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Clients       int    `json:"preview_clients"`
}

func NewHeartbeat(phase string, uptime time.Duration, clients int) Heartbeat {
	return Heartbeat{Event: envelope(EventHeartbeat, "poised"), Phase: phase, UptimeSeconds: int64(uptime.Seconds()), Clients: clients}
}

// PhaseChange is emitted whenever the session moves between phases.
type PhaseChange struct {
	Event
	From      string `json:"from"`
	To        string `json:"to"`
	SessionID string `json:"session_id,omitempty"`
}

func NewPhaseChange(from, to, sessionID string) PhaseChange {
	return PhaseChange{Event: envelope(EventPhase, "session"), From: from, To: to, SessionID: sessionID}
}

// Countdown reports the seconds left in the current timed phase.
type Countdown struct {
	Event
	Phase    string `json:"phase"`
	TimeLeft int    `json:"timeLeft"`
}

func NewCountdown(phase string, left int) Countdown {
	return Countdown{Event: envelope(EventCountdown, "session"), Phase: phase, TimeLeft: left}
}

// Metrics carries the aggregate snapshot after a scored frame.
type Metrics struct {
	Event
	aggregate.Snapshot
}

func NewMetrics(s aggregate.Snapshot) Metrics {
	return Metrics{Event: envelope(EventMetrics, "tracker"), Snapshot: s}
}

// Status is a human-readable session status line.
type Status struct {
	Event
	Message string `json:"message"`
}

func NewStatus(msg string) Status {
	return Status{Event: envelope(EventStatus, "session"), Message: msg}
}

// Analysis reports the outcome of the analysis handoff. Exactly one of
// Result and Error is set.
type Analysis struct {
	Event
	OK     bool            `json:"ok"`
	Status int             `json:"status,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func NewAnalysisResult(r *analysis.Result) Analysis {
	return Analysis{Event: envelope(EventAnalysis, "analysis"), OK: true, Status: r.Status, Result: r.Body}
}

func NewAnalysisError(err error) Analysis {
	return Analysis{Event: envelope(EventAnalysis, "analysis"), Error: err.Error()}
}

// SessionEnd carries the summary of a finished session.
type SessionEnd struct {
	Event
	Summary analysis.Summary `json:"summary"`
}

func NewSessionEnd(s analysis.Summary) SessionEnd {
	return SessionEnd{Event: envelope(EventEnd, "session"), Summary: s}
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func NewLogLine(component, level, msg string, fields map[string]any) LogLine {
	return LogLine{Event: envelope(EventLog, component), Level: level, Message: msg, Fields: fields}
}
