package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/large-farva/poise/internal/analysis"
	"github.com/large-farva/poise/internal/media"
)

// Command represents an external command sent to the manager via its
// Commands channel. The Reply channel receives exactly one result.
type Command struct {
	Type    string
	Payload json.RawMessage
	Reply   chan<- CommandResult
}

// CommandResult is the response sent back through a Command's Reply channel.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
	// Code is the HTTP status a failed result maps to; 0 means 500.
	Code int `json:"-"`
}

// StartRequest is the payload of a start command.
type StartRequest struct {
	PromptID         string `json:"prompt_id"`
	PromptText       string `json:"prompt_text"`
	PromptType       string `json:"prompt_type"`
	PromptDifficulty string `json:"prompt_difficulty"`
}

func (r StartRequest) Prompt() analysis.Prompt {
	return analysis.Prompt{ID: r.PromptID, Text: r.PromptText, Type: r.PromptType, Difficulty: r.PromptDifficulty}
}

// Send delivers a command and waits for its reply.
func (m *Manager) Send(ctx context.Context, cmdType string, payload json.RawMessage) (CommandResult, error) {
	reply := make(chan CommandResult, 1)
	select {
	case m.Commands <- Command{Type: cmdType, Payload: payload, Reply: reply}:
	case <-m.done:
		return CommandResult{}, ErrStopped
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-m.done:
		return CommandResult{}, ErrStopped
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// handleCommand dispatches an incoming command to the appropriate handler.
func (m *Manager) handleCommand(cmd Command) {
	switch cmd.Type {
	case "start":
		m.handleStartCommand(cmd)
	case "end":
		m.handleEndCommand(cmd)
	case "restart":
		m.Restart()
		m.setStatus("session reset")
		cmd.Reply <- CommandResult{OK: true, Message: "session reset to idle"}
	case "status":
		m.publish()
		cmd.Reply <- CommandResult{OK: true, Data: m.Status()}
	case "snapshot":
		cmd.Reply <- CommandResult{OK: true, Data: m.agg.Snapshot()}
	case "timelines":
		m.handleTimelinesCommand(cmd)
	case "analysis":
		if m.outcome == nil {
			cmd.Reply <- CommandResult{OK: false, Error: "no analysis available yet", Code: http.StatusNotFound}
			return
		}
		cmd.Reply <- CommandResult{OK: true, Data: *m.outcome}
	default:
		cmd.Reply <- CommandResult{OK: false, Error: "unknown command: " + cmd.Type, Code: http.StatusBadRequest}
	}
}

func (m *Manager) handleStartCommand(cmd Command) {
	var req StartRequest
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			cmd.Reply <- CommandResult{OK: false, Error: "invalid payload: " + err.Error(), Code: http.StatusBadRequest}
			return
		}
	}
	if err := m.Start(req.Prompt()); err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: err.Error(), Code: errorCode(err)}
		return
	}
	cmd.Reply <- CommandResult{
		OK:      true,
		Message: fmt.Sprintf("session %s started, %ds to think", m.sessionID, m.cfg.ThinkingSeconds),
		Data:    m.Status(),
	}
}

func (m *Manager) handleEndCommand(cmd Command) {
	was := m.phase
	if err := m.EndNow(); err != nil {
		cmd.Reply <- CommandResult{OK: false, Error: err.Error(), Code: errorCode(err)}
		return
	}
	if was != Response {
		cmd.Reply <- CommandResult{OK: true, Message: "response already ended"}
		return
	}
	cmd.Reply <- CommandResult{OK: true, Message: "response ended, finalizing"}
}

func (m *Manager) handleTimelinesCommand(cmd Command) {
	var req struct {
		Format string `json:"format"`
	}
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			cmd.Reply <- CommandResult{OK: false, Error: "invalid payload: " + err.Error(), Code: http.StatusBadRequest}
			return
		}
	}
	switch req.Format {
	case "", "points":
		cmd.Reply <- CommandResult{OK: true, Data: m.agg.Timelines()}
	case "pairs":
		cmd.Reply <- CommandResult{OK: true, Data: map[string][][2]float64{
			"posture_timeline": m.agg.Posture.TimelinePairs(),
			"eye_timeline":     m.agg.Eye.TimelinePairs(),
		}}
	default:
		cmd.Reply <- CommandResult{OK: false, Error: "unknown timeline format: " + req.Format, Code: http.StatusBadRequest}
	}
}

func errorCode(err error) int {
	var acq *media.AcquisitionError
	switch {
	case errors.Is(err, ErrSessionActive), errors.Is(err, ErrNotResponding):
		return http.StatusConflict
	case errors.As(err, &acq):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
