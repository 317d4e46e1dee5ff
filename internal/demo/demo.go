// Package demo lets the daemon, CLI and dashboards be exercised end to end
// without a camera or a landmark model: a procedural detector stands in for
// the model, and Runner drives back-to-back sessions over canned prompts.
package demo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/poise/internal/session"
)

// Controller is the part of the session manager the runner drives.
type Controller interface {
	Send(ctx context.Context, cmdType string, payload json.RawMessage) (session.CommandResult, error)
	Status() session.Status
}

// Prompts are the canned interview questions the runner cycles through.
var Prompts = []session.StartRequest{
	{PromptID: "demo-1", PromptText: "Tell me about a time you disagreed with a teammate.", PromptType: "behavioural", PromptDifficulty: "medium"},
	{PromptID: "demo-2", PromptText: "Walk me through a project you are proud of.", PromptType: "behavioural", PromptDifficulty: "easy"},
	{PromptID: "demo-3", PromptText: "How would you design a rate limiter?", PromptType: "technical", PromptDifficulty: "hard"},
	{PromptID: "demo-4", PromptText: "Why do you want to work here?", PromptType: "motivational", PromptDifficulty: "easy"},
}

// Runner starts a session, waits for it to finish, pauses, and repeats.
type Runner struct {
	Sessions Controller
	Log      logrus.FieldLogger
	// Pause is the gap between one session finishing and the next starting.
	Pause time.Duration
	// Poll is how often the session phase is checked.
	Poll time.Duration

	promptIndex int // cycles through Prompts
}

// New creates a demo runner with a sensible default pause.
func New(c Controller, log logrus.FieldLogger) *Runner {
	return &Runner{
		Sessions: c,
		Log:      log,
		Pause:    10 * time.Second,
		Poll:     500 * time.Millisecond,
	}
}

// Run kicks off the demo loop. It starts one session after a short delay,
// then another Pause after each one finishes, until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.Log.Info("demo mode active, running simulated interview sessions")

	if !sleepOrCancel(ctx, 2*time.Second) {
		return
	}
	for {
		if !r.runSession(ctx) {
			return
		}
		if !sleepOrCancel(ctx, r.Pause) {
			return
		}
	}
}

// runSession starts one session and waits for it to leave the active
// phases. It reports false once ctx is done.
func (r *Runner) runSession(ctx context.Context) bool {
	if r.Sessions.Status().Phase.Active() {
		r.Log.Debug("session already in progress, waiting for it instead")
		return r.waitInactive(ctx)
	}

	p := r.nextPrompt()
	payload, _ := json.Marshal(p)
	res, err := r.Sessions.Send(ctx, "start", payload)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return false
		}
		r.Log.WithError(err).Warn("demo session could not be started")
		return true
	case !res.OK:
		r.Log.WithField("error", res.Error).Warn("demo session rejected")
		return true
	}
	r.Log.WithField("prompt", p.PromptID).Info(res.Message)
	return r.waitInactive(ctx)
}

func (r *Runner) waitInactive(ctx context.Context) bool {
	for r.Sessions.Status().Phase.Active() {
		if !sleepOrCancel(ctx, r.Poll) {
			return false
		}
	}
	st := r.Sessions.Status()
	r.Log.WithFields(logrus.Fields{"session": st.SessionID, "phase": st.Phase}).Info("demo session finished")
	return true
}

// nextPrompt cycles through the canned prompts so each session asks a
// different question.
func (r *Runner) nextPrompt() session.StartRequest {
	p := Prompts[r.promptIndex%len(Prompts)]
	r.promptIndex++
	return p
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
