package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/large-farva/poise/internal/config"
	"github.com/large-farva/poise/internal/session"
)

// commandTimeout bounds how long a handler waits on the session manager.
const commandTimeout = 5 * time.Second

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := a.getConfig()
	st := a.manager.Status()

	mode := "live"
	if cfg.Demo.Enabled {
		mode = "demo"
	}
	detector := map[string]any{"kind": cfg.Detector.Kind, "ready": a.detector != nil}
	if a.detErr != nil {
		detector["error"] = a.detErr.Error()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":             "poise",
		"mode":             mode,
		"uptime_seconds":   int64(time.Since(a.startedAt).Seconds()),
		"session":          st,
		"detector":         detector,
		"media_source":     cfg.Media.Source,
		"publisher":        a.ingest.Connected(),
		"watchers":         a.hub.Clients(),
		"preview_clients":  a.frames.Subscribers(),
		"analysis_enabled": a.submitter != nil,
	})
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.getConfig())
}

// ---------------------------------------------------------------------------
// Session controls
// ---------------------------------------------------------------------------

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	payload, _ := json.Marshal(req)
	a.sendCommand(w, r, "start", payload)
}

// handleCommand returns a handler that forwards a payload-less command.
func (a *App) handleCommand(cmdType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.sendCommand(w, r, cmdType, nil)
	}
}

func (a *App) handleTimelines(w http.ResponseWriter, r *http.Request) {
	payload, _ := json.Marshal(map[string]string{"format": r.URL.Query().Get("format")})
	a.sendCommand(w, r, "timelines", payload)
}

// sendCommand sends a command to the session manager and writes its reply.
func (a *App) sendCommand(w http.ResponseWriter, r *http.Request, cmdType string, payload json.RawMessage) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	result, err := a.manager.Send(ctx, cmdType, payload)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeCommandResult(w, result)
}

// ---------------------------------------------------------------------------
// Logs, stats, health
// ---------------------------------------------------------------------------

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := a.logs.snapshot()

	// Apply filters.
	levelFilter := r.URL.Query().Get("level")
	if levelFilter != "" {
		var filtered []logEntry
		for _, e := range entries {
			if e.Level == levelFilter {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	if entries == nil {
		entries = []logEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := a.stats.view()
	resp["sessions_started"] = a.metrics.SessionsStarted.Load()
	resp["uptime_seconds"] = int64(time.Since(a.startedAt).Seconds())
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	cfg := a.getConfig()

	checks := map[string]any{}
	allOK := true

	select {
	case <-a.manager.Done():
		checks["session_manager"] = map[string]any{"ok": false, "error": "stopped"}
		allOK = false
	default:
		checks["session_manager"] = map[string]any{"ok": true, "phase": a.manager.Status().Phase}
	}

	if a.detErr != nil {
		checks["detector"] = map[string]any{"ok": false, "kind": cfg.Detector.Kind, "error": a.detErr.Error()}
		allOK = false
	} else {
		checks["detector"] = map[string]any{"ok": true, "kind": cfg.Detector.Kind}
	}

	// A relay without a publisher cannot start sessions.
	if a.relay != nil {
		connected := a.relay.Connected()
		checks["media"] = map[string]any{"ok": connected, "source": "relay", "publisher": connected}
		if !connected {
			allOK = false
		}
	} else {
		checks["media"] = map[string]any{"ok": true, "source": cfg.Media.Source}
	}

	if a.submitter == nil {
		checks["analysis"] = map[string]any{"ok": true, "enabled": false}
	} else {
		checks["analysis"] = map[string]any{"ok": true, "enabled": true, "url": cfg.Analysis.URL}
	}

	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

// ---------------------------------------------------------------------------
// Reload
// ---------------------------------------------------------------------------

// handleReload re-reads the config file. Session timings, audio settings,
// the submit timeout and logging apply from the next session. Every other
// section keeps its running value and is reported as pending a restart.
func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	if a.configPath == "" {
		jsonError(w, "no config file path set", http.StatusInternalServerError)
		return
	}

	loaded, err := config.Load(a.configPath)
	if err != nil {
		jsonError(w, "config reload failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	newCfg, pending := mergeReload(a.getConfig(), loaded)

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := a.manager.Reconfigure(ctx, sessionConfig(newCfg)); err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, session.ErrSessionActive) {
			code = http.StatusConflict
		}
		jsonError(w, "config reload refused: "+err.Error(), code)
		return
	}
	if err := applyLogging(a.log, newCfg.Logging); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.cfgMu.Lock()
	a.cfg = newCfg
	a.cfgMu.Unlock()

	log := a.component("poised")
	if len(pending) > 0 {
		log = log.WithField("pending_restart", pending)
	}
	log.Info(fmt.Sprintf("config reloaded from %s", a.configPath))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"message":         "configuration reloaded from " + a.configPath,
		"pending_restart": pending,
	})
}

// mergeReload copies the hot sections of next onto cur. It returns the names
// of the sections that changed on disk but only take effect after a restart.
func mergeReload(cur, next config.Config) (config.Config, []string) {
	pending := []string{}
	for _, s := range []struct {
		name      string
		cur, next any
	}{
		{"logging.buffer", cur.Logging.Buffer, next.Logging.Buffer},
		{"server", cur.Server, next.Server},
		{"video", cur.Video, next.Video},
		{"smoothing", cur.Smoothing, next.Smoothing},
		{"posture", cur.Posture, next.Posture},
		{"eye", cur.Eye, next.Eye},
		{"analysis.url", cur.Analysis.URL, next.Analysis.URL},
		{"detector", cur.Detector, next.Detector},
		{"media", cur.Media, next.Media},
		{"demo", cur.Demo, next.Demo},
	} {
		if !reflect.DeepEqual(s.cur, s.next) {
			pending = append(pending, s.name)
		}
	}

	merged := cur
	merged.Logging.Level = next.Logging.Level
	merged.Logging.Format = next.Logging.Format
	merged.Session = next.Session
	merged.Audio = next.Audio
	merged.Analysis.TimeoutSeconds = next.Analysis.TimeoutSeconds
	return merged, pending
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

// writeCommandResult writes a session.CommandResult as JSON.
func writeCommandResult(w http.ResponseWriter, result session.CommandResult) {
	code := http.StatusOK
	if !result.OK {
		code = result.Code
		if code == 0 {
			code = http.StatusInternalServerError
		}
	}
	writeJSON(w, code, result)
}
