package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// Watch streams daemon events to the terminal until interrupted.
func Watch(baseURL string, opts WatchOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return WatchContext(ctx, baseURL, opts)
}

// WatchContext connects to the daemon's /ws endpoint and renders each event
// until ctx is cancelled or the daemon closes the connection.
func WatchContext(ctx context.Context, baseURL string, opts WatchOptions) error {
	wsURL, err := watchURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !opts.JSON {
		outln()
		outf("  %s %s\n", colorize(green, "connected"), colorize(dim, wsURL))
		if len(opts.Filter) > 0 {
			outf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		outln(colorize(dim, "  "+strings.Repeat("─", 50)))
		outln()
	}

	filterSet := make(map[string]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[f] = true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if len(filterSet) > 0 && !filterSet[eventType(msg)] {
				continue
			}
			if opts.JSON {
				outln(string(msg))
			} else {
				renderEvent(msg)
			}
		}
	}()

	select {
	case <-ctx.Done():
		if !opts.JSON {
			outln()
			outln(colorize(dim, "  disconnecting..."))
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		conn.Close()
		<-done
		return nil
	case <-done:
		return nil
	}
}

func watchURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func eventType(raw []byte) string {
	var ev struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &ev)
	return ev.Type
}

// renderEvent prints one event in a human-friendly format. Unknown event
// types are dumped as indented JSON.
func renderEvent(raw []byte) {
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		outf("  %s\n", string(raw))
		return
	}

	evType, _ := ev["type"].(string)
	ts := colorize(dim, eventTime(ev))

	switch evType {
	case "heartbeat":
		phase, _ := ev["phase"].(string)
		uptime, _ := ev["uptime_seconds"].(float64)
		outf("  %s %s  %s  up %s\n",
			ts,
			colorize(dim, "heartbeat"),
			colorize(phaseStyle(phase), phase),
			colorize(dim, formatDuration(time.Duration(uptime)*time.Second)),
		)

	case "phase":
		from, _ := ev["from"].(string)
		to, _ := ev["to"].(string)
		id, _ := ev["session_id"].(string)
		outf("  %s %s  %s %s %s  %s\n",
			ts,
			colorize(bold, "PHASE"),
			colorize(phaseStyle(from), from),
			colorize(dim, "->"),
			colorize(phaseStyle(to), to),
			colorize(dim, id),
		)

	case "countdown":
		phase, _ := ev["phase"].(string)
		left, _ := ev["timeLeft"].(float64)
		outf("  %s %s  %s %ds\n", ts, colorize(cyan, "countdown"), colorize(phaseStyle(phase), phase), int(left))

	case "metrics":
		outf("  %s %s  posture %s  eye %s  %s\n",
			ts,
			colorize(blue, "metrics"),
			streamLine(ev["posture"]),
			streamLine(ev["eye"]),
			colorize(dim, fmt.Sprintf("%.1fs", num(ev["elapsed"]))),
		)

	case "status":
		msg, _ := ev["message"].(string)
		outf("  %s %s  %s\n", ts, colorize(bold, "status"), msg)

	case "analysis":
		if e, _ := ev["error"].(string); e != "" {
			outf("  %s %s  %s\n", ts, colorize(red, "analysis failed"), e)
			return
		}
		outf("  %s %s  HTTP %d\n", ts, colorize(green, "analysis"), int(num(ev["status"])))
		if body, ok := ev["result"]; ok {
			b, _ := json.MarshalIndent(body, "    ", "  ")
			outln("    " + string(b))
		}

	case "session_end":
		sum, _ := ev["summary"].(map[string]any)
		outln()
		outf("  %s %s\n", ts, colorize(bold, "SESSION COMPLETE"))
		outf("    %s %.1fs\n", colorize(dim, padRight("Response:", 14)), num(sum["response_seconds"]))
		outf("    %s %d%%\n", colorize(dim, padRight("Posture:", 14)), int(num(sum["posture_good_pct"])))
		outf("    %s %d%%\n", colorize(dim, padRight("Eye contact:", 14)), int(num(sum["eye_good_pct"])))
		outf("    %s %v\n", colorize(dim, padRight("Audio:", 14)), sum["audio_status"])
		outln()

	case "log":
		level, _ := ev["level"].(string)
		message, _ := ev["message"].(string)
		component, _ := ev["component"].(string)
		outf("  %s %s  %s%s\n", ts, formatLogLevel(level), componentTag(component), message)

	default:
		pretty, err := json.MarshalIndent(ev, "  ", "  ")
		if err != nil {
			outf("  %s\n", string(raw))
			return
		}
		outf("  %s\n", string(pretty))
	}
}

// streamLine renders one metric of a metrics event as "score/smoothed pct%".
func streamLine(v any) string {
	m, _ := v.(map[string]any)
	score := "--"
	if s, ok := m["score"].(float64); ok {
		score = fmt.Sprint(int(s))
	}
	smoothed := "--"
	if s, ok := m["smoothed"].(float64); ok {
		smoothed = fmt.Sprint(int(s))
	}
	return fmt.Sprintf("%s/%s %d%%", score, smoothed, int(num(m["goodPct"])))
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

// eventTime extracts and shortens the timestamp from an event.
func eventTime(ev map[string]any) string {
	ts, ok := ev["ts"].(string)
	if !ok {
		return strings.Repeat(" ", 8)
	}
	return shortTime(ts)
}
