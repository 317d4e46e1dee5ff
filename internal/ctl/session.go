package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// StartOptions configures the start command.
type StartOptions struct {
	PromptID         string
	PromptText       string
	PromptType       string
	PromptDifficulty string
	JSON             bool
}

// Start begins a new session with the given prompt.
func Start(baseURL string, opts StartOptions) error {
	body := map[string]string{
		"prompt_id":         opts.PromptID,
		"prompt_text":       opts.PromptText,
		"prompt_type":       opts.PromptType,
		"prompt_difficulty": opts.PromptDifficulty,
	}
	return sessionControl(baseURL, "/api/session/start", body, "STARTED", opts.JSON)
}

// End cuts the current response short.
func End(baseURL string, jsonOutput bool) error {
	return sessionControl(baseURL, "/api/session/end", nil, "ENDED", jsonOutput)
}

// Restart abandons the current session and returns the daemon to idle.
func Restart(baseURL string, jsonOutput bool) error {
	return sessionControl(baseURL, "/api/session/restart", nil, "RESET", jsonOutput)
}

func sessionControl(baseURL, path string, body any, label string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result ActionResult
	if err := postJSON(baseURL, path, body, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	if result.OK {
		outf("\n  %s  %s\n\n", colorize(green, label), result.Message)
	} else {
		outf("\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
	}
	return nil
}

type streamSnapshot struct {
	Score    *int `json:"score"`
	Smoothed *int `json:"smoothed"`
	GoodPct  int  `json:"goodPct"`
	Frames   int  `json:"frames"`
	Good     int  `json:"goodFrames"`
}

// Metrics shows the live scores of the current or last session.
func Metrics(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Data struct {
			Posture streamSnapshot `json:"posture"`
			Eye     streamSnapshot `json:"eye"`
			Elapsed float64        `json:"elapsed"`
		} `json:"data"`
	}
	if err := getJSON(baseURL, "/api/session/metrics", &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp.Data)
	}

	d := resp.Data
	header("SESSION METRICS", 56)
	field("Elapsed", fmt.Sprintf("%.1fs", d.Elapsed))
	for _, m := range []struct {
		name string
		s    streamSnapshot
	}{{"Posture", d.Posture}, {"Eye contact", d.Eye}} {
		outf("  %s score %-3s smoothed %-3s [%s] %3d%%  %s\n",
			colorize(dim, padRight(m.name+":", 14)),
			scoreText(m.s.Score),
			scoreText(m.s.Smoothed),
			progressBar(m.s.GoodPct, 20, 75),
			m.s.GoodPct,
			colorize(dim, fmt.Sprintf("%d/%d frames", m.s.Good, m.s.Frames)),
		)
	}
	outln()
	return nil
}

// TimelinesOptions configures the timelines command.
type TimelinesOptions struct {
	// Every shows one row per this many seconds; 0 shows every point.
	Every float64
	JSON  bool
}

type timelinePoint struct {
	Timestamp  float64 `json:"timestamp"`
	Percentage int     `json:"percentage"`
}

// Timelines prints the good-frame percentage over time for both metrics.
func Timelines(baseURL string, opts TimelinesOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Data struct {
			Posture []timelinePoint `json:"posture_timeline"`
			Eye     []timelinePoint `json:"eye_timeline"`
		} `json:"data"`
	}
	if err := getJSON(baseURL, "/api/session/timelines", &resp); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp.Data)
	}

	header("TIMELINES", 40)
	if len(resp.Data.Posture) == 0 && len(resp.Data.Eye) == 0 {
		outln("  No scored frames yet.")
		outln()
		return nil
	}

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("t (s)", "posture %", "eye %")
	for _, row := range mergeTimelines(resp.Data.Posture, resp.Data.Eye, opts.Every) {
		t.Row(row...)
	}
	outln(t.Render())
	outln()
	return nil
}

// mergeTimelines lines both timelines up by timestamp, keeping at most one
// row per every seconds.
func mergeTimelines(posture, eye []timelinePoint, every float64) [][]string {
	type row struct{ p, e string }
	rows := map[float64]*row{}
	var order []float64
	add := func(pts []timelinePoint, set func(*row, string)) {
		for _, pt := range pts {
			r, ok := rows[pt.Timestamp]
			if !ok {
				r = &row{p: "-", e: "-"}
				rows[pt.Timestamp] = r
				order = append(order, pt.Timestamp)
			}
			set(r, fmt.Sprintf("%d", pt.Percentage))
		}
	}
	add(posture, func(r *row, v string) { r.p = v })
	add(eye, func(r *row, v string) { r.e = v })
	sort.Float64s(order)

	var out [][]string
	next := -1.0
	for _, ts := range order {
		if every > 0 && ts < next {
			continue
		}
		next = ts + every
		r := rows[ts]
		out = append(out, []string{fmt.Sprintf("%.2f", ts), r.p, r.e})
	}
	return out
}

// Analysis shows the analysis result, or failure, of the last session.
func Analysis(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Data struct {
			SessionID string `json:"session_id"`
			Result    *struct {
				Status     int             `json:"status"`
				Body       json.RawMessage `json:"body"`
				ReceivedAt time.Time       `json:"received_at"`
			} `json:"result"`
			Error   string `json:"error"`
			Summary struct {
				PromptID        string  `json:"prompt_id"`
				ResponseSeconds float64 `json:"response_seconds"`
				EndedEarly      bool    `json:"ended_early"`
				PostureGoodPct  int     `json:"posture_good_pct"`
				EyeGoodPct      int     `json:"eye_good_pct"`
				AudioBytes      int     `json:"audio_bytes"`
				AudioStatus     string  `json:"audio_status"`
			} `json:"summary"`
		} `json:"data"`
	}
	if err := getJSON(baseURL, "/api/session/analysis", &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp.Data)
	}

	d := resp.Data
	header("LAST SESSION", 50)
	field("Session", d.SessionID)
	if d.Summary.PromptID != "" {
		field("Prompt", d.Summary.PromptID)
	}
	respText := fmt.Sprintf("%.1fs", d.Summary.ResponseSeconds)
	if d.Summary.EndedEarly {
		respText += colorize(dim, " (ended early)")
	}
	field("Response", respText)
	field("Posture", fmt.Sprintf("[%s] %d%%", progressBar(d.Summary.PostureGoodPct, 20, 75), d.Summary.PostureGoodPct))
	field("Eye contact", fmt.Sprintf("[%s] %d%%", progressBar(d.Summary.EyeGoodPct, 20, 75), d.Summary.EyeGoodPct))
	field("Audio", fmt.Sprintf("%s, %s", d.Summary.AudioStatus, formatBytes(int64(d.Summary.AudioBytes))))

	switch {
	case d.Error != "":
		field("Analysis", colorize(red, d.Error))
	case d.Result != nil:
		field("Analysis", colorize(green, fmt.Sprintf("HTTP %d", d.Result.Status))+colorize(dim, " at "+d.Result.ReceivedAt.Local().Format("15:04:05")))
		var pretty any
		if json.Unmarshal(d.Result.Body, &pretty) == nil {
			b, _ := json.MarshalIndent(pretty, "    ", "  ")
			outln("    " + string(b))
		}
	default:
		field("Analysis", colorize(dim, "not submitted"))
	}
	outln()
	return nil
}
