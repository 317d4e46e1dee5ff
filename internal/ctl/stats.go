package ctl

import (
	"fmt"
	"strings"
	"time"
)

// Stats shows totals across the sessions this daemon has run.
func Stats(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		SessionsStarted      int64    `json:"sessions_started"`
		CompletedSessions    int      `json:"completed_sessions"`
		AnalysisErrors       int      `json:"analysis_errors"`
		TotalResponseSeconds float64  `json:"total_response_seconds"`
		MeanPosturePct       *float64 `json:"mean_posture_pct"`
		MeanEyePct           *float64 `json:"mean_eye_pct"`
		UptimeSeconds        int64    `json:"uptime_seconds"`
		LastSession          *struct {
			SessionID       string    `json:"session_id"`
			EndedAt         time.Time `json:"ended_at"`
			PostureGoodPct  int       `json:"posture_good_pct"`
			EyeGoodPct      int       `json:"eye_good_pct"`
			ResponseSeconds float64   `json:"response_seconds"`
		} `json:"last_session"`
	}
	if err := getJSON(baseURL, "/api/stats", &resp); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	header("SESSION STATISTICS", 42)
	field("Uptime", formatDuration(time.Duration(resp.UptimeSeconds)*time.Second))
	field("Started", resp.SessionsStarted)
	field("Completed", resp.CompletedSessions)
	field("Responding", formatDuration(time.Duration(resp.TotalResponseSeconds*float64(time.Second))))
	field("Posture avg", meanPct(resp.MeanPosturePct))
	field("Eye avg", meanPct(resp.MeanEyePct))
	if resp.AnalysisErrors > 0 {
		field("Analysis", colorize(red, fmt.Sprintf("%d failed", resp.AnalysisErrors)))
	}

	if l := resp.LastSession; l != nil {
		header("LAST SESSION", 42)
		field("Session", l.SessionID)
		field("Ended", l.EndedAt.Local().Format("2006-01-02 15:04:05"))
		field("Response", fmt.Sprintf("%.1fs", l.ResponseSeconds))
		field("Posture", fmt.Sprintf("%d%%", l.PostureGoodPct))
		field("Eye contact", fmt.Sprintf("%d%%", l.EyeGoodPct))
	}

	outln()
	return nil
}

func meanPct(v *float64) string {
	if v == nil {
		return colorize(dim, "n/a")
	}
	return fmt.Sprintf("%.1f%%", *v)
}
