package app

import (
	"sync"

	"github.com/large-farva/poise/internal/analysis"
)

// sessionStats accumulates results of finished sessions for /api/stats.
type sessionStats struct {
	mu             sync.Mutex
	completed      int
	analysisErrors int
	postureSum     int
	eyeSum         int
	responseSecs   float64
	last           *analysis.Summary
}

func (s *sessionStats) record(sum analysis.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
	s.postureSum += sum.PostureGoodPct
	s.eyeSum += sum.EyeGoodPct
	s.responseSecs += sum.ResponseSeconds
	s.last = &sum
}

func (s *sessionStats) analysisFailed() {
	s.mu.Lock()
	s.analysisErrors++
	s.mu.Unlock()
}

func (s *sessionStats) view() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{
		"completed_sessions":     s.completed,
		"analysis_errors":        s.analysisErrors,
		"total_response_seconds": s.responseSecs,
		"last_session":           s.last,
	}
	if s.completed > 0 {
		out["mean_posture_pct"] = float64(s.postureSum) / float64(s.completed)
		out["mean_eye_pct"] = float64(s.eyeSum) / float64(s.completed)
	} else {
		out["mean_posture_pct"] = nil
		out["mean_eye_pct"] = nil
	}
	return out
}
