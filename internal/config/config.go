// Package config handles loading, defaulting, and validation of the poise
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/large-farva/poise/internal/scoring"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Logging   LoggingConfig         `toml:"logging"   json:"logging"`
	Server    ServerConfig          `toml:"server"    json:"server"`
	Video     VideoConfig           `toml:"video"     json:"video"`
	Session   SessionConfig         `toml:"session"   json:"session"`
	Smoothing SmoothingConfig       `toml:"smoothing" json:"smoothing"`
	Posture   scoring.PostureConfig `toml:"posture"   json:"posture"`
	Eye       scoring.EyeConfig     `toml:"eye"       json:"eye"`
	Audio     AudioConfig           `toml:"audio"     json:"audio"`
	Analysis  AnalysisConfig        `toml:"analysis"  json:"analysis"`
	Detector  DetectorConfig        `toml:"detector"  json:"detector"`
	Media     MediaConfig           `toml:"media"     json:"media"`
	Demo      DemoConfig            `toml:"demo"      json:"demo"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	// Format is "text" or "json".
	Format string `toml:"format" json:"format"`
	// Buffer is how many recent entries /api/logs keeps.
	Buffer int `toml:"buffer" json:"buffer"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type VideoConfig struct {
	Width     int `toml:"width"      json:"width"`
	Height    int `toml:"height"     json:"height"`
	HostFPS   int `toml:"host_fps"   json:"host_fps"`
	TargetFPS int `toml:"target_fps" json:"target_fps"`
	// PreviewQuality is the JPEG quality of /preview.mjpg frames.
	PreviewQuality   int  `toml:"preview_quality"   json:"preview_quality"`
	PreviewLandmarks bool `toml:"preview_landmarks" json:"preview_landmarks"`
}

type SessionConfig struct {
	ThinkingSeconds     int `toml:"thinking_seconds"      json:"thinking_seconds"`
	ResponseSeconds     int `toml:"response_seconds"      json:"response_seconds"`
	CountdownIntervalMs int `toml:"countdown_interval_ms" json:"countdown_interval_ms"`
}

func (s SessionConfig) CountdownInterval() time.Duration {
	return time.Duration(s.CountdownIntervalMs) * time.Millisecond
}

type SmoothingConfig struct {
	Alpha         float64 `toml:"alpha"          json:"alpha"`
	GoodThreshold int     `toml:"good_threshold" json:"good_threshold"`
}

type AudioConfig struct {
	Enabled     bool   `toml:"enabled"      json:"enabled"`
	SampleRate  int    `toml:"sample_rate"  json:"sample_rate"`
	TimesliceMs int    `toml:"timeslice_ms" json:"timeslice_ms"`
	MediaType   string `toml:"media_type"   json:"media_type"`
	MaxBytes    int64  `toml:"max_bytes"    json:"max_bytes"`
}

func (a AudioConfig) Timeslice() time.Duration {
	return time.Duration(a.TimesliceMs) * time.Millisecond
}

type AnalysisConfig struct {
	// URL is the analysis service base; empty disables submission.
	URL            string `toml:"url"             json:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds" json:"timeout_seconds"`
}

func (a AnalysisConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

type DetectorConfig struct {
	// Kind is "remote", "script", "demo", or "none".
	Kind    string `toml:"kind"     json:"kind"`
	StaleMs int    `toml:"stale_ms" json:"stale_ms"`
	Script  string `toml:"script"   json:"script"`
}

func (d DetectorConfig) Stale() time.Duration {
	return time.Duration(d.StaleMs) * time.Millisecond
}

type MediaConfig struct {
	// Source is "synthetic" or "relay".
	Source string  `toml:"source"  json:"source"`
	ToneHz float64 `toml:"tone_hz" json:"tone_hz"`
}

type DemoConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// AutoStart runs back-to-back sessions with a pause between them.
	AutoStart     bool    `toml:"auto_start"     json:"auto_start"`
	PauseSeconds  int     `toml:"pause_seconds"  json:"pause_seconds"`
	Drift         float64 `toml:"drift"          json:"drift"`
	FaceDropout   float64 `toml:"face_dropout"   json:"face_dropout"`
	Seed          uint64  `toml:"seed"           json:"seed"`
	SlouchPercent int     `toml:"slouch_percent" json:"slouch_percent"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Buffer: 500,
		},
		Server: ServerConfig{
			Bind: "127.0.0.1:8090",
		},
		Video: VideoConfig{
			Width:            640,
			Height:           480,
			HostFPS:          60,
			TargetFPS:        20,
			PreviewQuality:   75,
			PreviewLandmarks: true,
		},
		Session: SessionConfig{
			ThinkingSeconds:     30,
			ResponseSeconds:     90,
			CountdownIntervalMs: 1000,
		},
		Smoothing: SmoothingConfig{
			Alpha:         0.15,
			GoodThreshold: 75,
		},
		Posture: scoring.DefaultPosture(),
		Eye:     scoring.DefaultEye(),
		Audio: AudioConfig{
			Enabled:     true,
			SampleRate:  16000,
			TimesliceMs: 250,
			MediaType:   "audio/wav",
			MaxBytes:    64 << 20,
		},
		Analysis: AnalysisConfig{
			URL:            "http://127.0.0.1:8000",
			TimeoutSeconds: 120,
		},
		Detector: DetectorConfig{
			Kind:    "demo",
			StaleMs: 500,
		},
		Media: MediaConfig{
			Source: "synthetic",
			ToneHz: 440,
		},
		Demo: DemoConfig{
			Enabled:       true,
			AutoStart:     false,
			PauseSeconds:  10,
			Drift:         0.01,
			FaceDropout:   0.05,
			SlouchPercent: 20,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate reports the first constraint cfg violates.
func Validate(cfg Config) error {
	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("logging.level must be a logrus level, got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	if cfg.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	if cfg.Video.Width <= 0 || cfg.Video.Height <= 0 {
		return errors.New("video.width and video.height must be > 0")
	}
	if cfg.Video.HostFPS <= 0 || cfg.Video.TargetFPS <= 0 {
		return errors.New("video.host_fps and video.target_fps must be > 0")
	}
	if cfg.Video.TargetFPS > cfg.Video.HostFPS {
		return errors.New("video.target_fps must not exceed video.host_fps")
	}
	if cfg.Video.PreviewQuality < 1 || cfg.Video.PreviewQuality > 100 {
		return errors.New("video.preview_quality must be between 1 and 100")
	}
	if cfg.Session.ThinkingSeconds < 0 {
		return errors.New("session.thinking_seconds must be >= 0")
	}
	if cfg.Session.ResponseSeconds < 1 {
		return errors.New("session.response_seconds must be >= 1")
	}
	if cfg.Session.CountdownIntervalMs < 1 {
		return errors.New("session.countdown_interval_ms must be >= 1")
	}
	if cfg.Smoothing.Alpha <= 0 || cfg.Smoothing.Alpha > 1 {
		return errors.New("smoothing.alpha must be in (0, 1]")
	}
	if cfg.Smoothing.GoodThreshold < 0 || cfg.Smoothing.GoodThreshold > 100 {
		return errors.New("smoothing.good_threshold must be between 0 and 100")
	}
	if err := validatePosture(cfg.Posture); err != nil {
		return err
	}
	if err := validateEye(cfg.Eye); err != nil {
		return err
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if cfg.Audio.TimesliceMs < 1 {
		return errors.New("audio.timeslice_ms must be >= 1")
	}
	if cfg.Audio.MaxBytes < 0 {
		return errors.New("audio.max_bytes must be >= 0")
	}
	if cfg.Analysis.TimeoutSeconds < 0 {
		return errors.New("analysis.timeout_seconds must be >= 0")
	}
	switch cfg.Detector.Kind {
	case "remote", "demo", "none":
	case "script":
		if cfg.Detector.Script == "" {
			return errors.New("detector.script is required when detector.kind is script")
		}
	default:
		return fmt.Errorf("detector.kind must be remote, script, demo or none, got %q", cfg.Detector.Kind)
	}
	if cfg.Detector.StaleMs < 0 {
		return errors.New("detector.stale_ms must be >= 0")
	}
	switch cfg.Media.Source {
	case "synthetic", "relay":
	default:
		return fmt.Errorf("media.source must be synthetic or relay, got %q", cfg.Media.Source)
	}
	if cfg.Demo.PauseSeconds < 0 {
		return errors.New("demo.pause_seconds must be >= 0")
	}
	if cfg.Demo.FaceDropout < 0 || cfg.Demo.FaceDropout > 1 {
		return errors.New("demo.face_dropout must be between 0 and 1")
	}
	if cfg.Demo.SlouchPercent < 0 || cfg.Demo.SlouchPercent > 100 {
		return errors.New("demo.slouch_percent must be between 0 and 100")
	}
	return nil
}

func validatePosture(p scoring.PostureConfig) error {
	if p.Tilt.Good >= p.Tilt.Bad {
		return errors.New("posture.tilt.good must be below posture.tilt.bad")
	}
	if p.HeadForward.Good >= p.HeadForward.Bad {
		return errors.New("posture.head_forward.good must be below posture.head_forward.bad")
	}
	if p.Neck.Good <= p.Neck.Bad {
		return errors.New("posture.neck.good must be above posture.neck.bad")
	}
	w := p.Weights
	if w.Tilt < 0 || w.Head < 0 || w.Neck < 0 {
		return errors.New("posture.weights must be non-negative")
	}
	if !sumsToOne(w.Tilt, w.Head, w.Neck) {
		return fmt.Errorf("posture.weights must sum to 1, got %g", w.Tilt+w.Head+w.Neck)
	}
	return nil
}

func validateEye(e scoring.EyeConfig) error {
	if e.Yaw.Good >= e.Yaw.Bad || e.Pitch.Good >= e.Pitch.Bad || e.Center.Good >= e.Center.Bad {
		return errors.New("eye thresholds: good must be below bad")
	}
	w := e.Weights
	if w.Yaw < 0 || w.Pitch < 0 || w.Center < 0 {
		return errors.New("eye.weights must be non-negative")
	}
	if !sumsToOne(w.Yaw, w.Pitch, w.Center) {
		return fmt.Errorf("eye.weights must sum to 1, got %g", w.Yaw+w.Pitch+w.Center)
	}
	if _, err := scoring.ParseMatrixLayout(string(e.MatrixLayout)); err != nil {
		return fmt.Errorf("eye.matrix_layout: %w", err)
	}
	return nil
}

func sumsToOne(ws ...float64) bool {
	var sum float64
	for _, w := range ws {
		sum += w
	}
	return math.Abs(sum-1) <= 1e-6
}
