package app

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/poise/internal/config"
	"github.com/large-farva/poise/internal/telemetry"
)

// NewLogger builds the daemon logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if err := applyLogging(log, cfg); err != nil {
		return nil, err
	}
	return log, nil
}

func applyLogging(log *logrus.Logger, cfg config.LoggingConfig) error {
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	log.SetLevel(lvl)
	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

type logEntry struct {
	TS        string         `json:"ts"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// logRing is a logrus hook keeping the most recent entries for /api/logs
// and forwarding each one to WebSocket watchers.
type logRing struct {
	mu      sync.Mutex
	entries []logEntry
	next    int
	full    bool

	emit func(v any)
}

func newLogRing(size int, emit func(v any)) *logRing {
	if size <= 0 {
		size = 500
	}
	return &logRing{entries: make([]logEntry, size), emit: emit}
}

func (r *logRing) Levels() []logrus.Level { return logrus.AllLevels }

func (r *logRing) Fire(e *logrus.Entry) error {
	le := logEntry{
		TS:      e.Time.UTC().Format(time.RFC3339Nano),
		Level:   e.Level.String(),
		Message: e.Message,
	}
	for k, v := range e.Data {
		if k == "component" {
			le.Component = fmt.Sprint(v)
			continue
		}
		if le.Fields == nil {
			le.Fields = make(map[string]any, len(e.Data))
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		le.Fields[k] = v
	}

	r.mu.Lock()
	r.entries[r.next] = le
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	if r.emit != nil {
		ev := telemetry.NewLogLine(le.Component, le.Level, le.Message, le.Fields)
		ev.TS = le.TS
		r.emit(ev)
	}
	return nil
}

// snapshot returns the buffered entries, oldest first.
func (r *logRing) snapshot() []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]logEntry(nil), r.entries[:r.next]...)
	}
	out := make([]logEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}
