package ctl

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	Level string
	Limit int
	Tail  bool
	JSON  bool
}

type logLine struct {
	TS        string         `json:"ts"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component"`
	Fields    map[string]any `json:"fields"`
}

// Logs shows recent daemon log messages, or streams them live with --tail.
func Logs(baseURL string, opts LogsOptions) error {
	baseURL = strings.TrimRight(baseURL, "/")

	if opts.Tail {
		return Watch(baseURL, WatchOptions{
			Filter: []string{"log"},
			JSON:   opts.JSON,
		})
	}

	q := url.Values{}
	if opts.Level != "" {
		q.Set("level", normalizeLevel(opts.Level))
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}
	path := "/api/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Logs []logLine `json:"logs"`
	}
	if err := getJSON(baseURL, path, &resp); err != nil {
		return err
	}

	if opts.JSON {
		return printJSON(resp)
	}

	header("DAEMON LOGS", 70)
	if len(resp.Logs) == 0 {
		outln("  No log entries found.")
	}
	for _, e := range resp.Logs {
		outf("  %s %s  %s%s\n", colorize(dim, shortTime(e.TS)), formatLogLevel(e.Level), componentTag(e.Component), e.Message)
	}
	outln()
	return nil
}

// normalizeLevel maps user spellings onto logrus level names.
func normalizeLevel(level string) string {
	switch l := strings.ToLower(level); l {
	case "warn":
		return "warning"
	default:
		return l
	}
}

func componentTag(c string) string {
	if c == "" {
		return ""
	}
	return colorize(dim, "["+c+"] ")
}

// shortTime renders an RFC 3339 timestamp as local wall-clock time.
func shortTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return padRight(ts, 8)
	}
	return t.Local().Format("15:04:05")
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "info":
		return colorize(green, "INFO ")
	case "warn", "warning":
		return colorize(yellow, "WARN ")
	case "error", "fatal", "panic":
		return colorize(red, "ERROR")
	case "debug", "trace":
		return colorize(dim, "DEBUG")
	default:
		return padRight(strings.ToUpper(level), 5)
	}
}
