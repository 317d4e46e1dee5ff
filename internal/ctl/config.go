package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// configSections is the display order of the daemon's config sections.
var configSections = []string{
	"logging", "server", "video", "session", "smoothing", "posture", "eye",
	"audio", "analysis", "detector", "media", "demo",
}

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var cfg map[string]map[string]any
	if err := getJSON(baseURL, "/api/config", &cfg); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cfg)
	}

	header("DAEMON CONFIGURATION", 50)
	for _, name := range configSections {
		sec, ok := cfg[name]
		if !ok {
			continue
		}
		outf("\n  %s\n", colorize(bold, "["+name+"]"))
		printConfigFields("", sec)
	}
	outln()

	return nil
}

// printConfigFields prints a section's keys sorted, flattening nested tables
// into dotted keys.
func printConfigFields(prefix string, sec map[string]any) {
	keys := make([]string, 0, len(sec))
	for k := range sec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if nested, ok := sec[k].(map[string]any); ok {
			printConfigFields(prefix+k+".", nested)
			continue
		}
		outf("    %s %s\n", colorize(dim, padRight(prefix+k+":", 26)), configValue(sec[k]))
	}
}

func configValue(v any) string {
	switch v := v.(type) {
	case string:
		if v == "" {
			return colorize(dim, `""`)
		}
		return v
	case float64:
		return fmt.Sprint(v)
	case nil:
		return colorize(dim, "null")
	}
	b, _ := json.Marshal(v)
	return string(b)
}
