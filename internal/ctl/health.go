package ctl

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Health checks daemon liveness and its component checks via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, body, err := getRaw(baseURL, "/healthz", "application/json")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	var detail struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	_ = json.Unmarshal(body, &detail)

	if jsonOutput {
		return printJSON(map[string]any{"healthy": detail.Healthy, "url": baseURL, "checks": detail.Checks})
	}

	outln()
	if status == 200 {
		outf("  %s  poised is healthy at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		outf("  %s  poised returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}

	names := make([]string, 0, len(detail.Checks))
	for name := range detail.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := detail.Checks[name]
		mark := colorize(green, "ok  ")
		if ok, _ := c["ok"].(bool); !ok {
			mark = colorize(red, "FAIL")
		}
		var extra []string
		keys := make([]string, 0, len(c))
		for k := range c {
			if k != "ok" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			extra = append(extra, fmt.Sprintf("%s=%v", k, c[k]))
		}
		outf("    %s %s %s\n", mark, padRight(name, 16), colorize(dim, strings.Join(extra, " ")))
	}
	outln()

	return nil
}
