package ctl

import (
	"strings"
)

// Reload tells the daemon to re-read its config file from disk. The daemon
// refuses while a session is in progress.
func Reload(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result ActionResult
	if err := postJSON(baseURL, "/api/reload", nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	if result.OK {
		outf("\n  %s  %s\n\n", colorize(green, "RELOADED"), result.Message)
	} else {
		outf("\n  %s  %s\n\n", colorize(red, "ERROR"), result.Error)
	}
	return nil
}
