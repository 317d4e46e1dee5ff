package ctl

import (
	"runtime"
	"strings"
)

// Version is stamped at link time with -X .../internal/ctl.Version=...
var Version = "dev"

type daemonVersion struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at"`
}

// VersionInfo prints the CLI version next to the daemon's GET /api/version.
// An unreachable daemon is reported, not returned as an error.
func VersionInfo(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var daemon daemonVersion
	daemonErr := getJSON(baseURL, "/api/version", &daemon)
	mismatch := daemonErr == nil && daemon.Version != Version

	if jsonOutput {
		resp := map[string]any{
			"cli": map[string]string{"version": Version, "go_version": runtime.Version()},
		}
		if daemonErr != nil {
			resp["daemon_error"] = daemonErr.Error()
		} else {
			resp["daemon"] = daemon
			resp["mismatch"] = mismatch
		}
		return printJSON(resp)
	}

	header("POISE VERSION", 38)
	field("CLI", Version+" ("+runtime.Version()+")")
	switch {
	case daemonErr != nil:
		field("Daemon", colorize(red, "unreachable: "+daemonErr.Error()))
	default:
		field("Daemon", daemon.Version+" ("+daemon.GoVersion+")")
		field("Built", daemon.BuiltAt)
		if mismatch {
			outf("  %s\n", colorize(yellow, "poisectl and poised versions differ"))
		}
	}
	outln()
	return nil
}
