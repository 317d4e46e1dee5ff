// Poisectl is the command-line client for monitoring and controlling a
// running poised instance. It connects over HTTP and WebSocket to query
// status, drive sessions and stream live events from the daemon.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/large-farva/poise/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8090", "Poise daemon URL (e.g. http://192.168.1.20:8090)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter phase,metrics)")
	)

	// Stop parsing global flags at the command name so subcommand flags
	// like --prompt-id reach their own FlagSet.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "metrics":
		err = ctl.Metrics(*host, *jsonOut)

	case "timelines":
		opts := ctl.TimelinesOptions{JSON: *jsonOut}
		tlFlags := pflag.NewFlagSet("timelines", pflag.ContinueOnError)
		tlFlags.Float64Var(&opts.Every, "every", 0, "Show at most one row per this many seconds")
		if err = tlFlags.Parse(subArgs); err == nil {
			err = ctl.Timelines(*host, opts)
		}

	case "analysis":
		err = ctl.Analysis(*host, *jsonOut)

	case "stats":
		err = ctl.Stats(*host, *jsonOut)

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut}
		logFlags := pflag.NewFlagSet("logs", pflag.ContinueOnError)
		logFlags.StringVar(&opts.Level, "level", "", "Filter by log level (debug, info, warn, error)")
		logFlags.IntVar(&opts.Limit, "limit", 0, "Limit number of log entries shown")
		logFlags.BoolVar(&opts.Tail, "tail", false, "Stream live log events (like watch --filter log)")
		if err = logFlags.Parse(subArgs); err == nil {
			err = ctl.Logs(*host, opts)
		}

	// ── Control commands ──────────────────────────────────────────
	case "start":
		opts := ctl.StartOptions{JSON: *jsonOut}
		startFlags := pflag.NewFlagSet("start", pflag.ContinueOnError)
		startFlags.StringVar(&opts.PromptID, "prompt-id", "", "Prompt identifier sent with the analysis request")
		startFlags.StringVar(&opts.PromptType, "type", "", "Prompt type (e.g. behavioral, technical)")
		startFlags.StringVar(&opts.PromptDifficulty, "difficulty", "", "Prompt difficulty")
		if err = startFlags.Parse(subArgs); err == nil {
			opts.PromptText = strings.Join(startFlags.Args(), " ")
			err = ctl.Start(*host, opts)
		}

	case "end":
		err = ctl.End(*host, *jsonOut)

	case "restart":
		err = ctl.Restart(*host, *jsonOut)

	case "reload":
		err = ctl.Reload(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		opts := ctl.WatchOptions{Filter: *filter, JSON: *jsonOut}
		watchFlags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		watchFlags.StringSliceVar(&opts.Filter, "filter", opts.Filter, "Event types to show")
		if err = watchFlags.Parse(subArgs); err == nil {
			err = ctl.Watch(*host, opts)
		}

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  poisectl - poise interview daemon control CLI

  USAGE
    poisectl [flags] <command> [command-flags] [args]

  COMMANDS (query)
    status          Show the session phase, detector and media state
    health          Check daemon and component health
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    metrics         Show live posture and eye-contact scores
    timelines       Show good-frame percentage over the response
    analysis        Show the last session's summary and analysis result
    stats           Show totals across finished sessions
    logs            Show recent daemon log messages

  COMMANDS (control)
    start [TEXT]    Start a session, optionally with the prompt text
    end             End the response early and submit it
    restart         Abandon the current session and return to idle
    reload          Reload configuration from disk (idle only)

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8090)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    start:
        --prompt-id ID      Prompt identifier
        --type TYPE         Prompt type
        --difficulty LEVEL  Prompt difficulty

    timelines:
        --every SECS        Show at most one row per SECS seconds

    logs:
        --level LEVEL       Filter by log level (debug, info, warn, error)
        --limit N           Limit number of log entries shown
        --tail              Stream live log events

  EXAMPLES
    poisectl status
    poisectl --json metrics
    poisectl start --prompt-id q17 --type behavioral "Tell me about a conflict you resolved"
    poisectl end
    poisectl timelines --every 5
    poisectl analysis
    poisectl logs --level warn --limit 20
    poisectl --host http://192.168.1.20:8090 watch --filter phase,countdown,session_end

`)
}
