package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sentinelsh/sentinel/pkg/log/multislogger"
)

func main() {
	// Minimal logger until per-subcommand flags are parsed.
	slogger := multislogger.New(slog.NewTextHandler(os.Stderr, nil)).Logger

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	if err := runSubcommand(); err != nil {
		if errors.Is(err, errHelpRequested) {
			os.Exit(0)
		}
		slogger.Log(context.TODO(), slog.LevelError,
			"command failed",
			"command", os.Args[1],
			"err", err,
		)
		os.Exit(1)
	}
}

// errHelpRequested marks a -h/--help exit so it does not report as a
// failure.
var errHelpRequested = errors.New("help requested")

func runSubcommand() error {
	var run func([]string) error
	switch os.Args[1] {
	case "collect":
		run = runCollect
	case "query":
		run = runQuery
	case "watch":
		run = runWatch
	case "report":
		run = runReport
	case "tail":
		run = runTail
	case "status":
		run = runStatus
	case "init":
		run = runInit
	case "generate-config":
		run = runGenerateConfig
	case "db":
		run = runDB
	case "help", "-h", "--help":
		usage(os.Stdout)
		return nil
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", os.Args[1])
	}

	if err := run(os.Args[2:]); err != nil {
		return fmt.Errorf("running %s: %w", os.Args[1], err)
	}
	return nil
}

func usage(w *os.File) {
	fmt.Fprint(w, `Usage: sentinel <command> [flags]

Commands:
  collect          pull event logs from the configured hosts
  query            search collected logs with SQL or filters
  watch            run the alerting daemon
  report           generate a security posture report
  tail             stream collected logs
  status           show database statistics
  init             initialize the database schema
  generate-config  write a sample configuration file
  db               database maintenance (prune, vacuum, backup, export, import)

Run 'sentinel <command> -h' for command flags.
`)
}
