package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/remediate"
	"github.com/sentinelsh/sentinel/pkg/rungroup"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
	"github.com/sentinelsh/sentinel/pkg/watcher"
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("sentinel watch", flag.ContinueOnError)
	var (
		flConfig  = fs.String("config", "config.yaml", "path to configuration file")
		flDebug   = fs.Bool("debug", false, "enable debug logging")
		flLogFile = fs.String("log_file", "", "also write logs to this rotating file")
	)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	slogger := newLogger(*flDebug, *flLogFile)

	cfg, err := config.Load(slogger, *flConfig)
	if err != nil {
		return err
	}
	if !cfg.Alerts.Enabled {
		return fmt.Errorf("alerts are disabled in %s", *flConfig)
	}
	if len(cfg.Alerts.Rules) == 0 {
		return fmt.Errorf("no alert rules configured in %s", *flConfig)
	}

	store, err := logstore.Open(slogger, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	remediator := remediate.New(slogger, cfg, chainProvider(slogger, cfg))
	w := watcher.New(slogger, cfg.Alerts, store, watcher.WithRemediator(remediator))

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := newSignalListener(make(chan os.Signal, 1), cancel, slogger)

	runner := rungroup.NewRunGroup(slogger)
	runner.Add("signalListener", listener.Execute, listener.Interrupt)
	runner.Add("watcher", w.Execute, w.Interrupt)

	return runner.Run()
}
