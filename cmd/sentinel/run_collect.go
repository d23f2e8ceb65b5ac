package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sentinelsh/sentinel/pkg/collector"
	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/rungroup"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

func runCollect(args []string) error {
	fs := flag.NewFlagSet("sentinel collect", flag.ContinueOnError)
	var (
		flConfig     = fs.String("config", "config.yaml", "path to configuration file")
		flContinuous = fs.Bool("continuous", false, "collect on an interval instead of once")
		flInterval   = fs.Int("interval", 300, "collection interval in seconds for continuous mode")
		flDebug      = fs.Bool("debug", false, "enable debug logging")
		flLogFile    = fs.String("log_file", "", "also write logs to this rotating file")
	)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	slogger := newLogger(*flDebug, *flLogFile)

	cfg, err := config.Load(slogger, *flConfig)
	if err != nil {
		return err
	}
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("no targets configured in %s", *flConfig)
	}

	store, err := logstore.Open(slogger, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	coll := collector.New(slogger, cfg, store, chainProvider(slogger, cfg))

	if !*flContinuous {
		stats, err := coll.RunCycle(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Collected %d entries from %d hosts (%d failed) in %s\n",
			stats.Inserted, len(stats.Hosts), stats.Failed(), stats.Elapsed.Round(time.Millisecond))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	actor := collector.NewActor(ctx, slogger, coll, time.Duration(*flInterval)*time.Second)
	pruner := newPruneActor(slogger, store, cfg.Database.RetentionDays)
	listener := newSignalListener(make(chan os.Signal, 1), cancel, slogger)

	runner := rungroup.NewRunGroup(slogger)
	runner.Add("signalListener", listener.Execute, listener.Interrupt)
	runner.Add("collector", actor.Execute, actor.Interrupt)
	runner.Add("pruner", pruner.Execute, pruner.Interrupt)

	return runner.Run()
}
