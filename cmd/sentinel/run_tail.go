package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelsh/sentinel/pkg/analyze"
	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

func runTail(args []string) error {
	fs := flag.NewFlagSet("sentinel tail", flag.ContinueOnError)
	var (
		flConfig   = fs.String("config", "config.yaml", "path to configuration file")
		flFollow   = fs.Bool("follow", false, "stream new entries as they arrive")
		flFilter   = fs.String("filter", "", "filter expression (e.g. \"event_id=4625\")")
		flLines    = fs.Int("lines", 50, "number of lines to show initially")
		flInterval = fs.Int("interval", 2, "poll interval in seconds for follow mode")
		flDebug    = fs.Bool("debug", false, "enable debug logging")
	)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	slogger := newLogger(*flDebug, "")

	cfg, err := config.Load(slogger, *flConfig)
	if err != nil {
		return err
	}

	store, err := logstore.Open(slogger, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	analyzer := analyze.New(slogger, store)

	if !*flFollow {
		res, err := analyzer.Recent(ctx, *flLines, *flFilter)
		if err != nil {
			return err
		}
		// Recent returns newest first; print oldest first like tail.
		for i := len(res.Rows) - 1; i >= 0; i -= 1 {
			printTailRow(res.Columns, res.Rows[i])
		}
		return nil
	}

	fmt.Fprintln(os.Stdout, "Streaming logs (Ctrl+C to stop)...")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	since := time.Now().UTC()
	ticker := time.NewTicker(time.Duration(*flInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			return nil
		case <-ticker.C:
			res, next, err := analyzer.TailBatch(ctx, since, *flFilter)
			if err != nil {
				slogger.Log(ctx, slog.LevelError,
					"tail poll failed",
					"err", err,
				)
				continue
			}
			for _, row := range res.Rows {
				printTailRow(res.Columns, row)
			}
			since = next
		}
	}
}

// printTailRow prints one entry as "HH:MM:SS host Event id level message".
func printTailRow(columns []string, row []string) {
	byName := make(map[string]string, len(columns))
	for i, col := range columns {
		if i < len(row) {
			byName[col] = row[i]
		}
	}

	ts := byName["timestamp"]
	if t, err := time.Parse("2006-01-02 15:04:05", ts); err == nil {
		ts = t.Format("15:04:05")
	}

	message := byName["message"]
	if len(message) > 200 {
		message = message[:200]
	}

	fmt.Fprintf(os.Stdout, "%s %s Event %s %s %s\n",
		ts, byName["computer"], byName["event_id"], byName["level"], message)
}
