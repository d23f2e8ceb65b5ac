package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sentinelsh/sentinel/pkg/analyze"
	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

func runStatus(args []string) error {
	fs := flag.NewFlagSet("sentinel status", flag.ContinueOnError)
	var (
		flConfig = fs.String("config", "config.yaml", "path to configuration file")
		flDebug  = fs.Bool("debug", false, "enable debug logging")
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

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	breakdown, err := analyze.New(slogger, store).Breakdown(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Total Logs\t%d\n", stats.TotalEntries)
	fmt.Fprintf(tw, "Unique Hosts\t%d\n", stats.Hosts)
	fmt.Fprintf(tw, "Database Path\t%s\n", store.Path())
	fmt.Fprintf(tw, "Database Size\t%.2f MB\n", float64(stats.FileSizeByte)/(1024*1024))
	fmt.Fprintf(tw, "Oldest Log\t%s\n", formatStatTime(stats.Oldest))
	fmt.Fprintf(tw, "Newest Log\t%s\n", formatStatTime(stats.Newest))
	for _, s := range breakdown.BySeverity {
		fmt.Fprintf(tw, "%s Events\t%s\n", s.Level, s.Count)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(breakdown.TopEventIDs) > 0 {
		fmt.Fprintln(os.Stdout, "\nTop Event IDs:")
		for _, e := range breakdown.TopEventIDs {
			fmt.Fprintf(os.Stdout, "  Event %s: %s occurrences\n", e.EventID, e.Count)
		}
	}

	return nil
}

func formatStatTime(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format("2006-01-02 15:04:05")
}
