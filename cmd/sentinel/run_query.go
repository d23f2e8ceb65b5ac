package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sentinelsh/sentinel/pkg/analyze"
	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

func runQuery(args []string) error {
	fs := flag.NewFlagSet("sentinel query", flag.ContinueOnError)
	var (
		flConfig   = fs.String("config", "config.yaml", "path to configuration file")
		flQuery    = fs.String("query", "", "raw SQL query to execute")
		flEventID  = fs.Int("event_id", 0, "filter by event id")
		flSeverity = fs.String("severity", "", "filter by severity level")
		flHost     = fs.String("host", "", "filter by hostname/IP substring")
		flLast     = fs.String("last", "24h", "time range (e.g. 1h, 24h, 7d)")
		flLimit    = fs.Int("limit", 100, "maximum number of results")
		flExport   = fs.String("export", "", "export results to this CSV file")
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

	var res *logstore.Result
	if *flQuery != "" {
		raw := strings.TrimRight(strings.TrimSpace(*flQuery), ";")
		res, err = store.Query(ctx, fmt.Sprintf("%s LIMIT %d", raw, *flLimit))
	} else {
		res, err = analyzer.Search(ctx, analyze.SearchOptions{
			EventID:   *flEventID,
			Severity:  *flSeverity,
			Host:      *flHost,
			TimeRange: *flLast,
			Limit:     *flLimit,
		})
	}
	if err != nil {
		return err
	}

	if len(res.Rows) == 0 {
		fmt.Fprintln(os.Stdout, "No results found")
		return nil
	}

	if err := writeTable(os.Stdout, res); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\n%d records\n", len(res.Rows))

	if *flExport != "" {
		f, err := os.Create(*flExport)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()

		if err := analyze.WriteCSV(f, res); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Results exported to %s\n", *flExport)
	}

	return nil
}
