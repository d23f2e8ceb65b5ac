package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sentinelsh/sentinel/pkg/analyze"
	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

func runReport(args []string) error {
	fs := flag.NewFlagSet("sentinel report", flag.ContinueOnError)
	var (
		flConfig = fs.String("config", "config.yaml", "path to configuration file")
		flOutput = fs.String("output", "security_report.md", "output path for the report")
		flPeriod = fs.String("period", "24h", "reporting period (e.g. 24h, 7d)")
		flFormat = fs.String("format", "markdown", "output format: markdown, html, or json")
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

	analyzer := analyze.New(slogger, store)
	report, err := analyzer.GenerateReport(context.Background(), *flPeriod)
	if err != nil {
		return err
	}

	var content string
	switch *flFormat {
	case "markdown":
		content = report.RenderMarkdown()
	case "html":
		content = report.RenderHTML()
	case "json":
		content, err = report.RenderJSON()
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown report format %q", *flFormat)
	}

	if err := os.WriteFile(*flOutput, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing report to %s: %w", *flOutput, err)
	}

	fmt.Fprintf(os.Stdout, "Report written to %s\n", *flOutput)
	return nil
}
