package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

// runDB handles database maintenance: prune, vacuum, backup, export,
// and import.
func runDB(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sentinel db <prune|vacuum|backup|export|import> [flags]")
	}

	op := args[0]

	fs := flag.NewFlagSet("sentinel db "+op, flag.ContinueOnError)
	var (
		flConfig = fs.String("config", "config.yaml", "path to configuration file")
		flPath   = fs.String("path", "", "destination or source file for backup/export/import")
		flWhere  = fs.String("where", "", "SQL filter restricting exported rows, e.g. \"event_id = 4625\"")
		flDays   = fs.Int("days", 0, "override retention window in days for prune")
		flDebug  = fs.Bool("debug", false, "enable debug logging")
	)
	if err := parseFlags(fs, args[1:]); err != nil {
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

	switch op {
	case "prune":
		days := *flDays
		if days <= 0 {
			days = cfg.Database.RetentionDays
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		deleted, err := store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Deleted %d entries older than %d days\n", deleted, days)
		return nil

	case "vacuum":
		if err := store.Vacuum(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "Database vacuumed and analyzed")
		return nil

	case "backup":
		if *flPath == "" {
			return fmt.Errorf("backup requires -path")
		}
		if err := store.Backup(ctx, *flPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Backup created: %s\n", *flPath)
		return nil

	case "export":
		if *flPath == "" {
			return fmt.Errorf("export requires -path")
		}
		if err := store.ExportParquet(ctx, *flPath, *flWhere); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Exported to %s\n", *flPath)
		return nil

	case "import":
		if *flPath == "" {
			return fmt.Errorf("import requires -path")
		}
		n, err := store.ImportParquet(ctx, *flPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Imported %d entries from %s\n", n, *flPath)
		return nil

	default:
		return fmt.Errorf("unknown db operation %q", op)
	}
}
