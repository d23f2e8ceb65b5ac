package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

func runInit(args []string) error {
	fs := flag.NewFlagSet("sentinel init", flag.ContinueOnError)
	var (
		flConfig = fs.String("config", "config.yaml", "path to configuration file")
		flYes    = fs.Bool("yes", false, "skip the confirmation prompt")
		flDebug  = fs.Bool("debug", false, "enable debug logging")
	)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if !*flYes && !confirm("Are you sure you want to initialize the database? [y/N] ") {
		fmt.Fprintln(os.Stdout, "Aborted")
		return nil
	}

	slogger := newLogger(*flDebug, "")

	cfg, err := config.Load(slogger, *flConfig)
	if err != nil {
		return err
	}

	// Open creates the schema if it does not exist.
	store, err := logstore.Open(slogger, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Fprintf(os.Stdout, "Database initialized at %s\n", cfg.Database.Path)
	return nil
}

func confirm(prompt string) bool {
	fmt.Fprint(os.Stdout, prompt)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
