package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v3"

	"github.com/sentinelsh/sentinel/pkg/config"
	"github.com/sentinelsh/sentinel/pkg/credentials"
	"github.com/sentinelsh/sentinel/pkg/storage/logstore"
)

// parseFlags parses args with SENTINEL_* env var fallback.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("SENTINEL")); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errHelpRequested
		}
		return fmt.Errorf("parsing flags: %w", err)
	}
	return nil
}

// chainProvider builds the credential chain, seeded with any
// credentials embedded in the config file.
func chainProvider(slogger *slog.Logger, cfg *config.Config) credentials.Provider {
	fromConfig := make(map[string]credentials.Credential)
	for _, t := range cfg.Targets {
		if t.Credentials != nil {
			fromConfig[t.IP] = credentials.Credential{
				Username: t.Credentials.Username,
				Password: t.Credentials.Password,
			}
		}
	}
	return credentials.NewChainProvider(slogger, credentials.WithConfigCredentials(fromConfig))
}

// writeTable renders a query result as an aligned text table.
func writeTable(w io.Writer, res *logstore.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	for i, col := range res.Columns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, col)
	}
	fmt.Fprintln(tw)

	for _, row := range res.Rows {
		for i, val := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, val)
		}
		fmt.Fprintln(tw)
	}

	return tw.Flush()
}
