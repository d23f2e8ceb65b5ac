package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sentinelsh/sentinel/pkg/config"
)

func runGenerateConfig(args []string) error {
	fs := flag.NewFlagSet("sentinel generate-config", flag.ContinueOnError)
	flPath := fs.String("path", "config.yaml", "where to write the sample configuration")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	// Allow "sentinel generate-config myconfig.yaml" too.
	path := *flPath
	if rest := fs.Args(); len(rest) > 0 {
		path = rest[0]
	}

	if err := config.WriteSample(path); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Sample configuration generated: %s\n", path)
	return nil
}
