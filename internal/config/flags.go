package config

import (
	"flag"
	"os"
	"strings"

	"github.com/kinloop/kinloop/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-r string   comma-separated relay URLs (default from Config)
//	-d string   sqlite DSN of the device-local store (default from Config)
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-r", "-d"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	relays := fs.String("r", strings.Join(cfg.RelayURLs, ","), "comma-separated relay URLs")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "sqlite DSN of the local store")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *relays != "" {
		cfg.RelayURLs = strings.Split(*relays, ",")
	}
}
