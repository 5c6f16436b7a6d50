package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/profilekeeper/internal/flagx"
)

// parseFlags applies the command-line overrides. Arguments it does not know
// are filtered out first, so other components may own their own flags.
//
//	-d string   data directory
//	-b string   storage driver (sqlite or bolt)
//	-l string   log level
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-d", "-b", "-l"})

	fs := flag.NewFlagSet("profilekeeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.Storage.Dir, "d", cfg.Storage.Dir, "data directory")
	fs.StringVar(&cfg.Storage.Driver, "b", cfg.Storage.Driver, "storage driver: sqlite or bolt")
	fs.StringVar(&cfg.Log.Level, "l", cfg.Log.Level, "log level: debug, info, warn or error")

	return fs.Parse(args)
}
