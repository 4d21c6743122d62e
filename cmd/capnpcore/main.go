// Command capnpcore is a CLI around the capnpcore wire-format engine:
// encode/decode/pack/unpack/canonicalize a message, serve the engine over
// HTTP, or watch a directory and canonicalize files as they land. The
// command layout and flag style follow cloudflared's cmd/cloudflared:
// an urfave/cli/v2 App with one subcommand per verb.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	capnpcore "github.com/cloudflare/capnpcore"
	"github.com/cloudflare/capnpcore/internal/cmdlog"
	"github.com/cloudflare/capnpcore/internal/config"
)

var (
	// Version and BuildTime are overridden at link time, the same
	// ldflags-driven pattern cloudflared's main.go uses.
	Version   = "DEV"
	BuildTime = "unknown"
)

// cfg holds the loaded configuration file, shared by the subcommands for
// their defaults. It is never nil after the app's Before hook runs.
var cfg = &config.Config{}

func main() {
	log := cmdlog.New(cmdlog.Config{Level: "info"})
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Debug().Msgf(format, args...)
	})); err != nil {
		log.Warn().Err(err).Msg("failed to set GOMAXPROCS")
	}

	app := &cli.App{
		Name:      "capnpcore",
		Usage:     "inspect, transcode, and canonicalize Cap'n Proto messages",
		Version:   fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Copyright: fmt.Sprintf("(c) %d Cloudflare, Inc.", time.Now().Year()),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a capnpcore config `FILE`",
			},
			&cli.StringFlag{
				Name:  "loglevel",
				Usage: "log level: debug, info, warn, error",
				Value: "info",
			},
		},
		Before: func(c *cli.Context) error {
			loaded, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			cfg = loaded

			level := c.String("loglevel")
			if !c.IsSet("loglevel") && cfg.LogLevel != "" {
				level = cfg.LogLevel
			}
			*log = *cmdlog.New(cmdlog.Config{Level: level, File: cfg.LogFile})
			if cfg.Source() != "" {
				log.Debug().Str("path", cfg.Source()).Msg("loaded configuration file")
			}
			return nil
		},
		Commands: []*cli.Command{
			encodeCommand(log),
			decodeCommand(log),
			packCommand(log),
			unpackCommand(log),
			canonicalizeCommand(log),
			serveCommand(log),
			watchCommand(log),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error().Err(err).Msg("capnpcore failed")
		os.Exit(1)
	}
}

// readerOptions translates the configured resource limits into the
// engine's ReaderOptions, leaving the engine defaults in place for
// anything unset.
func readerOptions() capnpcore.ReaderOptions {
	return capnpcore.ReaderOptions{
		TraversalLimitInWords: cfg.TraversalLimitWords,
		NestingLimit:          int32(cfg.NestingLimit),
	}
}
