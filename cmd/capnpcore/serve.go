package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cloudflare/capnpcore/internal/httpapi"
)

// serveCommand runs the HTTP decode/canonicalize surface, following
// cloudflared's pattern of running the listener in an errgroup alongside a
// signal-triggered graceful shutdown goroutine.
func serveCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the decode/canonicalize HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-address",
				Usage: "address to listen on",
				Value: "127.0.0.1:8080",
			},
		},
		Action: func(c *cli.Context) error {
			server := httpapi.New(log)
			if cfg.TraversalLimitWords != 0 {
				server.TraversalLimitWords = cfg.TraversalLimitWords
			}
			if cfg.NestingLimit != 0 {
				server.NestingLimit = int32(cfg.NestingLimit)
			}
			addr := c.String("listen-address")
			if !c.IsSet("listen-address") && cfg.ListenAddress != "" {
				addr = cfg.ListenAddress
			}
			httpServer := &http.Server{
				Addr:    addr,
				Handler: server,
			}

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				log.Info().Str("address", httpServer.Addr).Msg("serving capnpcore HTTP API")
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			group.Go(func() error {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				select {
				case <-sig:
				case <-ctx.Done():
					return nil
				}
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			return group.Wait()
		},
	}
}
