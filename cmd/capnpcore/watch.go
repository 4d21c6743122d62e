package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	capnpcore "github.com/cloudflare/capnpcore"
)

// watchCommand monitors a directory for new or rewritten ".capnp.bin"
// message files and writes each one's canonical form alongside it as
// ".canon", the way a build pipeline might keep canonicalized fixtures in
// sync with hand-edited message files.
func watchCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "canonicalize message files as they appear in a directory",
		ArgsUsage: "DIRECTORY",
		Action: func(c *cli.Context) error {
			dir := c.Args().First()
			if dir == "" {
				dir = cfg.WatchDirectory
			}
			if dir == "" {
				return cli.Exit("watch requires a DIRECTORY argument or a configured watchDirectory", 1)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			if err := watcher.Add(dir); err != nil {
				return err
			}

			log.Info().Str("directory", dir).Msg("watching for message files")
			for {
				select {
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					if !strings.HasSuffix(event.Name, ".capnp.bin") {
						continue
					}
					if err := canonicalizeFile(event.Name); err != nil {
						log.Error().Err(err).Str("file", event.Name).Msg("failed to canonicalize")
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("watcher error")
				case <-c.Context.Done():
					return nil
				}
			}
		},
	}
}

func canonicalizeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	msg, err := capnpcore.Decode(f, readerOptions())
	if err != nil {
		return err
	}
	root, err := msg.Root()
	if err != nil {
		return err
	}
	canon, err := capnpcore.Canonicalize(root.Struct())
	if err != nil {
		return err
	}

	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".canon"
	return os.WriteFile(outPath, canon, 0644)
}
