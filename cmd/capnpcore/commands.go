package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	capnpcore "github.com/cloudflare/capnpcore"
	"github.com/cloudflare/capnpcore/packed"
)

func openInput(c *cli.Context) (io.ReadCloser, error) {
	if path := c.Args().First(); path != "" {
		return os.Open(path)
	}
	return io.NopCloser(os.Stdin), nil
}

func encodeCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "encode",
		Usage:     "wrap a text value as a single-field framed message, written to stdout",
		ArgsUsage: "TEXT",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("encode requires exactly one TEXT argument", 1)
			}
			msg, seg, err := capnpcore.NewMessage(capnpcore.NewMultiSegmentArena(1, capnpcore.GeometricGrowth))
			if err != nil {
				return err
			}
			p, err := capnpcore.NewText(seg, c.Args().First())
			if err != nil {
				return err
			}
			if err := msg.SetRoot(p); err != nil {
				return err
			}
			_, err = msg.WriteTo(os.Stdout)
			return err
		},
	}
}

func decodeCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "parse a framed message from stdin (or FILE) and report its segment layout",
		ArgsUsage: "[FILE]",
		Action: func(c *cli.Context) error {
			in, err := openInput(c)
			if err != nil {
				return err
			}
			defer in.Close()

			msg, err := capnpcore.Decode(in, readerOptions())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "segments: %d\n", msg.NumSegments())
			for i := int64(0); i < msg.NumSegments(); i++ {
				seg, err := msg.Segment(capnpcore.SegmentID(i))
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "  segment %d: %d words\n", i, seg.Len()/8)
			}
			canon, err := capnpcore.IsCanonical(msg)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "canonical: %v\n", canon)
			return nil
		},
	}
}

func packCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "pack",
		Usage:     "apply the zero/non-zero run-length packing codec to stdin, writing to stdout",
		ArgsUsage: "[FILE]",
		Action: func(c *cli.Context) error {
			in, err := openInput(c)
			if err != nil {
				return err
			}
			defer in.Close()

			w := packed.NewWriter(os.Stdout)
			if _, err := io.Copy(w, in); err != nil {
				return err
			}
			return w.Close()
		},
	}
}

func unpackCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "unpack",
		Usage:     "reverse the packing codec on stdin, writing unpacked bytes to stdout",
		ArgsUsage: "[FILE]",
		Action: func(c *cli.Context) error {
			in, err := openInput(c)
			if err != nil {
				return err
			}
			defer in.Close()

			r := packed.NewReader(in)
			_, err = io.Copy(os.Stdout, r)
			return err
		},
	}
}

func canonicalizeCommand(log *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "canonicalize",
		Usage:     "parse a framed message from stdin (or FILE) and write its canonical root struct to stdout",
		ArgsUsage: "[FILE]",
		Action: func(c *cli.Context) error {
			in, err := openInput(c)
			if err != nil {
				return err
			}
			defer in.Close()

			msg, err := capnpcore.Decode(in, readerOptions())
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
			_, err = os.Stdout.Write(canon)
			return err
		},
	}
}
