// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Command pangodump prints the contents of a packet stream.
//
// It dumps the header and source registry, then walks the frames of one
// source. With --follow it keeps polling a named pipe for new frames, the
// way a live consumer would.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/plasticuproject/pangolin/packetstream"
	"github.com/plasticuproject/pangolin/support/fmtutil"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var (
		source    = pflag.Int("source", 0, "source id whose frames to dump")
		maxFrames = pflag.Int64("max-frames", -1, "stop after this many frames (-1 for all)")
		listOnly  = pflag.Bool("list", false, "print the header and sources, then exit")
		hexDump   = pflag.Bool("hex", false, "hex-dump frame payloads")
		follow    = pflag.Bool("follow", false, "poll a pipe for new frames instead of stopping at end of stream")
		interval  = pflag.Duration("poll-interval", 100*time.Millisecond, "polling interval used with --follow")
		verbose   = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <stream>\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(2)
	}

	logger := makeLogger(*verbose)
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	r := &packetstream.Reader{Logger: sugar}
	if err := r.Open(pflag.Arg(0)); err != nil {
		sugar.Fatalf("could not open stream: %v", err)
	}
	defer func() { _ = r.Close() }()

	if err := dump(r, sugar, *source, *maxFrames, *listOnly, *hexDump, *follow, *interval); err != nil {
		sugar.Fatalf("dump failed: %v", err)
	}
}

func makeLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func dump(r *packetstream.Reader, sugar *zap.SugaredLogger, source int, maxFrames int64,
	listOnly, hexDump, follow bool, interval time.Duration) error {

	if sources := r.Sources(); len(sources) > 0 {
		fmt.Printf("stream %s, started %s\n", r.Path(), r.StartTime().Format(time.RFC3339Nano))
		for _, src := range sources {
			size := "variable"
			if src.FixedSize() {
				size = fmtutil.ByteSize(src.DataSizeBytes).String()
			}
			fmt.Printf("  source %d: driver=%q uri=%q version=%d payload=%s\n",
				src.ID, src.Driver, src.URI, src.Version, size)
		}
	} else {
		sugar.Info("no sources registered yet")
	}
	if listOnly {
		return nil
	}

	var payload []byte
	var n int64
	for maxFrames < 0 || n < maxFrames {
		fi, err := r.NextFrame(packetstream.SourceID(source))
		if err != nil {
			return err
		}
		if fi == nil {
			if !follow {
				return nil
			}
			time.Sleep(interval)
			continue
		}

		if int64(cap(payload)) < fi.Size {
			payload = make([]byte, fi.Size)
		}
		payload = payload[:fi.Size]
		if _, err := r.Read(payload); err != nil {
			return err
		}

		fmt.Printf("frame %d/%d @ %s: %s\n", fi.Src, fi.SequenceNum,
			fi.Time().Format(time.RFC3339Nano), fmtutil.ByteSize(fi.Size))
		if fi.HasMeta() {
			fmt.Printf("  meta: %s\n", fi.Meta.Raw())
		}
		if hexDump {
			fmt.Print(fmtutil.Hex(payload))
		}
		n++
	}
	return nil
}
