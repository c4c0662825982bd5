// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package packetstream

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	readerFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_reader_frames",
		Help: "Count of frames returned to callers.",
	})

	readerFramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_reader_frames_skipped",
		Help: "Count of frames discarded while scanning for a requested source.",
	})

	readerResyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_reader_resyncs",
		Help: "Count of resynchronizations after an unrecognized tag.",
	})

	readerResyncBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_reader_resync_bytes",
		Help: "Count of bytes discarded while resynchronizing.",
	})

	readerSeekHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_reader_seek_index_hits",
		Help: "Count of seeks satisfied directly from the packet index.",
	})

	readerSeekMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_reader_seek_index_misses",
		Help: "Count of forward scans performed to populate the packet index.",
	})

	readerPipeReopens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_reader_pipe_reopens",
		Help: "Count of pipe stream reopens after new data arrived.",
	})

	writerFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_writer_frames",
		Help: "Count of frames written.",
	})

	writerSyncs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_writer_syncs",
		Help: "Count of sync markers written.",
	})

	writerBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pangolin_writer_bytes",
		Help: "Count of bytes written, including record framing.",
	})
)

// RegisterMonitoring registers all of this package's monitoring metrics.
func RegisterMonitoring(reg prometheus.Registerer) {
	reg.MustRegister(
		// Reader
		readerFrames,
		readerFramesSkipped,
		readerResyncs,
		readerResyncBytes,
		readerSeekHits,
		readerSeekMisses,
		readerPipeReopens,

		// Writer
		writerFrames,
		writerSyncs,
		writerBytes,
	)
}
