// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package packetstream reads and writes multiplexed packet stream logs.
//
// A packet stream is an append-only binary log that interleaves timestamped
// payload records ("frames") from multiple registered sources. Every record
// is introduced by a three-byte tag, record metadata is JSON, and payloads
// are raw bytes. A seekable stream may carry a trailing index that maps
// each (source, sequence number) pair to the byte position of its frame,
// allowing direct seeks; streams without an index are indexed incrementally
// as they are read.
//
// Reader is the random-access consumer. It follows growing streams written
// through a named pipe by a concurrent producer, tolerates corrupt or
// unrecognized record framing by resynchronizing on the next known tag, and
// hands payload bytes to the caller through an explicit consumption window
// (see Reader.NextFrame).
//
// Writer is the matching producer. It exists primarily so recordings can be
// created and replayed from Go, and emits bit-identical framing to other
// producers of the format.
package packetstream
