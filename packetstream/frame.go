// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package packetstream

import (
	"time"

	"github.com/plasticuproject/pangolin/support/jsonblob"
)

// Frame describes one located, not yet consumed, data record.
//
// A Frame is valid until the next NextFrame or Seek call on the Reader that
// produced it. A nil *Frame is the "no frame" sentinel, returned at end of
// stream or when a pipe has no data available yet.
type Frame struct {
	// Src is the id of the source that produced this frame.
	Src SourceID
	// SequenceNum is the 0-based, per-source ordinal of this frame. It is
	// assigned by the reader, not stored in the stream.
	SequenceNum int64
	// TimeUS is the frame timestamp in microseconds.
	TimeUS int64
	// Size is the payload byte length.
	Size int64

	// FrameStreamPos is the position of the first byte of the frame record,
	// which is the metadata marker when Meta is present.
	FrameStreamPos int64
	// PacketStreamPos is the position of the payload marker. It equals
	// FrameStreamPos for frames without metadata.
	PacketStreamPos int64

	// Meta is the frame's metadata blob, or nil if the frame had none.
	Meta *jsonblob.Value
}

// Time returns the frame timestamp.
func (f *Frame) Time() time.Time {
	return time.UnixMicro(f.TimeUS).UTC()
}

// HasMeta returns whether the frame carried a metadata record.
func (f *Frame) HasMeta() bool { return f.Meta != nil }
