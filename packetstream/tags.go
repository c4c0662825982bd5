// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package packetstream

import (
	"fmt"
)

// Magic is the fixed byte prefix that begins every packet stream.
//
// The sync marker written periodically by live producers is the same byte
// sequence re-emitted mid-stream: its first three bytes peek as
// TagPangoSync and the remaining two are verified by the dispatcher.
var Magic = []byte("PANGO")

// tagLen is the encoded width of a Tag, in bytes.
const tagLen = 3

// Tag identifies the type of the next record in a stream.
//
// A Tag is three ASCII bytes on the wire, packed little-endian for
// comparison.
type Tag uint32

// The tag vocabulary. Byte-exact compatibility with the producer format is
// required; these values must not change.
const (
	// TagNone is the zero Tag. It never appears in a valid stream.
	TagNone Tag = 0

	// TagPangoHdr introduces the stream header record.
	TagPangoHdr = Tag('L') | Tag('I')<<8 | Tag('N')<<16
	// TagPangoSync is the leading three bytes of the magic, encountered
	// mid-stream as a resynchronization point.
	TagPangoSync = Tag('P') | Tag('A')<<8 | Tag('N')<<16
	// TagAddSource introduces a source registration record.
	TagAddSource = Tag('S') | Tag('R')<<8 | Tag('C')<<16
	// TagSrcJSON introduces per-frame metadata. It is always followed by a
	// TagSrcPacket record for the same source.
	TagSrcJSON = Tag('J') | Tag('S')<<8 | Tag('N')<<16
	// TagSrcPacket introduces a frame payload record.
	TagSrcPacket = Tag('P') | Tag('K')<<8 | Tag('T')<<16
	// TagPangoStats introduces an index record.
	TagPangoStats = Tag('S') | Tag('T')<<8 | Tag('A')<<16
	// TagPangoFooter introduces the trailer holding the index position.
	TagPangoFooter = Tag('F') | Tag('T')<<8 | Tag('R')<<16
	// TagEnd marks the end of the frame sequence.
	TagEnd = Tag('E') | Tag('N')<<8 | Tag('D')<<16
)

func packTag(a, b, c byte) Tag {
	return Tag(a) | Tag(b)<<8 | Tag(c)<<16
}

func (t Tag) bytes() [tagLen]byte {
	return [tagLen]byte{byte(t), byte(t >> 8), byte(t >> 16)}
}

// known returns whether t is part of the tag vocabulary.
func (t Tag) known() bool {
	switch t {
	case TagPangoHdr, TagPangoSync, TagAddSource, TagSrcJSON, TagSrcPacket,
		TagPangoStats, TagPangoFooter, TagEnd:
		return true
	default:
		return false
	}
}

// String renders the tag's wire bytes, escaping non-printable characters.
func (t Tag) String() string {
	b := t.bytes()
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%06x", uint32(t))
		}
	}
	return string(b[:])
}
