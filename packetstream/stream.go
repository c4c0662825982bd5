// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package packetstream

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

const streamBufferSize = 64 * 1024

// taggedStream is the byte-level stream primitive.
//
// It layers tag peek/read, varint and timestamp scalars, position tracking
// and a bounded payload "data window" on top of a buffered file. Positions
// are tracked logically so they remain valid for non-seekable media.
//
// A peeked tag has already been consumed from the underlying file; tell
// compensates so that reported positions refer to the tag's first byte.
type taggedStream struct {
	f  *os.File
	br *bufio.Reader

	// pos is the logical offset of the next byte ReadByte would return.
	pos int64

	canSeek bool

	// tag is the peeked tag; valid only while tagged is true.
	tag    Tag
	tagged bool

	// window is the remaining byte count of the declared data window.
	window int64

	// eod is latched when a read hits the end of the available data.
	eod bool
}

var _ io.Reader = (*taggedStream)(nil)
var _ io.ByteReader = (*taggedStream)(nil)

// newTaggedStream adopts f as a stream. Seekability is probed, not assumed,
// so FIFOs handed over as *os.File are classified correctly.
func newTaggedStream(f *os.File) *taggedStream {
	s := &taggedStream{
		f:  f,
		br: bufio.NewReaderSize(f, streamBufferSize),
	}
	if pos, err := f.Seek(0, io.SeekCurrent); err == nil {
		s.canSeek = true
		s.pos = pos
	}
	return s
}

func (s *taggedStream) close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// good reports whether more data can be read.
func (s *taggedStream) good() bool { return s.f != nil && !s.eod }

func (s *taggedStream) seekable() bool { return s.canSeek }

// tell returns the logical position, adjusted for a peeked tag.
func (s *taggedStream) tell() int64 {
	if s.tagged {
		return s.pos - tagLen
	}
	return s.pos
}

// seek repositions the stream at an absolute offset, dropping any peeked
// tag and open data window.
func (s *taggedStream) seek(pos int64) error {
	if !s.canSeek {
		return errors.WithStack(ErrNotSeekable)
	}
	if _, err := s.f.Seek(pos, io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking stream")
	}
	s.br.Reset(s.f)
	s.pos = pos
	s.tagged = false
	s.window = 0
	s.eod = false
	return nil
}

// seekFromEnd repositions the stream offset bytes before the end and
// returns the resulting absolute position.
func (s *taggedStream) seekFromEnd(offset int64) (int64, error) {
	if !s.canSeek {
		return 0, errors.WithStack(ErrNotSeekable)
	}
	pos, err := s.f.Seek(-offset, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrap(err, "seeking stream")
	}
	s.br.Reset(s.f)
	s.pos = pos
	s.tagged = false
	s.window = 0
	s.eod = false
	return pos, nil
}

// ReadByte implements io.ByteReader, tracking the stream position.
func (s *taggedStream) ReadByte() (byte, error) {
	b, err := s.br.ReadByte()
	if err != nil {
		s.eod = true
		return 0, err
	}
	s.pos++
	return b, nil
}

// Read implements io.Reader, tracking the stream position.
func (s *taggedStream) Read(p []byte) (int, error) {
	n, err := s.br.Read(p)
	s.pos += int64(n)
	if err != nil {
		s.eod = true
	}
	return n, err
}

// peekTag returns the next record's tag without consuming it. At end of
// data it returns TagEnd and latches eod.
func (s *taggedStream) peekTag() (Tag, error) {
	if s.tagged {
		return s.tag, nil
	}
	var b [tagLen]byte
	if _, err := io.ReadFull(s, b[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			s.eod = true
			return TagEnd, nil
		}
		return TagNone, errors.Wrap(err, "reading tag")
	}
	s.tag = packTag(b[0], b[1], b[2])
	s.tagged = true
	return s.tag, nil
}

// readTag consumes the next tag. If expect is not TagNone, a differing tag
// is a format error.
func (s *taggedStream) readTag(expect Tag) (Tag, error) {
	t, err := s.peekTag()
	if err != nil {
		return TagNone, err
	}
	s.tagged = false
	if expect != TagNone && t != expect {
		return t, formatErrf("expected tag %v, found %v", expect, t)
	}
	return t, nil
}

// resyncFromTag discards bytes until a known tag boundary is found, seeding
// the scan with the unrecognized tag bytes already consumed. The found tag
// is left peeked. Returns the number of bytes discarded.
func (s *taggedStream) resyncFromTag() (int64, error) {
	w := s.tag.bytes()
	s.tagged = false

	var skipped int64
	for {
		b, err := s.ReadByte()
		if err != nil {
			if err == io.EOF {
				return skipped, nil
			}
			return skipped, errors.Wrap(err, "resynchronizing")
		}
		skipped++
		w[0], w[1], w[2] = w[1], w[2], b

		if t := packTag(w[0], w[1], w[2]); t.known() {
			s.tag = t
			s.tagged = true
			return skipped, nil
		}
	}
}

// readUINT reads one varint-encoded unsigned scalar.
func (s *taggedStream) readUINT() (int64, error) {
	var v uint64
	var shift uint
	for {
		b, err := s.ReadByte()
		if err != nil {
			return 0, errors.Wrap(err, "reading varint")
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return int64(v), nil
		}
		shift += 7
		if shift > 63 {
			return 0, formatErrf("varint overflows 64 bits")
		}
	}
}

// readTimestamp reads one 8-byte little-endian microsecond timestamp.
func (s *taggedStream) readTimestamp() (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(s, b[:]); err != nil {
		return 0, errors.Wrap(err, "reading timestamp")
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// setDataLen declares a payload data window of n bytes.
func (s *taggedStream) setDataLen(n int64) { s.window = n }

// dataLen returns the remaining bytes of the declared data window.
func (s *taggedStream) dataLen() int64 { return s.window }

// readData fills p from the stream, shrinking the data window.
//
// The caller is responsible for clamping len(p) to dataLen.
func (s *taggedStream) readData(p []byte) (int, error) {
	n, err := io.ReadFull(s, p)
	s.shrinkWindow(int64(n))
	if err != nil {
		return n, errors.Wrap(err, "reading payload")
	}
	return n, nil
}

// discard skips n stream bytes, shrinking the data window if one is open.
func (s *taggedStream) discard(n int64) error {
	for n > 0 {
		chunk := n
		const maxChunk = 1 << 30
		if chunk > maxChunk {
			chunk = maxChunk
		}
		dn, err := s.br.Discard(int(chunk))
		s.pos += int64(dn)
		s.shrinkWindow(int64(dn))
		if err != nil {
			s.eod = true
			return errors.Wrap(err, "skipping payload")
		}
		n -= int64(dn)
	}
	return nil
}

func (s *taggedStream) shrinkWindow(n int64) {
	if s.window > 0 {
		s.window -= n
		if s.window < 0 {
			s.window = 0
		}
	}
}
