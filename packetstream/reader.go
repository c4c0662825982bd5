// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package packetstream

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/plasticuproject/pangolin/support/jsonblob"
	"github.com/plasticuproject/pangolin/support/logging"
	"github.com/plasticuproject/pangolin/support/pipeutil"

	"github.com/pkg/errors"
)

// headerTimeField is the header record's stream start timestamp key, in
// microseconds.
const headerTimeField = "time_us"

// footerLen is the byte length of the stream trailer: the footer tag plus
// the 8-byte index position. These are the final bytes of a seekable
// stream.
const footerLen = tagLen + 8

// Reader is a random-access packet stream session.
//
// The zero Reader is ready for Open. Exported fields must be set before
// Open and not modified afterwards.
//
// A Reader serves one logical consumer. Operations are serialized by a
// session lock whose lifetime is unusual: a successful NextFrame returns
// while still holding the lock, which is only released once the frame's
// payload window has been fully drained by Read, Skip or DiscardPayload.
// Every frame returned by NextFrame must therefore be drained before any
// other operation on the session.
type Reader struct {
	// Logger, if not nil, receives warnings for recoverable conditions:
	// unrecognized tags, clamped payload reads, index misses on seek.
	Logger logging.L

	mu sync.Mutex
	// locked is true while mu is held on behalf of an open payload window.
	// It is touched only by the session's single logical consumer (see the
	// type comment), never concurrently, so it is read without mu.
	locked bool

	path   string
	isPipe bool
	// pipeProbe is one plus a probe descriptor for a pipe awaiting data;
	// zero means none is held. The session owns the descriptor until it is
	// adopted as the stream or closed.
	pipeProbe int

	stream  *taggedStream
	startUS int64
	header  *jsonblob.Value

	sources []*Source
	nextSeq []int64
	index   packetIndex

	// warnedLegacyIndex dedupes the legacy position mismatch warning for
	// this session.
	warnedLegacyIndex bool
}

// Open opens the packet stream at path, closing any prior session.
//
// For a regular file, Open verifies the magic prefix, parses the header
// record and any leading source registrations, and, if a valid trailing
// index is present, loads it. A missing or corrupt index is not an error;
// the index is then built incrementally by forward reads.
//
// For a named pipe, Open completes immediately; the magic and header are
// parsed by the first NextFrame call that finds data available.
func (r *Reader) Open(path string) error {
	r.forceRelease()
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.closeLocked(); err != nil {
		return err
	}

	r.path = path
	r.isPipe = pipeutil.IsPipe(path)
	if r.isPipe {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening stream %q", path)
	}
	if err := r.beginStream(f); err != nil {
		_ = f.Close()
		return err
	}
	return nil
}

// Close releases the stream and any pipe descriptor, and clears the source
// registry. Close is idempotent.
func (r *Reader) Close() error {
	r.forceRelease()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

// forceRelease abandons an open payload window, releasing the session lock
// held on its behalf.
func (r *Reader) forceRelease() {
	if r.locked {
		r.locked = false
		if r.stream != nil {
			r.stream.setDataLen(0)
		}
		r.mu.Unlock()
	}
}

func (r *Reader) closeLocked() error {
	var err error
	if r.stream != nil {
		err = r.stream.close()
		r.stream = nil
	}
	if r.pipeProbe != 0 {
		if cerr := pipeutil.CloseDescriptor(r.pipeProbe - 1); err == nil {
			err = cerr
		}
		r.pipeProbe = 0
	}
	r.sources = nil
	r.nextSeq = nil
	r.index.reset()
	r.header = nil
	r.startUS = 0
	r.warnedLegacyIndex = false
	return err
}

// beginStream adopts f as the session stream and parses its leading
// records. Session parse state is reset first; for a pipe this reflects a
// fresh producer session.
func (r *Reader) beginStream(f *os.File) error {
	r.sources = nil
	r.nextSeq = nil
	r.index.reset()

	s := newTaggedStream(f)
	if err := r.readMagic(s); err != nil {
		return err
	}
	r.setupIndex(s)
	if err := r.parseHeader(s); err != nil {
		return err
	}
	for {
		t, err := s.peekTag()
		if err != nil {
			return err
		}
		if t != TagAddSource {
			break
		}
		if err := r.parseNewSource(s); err != nil {
			return err
		}
	}

	r.stream = s
	return nil
}

func (r *Reader) readMagic(s *taggedStream) error {
	for i, want := range Magic {
		b, err := s.ReadByte()
		if err != nil {
			return formatErrf("stream ends inside the magic prefix (byte %d)", i)
		}
		if b != want {
			return formatErrf("unrecognized stream magic (byte %d is 0x%02x)", i, b)
		}
	}
	return nil
}

// parseHeader consumes a header record: tag, JSON blob and trailing
// newline.
func (r *Reader) parseHeader(s *taggedStream) error {
	if _, err := s.readTag(TagPangoHdr); err != nil {
		return err
	}
	v, err := jsonblob.Read(s)
	if err != nil {
		return errors.Wrap(err, "parsing header")
	}
	startUS, err := v.Int(headerTimeField)
	if err != nil {
		return errors.Wrap(err, "parsing header")
	}
	if _, err := s.ReadByte(); err != nil {
		return errors.Wrap(err, "parsing header")
	}

	r.header = v
	r.startUS = startUS
	return nil
}

// parseNewSource consumes a source registration record and registers the
// source. The registered id must equal the current registry size.
func (r *Reader) parseNewSource(s *taggedStream) error {
	if _, err := s.readTag(TagAddSource); err != nil {
		return err
	}
	v, err := jsonblob.Read(s)
	if err != nil {
		return errors.Wrap(err, "parsing source registration")
	}
	if _, err := s.ReadByte(); err != nil {
		return errors.Wrap(err, "parsing source registration")
	}

	src, err := parseSource(v)
	if err != nil {
		return err
	}
	if int(src.ID) != len(r.sources) {
		return formatErrf("source id mismatch (got %d, expected %d); stream may be corrupt",
			src.ID, len(r.sources))
	}
	r.sources = append(r.sources, src)
	for int(src.ID) >= len(r.nextSeq) {
		r.nextSeq = append(r.nextSeq, 0)
	}
	return nil
}

// setupIndex opportunistically loads the packet index from the stream
// trailer. Every failure mode leaves the session with an empty index and
// is non-fatal; the stream is restored to its prior position.
func (r *Reader) setupIndex(s *taggedStream) {
	if !s.seekable() {
		return
	}
	resume := s.tell()
	defer func() {
		_ = s.seek(resume)
	}()

	if _, err := s.seekFromEnd(footerLen); err != nil {
		return
	}
	if t, err := s.peekTag(); err != nil || t != TagPangoFooter {
		return
	}
	if _, err := s.readTag(TagPangoFooter); err != nil {
		return
	}
	var b [8]byte
	if _, err := io.ReadFull(s, b[:]); err != nil {
		return
	}
	indexPos := int64(binary.LittleEndian.Uint64(b[:]))

	if err := s.seek(indexPos); err != nil {
		return
	}
	if t, err := s.peekTag(); err != nil || t != TagPangoStats {
		return
	}
	if err := r.parseIndexRecord(s); err != nil {
		r.logger().Warnf("discarding unreadable stream index: %v", err)
		r.index.reset()
	}
}

// parseIndexRecord consumes an index record and merges it into the packet
// index.
func (r *Reader) parseIndexRecord(s *taggedStream) error {
	if _, err := s.readTag(TagPangoStats); err != nil {
		return err
	}
	v, err := jsonblob.Read(s)
	if err != nil {
		return errors.Wrap(err, "parsing index record")
	}
	if !v.Has(indexField) {
		return nil
	}
	return r.index.mergeBlob(v)
}

// goodToRead reports whether the stream has data to read, performing the
// pipe readiness probe and reopen when it does not.
//
// The probe is a one-shot, zero-timeout poll: if the pipe has no data the
// caller sees the no-frame sentinel and decides whether to retry.
func (r *Reader) goodToRead() bool {
	if r.stream != nil && r.stream.good() {
		return true
	}
	if !r.isPipe {
		return false
	}

	if r.pipeProbe == 0 {
		fd, err := pipeutil.ReadableFileDescriptor(r.path)
		if err != nil {
			return false
		}
		r.pipeProbe = fd + 1
	}
	ready, err := pipeutil.HasDataToRead(r.pipeProbe - 1)
	if err != nil || !ready {
		return false
	}

	// Data is available. Adopt the probe descriptor as the session stream;
	// ownership moves here, and reads from now on block on the producer.
	fd := r.pipeProbe - 1
	r.pipeProbe = 0
	if err := pipeutil.SetBlocking(fd); err != nil {
		_ = pipeutil.CloseDescriptor(fd)
		return false
	}
	f := os.NewFile(uintptr(fd), r.path)
	if f == nil {
		_ = pipeutil.CloseDescriptor(fd)
		return false
	}

	if r.stream != nil {
		_ = r.stream.close()
		r.stream = nil
	}
	if err := r.beginStream(f); err != nil {
		r.logger().Warnf("reopening pipe stream: %v", err)
		_ = f.Close()
		return false
	}
	readerPipeReopens.Inc()
	return r.stream.good()
}

// dispatch advances the stream past housekeeping records until it lands on
// a frame, returning nil when the stream is exhausted or not ready.
func (r *Reader) dispatch() (*Frame, error) {
	for r.goodToRead() {
		t, err := r.stream.peekTag()
		if err != nil {
			return nil, err
		}

		switch t {
		case TagPangoSync:
			// A sync marker from a live producer; skip to the next frame.
			if err := r.skipSync(); err != nil {
				return nil, err
			}

		case TagAddSource:
			// A source registered mid-stream.
			if err := r.parseNewSource(r.stream); err != nil {
				return nil, err
			}

		case TagSrcJSON, TagSrcPacket:
			return r.readFrameHeader()

		case TagPangoStats:
			// A late-arriving index record; merge it.
			if err := r.parseIndexRecord(r.stream); err != nil {
				return nil, err
			}

		case TagPangoFooter, TagEnd:
			// End of frames.
			return nil, nil

		case TagPangoHdr:
			// A header mid-stream is unexpected; re-parse it defensively.
			if err := r.parseHeader(r.stream); err != nil {
				return nil, err
			}

		default:
			r.logger().Warnf("unexpected tag %v in stream, resynchronizing", t)
			readerResyncs.Inc()
			skipped, err := r.stream.resyncFromTag()
			if err != nil {
				return nil, err
			}
			readerResyncBytes.Add(float64(skipped))
		}
	}
	return nil, nil
}

// skipSync consumes a sync marker, then scans forward past any intervening
// tags until the next packet or end marker.
func (r *Reader) skipSync() error {
	if _, err := r.stream.readTag(TagPangoSync); err != nil {
		return err
	}

	// The peeked tag covered the marker's shared prefix; the two
	// continuation bytes remain.
	for _, want := range Magic[tagLen:] {
		b, err := r.stream.ReadByte()
		if err != nil {
			return errors.Wrap(err, "reading sync marker")
		}
		if b != want {
			return formatErrf("malformed sync marker continuation (0x%02x)", b)
		}
	}

	for {
		t, err := r.stream.peekTag()
		if err != nil {
			return err
		}
		if t == TagSrcPacket || t == TagEnd {
			return nil
		}
		if _, err := r.stream.readTag(TagNone); err != nil {
			return err
		}
	}
}

// readFrameHeader parses a full frame header at the current position: an
// optional metadata record followed by the mandatory payload marker.
func (r *Reader) readFrameHeader() (*Frame, error) {
	s := r.stream
	fi := &Frame{Src: NoSource, FrameStreamPos: s.tell()}

	t, err := s.peekTag()
	if err != nil {
		return nil, err
	}
	if t == TagSrcJSON {
		if _, err := s.readTag(TagSrcJSON); err != nil {
			return nil, err
		}
		id, err := s.readUINT()
		if err != nil {
			return nil, err
		}
		fi.Src = SourceID(id)
		if fi.Meta, err = jsonblob.Read(s); err != nil {
			return nil, errors.Wrap(err, "parsing frame metadata")
		}
	}

	fi.PacketStreamPos = s.tell()

	if _, err := s.readTag(TagSrcPacket); err != nil {
		return nil, err
	}
	if fi.TimeUS, err = s.readTimestamp(); err != nil {
		return nil, err
	}
	id, err := s.readUINT()
	if err != nil {
		return nil, err
	}
	if fi.HasMeta() {
		// Metadata must be followed by a frame from the same source.
		if SourceID(id) != fi.Src {
			return nil, formatErrf(
				"frame metadata names source %d but payload names %d; stream may be corrupt",
				fi.Src, id)
		}
	} else {
		fi.Src = SourceID(id)
	}

	if fi.Src < 0 || int(fi.Src) >= len(r.sources) {
		return nil, formatErrf("frame references unregistered source %d", fi.Src)
	}

	fi.Size = r.sources[fi.Src].DataSizeBytes
	if fi.Size == 0 {
		if fi.Size, err = s.readUINT(); err != nil {
			return nil, err
		}
	}
	fi.SequenceNum = r.nextSeq[fi.Src]

	return fi, nil
}

// reconcileIndex records the frame in the packet index, tolerating streams
// produced by writers that recorded payload positions instead of frame
// positions.
func (r *Reader) reconcileIndex(fi *Frame) error {
	if !r.stream.seekable() {
		return nil
	}
	switch pos := r.index.position(fi.Src, fi.SequenceNum); {
	case pos < 0:
		r.index.add(fi.Src, fi.SequenceNum, fi.FrameStreamPos)

	case pos == fi.FrameStreamPos:
		// Already indexed at this position.

	case pos == fi.PacketStreamPos:
		// Streams from older producers index payload marker positions
		// rather than frame positions. Tolerated; the entry stays as
		// recorded.
		if !r.warnedLegacyIndex {
			r.logger().Warn("stream index records payload positions; written by an older producer")
			r.warnedLegacyIndex = true
		}

	case fi.FrameStreamPos == fi.PacketStreamPos && pos < fi.FrameStreamPos:
		// Re-reading a frame that Seek positioned past its metadata record:
		// the index entry points at the metadata marker, which precedes the
		// position observed now. The entry stays authoritative.

	default:
		return formatErrf(
			"index position %d for source %d frame %d matches neither the frame (%d) nor the payload (%d)",
			pos, fi.Src, fi.SequenceNum, fi.FrameStreamPos, fi.PacketStreamPos)
	}
	return nil
}

// NextFrame returns the next frame for src in stream encounter order,
// discarding frames of other sources along the way.
//
// A nil Frame with a nil error means no frame is available: the stream is
// exhausted, or a pipe has no data yet (poll by calling NextFrame again).
//
// On success the session lock remains held and a payload window of
// Frame.Size bytes is open: the caller must drain it with Read, Skip or
// DiscardPayload before any other operation on this Reader. Calling
// NextFrame with a window still open fails with ErrPayloadPending. On
// error, and when no frame is found, the lock is released before
// returning.
func (r *Reader) NextFrame(src SourceID) (*Frame, error) {
	if r.locked {
		return nil, errors.WithStack(ErrPayloadPending)
	}
	r.mu.Lock()
	retained := false
	defer func() {
		if !retained {
			r.mu.Unlock()
		}
	}()

	for {
		fi, err := r.dispatch()
		if err != nil {
			return nil, err
		}
		if fi == nil {
			return nil, nil
		}

		// The counter tracks sequence numbers for every encountered frame,
		// not just the requested source's.
		r.nextSeq[fi.Src]++
		if err := r.reconcileIndex(fi); err != nil {
			return nil, err
		}
		r.stream.setDataLen(fi.Size)

		if fi.Src == src {
			readerFrames.Inc()
			r.locked = true
			retained = true
			return fi, nil
		}

		readerFramesSkipped.Inc()
		if err := r.stream.discard(fi.Size); err != nil {
			return nil, err
		}
	}
}

// Read consumes payload bytes from the frame most recently returned by
// NextFrame.
//
// Reads beyond the remaining payload are clamped to it, with a warning.
// When the payload window reaches zero the session lock taken by NextFrame
// is released.
func (r *Reader) Read(p []byte) (int, error) {
	if r.stream == nil || (!r.locked && r.stream.dataLen() == 0) {
		return 0, errors.WithStack(ErrNoPayload)
	}
	if remaining := r.stream.dataLen(); int64(len(p)) > remaining {
		r.logger().Warnf("read of %d bytes requested with %d remaining in payload; clamping",
			len(p), remaining)
		p = p[:remaining]
	}

	n, err := r.stream.readData(p)
	if err != nil {
		// The window is no longer trustworthy; abandon it.
		r.forceRelease()
		return n, err
	}
	if r.stream.dataLen() == 0 {
		r.release()
	}
	return n, nil
}

// Skip discards payload bytes from the frame most recently returned by
// NextFrame. Like Read, oversized requests are clamped, and exhausting the
// window releases the session lock.
func (r *Reader) Skip(n int64) (int64, error) {
	if r.stream == nil || (!r.locked && r.stream.dataLen() == 0) {
		return 0, errors.WithStack(ErrNoPayload)
	}
	if remaining := r.stream.dataLen(); n > remaining {
		r.logger().Warnf("skip of %d bytes requested with %d remaining in payload; clamping",
			n, remaining)
		n = remaining
	}

	if err := r.stream.discard(n); err != nil {
		r.forceRelease()
		return 0, err
	}
	if r.stream.dataLen() == 0 {
		r.release()
	}
	return n, nil
}

// DiscardPayload drains any open payload window, releasing the session
// lock held on its behalf. It is a no-op when no window is open.
func (r *Reader) DiscardPayload() error {
	if r.stream == nil || (!r.locked && r.stream.dataLen() == 0) {
		return nil
	}
	_, err := r.Skip(r.stream.dataLen())
	return err
}

// release closes the payload window and releases the session lock held by
// NextFrame.
func (r *Reader) release() {
	if r.locked {
		r.locked = false
		r.mu.Unlock()
	}
}

// Seek positions the stream at frame number frame of source src and
// returns its descriptor, leaving the stream on the frame's payload
// marker; the next NextFrame(src) call yields that frame.
//
// Seek requires a seekable medium. Positions known to the packet index are
// jumped to directly; unknown targets are found by reading forward, which
// populates the index as a side effect. Any pending payload window is
// drained first.
//
// Seek rewinds the next-sequence counter for src only. Counters for other
// sources are left as forward reading advanced them; a subsequent backward
// seek for a different source must name its own target explicitly.
func (r *Reader) Seek(src SourceID, frame int64) (*Frame, error) {
	if err := r.DiscardPayload(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return nil, errors.WithStack(ErrClosed)
	}
	if !r.stream.seekable() {
		return nil, errors.WithStack(ErrNotSeekable)
	}
	if src < 0 || int(src) >= len(r.sources) {
		return nil, errors.Wrapf(ErrUnknownSource, "source %d", src)
	}

	for !r.index.has(src, frame) {
		r.logger().Warnf("seek target (source %d, frame %d) not indexed; reading ahead", src, frame)
		readerSeekMisses.Inc()

		fi, err := r.dispatch()
		if err != nil {
			return nil, err
		}
		if fi == nil {
			return nil, errors.Wrapf(ErrFrameNotFound, "source %d frame %d", src, frame)
		}
		r.nextSeq[fi.Src]++
		if err := r.reconcileIndex(fi); err != nil {
			return nil, err
		}
		if err := r.stream.discard(fi.Size); err != nil {
			return nil, err
		}
	}
	readerSeekHits.Inc()

	if err := r.stream.seek(r.index.position(src, frame)); err != nil {
		return nil, err
	}
	r.nextSeq[src] = frame

	fi, err := r.readFrameHeader()
	if err != nil {
		return nil, err
	}
	if err := r.stream.seek(fi.PacketStreamPos); err != nil {
		return nil, err
	}
	return fi, nil
}

// Sources returns the registered source descriptors, in id order.
//
// The returned slice is a snapshot; descriptors themselves are shared and
// immutable.
func (r *Reader) Sources() []*Source {
	return append([]*Source(nil), r.sources...)
}

// Source returns the descriptor for src.
func (r *Reader) Source(src SourceID) (*Source, error) {
	if src < 0 || int(src) >= len(r.sources) {
		return nil, errors.Wrapf(ErrUnknownSource, "source %d", src)
	}
	return r.sources[src], nil
}

// NextSequence returns the sequence number the next frame of src will be
// assigned.
func (r *Reader) NextSequence(src SourceID) (int64, error) {
	if src < 0 || int(src) >= len(r.nextSeq) {
		return 0, errors.Wrapf(ErrUnknownSource, "source %d", src)
	}
	return r.nextSeq[src], nil
}

// StartTime returns the stream's recording start time, from the header.
func (r *Reader) StartTime() time.Time { return time.UnixMicro(r.startUS).UTC() }

// Header returns the stream header blob, or nil before the header has been
// parsed.
func (r *Reader) Header() *jsonblob.Value { return r.header }

// Seekable returns whether the session medium supports Seek.
func (r *Reader) Seekable() bool { return r.stream != nil && r.stream.seekable() }

// Path returns the path passed to Open.
func (r *Reader) Path() string { return r.path }

func (r *Reader) logger() logging.L { return logging.Must(r.Logger) }
