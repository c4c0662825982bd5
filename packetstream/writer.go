// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package packetstream

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/plasticuproject/pangolin/support/bufferpool"
	"github.com/plasticuproject/pangolin/support/jsonblob"
	"github.com/plasticuproject/pangolin/support/logging"

	"github.com/pkg/errors"
)

// WriterConfig configures packet stream production.
type WriterConfig struct {
	// SyncInterval is the number of frames written between sync markers.
	// Zero disables automatic sync markers; a live producer feeding a pipe
	// should set this so a late-joining reader can resynchronize.
	SyncInterval int

	// NowFunc, if not nil, is the function used to get the current time for
	// the stream header. If nil, time.Now is used.
	NowFunc func() time.Time

	// Logger, if not nil, receives writer diagnostics.
	Logger logging.L
}

func (cfg *WriterConfig) now() time.Time {
	if cfg.NowFunc != nil {
		return cfg.NowFunc()
	}
	return time.Now()
}

// Writer produces a packet stream.
//
// Writer exists so recordings can be produced and replayed from Go; its
// framing is bit-identical to the reference producer's. Each record is
// assembled in a pooled buffer and emitted with a single Write call, so a
// reader tailing a pipe observes whole records per write.
//
// Writer is not safe for concurrent use.
type Writer struct {
	*WriterConfig

	w       io.Writer
	c       io.Closer // nil if the sink is not owned
	pos     int64
	canSeek bool

	sources []*Source
	nextSeq []int64
	index   packetIndex

	framesSinceSync int
	pool            bufferpool.Pool
	closed          bool
}

// Create creates (or truncates) the file at path and begins a packet
// stream in it: magic prefix and header record. The file is owned by the
// Writer and closed by Close.
func (cfg *WriterConfig) Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating stream %q", path)
	}
	w, err := cfg.makeWriter(f, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// MakeWriter begins a packet stream on an arbitrary sink. The sink is not
// closed by Close.
func (cfg *WriterConfig) MakeWriter(sink io.Writer) (*Writer, error) {
	return cfg.makeWriter(sink, nil)
}

func (cfg *WriterConfig) makeWriter(sink io.Writer, c io.Closer) (*Writer, error) {
	w := &Writer{
		WriterConfig: cfg,
		w:            sink,
		c:            c,
	}
	// Seekability is probed, not assumed, so a FIFO handed over as an
	// *os.File is classified correctly.
	if sk, ok := sink.(io.Seeker); ok {
		if _, err := sk.Seek(0, io.SeekCurrent); err == nil {
			w.canSeek = true
		}
	}
	if err := w.writeLeading(); err != nil {
		return nil, err
	}
	return w, nil
}

// writeLeading emits the magic prefix and the header record.
func (w *Writer) writeLeading() error {
	if err := w.emit(Magic); err != nil {
		return err
	}

	hdr, err := json.Marshal(&struct {
		TimeUS int64 `json:"time_us"`
	}{TimeUS: w.now().UnixMicro()})
	if err != nil {
		return errors.Wrap(err, "encoding header")
	}

	b := w.pool.Get()
	defer b.Release()
	putTag(b, TagPangoHdr)
	b.Write(hdr)
	b.WriteByte('\n')
	return w.emit(b.Bytes())
}

// AddSource registers src and emits its registration record, returning the
// assigned id. The descriptor's ID field is overwritten.
//
// Sources may be added at any time before Close; frames for a source must
// follow its registration.
func (w *Writer) AddSource(src *Source) (SourceID, error) {
	if w.closed {
		return NoSource, errors.WithStack(ErrClosed)
	}

	src.ID = SourceID(len(w.sources))
	blob, err := marshalSource(src)
	if err != nil {
		return NoSource, err
	}

	b := w.pool.Get()
	defer b.Release()
	putTag(b, TagAddSource)
	b.Write(blob)
	b.WriteByte('\n')
	if err := w.emit(b.Bytes()); err != nil {
		return NoSource, err
	}

	w.sources = append(w.sources, src)
	w.nextSeq = append(w.nextSeq, 0)
	return src.ID, nil
}

// WriteFrame emits one frame for src with the given timestamp and payload.
func (w *Writer) WriteFrame(src SourceID, timeUS int64, payload []byte) error {
	return w.writeFrame(src, timeUS, nil, payload)
}

// WriteFrameMeta emits one metadata-bearing frame for src.
func (w *Writer) WriteFrameMeta(src SourceID, timeUS int64, meta *jsonblob.Value, payload []byte) error {
	return w.writeFrame(src, timeUS, meta, payload)
}

func (w *Writer) writeFrame(src SourceID, timeUS int64, meta *jsonblob.Value, payload []byte) error {
	if w.closed {
		return errors.WithStack(ErrClosed)
	}
	if src < 0 || int(src) >= len(w.sources) {
		return errors.Wrapf(ErrUnknownSource, "source %d", src)
	}
	desc := w.sources[src]
	if desc.FixedSize() && int64(len(payload)) != desc.DataSizeBytes {
		return errors.Errorf("source %d frames are fixed at %d bytes; payload is %d",
			src, desc.DataSizeBytes, len(payload))
	}

	// A sync marker must directly precede a payload marker: a reader's
	// post-sync scan stops only on payload and end tags, and would consume
	// an intervening metadata record. Defer the sync when this frame
	// carries metadata.
	if w.SyncInterval > 0 && w.framesSinceSync >= w.SyncInterval && meta == nil {
		if err := w.WriteSync(); err != nil {
			return err
		}
	}

	framePos := w.pos

	b := w.pool.Get()
	defer b.Release()
	if meta != nil {
		putTag(b, TagSrcJSON)
		putUINT(b, int64(src))
		b.Write(meta.Raw())
	}
	putTag(b, TagSrcPacket)
	putTimestamp(b, timeUS)
	putUINT(b, int64(src))
	if !desc.FixedSize() {
		putUINT(b, int64(len(payload)))
	}
	b.Write(payload)

	if err := w.emit(b.Bytes()); err != nil {
		return err
	}

	w.index.add(src, w.nextSeq[src], framePos)
	w.nextSeq[src]++
	w.framesSinceSync++
	writerFrames.Inc()
	return nil
}

// WriteSync emits a sync marker: the magic prefix re-emitted mid-stream as
// a resynchronization point.
func (w *Writer) WriteSync() error {
	if w.closed {
		return errors.WithStack(ErrClosed)
	}
	if err := w.emit(Magic); err != nil {
		return err
	}
	w.framesSinceSync = 0
	writerSyncs.Inc()
	return nil
}

// Close terminates the stream: end marker, then, on a seekable sink, the
// index record and footer. A non-seekable sink gets the end marker only;
// the index is located through the trailer, which a pipe consumer can
// never seek to. If the sink is owned it is closed. Close is idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	b := w.pool.Get()
	defer b.Release()

	putTag(b, TagEnd)

	if w.canSeek {
		indexPos := w.pos + int64(b.Len())
		blob, err := json.Marshal(&struct {
			SrcPacketIndex [][]int64 `json:"src_packet_index"`
		}{SrcPacketIndex: w.index.positions()})
		if err != nil {
			return errors.Wrap(err, "encoding index record")
		}
		putTag(b, TagPangoStats)
		b.Write(blob)

		putTag(b, TagPangoFooter)
		var fp [8]byte
		binary.LittleEndian.PutUint64(fp[:], uint64(indexPos))
		b.Write(fp[:])
	}

	if err := w.emit(b.Bytes()); err != nil {
		return err
	}
	w.logger().Debugf("stream closed at %d bytes", w.pos)

	if w.c != nil {
		return errors.Wrap(w.c.Close(), "closing stream")
	}
	return nil
}

// NumFrames returns the number of frames written for src.
func (w *Writer) NumFrames(src SourceID) int64 {
	if src < 0 || int(src) >= len(w.nextSeq) {
		return 0
	}
	return w.nextSeq[src]
}

// Position returns the byte offset the next record will be written at.
func (w *Writer) Position() int64 { return w.pos }

func (w *Writer) emit(record []byte) error {
	n, err := w.w.Write(record)
	w.pos += int64(n)
	writerBytes.Add(float64(n))
	if err != nil {
		return errors.Wrap(err, "writing stream")
	}
	return nil
}

func (w *Writer) logger() logging.L { return logging.Must(w.Logger) }

func putTag(b *bufferpool.Buffer, t Tag) {
	tb := t.bytes()
	b.Write(tb[:])
}

func putUINT(b *bufferpool.Buffer, v int64) {
	u := uint64(v)
	for u >= 0x80 {
		b.WriteByte(byte(u) | 0x80)
		u >>= 7
	}
	b.WriteByte(byte(u))
}

func putTimestamp(b *bufferpool.Buffer, timeUS int64) {
	var tb [8]byte
	binary.LittleEndian.PutUint64(tb[:], uint64(timeUS))
	b.Write(tb[:])
}
