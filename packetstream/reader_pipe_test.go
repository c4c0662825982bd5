// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

//go:build unix

package packetstream

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reader on a named pipe", func() {
	var tdir, fifo string
	var log *testLogger
	var r *Reader

	BeforeEach(func() {
		var err error
		tdir, err = os.MkdirTemp("", "packetstream_pipe_test")
		Expect(err).ToNot(HaveOccurred())

		fifo = filepath.Join(tdir, "live.pango")
		Expect(unix.Mkfifo(fifo, 0o600)).To(Succeed())

		log = &testLogger{}
		r = &Reader{Logger: log}
	})

	AfterEach(func() {
		if r != nil {
			_ = r.Close()
		}
		_ = os.RemoveAll(tdir)
	})

	// Polls NextFrame until a frame arrives or the deadline passes.
	pollFrame := func(src SourceID) *Frame {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			fi, err := r.NextFrame(src)
			Expect(err).ToNot(HaveOccurred())
			if fi != nil {
				return fi
			}
			time.Sleep(5 * time.Millisecond)
		}
		Fail("timed out waiting for a frame on the pipe")
		return nil
	}

	It("tails a producer that starts after the reader", func() {
		// The pipe exists but no producer has it open; Open completes
		// without reading anything.
		Expect(r.Open(fifo)).To(Succeed())

		// No data yet: the no-frame sentinel, not an error, and the
		// session stays usable.
		fi, err := r.NextFrame(0)
		Expect(err).ToNot(HaveOccurred())
		Expect(fi).To(BeNil())

		producerDone := make(chan error, 1)
		go func() {
			f, err := os.OpenFile(fifo, os.O_WRONLY, 0)
			if err != nil {
				producerDone <- err
				return
			}
			defer func() { _ = f.Close() }()

			w, err := testWriterConfig().MakeWriter(f)
			if err != nil {
				producerDone <- err
				return
			}
			if _, err := w.AddSource(&Source{
				Driver:        "live",
				URI:           "test://live",
				Version:       1,
				DataSizeBytes: 8,
			}); err != nil {
				producerDone <- err
				return
			}
			for i := 1; i <= 3; i++ {
				if err := w.WriteFrame(0, testStartUS+int64(i), repeatByte(byte(i), 8)); err != nil {
					producerDone <- err
					return
				}
			}
			producerDone <- w.Close()
		}()

		for i := 1; i <= 3; i++ {
			fi := pollFrame(0)
			Expect(fi.Src).To(Equal(SourceID(0)))
			Expect(fi.SequenceNum).To(Equal(int64(i - 1)))
			Expect(fi.TimeUS).To(Equal(testStartUS + int64(i)))

			p := make([]byte, fi.Size)
			n, err := r.Read(p)
			Expect(err).ToNot(HaveOccurred())
			Expect(int64(n)).To(Equal(fi.Size))
			Expect(p).To(Equal(repeatByte(byte(i), 8)))
		}

		Expect(<-producerDone).ToNot(HaveOccurred())

		// The producer's trailer ends the frame sequence.
		fi, err = r.NextFrame(0)
		Expect(err).ToNot(HaveOccurred())
		Expect(fi).To(BeNil())

		// Pipes cannot seek.
		Expect(r.Seekable()).To(BeFalse())
		_, err = r.Seek(0, 0)
		Expect(errors.Cause(err)).To(Equal(ErrNotSeekable))
	})
})
