// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

//go:build unix

package pipeutil

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("pipeutil", func() {
	var tdir string

	BeforeEach(func() {
		var err error
		tdir, err = os.MkdirTemp("", "pipeutil_test")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tdir)
	})

	Context("IsPipe", func() {
		It("distinguishes FIFOs from regular files", func() {
			regular := filepath.Join(tdir, "regular")
			Expect(os.WriteFile(regular, []byte("x"), 0o644)).To(Succeed())
			Expect(IsPipe(regular)).To(BeFalse())

			fifo := filepath.Join(tdir, "fifo")
			Expect(unix.Mkfifo(fifo, 0o600)).To(Succeed())
			Expect(IsPipe(fifo)).To(BeTrue())

			Expect(IsPipe(filepath.Join(tdir, "missing"))).To(BeFalse())
		})
	})

	Context("HasDataToRead", func() {
		var fifo string
		var fd int

		BeforeEach(func() {
			fifo = filepath.Join(tdir, "fifo")
			Expect(unix.Mkfifo(fifo, 0o600)).To(Succeed())

			var err error
			fd, err = ReadableFileDescriptor(fifo)
			Expect(err).ToNot(HaveOccurred())
		})

		AfterEach(func() {
			if fd >= 0 {
				Expect(CloseDescriptor(fd)).To(Succeed())
				fd = -1
			}
		})

		It("reports no data before a producer writes", func() {
			ready, err := HasDataToRead(fd)
			Expect(err).ToNot(HaveOccurred())
			Expect(ready).To(BeFalse())
		})

		It("reports data once a producer has written", func() {
			w, err := os.OpenFile(fifo, os.O_WRONLY, 0)
			Expect(err).ToNot(HaveOccurred())
			defer func() { _ = w.Close() }()

			_, err = w.Write([]byte("PANGO"))
			Expect(err).ToNot(HaveOccurred())

			Eventually(func() (bool, error) {
				return HasDataToRead(fd)
			}).Should(BeTrue())
		})
	})
})

func TestPipeUtil(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing pipeutil")
}
