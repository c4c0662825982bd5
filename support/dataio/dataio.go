// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package dataio adapts generic io streams into byte-granular streams.
//
// Packet stream records are parsed a byte at a time: tags are three raw
// bytes, unsigned scalars are varints, and JSON blobs are self-delimited
// and must be consumed exactly. Parsers therefore operate on Reader, and
// encoders on Writer, which guarantee single-byte operations regardless of
// the underlying stream.
package dataio

import (
	"io"
)

// Reader is a reader that can read both individual bytes and sequences of
// bytes.
type Reader interface {
	io.Reader
	io.ByteReader
}

// MakeReader returns a Reader for r, wrapping it if necessary.
func MakeReader(r io.Reader) Reader {
	if dr, ok := r.(Reader); ok {
		return dr
	}
	return &simulatedReader{r}
}

type simulatedReader struct {
	io.Reader
}

func (r *simulatedReader) ReadByte() (byte, error) {
	var d [1]byte
	amt, err := r.Read(d[:])
	if amt == 1 {
		// A successful single-byte read satisfies ReadByte even if the
		// underlying reader also returned io.EOF.
		return d[0], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

// Writer is a writer that can write both individual bytes and sequences of
// bytes.
type Writer interface {
	io.Writer
	io.ByteWriter
}

// MakeWriter returns a Writer for w, wrapping it if necessary.
func MakeWriter(w io.Writer) Writer {
	if dw, ok := w.(Writer); ok {
		return dw
	}
	return &simulatedWriter{w}
}

type simulatedWriter struct {
	io.Writer
}

func (w *simulatedWriter) WriteByte(c byte) error {
	d := [1]byte{c}
	switch amt, err := w.Write(d[:]); {
	case err != nil:
		return err
	case amt != 1:
		panic("invalid Writer implementation")
	default:
		return nil
	}
}
