// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package packetstream

import (
	"fmt"

	"github.com/pkg/errors"
)

// FormatError indicates that the stream violates the packet stream format.
//
// Format violations are fatal to the operation that encountered them; they
// are never silently recovered. Unrecognized tags during frame dispatch are
// not format errors (the dispatcher resynchronizes instead; see
// Reader.NextFrame).
type FormatError struct {
	// Reason describes the violation.
	Reason string
}

func (e *FormatError) Error() string { return "stream format error: " + e.Reason }

func formatErrf(format string, args ...interface{}) error {
	return errors.WithStack(&FormatError{Reason: fmt.Sprintf(format, args...)})
}

// IsFormatError returns whether err is a FormatError, unwrapping as needed.
func IsFormatError(err error) bool {
	_, ok := errors.Cause(err).(*FormatError)
	return ok
}

var (
	// ErrNotSeekable is returned by Seek when the underlying medium does not
	// support seeking (a pipe).
	ErrNotSeekable = errors.New("stream is not seekable")

	// ErrUnknownSource is returned when a source id is outside the registry.
	ErrUnknownSource = errors.New("unknown source id")

	// ErrNoPayload is returned by Read and Skip when no payload window is
	// active. NextFrame must succeed before payload bytes can be consumed.
	ErrNoPayload = errors.New("not positioned on a payload block")

	// ErrPayloadPending is returned by NextFrame when the previous frame's
	// payload has not been fully consumed. Drain it with Read, Skip or
	// DiscardPayload first.
	ErrPayloadPending = errors.New("previous frame payload has not been consumed")

	// ErrFrameNotFound is returned by Seek when the requested frame is not
	// present before the end of the stream.
	ErrFrameNotFound = errors.New("frame number not in stream")

	// ErrClosed is returned by operations on a session with no open stream.
	ErrClosed = errors.New("no stream is open")
)
