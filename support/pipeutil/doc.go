// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package pipeutil probes named pipes without blocking.
//
// A reader tailing a stream written through a FIFO must not block waiting
// for a producer. pipeutil classifies paths, obtains readable descriptors
// in non-blocking mode, and polls them with a zero timeout so the caller
// can report "not ready" and retry.
//
// Named pipes are a POSIX facility; on other platforms every operation
// reports ErrNotSupported and IsPipe is always false.
package pipeutil

import "github.com/pkg/errors"

// ErrNotSupported is returned on platforms without named pipe support.
var ErrNotSupported = errors.New("named pipes are not supported on this platform")
