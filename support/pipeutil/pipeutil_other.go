// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

//go:build !unix

package pipeutil

// IsPipe returns whether path names a FIFO. Never true on this platform.
func IsPipe(path string) bool { return false }

// ReadableFileDescriptor is not supported on this platform.
func ReadableFileDescriptor(path string) (int, error) { return -1, ErrNotSupported }

// HasDataToRead is not supported on this platform.
func HasDataToRead(fd int) (bool, error) { return false, ErrNotSupported }

// SetBlocking is not supported on this platform.
func SetBlocking(fd int) error { return ErrNotSupported }

// CloseDescriptor is not supported on this platform.
func CloseDescriptor(fd int) error { return ErrNotSupported }
