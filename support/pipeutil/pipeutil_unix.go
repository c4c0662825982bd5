// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

//go:build unix

package pipeutil

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// IsPipe returns whether path names a FIFO.
//
// Errors (including the path not existing) are reported as false.
func IsPipe(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeNamedPipe != 0
}

// ReadableFileDescriptor opens path for reading without blocking on a
// missing producer.
//
// The returned descriptor is in non-blocking mode and is owned by the
// caller, who must release it with CloseDescriptor or hand it off (e.g. to
// os.NewFile).
func ReadableFileDescriptor(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrapf(err, "opening pipe %q", path)
	}
	return fd, nil
}

// HasDataToRead performs a one-shot, zero-timeout poll of fd for readable
// bytes.
func HasDataToRead(fd int) (bool, error) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	// EINTR means the poll was disturbed, not that the pipe is unreadable.
	n, err := unix.Poll(pfd, 0)
	if err == unix.EINTR {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "polling pipe")
	}
	return n > 0 && pfd[0].Revents&unix.POLLIN != 0, nil
}

// SetBlocking restores blocking mode on fd.
//
// A descriptor from ReadableFileDescriptor should be made blocking before
// it is adopted for stream reads, so that a slow producer stalls the read
// rather than failing it.
func SetBlocking(fd int) error {
	return unix.SetNonblock(fd, false)
}

// CloseDescriptor releases a descriptor obtained from
// ReadableFileDescriptor.
func CloseDescriptor(fd int) error {
	return unix.Close(fd)
}
