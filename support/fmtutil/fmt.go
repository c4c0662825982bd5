// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package fmtutil contains formatting helpers for stream diagnostics.
package fmtutil

import (
	"encoding/hex"
	"fmt"
)

// Hex is a byte slice that renders as a hex dump.
//
// Wrapping payload bytes in Hex defers the dump until the value is actually
// formatted, so it can be handed to leveled loggers cheaply.
type Hex []byte

func (h Hex) String() string { return hex.Dump([]byte(h)) }

// ByteSize renders a byte count with a binary-prefix unit.
type ByteSize int64

func (s ByteSize) String() string {
	const unit = 1024
	if s < unit {
		return fmt.Sprintf("%d B", int64(s))
	}
	div, exp := int64(unit), 0
	for n := int64(s) / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(s)/float64(div), "KMGTPE"[exp])
}
