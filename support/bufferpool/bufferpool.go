// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package bufferpool maintains a pool of reusable record-assembly buffers.
//
// The stream writer stages each record (tag, scalars, payload) in a Buffer
// and emits it with a single Write call, so consumers tailing a pipe see
// whole records per write. Pooling keeps a steady producer from allocating
// per record.
package bufferpool

import (
	"bytes"
	"sync"
)

// Pool maintains a pool of buffers, allocating new ones when none are
// available.
type Pool struct {
	base sync.Pool
}

// Get returns a reset Buffer.
//
// The caller must return the buffer to the pool by calling its Release
// method when done with it.
func (p *Pool) Get() *Buffer {
	b, ok := p.base.Get().(*Buffer)
	if !ok {
		b = &Buffer{}
	}
	b.pool = p
	b.Reset()
	return b
}

// Buffer is a byte buffer that can be released back to its Pool for reuse.
//
// A Buffer must only be released once, and must not be used after Release.
type Buffer struct {
	bytes.Buffer

	pool *Pool
}

// Release returns the buffer to its pool.
func (b *Buffer) Release() {
	var pool *Pool
	pool, b.pool = b.pool, nil
	if pool != nil {
		pool.base.Put(b)
	}
}
