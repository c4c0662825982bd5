// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package packetstream

import (
	"github.com/plasticuproject/pangolin/support/jsonblob"

	"github.com/pkg/errors"
)

// indexField is the index record's top-level key: a two-dimensional array,
// [source id][sequence number] -> frame byte position.
const indexField = "src_packet_index"

// packetIndex maps (source id, sequence number) to the stream position of
// that frame's first byte.
//
// Entries are immutable once recorded: add never overwrites. Unknown
// entries hold -1.
type packetIndex struct {
	pos [][]int64
}

func (x *packetIndex) reset() { x.pos = nil }

func (x *packetIndex) has(src SourceID, seq int64) bool {
	return x.position(src, seq) >= 0
}

// position returns the recorded position, or -1 if the entry is unknown.
func (x *packetIndex) position(src SourceID, seq int64) int64 {
	if src < 0 || int(src) >= len(x.pos) || seq < 0 || seq >= int64(len(x.pos[src])) {
		return -1
	}
	return x.pos[src][seq]
}

// add records pos for (src, seq), growing the index as needed. An existing
// entry is left untouched.
func (x *packetIndex) add(src SourceID, seq, pos int64) {
	if src < 0 || seq < 0 {
		return
	}
	for int(src) >= len(x.pos) {
		x.pos = append(x.pos, nil)
	}
	for seq >= int64(len(x.pos[src])) {
		x.pos[src] = append(x.pos[src], -1)
	}
	if x.pos[src][seq] < 0 {
		x.pos[src][seq] = pos
	}
}

// sources returns the number of sources the index covers.
func (x *packetIndex) sources() int { return len(x.pos) }

// frames returns the number of indexed frames for src.
func (x *packetIndex) frames(src SourceID) int64 {
	if src < 0 || int(src) >= len(x.pos) {
		return 0
	}
	return int64(len(x.pos[src]))
}

// positions returns the index as a dense two-dimensional array, for
// serialization.
func (x *packetIndex) positions() [][]int64 {
	out := make([][]int64, len(x.pos))
	for i, p := range x.pos {
		out[i] = append([]int64(nil), p...)
		if out[i] == nil {
			out[i] = []int64{}
		}
	}
	return out
}

// mergeBlob merges a serialized index record into the index. Entries
// already present are kept.
func (x *packetIndex) mergeBlob(v *jsonblob.Value) error {
	src := SourceID(0)
	err := v.ArrayEach(func(row *jsonblob.Value) {
		seq := int64(0)
		_ = row.ArrayEach(func(cell *jsonblob.Value) {
			if pos, err := cell.Int(); err == nil {
				x.add(src, seq, pos)
			}
			seq++
		})
		src++
	}, indexField)
	if err != nil {
		return errors.Wrap(err, "decoding index record")
	}
	return nil
}
