// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package packetstream

import (
	"encoding/json"

	"github.com/plasticuproject/pangolin/support/jsonblob"

	"github.com/pkg/errors"
)

// SourceID identifies a registered source within a stream.
//
// Ids are small dense integers assigned sequentially from 0 at registration
// time.
type SourceID int

// NoSource is the SourceID sentinel for "no source".
const NoSource SourceID = -1

// Source registration record field names.
const (
	srcFieldDriver  = "driver"
	srcFieldID      = "id"
	srcFieldURI     = "uri"
	srcFieldInfo    = "info"
	srcFieldVersion = "version"
	srcFieldPacket  = "packet"

	pktFieldAlignment   = "alignment_bytes"
	pktFieldDefinitions = "definitions"
	pktFieldSizeBytes   = "size_bytes"
)

// Source describes one logical data producer registered in a stream.
//
// A Source is immutable once registered.
type Source struct {
	// ID is the source's dense integer id. Assigned at registration; any
	// value supplied to Writer.AddSource is overwritten.
	ID SourceID

	// Driver is the producer type name.
	Driver string
	// URI locates the producer.
	URI string
	// Info is opaque producer metadata, or nil if none was recorded.
	Info *jsonblob.Value
	// Version is the producer's record version.
	Version int64

	// DataAlignmentBytes is the payload alignment.
	DataAlignmentBytes int64
	// DataDefinitions is the payload schema string.
	DataDefinitions string
	// DataSizeBytes is the fixed payload size for every frame of this
	// source. Zero means payloads are variable-sized, with each frame
	// carrying its own length.
	DataSizeBytes int64
}

// FixedSize returns whether every frame of this source has the same
// payload size.
func (s *Source) FixedSize() bool { return s.DataSizeBytes != 0 }

// parseSource decodes a source registration blob.
func parseSource(v *jsonblob.Value) (*Source, error) {
	var src Source
	var err error

	if src.Driver, err = v.String(srcFieldDriver); err != nil {
		return nil, errors.Wrap(err, "source registration")
	}
	id, err := v.Int(srcFieldID)
	if err != nil {
		return nil, errors.Wrap(err, "source registration")
	}
	src.ID = SourceID(id)
	if src.URI, err = v.String(srcFieldURI); err != nil {
		return nil, errors.Wrap(err, "source registration")
	}
	if src.Version, err = v.Int(srcFieldVersion); err != nil {
		return nil, errors.Wrap(err, "source registration")
	}
	if v.Has(srcFieldInfo) {
		if src.Info, err = v.Get(srcFieldInfo); err != nil {
			return nil, errors.Wrap(err, "source registration")
		}
	}

	if src.DataAlignmentBytes, err = v.Int(srcFieldPacket, pktFieldAlignment); err != nil {
		return nil, errors.Wrap(err, "source registration")
	}
	if src.DataDefinitions, err = v.String(srcFieldPacket, pktFieldDefinitions); err != nil {
		return nil, errors.Wrap(err, "source registration")
	}
	if src.DataSizeBytes, err = v.Int(srcFieldPacket, pktFieldSizeBytes); err != nil {
		return nil, errors.Wrap(err, "source registration")
	}

	return &src, nil
}

type sourcePacketJSON struct {
	AlignmentBytes int64  `json:"alignment_bytes"`
	Definitions    string `json:"definitions"`
	SizeBytes      int64  `json:"size_bytes"`
}

type sourceJSON struct {
	Driver  string           `json:"driver"`
	ID      int64            `json:"id"`
	Info    json.RawMessage  `json:"info,omitempty"`
	URI     string           `json:"uri"`
	Version int64            `json:"version"`
	Packet  sourcePacketJSON `json:"packet"`
}

// marshalSource encodes a source registration blob.
func marshalSource(src *Source) ([]byte, error) {
	sj := sourceJSON{
		Driver:  src.Driver,
		ID:      int64(src.ID),
		URI:     src.URI,
		Version: src.Version,
		Packet: sourcePacketJSON{
			AlignmentBytes: src.DataAlignmentBytes,
			Definitions:    src.DataDefinitions,
			SizeBytes:      src.DataSizeBytes,
		},
	}
	if src.Info != nil {
		sj.Info = json.RawMessage(src.Info.Raw())
	}
	d, err := json.Marshal(&sj)
	if err != nil {
		return nil, errors.Wrap(err, "encoding source registration")
	}
	return d, nil
}
