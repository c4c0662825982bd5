// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package jsonblob reads self-delimited JSON values directly off a byte
// stream.
//
// Packet stream records embed JSON blobs (header, source registrations,
// frame metadata, the index) with no length prefix; the blob's own
// structure delimits it. Read consumes exactly the blob's bytes, leaving
// the stream positioned on the byte that follows it, which is what allows
// the surrounding binary parser to keep accurate stream positions.
//
// Field extraction from a captured Value is delegated to
// github.com/buger/jsonparser, which operates on the raw bytes without
// building an intermediate tree.
package jsonblob

import (
	"github.com/plasticuproject/pangolin/support/dataio"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
)

// Value is one captured JSON object or array.
//
// The zero Value is empty and has no fields.
type Value struct {
	raw []byte
}

// FromRaw returns a Value wrapping the supplied JSON bytes.
//
// The bytes are not validated; they are assumed to hold one JSON object or
// array. The Value retains raw.
func FromRaw(raw []byte) *Value { return &Value{raw: raw} }

// Read consumes one JSON object or array from r.
//
// Leading ASCII whitespace is skipped. The first significant byte must open
// an object or array; scalars are not self-delimiting on a byte stream and
// are rejected. On success the stream is positioned immediately after the
// blob's closing brace or bracket.
func Read(r dataio.Reader) (*Value, error) {
	b, err := skipSpace(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading blob start")
	}
	if b != '{' && b != '[' {
		return nil, errors.Errorf("blob does not begin an object or array (got %q)", b)
	}

	var (
		raw      []byte
		depth    int
		inString bool
		escaped  bool
	)
	raw = append(raw, b)
	depth = 1

	for depth > 0 {
		if b, err = r.ReadByte(); err != nil {
			return nil, errors.Wrap(err, "blob truncated")
		}
		raw = append(raw, b)

		switch {
		case escaped:
			escaped = false
		case inString:
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		default:
			switch b {
			case '"':
				inString = true
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}

	return &Value{raw: raw}, nil
}

func skipSpace(r dataio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
		default:
			return b, nil
		}
	}
}

// Raw returns the value's underlying bytes.
func (v *Value) Raw() []byte {
	if v == nil {
		return nil
	}
	return v.raw
}

// Int returns the int64 at the supplied key path.
func (v *Value) Int(keys ...string) (int64, error) {
	n, err := jsonparser.GetInt(v.raw, keys...)
	if err != nil {
		return 0, keyErr(err, keys)
	}
	return n, nil
}

// String returns the string at the supplied key path.
func (v *Value) String(keys ...string) (string, error) {
	s, err := jsonparser.GetString(v.raw, keys...)
	if err != nil {
		return "", keyErr(err, keys)
	}
	return s, nil
}

// Has returns whether the supplied key path is present.
func (v *Value) Has(keys ...string) bool {
	if v == nil {
		return false
	}
	_, _, _, err := jsonparser.Get(v.raw, keys...)
	return err == nil
}

// Get returns the sub-value at the supplied key path.
//
// String values are returned unquoted; all other types are returned as
// their raw JSON encoding.
func (v *Value) Get(keys ...string) (*Value, error) {
	data, _, _, err := jsonparser.Get(v.raw, keys...)
	if err != nil {
		return nil, keyErr(err, keys)
	}
	return &Value{raw: data}, nil
}

// ArrayEach invokes fn for each element of the array at the supplied key
// path. With no keys, the value itself must be an array.
//
// Iteration does not stop early; fn receives each element in order.
func (v *Value) ArrayEach(fn func(*Value), keys ...string) error {
	_, err := jsonparser.ArrayEach(v.raw, func(data []byte, _ jsonparser.ValueType, _ int, _ error) {
		fn(&Value{raw: data})
	}, keys...)
	if err != nil {
		return keyErr(err, keys)
	}
	return nil
}

func keyErr(err error, keys []string) error {
	if err == jsonparser.KeyPathNotFoundError {
		return errors.Errorf("blob is missing field %v", keys)
	}
	if len(keys) == 0 {
		return err
	}
	return errors.Wrapf(err, "field %v", keys)
}
