// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the message codec: every leaf type in this module
// is serialized by explicit field enumeration over the low-level tag/varint/
// length-delimited primitives from google.golang.org/protobuf's protowire
// package. A deserialization failure is reported as
// an error, never a panic — under a Byzantine-tolerant protocol a malformed
// message is adversarial input, not a bug, and must be dropped rather than
// crash the process.
package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed reports that a message could not be parsed. Callers must
// treat this as a dropped packet, not a fatal error.
var ErrMalformed = errors.New("wire: malformed message")

// AppendUint64 appends a varint-tagged scalar field.
func AppendUint64(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	buf = protowire.AppendVarint(buf, v)
	return buf
}

// AppendBytes appends a length-delimited field.
func AppendBytes(buf []byte, num protowire.Number, v []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	buf = protowire.AppendBytes(buf, v)
	return buf
}

// Field is one decoded (number, type, value) tuple produced by ConsumeAll.
type Field struct {
	Num   protowire.Number
	Type  protowire.Type
	U64   uint64
	Bytes []byte
}

// ConsumeAll decodes buf into its sequence of fields. It never panics on
// truncated or invalid input; it returns ErrMalformed instead.
func ConsumeAll(buf []byte) ([]Field, error) {
	var fields []Field
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, ErrMalformed
		}
		buf = buf[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, ErrMalformed
			}
			fields = append(fields, Field{Num: num, Type: typ, U64: v})
			buf = buf[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(buf)
			if n < 0 {
				return nil, ErrMalformed
			}
			fields = append(fields, Field{Num: num, Type: typ, U64: v})
			buf = buf[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, ErrMalformed
			}
			// ConsumeBytes hands back a slice that aliases buf; callers that
			// need it to outlive the next decode step copy it themselves.
			fields = append(fields, Field{Num: num, Type: typ, Bytes: v})
			buf = buf[n:]
		default:
			return nil, ErrMalformed
		}
	}
	return fields, nil
}

// Get returns the first field with the given number.
func Get(fields []Field, num protowire.Number) (Field, bool) {
	for _, f := range fields {
		if f.Num == num {
			return f, true
		}
	}
	return Field{}, false
}

// RequireBytes fetches a required bytes field or reports ErrMalformed.
func RequireBytes(fields []Field, num protowire.Number) ([]byte, error) {
	f, ok := Get(fields, num)
	if !ok || f.Type != protowire.BytesType {
		return nil, ErrMalformed
	}
	return f.Bytes, nil
}

// RequireUint64 fetches a required varint field or reports ErrMalformed.
func RequireUint64(fields []Field, num protowire.Number) (uint64, error) {
	f, ok := Get(fields, num)
	if !ok || f.Type != protowire.VarintType {
		return 0, ErrMalformed
	}
	return f.U64, nil
}
