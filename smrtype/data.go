// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package smrtype

// dataInlineCap is the small-buffer-optimization threshold: payloads at or
// under this size never allocate.
const dataInlineCap = 16

// DataMaxLen is the wire-format ceiling enforced by the codec: Data is
// length-prefixed with a varint, and the codec rejects payloads longer than
// 240 bytes.
const DataMaxLen = 240

// Data is an opaque, variable-length client operation or result. Payloads of
// dataInlineCap bytes or fewer live in-struct; larger payloads spill to a
// heap-allocated slice. Callers should treat Data as a value type and use
// Bytes to read it.
type Data struct {
	inline    [dataInlineCap]byte
	n         int
	overflow  []byte
}

// NewData copies b into a Data. The caller's slice is not retained.
func NewData(b []byte) Data {
	var d Data
	d.n = len(b)
	if len(b) <= dataInlineCap {
		copy(d.inline[:], b)
		return d
	}
	d.overflow = make([]byte, len(b))
	copy(d.overflow, b)
	return d
}

// Bytes returns the payload. The returned slice aliases Data's storage and
// must not be retained past Data's lifetime if Data is reused.
func (d Data) Bytes() []byte {
	if d.n <= dataInlineCap {
		return d.inline[:d.n]
	}
	return d.overflow
}

// Len reports the payload length.
func (d Data) Len() int {
	return d.n
}

// Equal reports whether two Data values carry the same bytes.
func (d Data) Equal(other Data) bool {
	a, b := d.Bytes(), other.Bytes()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders Data for logging. It does not attempt to be valid UTF-8 for
// arbitrary binary payloads.
func (d Data) String() string {
	return string(d.Bytes())
}
