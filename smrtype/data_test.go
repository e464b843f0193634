// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package smrtype

import "testing"

func TestDataInlineAndOverflow(t *testing.T) {
	small := NewData([]byte("hi"))
	if small.Len() != 2 || string(small.Bytes()) != "hi" {
		t.Fatalf("inline payload mismatch: %q", small.Bytes())
	}

	big := make([]byte, dataInlineCap+1)
	for i := range big {
		big[i] = byte(i)
	}
	d := NewData(big)
	if d.Len() != len(big) {
		t.Fatalf("overflow length mismatch: got %d, want %d", d.Len(), len(big))
	}
	if string(d.Bytes()) != string(big) {
		t.Fatal("overflow payload mismatch")
	}
}

func TestDataEqual(t *testing.T) {
	a := NewData([]byte("same"))
	b := NewData([]byte("same"))
	c := NewData([]byte("different"))
	if !a.Equal(b) {
		t.Fatal("identical payloads must compare equal")
	}
	if a.Equal(c) {
		t.Fatal("different payloads must not compare equal")
	}
}

func TestDataDoesNotAliasCallerSlice(t *testing.T) {
	src := []byte("mutate me")
	d := NewData(src)
	src[0] = 'X'
	if d.Bytes()[0] == 'X' {
		t.Fatal("NewData must copy, not alias, the caller's slice")
	}
}
