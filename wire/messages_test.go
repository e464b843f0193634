// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"testing"

	"github.com/oskr-smr/smrcore/smrtype"
)

func TestRequestMessageRoundTrip(t *testing.T) {
	m := RequestMessage{ClientId: 7, RequestNumber: 3, Op: smrtype.NewData([]byte("incr"))}
	b, err := m.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeRequestMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.ClientId != m.ClientId || got.RequestNumber != m.RequestNumber || !got.Op.Equal(m.Op) {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, m)
	}
}

func TestReplyMessageRoundTrip(t *testing.T) {
	m := ReplyMessage{RequestNumber: 3, Result: smrtype.NewData([]byte("4")), ViewNumber: 2, ReplicaId: 1}
	b, err := m.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeReplyMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestNumber != m.RequestNumber || got.ViewNumber != m.ViewNumber || got.ReplicaId != m.ReplicaId || !got.Result.Equal(m.Result) {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, m)
	}
}

func TestBlockRoundTrip(t *testing.T) {
	blk := Block{Entries: []LogEntry{
		{ClientId: 1, RequestNumber: 1, Op: smrtype.NewData([]byte("a"))},
		{ClientId: 2, RequestNumber: 5, Op: smrtype.NewData([]byte("bb"))},
	}}
	buf, err := EncodeBlock(nil, blk)
	if err != nil {
		t.Fatal(err)
	}
	fields, err := ConsumeAll(buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBlock(fields)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != len(blk.Entries) {
		t.Fatalf("got %d entries, want %d", len(got.Entries), len(blk.Entries))
	}
	for i := range blk.Entries {
		if got.Entries[i].ClientId != blk.Entries[i].ClientId ||
			got.Entries[i].RequestNumber != blk.Entries[i].RequestNumber ||
			!got.Entries[i].Op.Equal(blk.Entries[i].Op) {
			t.Fatalf("entry %d mismatch: got %+v, want %+v", i, got.Entries[i], blk.Entries[i])
		}
	}
}

func TestDecodeMalformedReportsError(t *testing.T) {
	if _, err := DecodeRequestMessage([]byte{0xff}); err == nil {
		t.Fatal("expected an error decoding a truncated/invalid tag")
	}
	if _, err := DecodeRequestMessage(nil); err == nil {
		t.Fatal("expected an error decoding an empty message (missing required fields)")
	}
}

func TestAppendDataRejectsOversizedPayload(t *testing.T) {
	oversized := make([]byte, smrtype.DataMaxLen+1)
	d := smrtype.NewData(oversized)
	if _, err := AppendData(nil, 1, d); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed for an oversized payload, got %v", err)
	}
}
