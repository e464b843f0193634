// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package bft

import (
	"testing"

	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/wire"
)

func TestPrePrepareRoundTrip(t *testing.T) {
	m := PrePrepare{
		View:      1,
		Seq:       2,
		Digest:    Digest{1, 2, 3},
		Request:   wire.RequestMessage{ClientId: 1, RequestNumber: 1, Op: smrtype.NewData([]byte("x"))},
		ReplicaId: 0,
		Sig:       []byte("a signature's worth of bytes"),
	}
	b, err := m.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePrePrepare(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.View != m.View || got.Seq != m.Seq || got.Digest != m.Digest || got.ReplicaId != m.ReplicaId {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
	if string(got.Sig) != string(m.Sig) {
		t.Fatalf("sig mismatch: got %v, want %v", got.Sig, m.Sig)
	}
	if !got.Request.Op.Equal(m.Request.Op) {
		t.Fatalf("request op mismatch: got %v, want %v", got.Request.Op, m.Request.Op)
	}
}

func TestPrepareRoundTrip(t *testing.T) {
	m := Prepare{View: 1, Seq: 2, Digest: Digest{4, 5}, ReplicaId: 3, Sig: []byte("sig")}
	b, err := m.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePrepare(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.View != m.View || got.Seq != m.Seq || got.Digest != m.Digest || got.ReplicaId != m.ReplicaId || string(got.Sig) != string(m.Sig) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestCommitRoundTrip(t *testing.T) {
	m := Commit{View: 1, Seq: 2, Digest: Digest{6, 7}, ReplicaId: 3, Sig: []byte("sig")}
	b, err := m.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeCommit(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.View != m.View || got.Seq != m.Seq || got.Digest != m.Digest || got.ReplicaId != m.ReplicaId || string(got.Sig) != string(m.Sig) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
}

func TestDecodeCommitMalformedReportsError(t *testing.T) {
	if _, err := DecodeCommit([]byte{0xff, 0xff}); err == nil {
		t.Fatal("expected malformed bytes to report an error")
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	sks, pks := newKeys(t, 1)
	d := hashDigest([]byte("some message body"))
	sig := sign(d, sks[0])
	if !verify(d, sig, pks[0]) {
		t.Fatal("expected a freshly produced signature to verify")
	}
	if verify(hashDigest([]byte("a different body")), sig, pks[0]) {
		t.Fatal("expected verification to fail against a different digest")
	}
}
