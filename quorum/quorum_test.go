// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package quorum

import (
	"testing"

	"github.com/oskr-smr/smrcore/smrtype"
)

func TestSetReachesQuorumAtThreshold(t *testing.T) {
	s := New[smrtype.OpNumber, string](3)
	if s.CheckForQuorum(1) {
		t.Fatal("empty set reports quorum")
	}
	if s.AddAndCheckForQuorum(1, 0, "a") {
		t.Fatal("quorum reached too early at 1/3")
	}
	if s.AddAndCheckForQuorum(1, 1, "a") {
		t.Fatal("quorum reached too early at 2/3")
	}
	if !s.AddAndCheckForQuorum(1, 2, "a") {
		t.Fatal("quorum not reached at 3/3")
	}
}

func TestSetDuplicateReplicaOverwrites(t *testing.T) {
	s := New[smrtype.OpNumber, string](2)
	s.Add(1, 0, "first")
	s.Add(1, 0, "second")
	if s.CheckForQuorum(1) {
		t.Fatal("one replica contributing twice should not satisfy a 2-quorum")
	}
	msgs := s.Messages(1)
	if len(msgs) != 1 || msgs[0] != "second" {
		t.Fatalf("expected the second message to overwrite the first, got %v", msgs)
	}
}

func TestSetKeysAreIndependent(t *testing.T) {
	s := New[smrtype.OpNumber, string](1)
	s.Add(1, 0, "a")
	if !s.CheckForQuorum(1) {
		t.Fatal("quorum expected for key 1")
	}
	if s.CheckForQuorum(2) {
		t.Fatal("key 2 should not have quorum from key 1's contributions")
	}
}

func TestClearKeyAndClear(t *testing.T) {
	s := New[smrtype.OpNumber, string](1)
	s.Add(1, 0, "a")
	s.Add(2, 0, "b")
	s.ClearKey(1)
	if s.CheckForQuorum(1) {
		t.Fatal("ClearKey did not drop key 1")
	}
	if !s.CheckForQuorum(2) {
		t.Fatal("ClearKey should not affect key 2")
	}
	s.Clear()
	if s.CheckForQuorum(2) {
		t.Fatal("Clear did not drop every key")
	}
}
