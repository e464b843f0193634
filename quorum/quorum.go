// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package quorum implements the threshold-indexed message collection every
// quorum-based protocol in this module uses to decide when enough replicas
// have said the same thing. Grounded on common/Quorum.hpp, itself adapted
// from UWSysLab/specpaxos's quorumset.h (Dan R. K. Ports).
package quorum

import "github.com/oskr-smr/smrcore/smrtype"

// Set collects at most one message per (Key, ReplicaId) pair and reports
// quorum once nRequired distinct replicas have contributed under the same
// key. Key is typically a view or round number; it is left generic because
// different protocols round differently (VR keys by op number, PBFT by
// view and sequence number together).
type Set[Key comparable, Msg any] struct {
	nRequired int
	byKey     map[Key]map[smrtype.ReplicaId]Msg
}

// New constructs a Set requiring nRequired messages per key to reach
// quorum.
func New[Key comparable, Msg any](nRequired int) *Set[Key, Msg] {
	return &Set[Key, Msg]{nRequired: nRequired, byKey: make(map[Key]map[smrtype.ReplicaId]Msg)}
}

// NRequired returns the quorum threshold this Set was constructed with.
func (s *Set[Key, Msg]) NRequired() int {
	return s.nRequired
}

// Clear drops every key's messages.
func (s *Set[Key, Msg]) Clear() {
	s.byKey = make(map[Key]map[smrtype.ReplicaId]Msg)
}

// ClearKey drops the messages collected under key only.
func (s *Set[Key, Msg]) ClearKey(key Key) {
	delete(s.byKey, key)
}

// Messages returns the messages collected under key, keyed by replica.
// The returned map is owned by the caller; it is a fresh copy.
func (s *Set[Key, Msg]) Messages(key Key) map[smrtype.ReplicaId]Msg {
	out := make(map[smrtype.ReplicaId]Msg, len(s.byKey[key]))
	for id, m := range s.byKey[key] {
		out[id] = m
	}
	return out
}

// CheckForQuorum reports whether key has reached nRequired distinct
// replicas.
func (s *Set[Key, Msg]) CheckForQuorum(key Key) bool {
	return len(s.byKey[key]) >= s.nRequired
}

// Add records msg from replicaId under key. A second message from the same
// replica under the same key silently overwrites the first — the original
// this is grounded on flags this exact behavior as possibly wrong for a
// byzantine setting, but keeps it; so do we.
func (s *Set[Key, Msg]) Add(key Key, replicaId smrtype.ReplicaId, msg Msg) {
	byReplica, ok := s.byKey[key]
	if !ok {
		byReplica = make(map[smrtype.ReplicaId]Msg)
		s.byKey[key] = byReplica
	}
	byReplica[replicaId] = msg
}

// AddAndCheckForQuorum is Add followed by CheckForQuorum, for the common
// case where the caller only wants to know whether this Add was the one
// that completed the quorum.
func (s *Set[Key, Msg]) AddAndCheckForQuorum(key Key, replicaId smrtype.ReplicaId, msg Msg) bool {
	s.Add(key, replicaId, msg)
	return s.CheckForQuorum(key)
}
