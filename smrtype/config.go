// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package smrtype

// Config describes one replica-set shard: its fault bound, the ordered list
// of replica addresses (list index doubles as ReplicaId), and an optional
// multicast address. Address is whatever comparable value type the chosen
// transport uses (a string for simtransport, a UDP endpoint plus port id for
// pkttransport).
//
// Config is a value type by convention: construct it once at startup and
// pass it by value or pointer-to-const, never mutate it after replicas and
// clients have read it.
type Config[Address comparable] struct {
	F            int
	Replicas     []Address
	Multicast    Address
	HasMulticast bool
}

// N is the replica-set size, len(Replicas). VR/Unreplicated deployments use
// 2f+1 replicas and the PBFT scaffold uses 3f+1.
func (c Config[Address]) N() int {
	return len(c.Replicas)
}

// Primary returns the address of the primary for the given view, computed
// as addresses[view mod n].
func (c Config[Address]) Primary(view ViewNumber) Address {
	return c.Replicas[c.PrimaryId(view)]
}

// PrimaryId returns the ReplicaId of the primary for the given view.
func (c Config[Address]) PrimaryId(view ViewNumber) ReplicaId {
	n := len(c.Replicas)
	if n == 0 {
		panic("smrtype: Config has no replicas")
	}
	return ReplicaId(int(view) % n)
}

// Replica returns the address of the given ReplicaId.
func (c Config[Address]) Replica(id ReplicaId) Address {
	return c.Replicas[id]
}
