// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the actor-model transport contract shared by
// every concrete transport (simtransport, pkttransport): address-based
// message delivery, timer scheduling with cancellation, and the two
// execution-channel classes protocol code dispatches work onto.
package transport

import "time"

// ChannelId identifies a transport-managed execution lane. Sequential is the
// timer/spawn channel: callbacks on it never overlap. Non-negative ids mark
// concurrent workers eligible for parallel dispatch.
type ChannelId int

// Sequential is the channel id reported by Channel() when running on the
// sequential (non-concurrent) lane.
const Sequential ChannelId = -1

// CancelFunc disables a pending SpawnAfter callback. It returns true if it
// won the race against the callback firing, false if the callback had
// already fired (or had already been canceled).
type CancelFunc func() bool

// Writer serializes a message into buf and returns the number of bytes
// written. It must not retain buf past return, and the caller must not
// retain the Writer past the call that received it.
type Writer func(buf []byte) int

// Receiver is bound to an address via RegisterReceiver. It runs on an
// ingress worker and must not block on protocol logic — any substantive
// handling must be deferred via Spawn. The Descriptor it receives owns the
// underlying buffer; the receiver must Release it (directly, or by moving it
// into the spawned closure which then releases it) promptly.
type Receiver[Address comparable] func(remote Address, desc *Descriptor)

// Transport is the capability every SMR protocol in this repository is
// written against. Address is the transport's address value type: a string
// for simtransport, a (UDP endpoint, port id) pair for pkttransport. Implementations
// must make Address equality and hashing total.
type Transport[Address comparable] interface {
	// AllocateAddress returns a fresh unicast address for an ephemeral
	// participant (a client).
	AllocateAddress() Address

	// RegisterReceiver binds recv to addr. Registration is expected to
	// happen during startup only; implementations need not support
	// concurrent mutation of the receiver table after Run/serving begins.
	RegisterReceiver(addr Address, recv Receiver[Address])

	// Send invokes write at most once into a buffer of at most BufferSize
	// bytes and delivers the result to dest's registered receiver.
	Send(sender, dest Address, write Writer) error

	// SendToAll invokes write at most once and delivers the serialized
	// message to every registered replica address except sender.
	SendToAll(sender Address, write Writer) error

	// SendToMulticast invokes write at most once and delivers to the
	// configured multicast address.
	SendToMulticast(sender Address, write Writer) error

	// Spawn enqueues cb for execution on the sequential channel.
	Spawn(cb func())

	// SpawnConcurrent enqueues cb for execution on a transport worker,
	// eligible to run in parallel with other concurrent-channel work.
	SpawnConcurrent(cb func())

	// SpawnAfter schedules a one-shot timer. The returned CancelFunc
	// disables the pending fire if called before it fires.
	SpawnAfter(delay time.Duration, cb func()) CancelFunc

	// Channel reports the id of the channel the caller is currently
	// running on: Sequential for timers and sequential Spawn callbacks,
	// a non-negative id for a concurrent worker.
	Channel() ChannelId

	// BufferSize is the compile-time buffer capacity Writer must respect.
	BufferSize() int
}
