// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package smrtype holds the identifier types and fleet configuration shared
// by every layer of the replication substrate: transports, the log, the
// client table, and every protocol built on top of them.
package smrtype

// ClientId is assigned randomly when a client is constructed; collisions are
// not detected or resolved, by design, matching the source's fire-and-forget
// client identity scheme.
type ClientId uint32

// ReplicaId indexes into a Config's replica address list.
type ReplicaId int32

// OpNumber is 1-origin and per log. Zero means "no operation prepared yet".
type OpNumber uint64

// RequestNumber is 1-origin and per client. Zero means "no request seen yet".
type RequestNumber uint64

// ViewNumber is 0-origin and increases monotonically across view changes.
type ViewNumber uint32

// Hash is a fixed 32-byte digest. No code in this module computes one.
type Hash [32]byte
