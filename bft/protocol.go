// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package bft

// Protocol names a BFT protocol family this package knows about. Only
// PBFT is implemented; HotStuff and Zyzzyva are named so the CLI dispatch
// in cmd/replica has somewhere to route to, matching node.go's own
// Handle* methods that decode a message and then panic("not implemented")
// rather than omitting the method entirely.
type Protocol string

const (
	ProtocolPBFT     Protocol = "pbft"
	// ProtocolHotStuff would implement the chained, pipelined three-phase
	// protocol from original_source/src/protocol/hotstuff; its message
	// set (Propose/Vote/NewView) and replica loop are not implemented.
	ProtocolHotStuff Protocol = "hotstuff"
	// ProtocolZyzzyva would implement the speculative-execution protocol
	// from original_source/src/protocol/zyzzyva, leaning on smrlog.List's
	// rollback_to for its speculative commit/rollback cycle; not
	// implemented.
	ProtocolZyzzyva Protocol = "zyzzyva"
)
