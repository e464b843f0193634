// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package smrlog

import (
	"errors"

	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/wire"
)

// ErrChainLogUnimplemented is returned by Chain.Prepare for any block that
// is not a linear extension of the current head. Branch selection, fork
// detection, and BFT commit rules over a hash-chained log are a separate
// specification spec.md §9 explicitly defers; this type exists only so a
// future BFT protocol has somewhere to start, not as a working
// implementation.
var ErrChainLogUnimplemented = errors.New("smrlog: chain log branch handling is not implemented")

// Chain is the chain-log variant named in spec.md §3 and left unresolved in
// §9: each block additionally carries the hash of its predecessor. Only the
// degenerate, single-branch case (every Prepare extends the current head)
// is supported; anything else reports ErrChainLogUnimplemented rather than
// silently doing the wrong thing.
type Chain struct {
	blocks []wire.ChainBlock
}

// NewChain constructs an empty chain log.
func NewChain() *Chain {
	return &Chain{}
}

// Head returns the most recently prepared block and true, or a zero
// ChainBlock and false if the chain is empty.
func (c *Chain) Head() (wire.ChainBlock, bool) {
	if len(c.blocks) == 0 {
		return wire.ChainBlock{}, false
	}
	return c.blocks[len(c.blocks)-1], true
}

// Prepare appends block if it extends the current head; any branch or fork
// attempt is rejected with ErrChainLogUnimplemented.
func (c *Chain) Prepare(block wire.ChainBlock) error {
	head, ok := c.Head()
	if !ok {
		c.blocks = append(c.blocks, block)
		return nil
	}
	if block.Previous != headHash(head) {
		return ErrChainLogUnimplemented
	}
	c.blocks = append(c.blocks, block)
	return nil
}

// headHash is a placeholder: computing the real content hash of a
// ChainBlock belongs to the wire codec once a BFT protocol actually needs
// chain-log commit rules (see ErrChainLogUnimplemented).
func headHash(wire.ChainBlock) (h smrtype.Hash) {
	return h
}
