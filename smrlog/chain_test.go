// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package smrlog

import (
	"testing"

	"github.com/oskr-smr/smrcore/wire"
)

func TestChainPrepareFirstBlockAlwaysSucceeds(t *testing.T) {
	c := NewChain()
	if err := c.Prepare(wire.ChainBlock{}); err != nil {
		t.Fatalf("the first block should always be accepted, got %v", err)
	}
	head, ok := c.Head()
	if !ok {
		t.Fatal("expected a head after preparing the first block")
	}
	_ = head
}

func TestChainPrepareNonExtensionIsUnimplemented(t *testing.T) {
	c := NewChain()
	if err := c.Prepare(wire.ChainBlock{}); err != nil {
		t.Fatal(err)
	}
	nonExtension := wire.ChainBlock{Previous: [32]byte{1}}
	if err := c.Prepare(nonExtension); err != ErrChainLogUnimplemented {
		t.Fatalf("a non-extending block must report ErrChainLogUnimplemented, got %v", err)
	}
}
