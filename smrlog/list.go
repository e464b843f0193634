// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package smrlog implements the replicated-log abstraction every protocol in
// this module manipulates: an append-only, batch-aware list of prepared
// blocks with commit tracking and an upcall into the application. This is
// the "common substrate" spec.md §1 calls out — the original source left
// its ListLog prepare/commit/rollback entirely as empty method stubs
// (common/ListLog.hpp), so the semantics here come straight from spec.md
// §4.5 rather than from a working reference implementation.
package smrlog

import (
	"github.com/oskr-smr/smrcore/app"
	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/wire"
)

// ReplyCallback bridges a committed entry's result back to the caller
// (typically the client table). It is invoked once per entry, in log order,
// only for entries delivered live (not for silent replay after
// EnableUpcall).
type ReplyCallback func(clientId smrtype.ClientId, requestNumber smrtype.RequestNumber, result smrtype.Data)

type blockState struct {
	block     wire.Block
	committed bool
}

// List is the list-log variant: blocks indexed contiguously from
// startNumber, each flagged committed or not, plus a flat entry vector
// materialized alongside the block index so committing walks entries
// without re-flattening blocks.
type List struct {
	replicaId smrtype.ReplicaId
	app       app.App

	startNumber  smrtype.OpNumber
	blocks       []blockState
	entries      []wire.LogEntry // flat, mirrors blocks' entries in order
	commitNumber smrtype.OpNumber
	// lastDelivered is the highest OpNumber whose entries have actually been
	// handed to app.Commit. It trails commitNumber while upcalls are
	// disabled.
	lastDelivered smrtype.OpNumber
	upcallEnabled bool
}

// New constructs an empty List log. replicaId only tags fatal diagnostics.
func New(replicaId smrtype.ReplicaId, a app.App) *List {
	return &List{replicaId: replicaId, app: a, upcallEnabled: true}
}

// OpNumber returns the highest prepared index, or 0 if nothing is prepared.
func (l *List) OpNumber() smrtype.OpNumber {
	if len(l.blocks) == 0 {
		return 0
	}
	return l.startNumber + smrtype.OpNumber(len(l.blocks)) - 1
}

// CommitNumber returns the highest index committed so far.
func (l *List) CommitNumber() smrtype.OpNumber {
	return l.commitNumber
}

// StartNumber returns the index of the first prepared block, or 0 if the
// log is empty.
func (l *List) StartNumber() smrtype.OpNumber {
	return l.startNumber
}

// BlockAt returns the block prepared at index and whether it exists.
func (l *List) BlockAt(index smrtype.OpNumber) (wire.Block, bool) {
	if len(l.blocks) == 0 || index < l.startNumber {
		return wire.Block{}, false
	}
	i := index - l.startNumber
	if i >= smrtype.OpNumber(len(l.blocks)) {
		return wire.Block{}, false
	}
	return l.blocks[i].block, true
}

// Prepare installs block at index. The first call establishes startNumber;
// every later call must extend the log by exactly one index — gaps, and
// re-preparing an index that hasn't been cleared by RollbackTo first, are
// fatal protocol errors.
func (l *List) Prepare(index smrtype.OpNumber, block wire.Block) {
	if len(l.blocks) == 0 {
		l.startNumber = index
	} else if want := l.startNumber + smrtype.OpNumber(len(l.blocks)); index != want {
		smrtype.Panicf(l.replicaId, "log: prepare at %d, expected %d (no gaps, no unprepared re-prepare)", index, want)
	}
	l.blocks = append(l.blocks, blockState{block: block})
	l.entries = append(l.entries, block.Entries...)
}

// Commit marks the block at index committed, then drains every contiguously
// committed block starting at commitNumber+1 into the application,
// delivering cb for each entry unless upcalls are currently disabled.
func (l *List) Commit(index smrtype.OpNumber, cb ReplyCallback) {
	if len(l.blocks) == 0 || index < l.startNumber || index >= l.startNumber+smrtype.OpNumber(len(l.blocks)) {
		smrtype.Panicf(l.replicaId, "log: commit at %d out of prepared range", index)
	}
	l.blocks[index-l.startNumber].committed = true

	for l.commitNumber+1 < l.startNumber+smrtype.OpNumber(len(l.blocks)) {
		next := l.commitNumber + 1
		bs := &l.blocks[next-l.startNumber]
		if !bs.committed {
			break
		}
		l.commitNumber = next
		if l.upcallEnabled {
			l.deliver(bs.block, cb)
			l.lastDelivered = next
		}
	}
}

func (l *List) deliver(block wire.Block, cb ReplyCallback) {
	for _, e := range block.Entries {
		result := l.app.Commit(e.Op)
		if cb != nil {
			cb(e.ClientId, e.RequestNumber, result)
		}
	}
}

// RollbackTo truncates the log at index and everything after it, from both
// the block index and the flat entry vector. If the truncated range
// included blocks already delivered to the application, Rollback is invoked
// on each of their ops in reverse order. This is only used by speculative
// execution modes; VR's happy path never calls it.
func (l *List) RollbackTo(index smrtype.OpNumber) {
	if len(l.blocks) == 0 || index < l.startNumber {
		return
	}
	cut := index - l.startNumber
	if cut >= smrtype.OpNumber(len(l.blocks)) {
		return
	}

	if index <= l.lastDelivered {
		for i := l.lastDelivered; i >= index; i-- {
			bs := l.blocks[i-l.startNumber]
			for j := len(bs.block.Entries) - 1; j >= 0; j-- {
				l.app.Rollback(bs.block.Entries[j].Op)
			}
			if i == l.startNumber {
				break
			}
		}
		l.lastDelivered = index - 1
	}
	if l.commitNumber >= index {
		l.commitNumber = index - 1
	}

	entryCut := 0
	for i := smrtype.OpNumber(0); i < cut; i++ {
		entryCut += len(l.blocks[i].block.Entries)
	}
	l.blocks = l.blocks[:cut]
	l.entries = l.entries[:entryCut]
}

// EnableUpcall re-enables delivery to the application. Any block committed
// while upcalls were disabled is delivered now, silently: no ReplyCallback
// runs, because those replies were already emitted before the upcall was
// disabled, or are no longer meaningful.
func (l *List) EnableUpcall() {
	if l.upcallEnabled {
		return
	}
	l.upcallEnabled = true
	for l.lastDelivered < l.commitNumber {
		next := l.lastDelivered + 1
		bs := l.blocks[next-l.startNumber]
		l.deliver(bs.block, nil)
		l.lastDelivered = next
	}
}

// DisableUpcall stops delivering committed blocks to the application.
// Commit still advances commitNumber; delivery resumes on EnableUpcall.
func (l *List) DisableUpcall() {
	l.upcallEnabled = false
}
