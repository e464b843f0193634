// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package smrlog

import (
	"testing"

	"github.com/oskr-smr/smrcore/app"
	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/wire"
)

func entryBlock(clientId smrtype.ClientId, requestNumber smrtype.RequestNumber, op string) wire.Block {
	return wire.Block{Entries: []wire.LogEntry{
		{ClientId: clientId, RequestNumber: requestNumber, Op: smrtype.NewData([]byte(op))},
	}}
}

func TestPrepareAndCommitDeliversInOrder(t *testing.T) {
	a := app.NewEchoApp()
	l := New(0, a)

	l.Prepare(1, entryBlock(1, 1, "a"))
	l.Prepare(2, entryBlock(1, 2, "b"))

	var delivered []string
	l.Commit(1, func(clientId smrtype.ClientId, requestNumber smrtype.RequestNumber, result smrtype.Data) {
		delivered = append(delivered, result.String())
	})
	if l.CommitNumber() != 1 {
		t.Fatalf("expected commit number 1, got %d", l.CommitNumber())
	}
	l.Commit(2, func(clientId smrtype.ClientId, requestNumber smrtype.RequestNumber, result smrtype.Data) {
		delivered = append(delivered, result.String())
	})
	if l.CommitNumber() != 2 {
		t.Fatalf("expected commit number 2, got %d", l.CommitNumber())
	}
	if len(delivered) != 2 || delivered[0] != "Re: a" || delivered[1] != "Re: b" {
		t.Fatalf("unexpected delivery order: %v", delivered)
	}
}

func TestCommitOutOfOrderWaitsForContiguity(t *testing.T) {
	a := app.NewEchoApp()
	l := New(0, a)
	l.Prepare(1, entryBlock(1, 1, "a"))
	l.Prepare(2, entryBlock(1, 2, "b"))

	calls := 0
	l.Commit(2, func(smrtype.ClientId, smrtype.RequestNumber, smrtype.Data) { calls++ })
	if l.CommitNumber() != 0 {
		t.Fatalf("commit 2 before commit 1 must not advance commit number, got %d", l.CommitNumber())
	}
	if calls != 0 {
		t.Fatal("nothing should be delivered until index 1 is committed")
	}

	l.Commit(1, func(smrtype.ClientId, smrtype.RequestNumber, smrtype.Data) { calls++ })
	if l.CommitNumber() != 2 {
		t.Fatalf("committing index 1 should drain through the already-committed index 2, got commitNumber=%d", l.CommitNumber())
	}
	if calls != 2 {
		t.Fatalf("expected 2 deliveries once both blocks are contiguous, got %d", calls)
	}
}

func TestPrepareGapIsFatal(t *testing.T) {
	a := app.NewEchoApp()
	l := New(0, a)
	l.Prepare(1, entryBlock(1, 1, "a"))
	defer func() {
		if recover() == nil {
			t.Fatal("preparing at a non-contiguous index must panic")
		}
	}()
	l.Prepare(3, entryBlock(1, 2, "b"))
}

func TestDisableUpcallDefersDeliveryUntilEnabled(t *testing.T) {
	a := app.NewEchoApp()
	l := New(0, a)
	l.DisableUpcall()
	l.Prepare(1, entryBlock(1, 1, "a"))

	calls := 0
	l.Commit(1, func(smrtype.ClientId, smrtype.RequestNumber, smrtype.Data) { calls++ })
	if l.CommitNumber() != 1 {
		t.Fatalf("Commit must still advance commitNumber while upcalls are disabled, got %d", l.CommitNumber())
	}
	if calls != 0 {
		t.Fatal("no callback should fire while upcalls are disabled")
	}
	if len(a.Ops) != 0 {
		t.Fatal("the application must not see the op while upcalls are disabled")
	}

	l.EnableUpcall()
	if len(a.Ops) != 1 {
		t.Fatalf("EnableUpcall must deliver the buffered commit to the application, got %d ops", len(a.Ops))
	}
}

func TestRollbackToUndoesDeliveredOps(t *testing.T) {
	a := app.NewEchoApp()
	l := New(0, a)
	l.Prepare(1, entryBlock(1, 1, "a"))
	l.Prepare(2, entryBlock(1, 2, "b"))
	l.Commit(1, nil)
	l.Commit(2, nil)
	if len(a.Ops) != 2 {
		t.Fatalf("expected 2 delivered ops before rollback, got %d", len(a.Ops))
	}

	l.RollbackTo(2)
	if len(a.Ops) != 1 {
		t.Fatalf("RollbackTo(2) must undo the op delivered at index 2, got %d ops remaining", len(a.Ops))
	}
	if l.OpNumber() != 1 {
		t.Fatalf("RollbackTo(2) must truncate the log to index 1, got OpNumber=%d", l.OpNumber())
	}
	if l.CommitNumber() != 1 {
		t.Fatalf("RollbackTo(2) must roll commitNumber back to 1, got %d", l.CommitNumber())
	}
}
