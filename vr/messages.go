// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package vr implements Viewstamped Replication: normal-case
// prepare/commit grounded on replication/vr/Replica.hpp (fully
// implemented there), and a complete view-change protocol that original
// source left as fatal "todo" stubs at every cross-view divergence point.
// The view-change state machine here is grounded on tangledbytes/go-vsr's
// working replica instead, restated in this module's idiom.
package vr

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/wire"
)

// field numbers, one block per message type
const (
	fieldPrepView   protowire.Number = 1
	fieldPrepOp     protowire.Number = 2
	fieldPrepBlock  protowire.Number = 3
	fieldPrepCommit protowire.Number = 4
)

const (
	fieldPOKView      protowire.Number = 1
	fieldPOKOp        protowire.Number = 2
	fieldPOKReplicaId protowire.Number = 3
)

const (
	fieldCommitView   protowire.Number = 1
	fieldCommitCommit protowire.Number = 2
)

const (
	fieldSVCView      protowire.Number = 1
	fieldSVCReplicaId protowire.Number = 2
)

const (
	fieldDVCView         protowire.Number = 1
	fieldDVCLatestNormal protowire.Number = 2
	fieldDVCOp           protowire.Number = 3
	fieldDVCCommit       protowire.Number = 4
	fieldDVCReplicaId    protowire.Number = 5
)

const (
	fieldSVView   protowire.Number = 1
	fieldSVOp     protowire.Number = 2
	fieldSVCommit protowire.Number = 3
)

// Prepare is sent by the primary to every backup on closing a batch.
// Grounded on replication/vr/Message.hpp's PrepareMessage; the original's
// "block" payload is this module's wire.Block, carried by value.
type Prepare struct {
	View   smrtype.ViewNumber
	Op     smrtype.OpNumber
	Block  wire.Block
	Commit smrtype.OpNumber
}

// Encode serializes m.
func (m Prepare) Encode(buf []byte) ([]byte, error) {
	buf = wire.AppendUint64(buf, fieldPrepView, uint64(m.View))
	buf = wire.AppendUint64(buf, fieldPrepOp, uint64(m.Op))
	body, err := wire.EncodeBlock(nil, m.Block)
	if err != nil {
		return nil, err
	}
	buf = wire.AppendBytes(buf, fieldPrepBlock, body)
	buf = wire.AppendUint64(buf, fieldPrepCommit, uint64(m.Commit))
	return buf, nil
}

// DecodePrepare parses a Prepare.
func DecodePrepare(b []byte) (Prepare, error) {
	fields, err := wire.ConsumeAll(b)
	if err != nil {
		return Prepare{}, err
	}
	view, err := wire.RequireUint64(fields, fieldPrepView)
	if err != nil {
		return Prepare{}, err
	}
	op, err := wire.RequireUint64(fields, fieldPrepOp)
	if err != nil {
		return Prepare{}, err
	}
	blockBytes, err := wire.RequireBytes(fields, fieldPrepBlock)
	if err != nil {
		return Prepare{}, err
	}
	blockFields, err := wire.ConsumeAll(blockBytes)
	if err != nil {
		return Prepare{}, err
	}
	block, err := wire.DecodeBlock(blockFields)
	if err != nil {
		return Prepare{}, err
	}
	commit, err := wire.RequireUint64(fields, fieldPrepCommit)
	if err != nil {
		return Prepare{}, err
	}
	return Prepare{
		View:   smrtype.ViewNumber(view),
		Op:     smrtype.OpNumber(op),
		Block:  block,
		Commit: smrtype.OpNumber(commit),
	}, nil
}

// PrepareOk acknowledges a Prepare, unicast from backup to primary.
type PrepareOk struct {
	View      smrtype.ViewNumber
	Op        smrtype.OpNumber
	ReplicaId smrtype.ReplicaId
}

func (m PrepareOk) Encode(buf []byte) ([]byte, error) {
	buf = wire.AppendUint64(buf, fieldPOKView, uint64(m.View))
	buf = wire.AppendUint64(buf, fieldPOKOp, uint64(m.Op))
	buf = wire.AppendUint64(buf, fieldPOKReplicaId, uint64(uint32(m.ReplicaId)))
	return buf, nil
}

func DecodePrepareOk(b []byte) (PrepareOk, error) {
	fields, err := wire.ConsumeAll(b)
	if err != nil {
		return PrepareOk{}, err
	}
	view, err := wire.RequireUint64(fields, fieldPOKView)
	if err != nil {
		return PrepareOk{}, err
	}
	op, err := wire.RequireUint64(fields, fieldPOKOp)
	if err != nil {
		return PrepareOk{}, err
	}
	replicaId, err := wire.RequireUint64(fields, fieldPOKReplicaId)
	if err != nil {
		return PrepareOk{}, err
	}
	return PrepareOk{
		View:      smrtype.ViewNumber(view),
		Op:        smrtype.OpNumber(op),
		ReplicaId: smrtype.ReplicaId(int32(replicaId)),
	}, nil
}

// Commit is the primary's idle heartbeat, broadcast to advance backups'
// commit numbers between batches.
type Commit struct {
	View   smrtype.ViewNumber
	Commit smrtype.OpNumber
}

func (m Commit) Encode(buf []byte) ([]byte, error) {
	buf = wire.AppendUint64(buf, fieldCommitView, uint64(m.View))
	buf = wire.AppendUint64(buf, fieldCommitCommit, uint64(m.Commit))
	return buf, nil
}

func DecodeCommit(b []byte) (Commit, error) {
	fields, err := wire.ConsumeAll(b)
	if err != nil {
		return Commit{}, err
	}
	view, err := wire.RequireUint64(fields, fieldCommitView)
	if err != nil {
		return Commit{}, err
	}
	commit, err := wire.RequireUint64(fields, fieldCommitCommit)
	if err != nil {
		return Commit{}, err
	}
	return Commit{View: smrtype.ViewNumber(view), Commit: smrtype.OpNumber(commit)}, nil
}

// StartViewChange is broadcast by a replica that has given up on the
// current view.
type StartViewChange struct {
	View      smrtype.ViewNumber
	ReplicaId smrtype.ReplicaId
}

func (m StartViewChange) Encode(buf []byte) ([]byte, error) {
	buf = wire.AppendUint64(buf, fieldSVCView, uint64(m.View))
	buf = wire.AppendUint64(buf, fieldSVCReplicaId, uint64(uint32(m.ReplicaId)))
	return buf, nil
}

func DecodeStartViewChange(b []byte) (StartViewChange, error) {
	fields, err := wire.ConsumeAll(b)
	if err != nil {
		return StartViewChange{}, err
	}
	view, err := wire.RequireUint64(fields, fieldSVCView)
	if err != nil {
		return StartViewChange{}, err
	}
	replicaId, err := wire.RequireUint64(fields, fieldSVCReplicaId)
	if err != nil {
		return StartViewChange{}, err
	}
	return StartViewChange{View: smrtype.ViewNumber(view), ReplicaId: smrtype.ReplicaId(int32(replicaId))}, nil
}

// DoViewChange is unicast to the new primary once a replica has collected
// f StartViewChange messages for the target view. LatestNormal is the last
// view this replica was operating normally in, used by the new primary to
// pick the most up-to-date contributor's op/commit numbers. There is no
// log payload: per original_source's ZeroLog, view change here only runs
// over a network assumed not to have dropped any prepared entry, so no
// replica's log can actually be behind in a way that needs a transferred
// blob — only the numeric op/commit high-water marks matter. A genuine gap
// is a fatal divergence, not a case this message type is meant to repair.
type DoViewChange struct {
	View         smrtype.ViewNumber
	LatestNormal smrtype.ViewNumber
	Op           smrtype.OpNumber
	Commit       smrtype.OpNumber
	ReplicaId    smrtype.ReplicaId
}

func (m DoViewChange) Encode(buf []byte) ([]byte, error) {
	buf = wire.AppendUint64(buf, fieldDVCView, uint64(m.View))
	buf = wire.AppendUint64(buf, fieldDVCLatestNormal, uint64(m.LatestNormal))
	buf = wire.AppendUint64(buf, fieldDVCOp, uint64(m.Op))
	buf = wire.AppendUint64(buf, fieldDVCCommit, uint64(m.Commit))
	buf = wire.AppendUint64(buf, fieldDVCReplicaId, uint64(uint32(m.ReplicaId)))
	return buf, nil
}

func DecodeDoViewChange(b []byte) (DoViewChange, error) {
	fields, err := wire.ConsumeAll(b)
	if err != nil {
		return DoViewChange{}, err
	}
	view, err := wire.RequireUint64(fields, fieldDVCView)
	if err != nil {
		return DoViewChange{}, err
	}
	latestNormal, err := wire.RequireUint64(fields, fieldDVCLatestNormal)
	if err != nil {
		return DoViewChange{}, err
	}
	op, err := wire.RequireUint64(fields, fieldDVCOp)
	if err != nil {
		return DoViewChange{}, err
	}
	commit, err := wire.RequireUint64(fields, fieldDVCCommit)
	if err != nil {
		return DoViewChange{}, err
	}
	replicaId, err := wire.RequireUint64(fields, fieldDVCReplicaId)
	if err != nil {
		return DoViewChange{}, err
	}
	return DoViewChange{
		View:         smrtype.ViewNumber(view),
		LatestNormal: smrtype.ViewNumber(latestNormal),
		Op:           smrtype.OpNumber(op),
		Commit:       smrtype.OpNumber(commit),
		ReplicaId:    smrtype.ReplicaId(int32(replicaId)),
	}, nil
}

// StartView is broadcast by the new primary once its DoViewChange quorum
// completes. Like DoViewChange, it carries no log payload.
type StartView struct {
	View   smrtype.ViewNumber
	Op     smrtype.OpNumber
	Commit smrtype.OpNumber
}

func (m StartView) Encode(buf []byte) ([]byte, error) {
	buf = wire.AppendUint64(buf, fieldSVView, uint64(m.View))
	buf = wire.AppendUint64(buf, fieldSVOp, uint64(m.Op))
	buf = wire.AppendUint64(buf, fieldSVCommit, uint64(m.Commit))
	return buf, nil
}

func DecodeStartView(b []byte) (StartView, error) {
	fields, err := wire.ConsumeAll(b)
	if err != nil {
		return StartView{}, err
	}
	view, err := wire.RequireUint64(fields, fieldSVView)
	if err != nil {
		return StartView{}, err
	}
	op, err := wire.RequireUint64(fields, fieldSVOp)
	if err != nil {
		return StartView{}, err
	}
	commit, err := wire.RequireUint64(fields, fieldSVCommit)
	if err != nil {
		return StartView{}, err
	}
	return StartView{View: smrtype.ViewNumber(view), Op: smrtype.OpNumber(op), Commit: smrtype.OpNumber(commit)}, nil
}
