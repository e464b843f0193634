// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package bft

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/wire"
)

const (
	fieldPPView      protowire.Number = 1
	fieldPPSeq       protowire.Number = 2
	fieldPPDigest    protowire.Number = 3
	fieldPPRequest   protowire.Number = 4
	fieldPPReplicaId protowire.Number = 5
	fieldPPSig       protowire.Number = 6
)

const (
	fieldPView      protowire.Number = 1
	fieldPSeq       protowire.Number = 2
	fieldPDigest    protowire.Number = 3
	fieldPReplicaId protowire.Number = 4
	fieldPSig       protowire.Number = 5
)

const (
	fieldCView      protowire.Number = 1
	fieldCSeq       protowire.Number = 2
	fieldCDigest    protowire.Number = 3
	fieldCReplicaId protowire.Number = 4
	fieldCSig       protowire.Number = 5
)

func appendDigest(buf []byte, num protowire.Number, d Digest) []byte {
	return wire.AppendBytes(buf, num, d[:])
}

func requireDigest(fields []wire.Field, num protowire.Number) (Digest, error) {
	b, err := wire.RequireBytes(fields, num)
	if err != nil {
		return Digest{}, err
	}
	var d Digest
	if len(b) != len(d) {
		return Digest{}, wire.ErrMalformed
	}
	copy(d[:], b)
	return d, nil
}

// PrePrepare is the primary's assignment of a sequence number to a
// client request, bundling the request itself so backups need nothing
// else to start preparing. Grounded on pkg/msg.go's PrePrepareMsg{PP,
// Req}, collapsed into one message since this module's wire codec has no
// separate "signed envelope" wrapper type.
type PrePrepare struct {
	View      smrtype.ViewNumber
	Seq       smrtype.OpNumber
	Digest    Digest
	Request   wire.RequestMessage
	ReplicaId smrtype.ReplicaId
	Sig       []byte
}

// signingBody encodes every field except Sig; it is what gets hashed and
// signed/verified, mirroring pkg/handler.go hashing the bare struct before
// a signature is attached.
func (m PrePrepare) signingBody() ([]byte, error) {
	var buf []byte
	buf = wire.AppendUint64(buf, fieldPPView, uint64(m.View))
	buf = wire.AppendUint64(buf, fieldPPSeq, uint64(m.Seq))
	buf = appendDigest(buf, fieldPPDigest, m.Digest)
	reqBody, err := m.Request.Encode(nil)
	if err != nil {
		return nil, err
	}
	buf = wire.AppendBytes(buf, fieldPPRequest, reqBody)
	buf = wire.AppendUint64(buf, fieldPPReplicaId, uint64(uint32(m.ReplicaId)))
	return buf, nil
}

func (m PrePrepare) Encode(buf []byte) ([]byte, error) {
	body, err := m.signingBody()
	if err != nil {
		return nil, err
	}
	buf = append(buf, body...)
	return wire.AppendBytes(buf, fieldPPSig, m.Sig), nil
}

func DecodePrePrepare(b []byte) (PrePrepare, error) {
	fields, err := wire.ConsumeAll(b)
	if err != nil {
		return PrePrepare{}, err
	}
	view, err := wire.RequireUint64(fields, fieldPPView)
	if err != nil {
		return PrePrepare{}, err
	}
	seq, err := wire.RequireUint64(fields, fieldPPSeq)
	if err != nil {
		return PrePrepare{}, err
	}
	digest, err := requireDigest(fields, fieldPPDigest)
	if err != nil {
		return PrePrepare{}, err
	}
	reqBytes, err := wire.RequireBytes(fields, fieldPPRequest)
	if err != nil {
		return PrePrepare{}, err
	}
	req, err := wire.DecodeRequestMessage(reqBytes)
	if err != nil {
		return PrePrepare{}, err
	}
	replicaId, err := wire.RequireUint64(fields, fieldPPReplicaId)
	if err != nil {
		return PrePrepare{}, err
	}
	sig, err := wire.RequireBytes(fields, fieldPPSig)
	if err != nil {
		return PrePrepare{}, err
	}
	return PrePrepare{
		View:      smrtype.ViewNumber(view),
		Seq:       smrtype.OpNumber(seq),
		Digest:    digest,
		Request:   req,
		ReplicaId: smrtype.ReplicaId(int32(replicaId)),
		Sig:       sig,
	}, nil
}

// Prepare is a backup's vote that it has accepted a PrePrepare.
type Prepare struct {
	View      smrtype.ViewNumber
	Seq       smrtype.OpNumber
	Digest    Digest
	ReplicaId smrtype.ReplicaId
	Sig       []byte
}

func (m Prepare) signingBody() []byte {
	var buf []byte
	buf = wire.AppendUint64(buf, fieldPView, uint64(m.View))
	buf = wire.AppendUint64(buf, fieldPSeq, uint64(m.Seq))
	buf = appendDigest(buf, fieldPDigest, m.Digest)
	buf = wire.AppendUint64(buf, fieldPReplicaId, uint64(uint32(m.ReplicaId)))
	return buf
}

func (m Prepare) Encode(buf []byte) ([]byte, error) {
	buf = append(buf, m.signingBody()...)
	return wire.AppendBytes(buf, fieldPSig, m.Sig), nil
}

func DecodePrepare(b []byte) (Prepare, error) {
	fields, err := wire.ConsumeAll(b)
	if err != nil {
		return Prepare{}, err
	}
	view, err := wire.RequireUint64(fields, fieldPView)
	if err != nil {
		return Prepare{}, err
	}
	seq, err := wire.RequireUint64(fields, fieldPSeq)
	if err != nil {
		return Prepare{}, err
	}
	digest, err := requireDigest(fields, fieldPDigest)
	if err != nil {
		return Prepare{}, err
	}
	replicaId, err := wire.RequireUint64(fields, fieldPReplicaId)
	if err != nil {
		return Prepare{}, err
	}
	sig, err := wire.RequireBytes(fields, fieldPSig)
	if err != nil {
		return Prepare{}, err
	}
	return Prepare{
		View:      smrtype.ViewNumber(view),
		Seq:       smrtype.OpNumber(seq),
		Digest:    digest,
		ReplicaId: smrtype.ReplicaId(int32(replicaId)),
		Sig:       sig,
	}, nil
}

// Commit is a replica's vote that it has collected a quorum of matching
// Prepares.
type Commit struct {
	View      smrtype.ViewNumber
	Seq       smrtype.OpNumber
	Digest    Digest
	ReplicaId smrtype.ReplicaId
	Sig       []byte
}

func (m Commit) signingBody() []byte {
	var buf []byte
	buf = wire.AppendUint64(buf, fieldCView, uint64(m.View))
	buf = wire.AppendUint64(buf, fieldCSeq, uint64(m.Seq))
	buf = appendDigest(buf, fieldCDigest, m.Digest)
	buf = wire.AppendUint64(buf, fieldCReplicaId, uint64(uint32(m.ReplicaId)))
	return buf
}

func (m Commit) Encode(buf []byte) ([]byte, error) {
	buf = append(buf, m.signingBody()...)
	return wire.AppendBytes(buf, fieldCSig, m.Sig), nil
}

func DecodeCommit(b []byte) (Commit, error) {
	fields, err := wire.ConsumeAll(b)
	if err != nil {
		return Commit{}, err
	}
	view, err := wire.RequireUint64(fields, fieldCView)
	if err != nil {
		return Commit{}, err
	}
	seq, err := wire.RequireUint64(fields, fieldCSeq)
	if err != nil {
		return Commit{}, err
	}
	digest, err := requireDigest(fields, fieldCDigest)
	if err != nil {
		return Commit{}, err
	}
	replicaId, err := wire.RequireUint64(fields, fieldCReplicaId)
	if err != nil {
		return Commit{}, err
	}
	sig, err := wire.RequireBytes(fields, fieldCSig)
	if err != nil {
		return Commit{}, err
	}
	return Commit{
		View:      smrtype.ViewNumber(view),
		Seq:       smrtype.OpNumber(seq),
		Digest:    digest,
		ReplicaId: smrtype.ReplicaId(int32(replicaId)),
		Sig:       sig,
	}, nil
}
