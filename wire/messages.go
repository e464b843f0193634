// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/oskr-smr/smrcore/smrtype"
)

// field numbers for LogEntry
const (
	fieldEntryClientId      protowire.Number = 1
	fieldEntryRequestNumber protowire.Number = 2
	fieldEntryOp            protowire.Number = 3
)

// field numbers for Block
const (
	fieldBlockEntry    protowire.Number = 1 // repeated
	fieldBlockPrevious protowire.Number = 2 // chain log only
)

// field numbers for RequestMessage
const (
	fieldReqClientId      protowire.Number = 1
	fieldReqRequestNumber protowire.Number = 2
	fieldReqOp            protowire.Number = 3
)

// field numbers for ReplyMessage
const (
	fieldRepRequestNumber protowire.Number = 1
	fieldRepResult        protowire.Number = 2
	fieldRepViewNumber    protowire.Number = 3
	fieldRepReplicaId     protowire.Number = 4
)

// AppendData appends a length-prefixed Data field, failing if the payload
// exceeds the 240-byte wire ceiling.
func AppendData(buf []byte, num protowire.Number, d smrtype.Data) ([]byte, error) {
	if d.Len() > smrtype.DataMaxLen {
		return nil, ErrMalformed
	}
	return AppendBytes(buf, num, d.Bytes()), nil
}

func requireData(fields []Field, num protowire.Number) (smrtype.Data, error) {
	b, err := RequireBytes(fields, num)
	if err != nil {
		return smrtype.Data{}, err
	}
	if len(b) > smrtype.DataMaxLen {
		return smrtype.Data{}, ErrMalformed
	}
	return smrtype.NewData(b), nil
}

// LogEntry is one client request as it sits in the log: grounded on
// common/ListLog.hpp's Entry{client_id, request_number, op}.
type LogEntry struct {
	ClientId      smrtype.ClientId
	RequestNumber smrtype.RequestNumber
	Op            smrtype.Data
}

func decodeLogEntry(b []byte) (LogEntry, error) {
	fields, err := ConsumeAll(b)
	if err != nil {
		return LogEntry{}, err
	}
	clientId, err := RequireUint64(fields, fieldEntryClientId)
	if err != nil {
		return LogEntry{}, err
	}
	reqNum, err := RequireUint64(fields, fieldEntryRequestNumber)
	if err != nil {
		return LogEntry{}, err
	}
	op, err := requireData(fields, fieldEntryOp)
	if err != nil {
		return LogEntry{}, err
	}
	return LogEntry{
		ClientId:      smrtype.ClientId(clientId),
		RequestNumber: smrtype.RequestNumber(reqNum),
		Op:            op,
	}, nil
}

// Block is a batch of log entries prepared together under one OpNumber.
// BlockSize bounds len(Entries); spec.md defaults it to 50.
type Block struct {
	Entries []LogEntry
}

// BlockSize is the default bound on entries per block.
const BlockSize = 50

// EncodeBlock serializes a Block's entries, each as a nested bytes field.
func EncodeBlock(buf []byte, b Block) ([]byte, error) {
	for _, e := range b.Entries {
		body, err := e.encodeBody()
		if err != nil {
			return nil, err
		}
		buf = AppendBytes(buf, fieldBlockEntry, body)
	}
	return buf, nil
}

func (e LogEntry) encodeBody() ([]byte, error) {
	var body []byte
	body = AppendUint64(body, fieldEntryClientId, uint64(e.ClientId))
	body = AppendUint64(body, fieldEntryRequestNumber, uint64(e.RequestNumber))
	var err error
	body, err = AppendData(body, fieldEntryOp, e.Op)
	return body, err
}

// DecodeBlock parses fields already consumed by the caller (e.g. as part of
// a larger message) into a Block.
func DecodeBlock(fields []Field) (Block, error) {
	var blk Block
	for _, f := range fields {
		if f.Num != fieldBlockEntry {
			continue
		}
		if f.Type != protowire.BytesType {
			return Block{}, ErrMalformed
		}
		entry, err := decodeLogEntry(f.Bytes)
		if err != nil {
			return Block{}, err
		}
		blk.Entries = append(blk.Entries, entry)
	}
	return blk, nil
}

// ChainBlock is the chain-log variant: a Block that also carries the hash of
// its predecessor. Branch selection and fork detection over ChainBlock are
// out of scope (see smrlog.Chain).
type ChainBlock struct {
	Block
	Previous smrtype.Hash
}

// RequestMessage is a client's request, common to every protocol.
// Grounded on common/BasicClient.hpp's RequestMessage.
type RequestMessage struct {
	ClientId      smrtype.ClientId
	RequestNumber smrtype.RequestNumber
	Op            smrtype.Data
}

// Encode serializes m.
func (m RequestMessage) Encode(buf []byte) ([]byte, error) {
	buf = AppendUint64(buf, fieldReqClientId, uint64(m.ClientId))
	buf = AppendUint64(buf, fieldReqRequestNumber, uint64(m.RequestNumber))
	return AppendData(buf, fieldReqOp, m.Op)
}

// DecodeRequestMessage parses a RequestMessage.
func DecodeRequestMessage(b []byte) (RequestMessage, error) {
	fields, err := ConsumeAll(b)
	if err != nil {
		return RequestMessage{}, err
	}
	clientId, err := RequireUint64(fields, fieldReqClientId)
	if err != nil {
		return RequestMessage{}, err
	}
	reqNum, err := RequireUint64(fields, fieldReqRequestNumber)
	if err != nil {
		return RequestMessage{}, err
	}
	op, err := requireData(fields, fieldReqOp)
	if err != nil {
		return RequestMessage{}, err
	}
	return RequestMessage{
		ClientId:      smrtype.ClientId(clientId),
		RequestNumber: smrtype.RequestNumber(reqNum),
		Op:            op,
	}, nil
}

// ReplyMessage is a replica's reply to a client request, common to every
// protocol. Grounded on common/BasicClient.hpp's ReplyMessage.
type ReplyMessage struct {
	RequestNumber smrtype.RequestNumber
	Result        smrtype.Data
	ViewNumber    smrtype.ViewNumber
	ReplicaId     smrtype.ReplicaId
}

// Encode serializes m.
func (m ReplyMessage) Encode(buf []byte) ([]byte, error) {
	buf = AppendUint64(buf, fieldRepRequestNumber, uint64(m.RequestNumber))
	var err error
	buf, err = AppendData(buf, fieldRepResult, m.Result)
	if err != nil {
		return nil, err
	}
	buf = AppendUint64(buf, fieldRepViewNumber, uint64(m.ViewNumber))
	buf = AppendUint64(buf, fieldRepReplicaId, uint64(uint32(m.ReplicaId)))
	return buf, nil
}

// DecodeReplyMessage parses a ReplyMessage.
func DecodeReplyMessage(b []byte) (ReplyMessage, error) {
	fields, err := ConsumeAll(b)
	if err != nil {
		return ReplyMessage{}, err
	}
	reqNum, err := RequireUint64(fields, fieldRepRequestNumber)
	if err != nil {
		return ReplyMessage{}, err
	}
	result, err := requireData(fields, fieldRepResult)
	if err != nil {
		return ReplyMessage{}, err
	}
	view, err := RequireUint64(fields, fieldRepViewNumber)
	if err != nil {
		return ReplyMessage{}, err
	}
	replicaId, err := RequireUint64(fields, fieldRepReplicaId)
	if err != nil {
		return ReplyMessage{}, err
	}
	return ReplyMessage{
		RequestNumber: smrtype.RequestNumber(reqNum),
		Result:        result,
		ViewNumber:    smrtype.ViewNumber(view),
		ReplicaId:     smrtype.ReplicaId(int32(replicaId)),
	}, nil
}
