// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package unreplicated implements the trivial single-replica protocol: no
// quorum, no view change, just a client table, a one-entry-per-block log,
// and an application. It exists as a conformance baseline every other
// protocol in this module is checked against.
package unreplicated

import (
	"log"

	"github.com/oskr-smr/smrcore/app"
	"github.com/oskr-smr/smrcore/clienttable"
	"github.com/oskr-smr/smrcore/smrlog"
	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/transport"
	"github.com/oskr-smr/smrcore/wire"
)

// Replica is the sole participant of an unreplicated deployment.
type Replica[Address comparable] struct {
	id   smrtype.ReplicaId
	self Address
	t    transport.Transport[Address]

	opNumber smrtype.OpNumber
	table    *clienttable.Table[Address]
	log      *smrlog.List
}

// New constructs a Replica bound to self and registers its receiver on t.
func New[Address comparable](id smrtype.ReplicaId, self Address, t transport.Transport[Address], a app.App) *Replica[Address] {
	r := &Replica[Address]{
		id:    id,
		self:  self,
		t:     t,
		table: clienttable.New[Address](id),
		log:   smrlog.New(id, a),
	}
	t.RegisterReceiver(self, r.onReceive)
	return r
}

func (r *Replica[Address]) onReceive(remote Address, desc *transport.Descriptor) {
	buf := append([]byte(nil), desc.Bytes()...)
	desc.Release()
	r.t.Spawn(func() { r.handle(remote, buf) })
}

func (r *Replica[Address]) handle(remote Address, buf []byte) {
	req, err := wire.DecodeRequestMessage(buf)
	if err != nil {
		log.Printf("unreplicated: replica %d: dropping malformed request from %v: %v", r.id, remote, err)
		return
	}

	if apply, shortcut := r.table.Check(remote, req.ClientId, req.RequestNumber); shortcut {
		apply(func(dest Address, reply wire.ReplyMessage) { r.sendReply(dest, reply) })
		return
	}

	r.opNumber++
	entry := wire.LogEntry{ClientId: req.ClientId, RequestNumber: req.RequestNumber, Op: req.Op}
	r.log.Prepare(r.opNumber, wire.Block{Entries: []wire.LogEntry{entry}})

	r.log.Commit(r.opNumber, func(clientId smrtype.ClientId, requestNumber smrtype.RequestNumber, result smrtype.Data) {
		reply := wire.ReplyMessage{RequestNumber: requestNumber, Result: result, ViewNumber: 0, ReplicaId: r.id}
		apply := r.table.UpdateWithReply(clientId, requestNumber, reply)
		apply(func(dest Address, rep wire.ReplyMessage) { r.sendReply(dest, rep) })
	})
}

func (r *Replica[Address]) sendReply(dest Address, reply wire.ReplyMessage) {
	err := r.t.Send(r.self, dest, func(buf []byte) int {
		b, encErr := reply.Encode(buf[:0])
		if encErr != nil {
			smrtype.Panicf(r.id, "unreplicated: encode reply: %v", encErr)
		}
		return len(b)
	})
	if err != nil {
		log.Printf("unreplicated: replica %d: send reply to %v: %v", r.id, dest, err)
	}
}
