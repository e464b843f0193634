// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package clienttable implements the per-replica client table: the
// dedup/reply cache every replica consults on request receipt and updates
// at commit. Grounded on common/ClientTable.hpp's checkShortcut/update
// pair, renamed Check/Update/UpdateWithReply here for clarity now that
// there are two different update operations.
package clienttable

import (
	"log"

	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/wire"
)

// Apply is returned by Check and UpdateWithReply. Invoking it with a send
// function either does nothing (a stale or in-flight request) or sends the
// cached reply to the recorded remote.
type Apply[Address comparable] func(send func(remote Address, reply wire.ReplyMessage))

func noop[Address comparable](send func(remote Address, reply wire.ReplyMessage)) {}

type record[Address comparable] struct {
	remote      Address
	hasRemote   bool
	lastRequest smrtype.RequestNumber
	lastReply   *wire.ReplyMessage
}

// Table is the per-replica client table, keyed by ClientId.
type Table[Address comparable] struct {
	replicaId smrtype.ReplicaId
	records   map[smrtype.ClientId]*record[Address]
}

// New constructs an empty Table. replicaId only tags fatal diagnostics.
func New[Address comparable](replicaId smrtype.ReplicaId) *Table[Address] {
	return &Table[Address]{replicaId: replicaId, records: make(map[smrtype.ClientId]*record[Address])}
}

// Check is called by the primary on request receipt. It returns shortcut
// false ("None") when this is a genuinely new request — the record has been
// updated and the caller should proceed with normal processing. It returns
// shortcut true ("Some(Apply)") when the caller should invoke the returned
// Apply (a no-op for a stale or in-flight request, a cached-reply resend
// for a repeated, already-answered request) and stop.
func (t *Table[Address]) Check(remote Address, clientId smrtype.ClientId, requestNumber smrtype.RequestNumber) (apply Apply[Address], shortcut bool) {
	r, ok := t.records[clientId]
	if !ok {
		t.records[clientId] = &record[Address]{remote: remote, hasRemote: true, lastRequest: requestNumber}
		return nil, false
	}

	switch {
	case requestNumber < r.lastRequest:
		return noop[Address], true
	case requestNumber == r.lastRequest:
		if r.lastReply == nil {
			return noop[Address], true
		}
		reply := *r.lastReply
		remoteCopy := r.remote
		return func(send func(Address, wire.ReplyMessage)) { send(remoteCopy, reply) }, true
	case requestNumber == r.lastRequest+1:
		r.remote = remote
		r.hasRemote = true
		r.lastRequest = requestNumber
		r.lastReply = nil
		return nil, false
	default:
		smrtype.Panicf(t.replicaId, "client table: client %d request number gap %d -> %d", clientId, r.lastRequest, requestNumber)
		panic("unreachable")
	}
}

// Update is called by backups when they observe, via Prepare, a request
// number they did not originally see from the client directly. It advances
// lastRequest and clears any cached reply without requiring (or implying)
// that the client has ever been seen directly by this replica.
func (t *Table[Address]) Update(clientId smrtype.ClientId, requestNumber smrtype.RequestNumber) {
	r, ok := t.records[clientId]
	if !ok {
		t.records[clientId] = &record[Address]{lastRequest: requestNumber}
		return
	}
	if requestNumber > r.lastRequest {
		r.lastRequest = requestNumber
		r.lastReply = nil
	}
}

// UpdateWithReply is called at commit: it records the reply and returns an
// Apply that sends it to the recorded remote, if any. A stale update (a
// request number lower than what's on record) is logged and ignored.
func (t *Table[Address]) UpdateWithReply(clientId smrtype.ClientId, requestNumber smrtype.RequestNumber, reply wire.ReplyMessage) Apply[Address] {
	r, ok := t.records[clientId]
	if !ok {
		log.Printf("warning: client table: no record for client %d at commit", clientId)
		return noop[Address]
	}
	if requestNumber < r.lastRequest {
		log.Printf("warning: client table: stale update for client %d: %d < %d", clientId, requestNumber, r.lastRequest)
		return noop[Address]
	}

	r.lastRequest = requestNumber
	r.lastReply = &reply
	if !r.hasRemote {
		return noop[Address]
	}
	remote := r.remote
	return func(send func(Address, wire.ReplyMessage)) { send(remote, reply) }
}
