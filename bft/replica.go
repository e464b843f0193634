// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package bft

import (
	"crypto/ed25519"
	"log"

	"github.com/oskr-smr/smrcore/app"
	"github.com/oskr-smr/smrcore/clienttable"
	"github.com/oskr-smr/smrcore/quorum"
	"github.com/oskr-smr/smrcore/smrlog"
	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/transport"
	"github.com/oskr-smr/smrcore/wire"
)

const (
	kindRequest byte = iota
	kindPrePrepare
	kindPrepare
	kindCommit
)

// voteKey identifies one (view, sequence, digest) round of voting —
// matching pkg/handler.go's "view:seq:digest" string keys, restated as a
// comparable struct instead of a formatted string.
type voteKey struct {
	View   smrtype.ViewNumber
	Seq    smrtype.OpNumber
	Digest Digest
}

type seqKey struct {
	View smrtype.ViewNumber
	Seq  smrtype.OpNumber
}

// Replica implements the PBFT normal case: pre-prepare, prepare, commit.
// View change is out of scope — see Protocol's HotStuff/Zyzzyva doc
// comments for the sibling gaps this scaffold leaves for a future
// specification, and SPEC_FULL.md §4.12 for why PBFT's own view change stops
// here.
type Replica[Address comparable] struct {
	id     smrtype.ReplicaId
	self   Address
	t      transport.Transport[Address]
	config smrtype.Config[Address]
	f      int

	sk  ed25519.PrivateKey
	pks map[smrtype.ReplicaId]ed25519.PublicKey

	view    smrtype.ViewNumber
	nextSeq smrtype.OpNumber

	table *clienttable.Table[Address]
	log   *smrlog.List

	requestsByDigest map[Digest]wire.RequestMessage
	prePreparesBySeq map[seqKey]PrePrepare
	prepareSet       *quorum.Set[voteKey, Prepare]
	commitSet        *quorum.Set[voteKey, Commit]
	commitSent       map[voteKey]bool
	executed         map[voteKey]bool
	pendingExecute   map[smrtype.OpNumber]voteKey
}

// New constructs a PBFT Replica. pks must contain a public key for every
// ReplicaId in config.Replicas; n must be 3f+1 for f to be meaningful (f
// is derived as (n-1)/3).
func New[Address comparable](id smrtype.ReplicaId, self Address, t transport.Transport[Address], config smrtype.Config[Address], sk ed25519.PrivateKey, pks map[smrtype.ReplicaId]ed25519.PublicKey, a app.App) *Replica[Address] {
	f := (config.N() - 1) / 3
	quorumSize := 2*f + 1
	r := &Replica[Address]{
		id:               id,
		self:             self,
		t:                t,
		config:           config,
		f:                f,
		sk:               sk,
		pks:              pks,
		table:            clienttable.New[Address](id),
		log:              smrlog.New(id, a),
		requestsByDigest: make(map[Digest]wire.RequestMessage),
		prePreparesBySeq: make(map[seqKey]PrePrepare),
		prepareSet:       quorum.New[voteKey, Prepare](quorumSize),
		commitSet:        quorum.New[voteKey, Commit](quorumSize),
		commitSent:       make(map[voteKey]bool),
		executed:         make(map[voteKey]bool),
		pendingExecute:   make(map[smrtype.OpNumber]voteKey),
	}
	t.RegisterReceiver(self, r.onReceive)
	return r
}

func (r *Replica[Address]) isPrimary() bool {
	return r.config.PrimaryId(r.view) == r.id
}

func (r *Replica[Address]) onReceive(remote Address, desc *transport.Descriptor) {
	raw := desc.Bytes()
	if len(raw) < 1 {
		desc.Release()
		return
	}
	kind := raw[0]
	buf := append([]byte(nil), raw[1:]...)
	desc.Release()
	r.t.Spawn(func() { r.dispatch(remote, kind, buf) })
}

func (r *Replica[Address]) dispatch(remote Address, kind byte, buf []byte) {
	switch kind {
	case kindRequest:
		m, err := wire.DecodeRequestMessage(buf)
		if err != nil {
			log.Printf("bft: replica %d: dropping malformed request from %v: %v", r.id, remote, err)
			return
		}
		r.onRequest(remote, m)
	case kindPrePrepare:
		m, err := DecodePrePrepare(buf)
		if err != nil {
			log.Printf("bft: replica %d: dropping malformed pre-prepare from %v: %v", r.id, remote, err)
			return
		}
		r.onPrePrepare(remote, m)
	case kindPrepare:
		m, err := DecodePrepare(buf)
		if err != nil {
			log.Printf("bft: replica %d: dropping malformed prepare from %v: %v", r.id, remote, err)
			return
		}
		r.onPrepare(m)
	case kindCommit:
		m, err := DecodeCommit(buf)
		if err != nil {
			log.Printf("bft: replica %d: dropping malformed commit from %v: %v", r.id, remote, err)
			return
		}
		r.onCommit(m)
	default:
		log.Printf("bft: replica %d: unknown message kind %d from %v", r.id, kind, remote)
	}
}

func (r *Replica[Address]) send(dest Address, kind byte, encode func([]byte) ([]byte, error)) {
	err := r.t.Send(r.self, dest, func(buf []byte) int {
		buf[0] = kind
		b, encErr := encode(buf[1:1])
		if encErr != nil {
			smrtype.Panicf(r.id, "bft: encode message kind %d: %v", kind, encErr)
		}
		return 1 + len(b)
	})
	if err != nil {
		log.Printf("bft: replica %d: send to %v: %v", r.id, dest, err)
	}
}

func (r *Replica[Address]) broadcast(kind byte, encode func([]byte) ([]byte, error)) {
	err := r.t.SendToAll(r.self, func(buf []byte) int {
		buf[0] = kind
		b, encErr := encode(buf[1:1])
		if encErr != nil {
			smrtype.Panicf(r.id, "bft: encode message kind %d: %v", kind, encErr)
		}
		return 1 + len(b)
	})
	if err != nil {
		log.Printf("bft: replica %d: broadcast: %v", r.id, err)
	}
}

func (r *Replica[Address]) sendReply(dest Address, reply wire.ReplyMessage) {
	err := r.t.Send(r.self, dest, func(buf []byte) int {
		b, encErr := reply.Encode(buf[:0])
		if encErr != nil {
			smrtype.Panicf(r.id, "bft: encode reply: %v", encErr)
		}
		return len(b)
	})
	if err != nil {
		log.Printf("bft: replica %d: send reply to %v: %v", r.id, dest, err)
	}
}

// onRequest forwards to the primary if this replica isn't it, matching
// pkg/handler.go's HandleRequest. Otherwise it assigns the next sequence
// number and broadcasts a signed PrePrepare bundling the request.
func (r *Replica[Address]) onRequest(remote Address, req wire.RequestMessage) {
	if !r.isPrimary() {
		r.send(r.config.Primary(r.view), kindRequest, req.Encode)
		return
	}
	if apply, shortcut := r.table.Check(remote, req.ClientId, req.RequestNumber); shortcut {
		apply(func(dest Address, reply wire.ReplyMessage) { r.sendReply(dest, reply) })
		return
	}

	reqBody, err := req.Encode(nil)
	if err != nil {
		smrtype.Panicf(r.id, "bft: encode request for digest: %v", err)
	}
	digest := hashDigest(reqBody)
	r.nextSeq++
	seq := r.nextSeq

	pp := PrePrepare{View: r.view, Seq: seq, Digest: digest, Request: req, ReplicaId: r.id}
	body, err := pp.signingBody()
	if err != nil {
		smrtype.Panicf(r.id, "bft: encode pre-prepare for signing: %v", err)
	}
	pp.Sig = sign(hashDigest(body), r.sk)

	r.acceptPrePrepare(pp)
	r.broadcast(kindPrePrepare, pp.Encode)
}

func (r *Replica[Address]) onPrePrepare(remote Address, pp PrePrepare) {
	if pp.View != r.view {
		log.Printf("bft: replica %d: pre-prepare view %d != %d, dropping", r.id, pp.View, r.view)
		return
	}
	primaryKey, ok := r.pks[r.config.PrimaryId(pp.View)]
	if !ok {
		log.Printf("bft: replica %d: no public key for primary of view %d", r.id, pp.View)
		return
	}
	body, err := pp.signingBody()
	if err != nil || !verify(hashDigest(body), pp.Sig, primaryKey) {
		log.Printf("bft: replica %d: pre-prepare signature invalid: seq %d", r.id, pp.Seq)
		return
	}
	reqBody, err := pp.Request.Encode(nil)
	if err != nil || hashDigest(reqBody) != pp.Digest {
		log.Printf("bft: replica %d: pre-prepare digest mismatch: seq %d", r.id, pp.Seq)
		return
	}
	r.acceptPrePrepare(pp)

	p := Prepare{View: pp.View, Seq: pp.Seq, Digest: pp.Digest, ReplicaId: r.id}
	p.Sig = sign(hashDigest(p.signingBody()), r.sk)
	r.onPrepare(p)
	r.broadcast(kindPrepare, p.Encode)
}

func (r *Replica[Address]) acceptPrePrepare(pp PrePrepare) {
	key := seqKey{View: pp.View, Seq: pp.Seq}
	if old, ok := r.prePreparesBySeq[key]; ok {
		if old.Digest != pp.Digest {
			log.Printf("bft: replica %d: conflicting pre-prepare for seq %d, ignoring", r.id, pp.Seq)
		}
		return
	}
	r.prePreparesBySeq[key] = pp
	r.requestsByDigest[pp.Digest] = pp.Request
}

func (r *Replica[Address]) onPrepare(p Prepare) {
	pk, ok := r.pks[p.ReplicaId]
	if !ok || !verify(hashDigest(p.signingBody()), p.Sig, pk) {
		log.Printf("bft: replica %d: prepare signature invalid: seq %d", r.id, p.Seq)
		return
	}
	if p.View != r.view {
		return
	}
	key := voteKey{View: p.View, Seq: p.Seq, Digest: p.Digest}
	if !r.prepareSet.AddAndCheckForQuorum(key, p.ReplicaId, p) || r.commitSent[key] {
		return
	}
	r.commitSent[key] = true

	c := Commit{View: p.View, Seq: p.Seq, Digest: p.Digest, ReplicaId: r.id}
	c.Sig = sign(hashDigest(c.signingBody()), r.sk)
	r.onCommit(c)
	r.broadcast(kindCommit, c.Encode)
}

func (r *Replica[Address]) onCommit(c Commit) {
	pk, ok := r.pks[c.ReplicaId]
	if !ok || !verify(hashDigest(c.signingBody()), c.Sig, pk) {
		log.Printf("bft: replica %d: commit signature invalid: seq %d", r.id, c.Seq)
		return
	}
	if c.View != r.view {
		return
	}
	key := voteKey{View: c.View, Seq: c.Seq, Digest: c.Digest}
	if !r.commitSet.AddAndCheckForQuorum(key, c.ReplicaId, c) {
		return
	}
	if !r.prepareSet.CheckForQuorum(key) || r.executed[key] {
		return
	}
	r.executed[key] = true
	r.tryExecute(c.Seq, key)
}

// tryExecute drains pendingExecute in contiguous sequence-number order,
// since commit quorums for different sequence numbers can complete out of
// order but the log requires gapless Prepare.
func (r *Replica[Address]) tryExecute(seq smrtype.OpNumber, key voteKey) {
	r.pendingExecute[seq] = key
	for {
		next := r.log.OpNumber() + 1
		k, ok := r.pendingExecute[next]
		if !ok {
			return
		}
		delete(r.pendingExecute, next)

		req := r.requestsByDigest[k.Digest]
		entry := wire.LogEntry{ClientId: req.ClientId, RequestNumber: req.RequestNumber, Op: req.Op}
		r.log.Prepare(next, wire.Block{Entries: []wire.LogEntry{entry}})
		r.log.Commit(next, func(clientId smrtype.ClientId, requestNumber smrtype.RequestNumber, result smrtype.Data) {
			reply := wire.ReplyMessage{RequestNumber: requestNumber, Result: result, ViewNumber: r.view, ReplicaId: r.id}
			apply := r.table.UpdateWithReply(clientId, requestNumber, reply)
			if r.isPrimary() {
				apply(func(dest Address, rep wire.ReplyMessage) { r.sendReply(dest, rep) })
			}
		})
	}
}
