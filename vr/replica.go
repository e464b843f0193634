// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package vr

import (
	"log"
	"time"

	"github.com/oskr-smr/smrcore/app"
	"github.com/oskr-smr/smrcore/clienttable"
	"github.com/oskr-smr/smrcore/quorum"
	"github.com/oskr-smr/smrcore/smrlog"
	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/timeout"
	"github.com/oskr-smr/smrcore/transport"
	"github.com/oskr-smr/smrcore/wire"
)

// status is normal (serving requests) or view_change (negotiating a new
// primary).
type status int

const (
	statusNormal status = iota
	statusViewChange
)

const (
	idleCommitInterval = 200 * time.Millisecond
	viewChangeInterval = 500 * time.Millisecond
)

const (
	kindRequest byte = iota
	kindPrepare
	kindPrepareOk
	kindCommit
	kindStartViewChange
	kindDoViewChange
	kindStartView
)

// Replica is one participant of a Viewstamped Replication deployment.
type Replica[Address comparable] struct {
	id     smrtype.ReplicaId
	self   Address
	t      transport.Transport[Address]
	config smrtype.Config[Address]

	status       status
	view         smrtype.ViewNumber
	pendingBatch []wire.LogEntry
	batchSize    int

	// latestNormalView is the last view this replica was operating
	// normally in. It rides along on DoViewChange so the new primary
	// could, in principle, tell which contributor's state is freshest;
	// this module resolves ties purely by op/commit number (see
	// startView) and carries the field only because every DoViewChange
	// on the wire has one, per replication/vr/Message.hpp.
	latestNormalView smrtype.ViewNumber

	table *clienttable.Table[Address]
	log   *smrlog.List

	prepareOkSet       *quorum.Set[smrtype.OpNumber, PrepareOk]
	startViewChangeSet *quorum.Set[smrtype.ViewNumber, StartViewChange]
	doViewChangeSet    *quorum.Set[smrtype.ViewNumber, DoViewChange]

	idleCommitTimeout *timeout.Timeout
	viewChangeTimeout *timeout.Timeout
}

// New constructs a Replica bound to self, registers its receiver on t, and
// arms the appropriate startup timer (idle-commit if primary for view 0,
// view-change otherwise). batchSize bounds entries per prepared block; it
// is clamped to wire.BlockSize.
func New[Address comparable](id smrtype.ReplicaId, self Address, t transport.Transport[Address], config smrtype.Config[Address], a app.App, batchSize int) *Replica[Address] {
	if batchSize <= 0 || batchSize > wire.BlockSize {
		batchSize = wire.BlockSize
	}
	f := config.F
	r := &Replica[Address]{
		id:                 id,
		self:               self,
		t:                  t,
		config:             config,
		status:             statusNormal,
		batchSize:          batchSize,
		table:              clienttable.New[Address](id),
		log:                smrlog.New(id, a),
		prepareOkSet:       quorum.New[smrtype.OpNumber, PrepareOk](f),
		startViewChangeSet: quorum.New[smrtype.ViewNumber, StartViewChange](f),
		doViewChangeSet:    quorum.New[smrtype.ViewNumber, DoViewChange](f + 1),
	}
	r.idleCommitTimeout = timeout.New(t.SpawnAfter, idleCommitInterval, r.onIdleCommitFire)
	r.viewChangeTimeout = timeout.New(t.SpawnAfter, viewChangeInterval, r.onViewChangeTimeoutFire)
	t.RegisterReceiver(self, r.onReceive)

	if r.isPrimary() {
		r.idleCommitTimeout.Enable()
	} else {
		r.viewChangeTimeout.Enable()
	}
	return r
}

// View, OpNumber, CommitNumber, and IsPrimary are read-only introspection
// used by tests; callers outside the sequential channel must not rely on
// them being momentarily stable.
func (r *Replica[Address]) View() smrtype.ViewNumber          { return r.view }
func (r *Replica[Address]) OpNumber() smrtype.OpNumber        { return r.log.OpNumber() }
func (r *Replica[Address]) CommitNumber() smrtype.OpNumber    { return r.log.CommitNumber() }
func (r *Replica[Address]) IsPrimary() bool                   { return r.isPrimary() }

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
			log.Printf("vr: replica %d: dropping malformed request from %v: %v", r.id, remote, err)
			return
		}
		r.onRequest(remote, m)
	case kindPrepare:
		m, err := DecodePrepare(buf)
		if err != nil {
			log.Printf("vr: replica %d: dropping malformed prepare from %v: %v", r.id, remote, err)
			return
		}
		r.onPrepare(remote, m)
	case kindPrepareOk:
		m, err := DecodePrepareOk(buf)
		if err != nil {
			log.Printf("vr: replica %d: dropping malformed prepare-ok from %v: %v", r.id, remote, err)
			return
		}
		r.onPrepareOk(remote, m)
	case kindCommit:
		m, err := DecodeCommit(buf)
		if err != nil {
			log.Printf("vr: replica %d: dropping malformed commit from %v: %v", r.id, remote, err)
			return
		}
		r.onCommit(remote, m)
	case kindStartViewChange:
		m, err := DecodeStartViewChange(buf)
		if err != nil {
			log.Printf("vr: replica %d: dropping malformed start-view-change from %v: %v", r.id, remote, err)
			return
		}
		r.onStartViewChange(remote, m)
	case kindDoViewChange:
		m, err := DecodeDoViewChange(buf)
		if err != nil {
			log.Printf("vr: replica %d: dropping malformed do-view-change from %v: %v", r.id, remote, err)
			return
		}
		r.onDoViewChange(remote, m)
	case kindStartView:
		m, err := DecodeStartView(buf)
		if err != nil {
			log.Printf("vr: replica %d: dropping malformed start-view from %v: %v", r.id, remote, err)
			return
		}
		r.onStartView(remote, m)
	default:
		log.Printf("vr: replica %d: unknown message kind %d from %v", r.id, kind, remote)
	}
}

func (r *Replica[Address]) send(dest Address, kind byte, encode func([]byte) ([]byte, error)) {
	err := r.t.Send(r.self, dest, func(buf []byte) int {
		buf[0] = kind
		b, encErr := encode(buf[1:1])
		if encErr != nil {
			smrtype.Panicf(r.id, "vr: encode message kind %d: %v", kind, encErr)
		}
		return 1 + len(b)
	})
	if err != nil {
		log.Printf("vr: replica %d: send to %v: %v", r.id, dest, err)
	}
}

func (r *Replica[Address]) broadcast(kind byte, encode func([]byte) ([]byte, error)) {
	err := r.t.SendToAll(r.self, func(buf []byte) int {
		buf[0] = kind
		b, encErr := encode(buf[1:1])
		if encErr != nil {
			smrtype.Panicf(r.id, "vr: encode message kind %d: %v", kind, encErr)
		}
		return 1 + len(b)
	})
	if err != nil {
		log.Printf("vr: replica %d: broadcast: %v", r.id, err)
	}
}

func (r *Replica[Address]) sendReply(dest Address, reply wire.ReplyMessage) {
	err := r.t.Send(r.self, dest, func(buf []byte) int {
		b, encErr := reply.Encode(buf[:0])
		if encErr != nil {
			smrtype.Panicf(r.id, "vr: encode reply: %v", encErr)
		}
		return len(b)
	})
	if err != nil {
		log.Printf("vr: replica %d: send reply to %v: %v", r.id, dest, err)
	}
}

// onRequest is the primary's entry point for client requests. Backups and
// replicas mid view-change silently drop them; the client's resend logic
// is what eventually routes the request to whichever replica actually is
// primary.
func (r *Replica[Address]) onRequest(remote Address, req wire.RequestMessage) {
	if r.status != statusNormal || !r.isPrimary() {
		return
	}
	if apply, shortcut := r.table.Check(remote, req.ClientId, req.RequestNumber); shortcut {
		apply(func(dest Address, reply wire.ReplyMessage) { r.sendReply(dest, reply) })
		return
	}

	r.pendingBatch = append(r.pendingBatch, wire.LogEntry{ClientId: req.ClientId, RequestNumber: req.RequestNumber, Op: req.Op})
	if len(r.pendingBatch) >= r.batchSize {
		r.closeBatch()
	}
}

// closeBatch prepares the pending batch under the next op number,
// broadcasts Prepare, and resets the idle-commit timer. If a quorum of
// PrepareOks for this op number already arrived out of order (possible
// under a reordering transport), it commits immediately.
func (r *Replica[Address]) closeBatch() {
	op := r.log.OpNumber() + 1
	block := wire.Block{Entries: r.pendingBatch}
	r.log.Prepare(op, block)
	r.pendingBatch = nil

	msg := Prepare{View: r.view, Op: op, Block: block, Commit: r.log.CommitNumber()}
	r.broadcast(kindPrepare, msg.Encode)
	r.idleCommitTimeout.Reset()

	if r.prepareOkSet.CheckForQuorum(op) {
		r.commitUpTo(op)
	}
}

// onPrepare is a backup's entry point. prepare.View > view and an op
// number gap are both cross-view/log divergences; per spec.md's Open
// Question this stays a fatal stub rather than a silent best-effort guess.
func (r *Replica[Address]) onPrepare(remote Address, p Prepare) {
	if r.status != statusNormal {
		return
	}
	if p.View < r.view {
		return
	}
	if p.View > r.view {
		smrtype.Panicf(r.id, "vr: prepare from future view %d (have %d): cross-view state transfer is unimplemented", p.View, r.view)
	}
	if r.isPrimary() {
		smrtype.Panicf(r.id, "vr: prepare arrived at the primary for view %d", r.view)
	}
	r.viewChangeTimeout.Reset()

	if p.Op <= r.log.OpNumber() {
		r.sendPrepareOk(remote, p.Op)
		return
	}
	if p.Op != r.log.OpNumber()+1 {
		smrtype.Panicf(r.id, "vr: prepare op %d, expected %d: cross-view log transfer is unimplemented", p.Op, r.log.OpNumber()+1)
	}

	r.log.Prepare(p.Op, p.Block)
	for _, e := range p.Block.Entries {
		r.table.Update(e.ClientId, e.RequestNumber)
	}
	r.sendPrepareOk(remote, p.Op)

	if p.Commit > r.log.CommitNumber() {
		r.commitUpTo(p.Commit)
	}
}

func (r *Replica[Address]) sendPrepareOk(primary Address, op smrtype.OpNumber) {
	msg := PrepareOk{View: r.view, Op: op, ReplicaId: r.id}
	r.send(primary, kindPrepareOk, msg.Encode)
}

// onPrepareOk is the primary's quorum-counting entry point.
func (r *Replica[Address]) onPrepareOk(remote Address, m PrepareOk) {
	if m.View != r.view || m.Op <= r.log.CommitNumber() {
		return
	}
	if r.prepareOkSet.AddAndCheckForQuorum(m.Op, m.ReplicaId, m) {
		r.commitUpTo(m.Op)
	}
}

// commitUpTo drives the log forward from its current commit number to k,
// inclusive, updating the client table and — on the primary only —
// sending each reply to its originating client.
func (r *Replica[Address]) commitUpTo(k smrtype.OpNumber) {
	isPrimary := r.isPrimary()
	for i := r.log.CommitNumber() + 1; i <= k; i++ {
		r.log.Commit(i, func(clientId smrtype.ClientId, requestNumber smrtype.RequestNumber, result smrtype.Data) {
			reply := wire.ReplyMessage{RequestNumber: requestNumber, Result: result, ViewNumber: r.view, ReplicaId: r.id}
			apply := r.table.UpdateWithReply(clientId, requestNumber, reply)
			if isPrimary {
				apply(func(dest Address, rep wire.ReplyMessage) { r.sendReply(dest, rep) })
			}
		})
	}
}

func (r *Replica[Address]) onIdleCommitFire() {
	msg := Commit{View: r.view, Commit: r.log.CommitNumber()}
	r.broadcast(kindCommit, msg.Encode)
	r.idleCommitTimeout.Reset()
}

// onCommit is a backup's entry point for the primary's idle heartbeat.
func (r *Replica[Address]) onCommit(remote Address, m Commit) {
	if r.status != statusNormal || m.View < r.view {
		return
	}
	if m.View > r.view {
		smrtype.Panicf(r.id, "vr: commit from future view %d (have %d): cross-view state transfer is unimplemented", m.View, r.view)
	}
	r.viewChangeTimeout.Reset()
	if m.Commit > r.log.CommitNumber() {
		r.commitUpTo(m.Commit)
	}
}

func (r *Replica[Address]) onViewChangeTimeoutFire() {
	r.startViewChange(r.view + 1)
}

// startViewChange moves this replica into view-change status for v and
// broadcasts its intent. It is driven either by the view-change timer
// firing on a backup, or by observing a StartViewChange for a view beyond
// our own (which can legitimately happen to a stale primary too, once it
// has fallen behind).
func (r *Replica[Address]) startViewChange(v smrtype.ViewNumber) {
	r.status = statusViewChange
	r.view = v
	r.viewChangeTimeout.Reset()
	msg := StartViewChange{View: v, ReplicaId: r.id}
	r.broadcast(kindStartViewChange, msg.Encode)
}

func (r *Replica[Address]) onStartViewChange(remote Address, m StartViewChange) {
	if m.View < r.view {
		return
	}
	if m.View > r.view {
		r.startViewChange(m.View)
	}
	r.startViewChangeSet.Add(r.view, m.ReplicaId, m)
	if r.startViewChangeSet.CheckForQuorum(r.view) {
		r.sendDoViewChange()
	}
}

func (r *Replica[Address]) sendDoViewChange() {
	msg := DoViewChange{
		View:         r.view,
		LatestNormal: r.latestNormalView,
		Op:           r.log.OpNumber(),
		Commit:       r.log.CommitNumber(),
		ReplicaId:    r.id,
	}
	if r.isPrimary() {
		r.recordDoViewChange(msg)
		return
	}
	r.send(r.config.Primary(r.view), kindDoViewChange, msg.Encode)
}

func (r *Replica[Address]) onDoViewChange(remote Address, m DoViewChange) {
	r.recordDoViewChange(m)
}

func (r *Replica[Address]) recordDoViewChange(m DoViewChange) {
	r.doViewChangeSet.Add(m.View, m.ReplicaId, m)
	if m.View != r.view || r.config.PrimaryId(m.View) != r.id || r.status != statusViewChange {
		return
	}
	if !r.doViewChangeSet.CheckForQuorum(m.View) {
		return
	}
	r.startView(r.doViewChangeSet.Messages(m.View))
}

// startView is called once the new primary's DoViewChange quorum
// completes. A contributor reporting an op number ahead of our own would
// mean we're missing prepared entries a real implementation would need to
// fetch via log transfer; per spec.md's Open Question that stays a fatal
// stub here.
func (r *Replica[Address]) startView(contributors map[smrtype.ReplicaId]DoViewChange) {
	var maxCommit smrtype.OpNumber
	ownOp := r.log.OpNumber()
	for _, m := range contributors {
		if m.Commit > maxCommit {
			maxCommit = m.Commit
		}
		if m.Op > ownOp {
			smrtype.Panicf(r.id, "vr: start_view: contributor op %d exceeds own op %d: cross-view log transfer is unimplemented", m.Op, ownOp)
		}
	}
	msg := StartView{View: r.view, Op: ownOp, Commit: maxCommit}
	r.broadcast(kindStartView, msg.Encode)
	r.enterView(msg)
}

func (r *Replica[Address]) onStartView(remote Address, sv StartView) {
	if sv.View < r.view {
		return
	}
	if sv.View == r.view && r.status == statusNormal {
		return
	}
	r.enterView(sv)
}

func (r *Replica[Address]) enterView(sv StartView) {
	r.view = sv.View
	r.status = statusNormal
	r.latestNormalView = sv.View
	r.pendingBatch = nil
	r.prepareOkSet.Clear()

	if r.isPrimary() {
		r.viewChangeTimeout.Stop()
		r.idleCommitTimeout.Enable()
	} else {
		r.viewChangeTimeout.Reset()
	}

	if r.log.OpNumber() < sv.Op {
		smrtype.Panicf(r.id, "vr: enter_view: own op %d behind start_view op %d: cross-view log transfer is unimplemented", r.log.OpNumber(), sv.Op)
	}
	if sv.Commit > r.log.CommitNumber() {
		r.commitUpTo(sv.Commit)
	}
}
