// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package smrclient implements the basic client every protocol in this
// module shares: request-number tracking, a send strategy (all replicas or
// primary-first with fallback), resend-on-timeout, and quorum-based reply
// matching. Grounded on common/BasicClient.hpp; handleReply's threshold
// matching logic, left as a TODO there, is filled in from spec.md §4.9.
package smrclient

import (
	"time"

	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/transport"
	"github.com/oskr-smr/smrcore/wire"
)

// Strategy selects how a request is first sent.
type Strategy int

const (
	// SendAll sends every request to every replica.
	SendAll Strategy = iota
	// SendPrimaryFirst sends the initial attempt to the current primary
	// only; resends go to all replicas.
	SendPrimaryFirst
)

// Callback receives the matched result bytes once invoke's quorum is met.
type Callback func(result smrtype.Data)

type pending struct {
	requestNumber smrtype.RequestNumber
	op            smrtype.Data
	resultTable   map[string]map[smrtype.ReplicaId]struct{}
	cb            Callback
}

// Client is the basic SMR client, generic over the transport's address
// type. It is not safe for concurrent use by multiple goroutines without
// external synchronization; it is meant to be driven from one transport
// sequential channel or one dedicated goroutine.
type Client[Address comparable] struct {
	id     smrtype.ClientId
	self   Address
	t      transport.Transport[Address]
	config smrtype.Config[Address]

	strategy       Strategy
	resendInterval time.Duration
	nRequired      int // m*f+1

	requestNumber smrtype.RequestNumber
	viewNumber    smrtype.ViewNumber
	pending       *pending
	resendCancel  transport.CancelFunc
}

// New constructs a Client. m is the fault multiplier (so nRequired =
// m*config.F+1); m=0 requires a single reply, which fits protocols in which
// only the primary replies (Unreplicated, VR).
func New[Address comparable](id smrtype.ClientId, self Address, t transport.Transport[Address], config smrtype.Config[Address], strategy Strategy, resendInterval time.Duration, m int) *Client[Address] {
	c := &Client[Address]{
		id:             id,
		self:           self,
		t:              t,
		config:         config,
		strategy:       strategy,
		resendInterval: resendInterval,
		nRequired:      m*config.F + 1,
	}
	t.RegisterReceiver(self, c.onReceive)
	return c
}

func (c *Client[Address]) onReceive(remote Address, desc *transport.Descriptor) {
	buf := append([]byte(nil), desc.Bytes()...)
	desc.Release()
	c.t.Spawn(func() {
		reply, err := wire.DecodeReplyMessage(buf)
		if err != nil {
			return
		}
		c.Receive(reply.ReplicaId, reply)
	})
}

// ViewNumber returns the highest view number learned from any reply so
// far.
func (c *Client[Address]) ViewNumber() smrtype.ViewNumber {
	return c.viewNumber
}

// Invoke submits op, invoking cb once the reply quorum is reached. It is a
// protocol violation to call Invoke while a previous request is still
// pending.
func (c *Client[Address]) Invoke(op smrtype.Data, cb Callback) {
	if c.pending != nil {
		smrtype.Panicf(-1, "smrclient: invoke called with a request already pending")
	}
	c.requestNumber++
	c.pending = &pending{
		requestNumber: c.requestNumber,
		op:            op,
		resultTable:   make(map[string]map[smrtype.ReplicaId]struct{}),
		cb:            cb,
	}
	c.sendRequest(false)
}

func (c *Client[Address]) sendRequest(resend bool) {
	p := c.pending
	if p == nil {
		return
	}
	msg := wire.RequestMessage{ClientId: c.id, RequestNumber: p.requestNumber, Op: p.op}

	write := func(buf []byte) int {
		b, err := msg.Encode(buf[:0])
		if err != nil {
			smrtype.Panicf(-1, "smrclient: encode request: %v", err)
		}
		return len(b)
	}

	if c.strategy == SendPrimaryFirst && !resend {
		primary := c.config.Primary(c.viewNumber)
		if err := c.t.Send(c.self, primary, write); err != nil {
			smrtype.Panicf(-1, "smrclient: send to primary: %v", err)
		}
	} else {
		if err := c.t.SendToAll(c.self, write); err != nil {
			smrtype.Panicf(-1, "smrclient: send to all: %v", err)
		}
	}

	reqNum := p.requestNumber
	c.resendCancel = c.t.SpawnAfter(c.resendInterval, func() {
		if c.pending == nil || c.pending.requestNumber != reqNum {
			return
		}
		c.sendRequest(true)
	})
}

// Receive handles a ReplyMessage arriving from replicaId. It drops the
// reply if it doesn't match the currently pending request.
func (c *Client[Address]) Receive(replicaId smrtype.ReplicaId, reply wire.ReplyMessage) {
	p := c.pending
	if p == nil || reply.RequestNumber != p.requestNumber {
		return
	}
	if reply.ViewNumber > c.viewNumber {
		c.viewNumber = reply.ViewNumber
	}

	if c.nRequired <= 1 {
		c.finalize(reply.Result)
		return
	}

	key := string(reply.Result.Bytes())
	set, ok := p.resultTable[key]
	if !ok {
		set = make(map[smrtype.ReplicaId]struct{})
		p.resultTable[key] = set
	}
	set[replicaId] = struct{}{}
	if len(set) >= c.nRequired {
		c.finalize(reply.Result)
	}
}

func (c *Client[Address]) finalize(result smrtype.Data) {
	p := c.pending
	if c.resendCancel != nil {
		c.resendCancel()
		c.resendCancel = nil
	}
	c.pending = nil
	p.cb(result)
}
