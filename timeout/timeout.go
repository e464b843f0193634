// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package timeout implements the stateful, resettable timer every protocol
// in this module layers over the transport's one-shot SpawnAfter. Grounded
// on common/StatefulTimeout.hpp's generation-counter pattern: a timer that
// outlives the cancel handle it happens to hold at any given moment,
// because the handle is replaced on every Reset.
package timeout

import (
	"time"

	"github.com/oskr-smr/smrcore/transport"
)

// SpawnAfter is the one primitive Timeout needs from a transport; it
// matches transport.Transport.SpawnAfter's signature without pulling in
// the address type parameter.
type SpawnAfter func(delay time.Duration, cb func()) transport.CancelFunc

// Timeout is a single-shot alarm that can be rearmed (Reset), silenced
// (Stop), and queried (Active) any number of times. Each Reset invalidates
// any fire already in flight from a previous Reset by bumping a generation
// counter the fire callback checks before invoking cb — this is what lets
// Stop/Reset race safely against a timer that is already in the transport's
// queue with no way to truly unqueue it.
type Timeout struct {
	spawnAfter SpawnAfter
	delay      time.Duration
	cb         func()

	generation uint64
	cancel     transport.CancelFunc
	scheduled  bool
}

// New constructs a Timeout that is not yet running. Call Reset to arm it.
func New(spawnAfter SpawnAfter, delay time.Duration, cb func()) *Timeout {
	return &Timeout{spawnAfter: spawnAfter, delay: delay, cb: cb}
}

// Reset cancels any pending fire and restarts the countdown from delay.
func (t *Timeout) Reset() {
	t.cancelPending()
	t.generation++
	gen := t.generation
	t.scheduled = true
	t.cancel = t.spawnAfter(t.delay, func() {
		if gen != t.generation {
			return
		}
		t.scheduled = false
		t.cb()
	})
}

// Enable arms the Timeout if it is not already counting down: no-op when a
// fire is already pending, Reset otherwise. Use this where a call site
// wants "make sure this is running" without clobbering an in-flight
// countdown the way an unconditional Reset would.
func (t *Timeout) Enable() {
	if t.scheduled {
		return
	}
	t.Reset()
}

// Stop silences any pending fire. The Timeout remains constructed and can
// be rearmed with Reset later.
func (t *Timeout) Stop() {
	t.cancelPending()
	t.generation++
}

func (t *Timeout) cancelPending() {
	if t.scheduled && t.cancel != nil {
		t.cancel()
	}
	t.scheduled = false
}

// Active reports whether a fire is currently pending.
func (t *Timeout) Active() bool {
	return t.scheduled
}

// SetDelay changes the duration used by future Resets. It does not affect
// a fire already in flight.
func (t *Timeout) SetDelay(delay time.Duration) {
	t.delay = delay
}
