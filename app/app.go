// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package app defines the narrow interface the log upcalls into. The actual
// application state machine lives outside this module (spec.md scopes it as
// an external collaborator); this package carries the interface plus small
// in-memory implementations used by tests and the CLI drivers.
package app

import "github.com/oskr-smr/smrcore/smrtype"

// App is the state machine behind the log. Commit must be deterministic
// across replicas: given the same sequence of ops, every replica's App must
// produce the same sequence of results. Rollback undoes the most recently
// committed op that has not since been rolled back; it is only invoked for
// speculative execution modes (VR's happy path never calls it).
type App interface {
	Commit(op smrtype.Data) (result smrtype.Data)
	Rollback(op smrtype.Data)
}

// EchoApp is a trivial App used by tests and the Unreplicated scenario in
// spec.md §8: it replies "Re: " followed by the operation bytes.
type EchoApp struct {
	Ops []smrtype.Data
}

// NewEchoApp returns an empty EchoApp.
func NewEchoApp() *EchoApp {
	return &EchoApp{}
}

// Commit records op and returns "Re: " + op.
func (a *EchoApp) Commit(op smrtype.Data) smrtype.Data {
	a.Ops = append(a.Ops, op)
	return smrtype.NewData(append([]byte("Re: "), op.Bytes()...))
}

// Rollback drops the most recently recorded op. It panics if op does not
// match the top of the stack, since that would mean the log and the
// application have diverged.
func (a *EchoApp) Rollback(op smrtype.Data) {
	n := len(a.Ops)
	if n == 0 || !a.Ops[n-1].Equal(op) {
		panic("app: rollback does not match last committed op")
	}
	a.Ops = a.Ops[:n-1]
}
