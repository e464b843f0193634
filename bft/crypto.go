// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package bft is the PBFT scaffold: the same transport/log/client-table/
// quorum substrate vr.Replica uses, wired into a three-phase
// pre-prepare/prepare/commit protocol with Ed25519-signed protocol
// messages. Grounded directly on the teacher's crypto.go, msg.go,
// traits.go, and pkg/handler.go. HotStuff and Zyzzyva are named but left
// unimplemented, matching node.go's own unfinished Handle* methods.
package bft

import (
	"crypto/ed25519"

	"golang.org/x/crypto/sha3"
)

// Digest is a SHAKE256 message digest, matching the teacher's hash()
// (64-byte SHAKE256 output) rather than spec.md's 32-byte smrtype.Hash —
// the teacher's own choice of digest width for its signed message set.
type Digest [64]byte

// hashDigest is crypto.go's hash(), restated with a fixed-size return.
func hashDigest(data []byte) Digest {
	var d Digest
	sha3.ShakeSum256(d[:], data)
	return d
}

// sign is crypto.go's genSig.
func sign(digest Digest, sk ed25519.PrivateKey) []byte {
	return ed25519.Sign(sk, digest[:])
}

// verify is crypto.go's verifySig.
func verify(digest Digest, sig []byte, pk ed25519.PublicKey) bool {
	if len(pk) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pk, digest[:], sig)
}
