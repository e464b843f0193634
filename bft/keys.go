// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package bft

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/oskr-smr/smrcore/smrtype"
)

const (
	pemBlockPrivateKey = "PRIVATE KEY"
	pemBlockPublicKey  = "PUBLIC KEY"
)

// SavePrivateKey PEM-encodes sk (PKCS#8) and writes it to path.
func SavePrivateKey(path string, sk ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(sk)
	if err != nil {
		return fmt.Errorf("bft: marshal private key: %w", err)
	}
	block := &pem.Block{Type: pemBlockPrivateKey, Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}

// LoadPrivateKey reads and parses a PEM-encoded Ed25519 private key
// previously written by SavePrivateKey.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemBlockPrivateKey {
		return nil, fmt.Errorf("bft: %s: not a PEM private key", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("bft: parse private key: %w", err)
	}
	sk, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("bft: %s: not an Ed25519 key", path)
	}
	return sk, nil
}

// SavePublicKeys writes one PEM PUBLIC KEY block per entry of pks, in
// ReplicaId order, concatenated into a single file — the public-key
// counterpart every replica and client loads to verify signed protocol
// messages.
func SavePublicKeys(path string, pks []ed25519.PublicKey) error {
	var out []byte
	for _, pk := range pks {
		der, err := x509.MarshalPKIXPublicKey(pk)
		if err != nil {
			return fmt.Errorf("bft: marshal public key: %w", err)
		}
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: pemBlockPublicKey, Bytes: der})...)
	}
	return os.WriteFile(path, out, 0644)
}

// LoadPublicKeys parses a file written by SavePublicKeys, assigning
// ReplicaId 0, 1, 2, ... to the PEM blocks in file order.
func LoadPublicKeys(path string) (map[smrtype.ReplicaId]ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pks := make(map[smrtype.ReplicaId]ed25519.PublicKey)
	id := smrtype.ReplicaId(0)
	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			break
		}
		if block.Type != pemBlockPublicKey {
			return nil, fmt.Errorf("bft: %s: unexpected PEM block %q", path, block.Type)
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("bft: parse public key: %w", err)
		}
		pk, ok := key.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("bft: %s: not an Ed25519 key", path)
		}
		pks[id] = pk
		id++
	}
	if len(pks) == 0 {
		return nil, fmt.Errorf("bft: %s: no public keys found", path)
	}
	return pks, nil
}
