// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// keygen pre-generates the Ed25519 key pairs a pbft deployment signs its
// protocol messages with: one private key per replica plus one combined
// public-key file every replica and client loads to verify. Grounded on
// test/data/gen.go's taskGenKeyPair, rewritten to write the PEM files
// bft.SavePrivateKey/SavePublicKeys expect instead of a single JSON blob.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/oskr-smr/smrcore/bft"
)

func main() {
	n := flag.Int("n", 4, "number of replica key pairs to generate")
	prefix := flag.String("c", "shard", "config-prefix to write <prefix>.pks.pem and <prefix>.<id>.sk.pem under")
	help := flag.Bool("h", false, "print usage and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if *n < 1 {
		log.Fatalf("keygen: n must be at least 1")
	}

	pks := make([]ed25519.PublicKey, *n)
	for i := 0; i < *n; i++ {
		pk, sk, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			log.Fatalf("keygen: generate key %d: %v", i, err)
		}
		pks[i] = pk
		skPath := fmt.Sprintf("%s.%d.sk.pem", *prefix, i)
		if err := bft.SavePrivateKey(skPath, sk); err != nil {
			log.Fatalf("keygen: write %s: %v", skPath, err)
		}
	}
	pksPath := *prefix + ".pks.pem"
	if err := bft.SavePublicKeys(pksPath, pks); err != nil {
		log.Fatalf("keygen: write %s: %v", pksPath, err)
	}
	log.Printf("keygen: wrote %d key pairs under prefix %q", *n, *prefix)
}
