// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Command replica runs one participant of a shard: unreplicated, vr, or
// the pbft scaffold, talking packet-transport UDP to its peers. Flag
// surface and exit-code contract per spec.md §6; the teacher carries no
// driver binary of its own, so this borrows the plain flag.Parse style of
// test/data/gen.go, the one main() the teacher ships.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/oskr-smr/smrcore/app"
	"github.com/oskr-smr/smrcore/bft"
	"github.com/oskr-smr/smrcore/pkttransport"
	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/unreplicated"
	"github.com/oskr-smr/smrcore/vr"
	"github.com/oskr-smr/smrcore/wire"
	"github.com/oskr-smr/smrcore/wireconfig"
)

func main() {
	mode := flag.String("m", "", "protocol: unreplicated | vr | pbft | hotstuff | zyzzyva")
	prefix := flag.String("c", "", "config-prefix: reads <prefix>.conf, and for pbft, <prefix>.pks.pem and <prefix>.<i>.sk.pem")
	id := flag.Int("i", -1, "replica index")
	batchSize := flag.Int("b", wire.BlockSize, "vr: max entries per prepared block")
	help := flag.Bool("h", false, "print usage and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if *prefix == "" || *id < 0 {
		fmt.Fprintln(os.Stderr, "replica: -c and -i are required")
		flag.Usage()
		os.Exit(1)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Fatalf("replica %d: fatal: %v", *id, r)
		}
	}()

	cfg, err := wireconfig.ParseFile(*prefix + ".conf")
	if err != nil {
		log.Fatalf("replica: %v", err)
	}
	replicaId := smrtype.ReplicaId(*id)
	if int(replicaId) >= len(cfg.Replicas) {
		log.Fatalf("replica: -i %d out of range for %d replicas", *id, len(cfg.Replicas))
	}

	addrs := make([]pkttransport.Address, len(cfg.Replicas))
	for i, s := range cfg.Replicas {
		a, err := pkttransport.ParseAddress(s)
		if err != nil {
			log.Fatalf("replica: %v", err)
		}
		addrs[i] = a
	}
	var multicast pkttransport.Address
	if cfg.HasMulticast {
		multicast, err = pkttransport.ParseAddress(cfg.Multicast)
		if err != nil {
			log.Fatalf("replica: %v", err)
		}
	}

	self := addrs[replicaId]
	t, err := pkttransport.New(pkttransport.Config{
		LocalAddr:    self.UDPAddr,
		Replicas:     addrs,
		Multicast:    multicast,
		HasMulticast: cfg.HasMulticast,
	})
	if err != nil {
		log.Fatalf("replica %d: %v", replicaId, err)
	}
	defer t.Close()

	smrConfig := smrtype.Config[pkttransport.Address]{
		F:            cfg.F,
		Replicas:     addrs,
		Multicast:    multicast,
		HasMulticast: cfg.HasMulticast,
	}

	// No external state machine is wired in by default; EchoApp stands in
	// for spec.md's "application" external collaborator.
	a := app.NewEchoApp()

	switch *mode {
	case "unreplicated":
		unreplicated.New[pkttransport.Address](replicaId, self, t, a)
	case "vr":
		vr.New[pkttransport.Address](replicaId, self, t, smrConfig, a, *batchSize)
	case "pbft":
		sk, err := bft.LoadPrivateKey(fmt.Sprintf("%s.%d.sk.pem", *prefix, replicaId))
		if err != nil {
			log.Fatalf("replica %d: %v", replicaId, err)
		}
		pks, err := bft.LoadPublicKeys(*prefix + ".pks.pem")
		if err != nil {
			log.Fatalf("replica %d: %v", replicaId, err)
		}
		bft.New[pkttransport.Address](replicaId, self, t, smrConfig, sk, pks, a)
	case "hotstuff", "zyzzyva":
		log.Fatalf("replica %d: protocol %q has no replica loop implemented", replicaId, *mode)
	default:
		log.Fatalf("replica %d: unknown protocol %q", replicaId, *mode)
	}

	log.Printf("replica %d: serving %s at %s", replicaId, *mode, self)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("replica %d: shutting down", replicaId)
}
