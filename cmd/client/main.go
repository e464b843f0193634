// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Command client drives -t concurrent close-loop clients against a shard
// for -d of wall-clock time, each invoking synthetic ops back to back and
// reporting how many it completed. Flag surface per spec.md §6.
package main

import (
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oskr-smr/smrcore/pkttransport"
	"github.com/oskr-smr/smrcore/smrclient"
	"github.com/oskr-smr/smrcore/smrtype"
	"github.com/oskr-smr/smrcore/wireconfig"
)

func main() {
	mode := flag.String("m", "", "protocol: unreplicated | vr | pbft | hotstuff | zyzzyva")
	prefix := flag.String("c", "", "config-prefix: reads <prefix>.conf")
	nThreads := flag.Int("t", 1, "number of concurrent client threads")
	duration := flag.Duration("d", 5*time.Second, "how long each thread sends for")
	help := flag.Bool("h", false, "print usage and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if *prefix == "" {
		fmt.Fprintln(os.Stderr, "client: -c is required")
		flag.Usage()
		os.Exit(1)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Fatalf("client: fatal: %v", r)
		}
	}()

	cfg, err := wireconfig.ParseFile(*prefix + ".conf")
	if err != nil {
		log.Fatalf("client: %v", err)
	}
	addrs := make([]pkttransport.Address, len(cfg.Replicas))
	for i, s := range cfg.Replicas {
		a, err := pkttransport.ParseAddress(s)
		if err != nil {
			log.Fatalf("client: %v", err)
		}
		addrs[i] = a
	}
	var multicast pkttransport.Address
	if cfg.HasMulticast {
		multicast, err = pkttransport.ParseAddress(cfg.Multicast)
		if err != nil {
			log.Fatalf("client: %v", err)
		}
	}
	smrConfig := smrtype.Config[pkttransport.Address]{
		F:            cfg.F,
		Replicas:     addrs,
		Multicast:    multicast,
		HasMulticast: cfg.HasMulticast,
	}

	// m is the fault multiplier smrclient.New's nRequired = m*F+1 needs:
	// 0 for the crash-fault-tolerant protocols (only the primary replies, so
	// a single reply suffices), 2 for pbft's 2f+1 byzantine quorum.
	m := 1
	strategy := smrclient.SendAll
	switch *mode {
	case "unreplicated":
		m = 0
	case "vr":
		m = 0
		strategy = smrclient.SendPrimaryFirst
	case "pbft":
		m = 2
	case "hotstuff", "zyzzyva":
		log.Fatalf("client: protocol %q has no client support implemented", *mode)
	default:
		log.Fatalf("client: unknown protocol %q", *mode)
	}

	var completed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(*nThreads)
	for i := 0; i < *nThreads; i++ {
		go func(thread int) {
			defer wg.Done()
			runClientThread(thread, smrConfig, m, strategy, *duration, &completed)
		}(i)
	}
	wg.Wait()
	log.Printf("client: %d threads completed %d requests over %s", *nThreads, completed.Load(), *duration)
}

func runClientThread(thread int, config smrtype.Config[pkttransport.Address], m int, strategy smrclient.Strategy, duration time.Duration, completed *atomic.Int64) {
	localAddr := fmt.Sprintf("127.0.0.1:%d", 20000+thread)
	t, err := pkttransport.New(pkttransport.Config{
		LocalAddr:    localAddr,
		Replicas:     config.Replicas,
		Multicast:    config.Multicast,
		HasMulticast: config.HasMulticast,
	})
	if err != nil {
		log.Printf("client thread %d: %v", thread, err)
		return
	}
	defer t.Close()

	self := t.AllocateAddress()
	c := smrclient.New[pkttransport.Address](randomClientId(), self, t, config, strategy, 100*time.Millisecond, m)

	deadline := time.Now().Add(duration)
	op := make([]byte, 8)
	binary.BigEndian.PutUint64(op, uint64(thread))

	for time.Now().Before(deadline) {
		done := make(chan struct{})
		// Invoke must run on the same sequential channel Receive's
		// callback (dispatched via onReceive's Spawn) runs on — Client
		// is not safe for concurrent use otherwise.
		t.Spawn(func() {
			c.Invoke(smrtype.NewData(op), func(result smrtype.Data) {
				close(done)
			})
		})
		select {
		case <-done:
			completed.Add(1)
		case <-time.After(2 * time.Second):
			log.Printf("client thread %d: timed out waiting for a reply", thread)
			return
		}
	}
}

func randomClientId() smrtype.ClientId {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return smrtype.ClientId(binary.BigEndian.Uint32(b[:]))
}
