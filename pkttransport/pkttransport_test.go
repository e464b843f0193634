// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

package pkttransport

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oskr-smr/smrcore/transport"
)

func TestParseAddressRoundTrip(t *testing.T) {
	a, err := ParseAddress("127.0.0.1:9001%3")
	if err != nil {
		t.Fatal(err)
	}
	if a.UDPAddr != "127.0.0.1:9001" || a.PortId != 3 {
		t.Fatalf("unexpected parse result: %+v", a)
	}
}

func TestParseAddressMissingPortId(t *testing.T) {
	if _, err := ParseAddress("127.0.0.1:9001"); err == nil {
		t.Fatal("expected an error for an address missing '%<port-id>'")
	}
}

func TestParseAddressInvalidPortId(t *testing.T) {
	if _, err := ParseAddress("127.0.0.1:9001%not-a-number"); err == nil {
		t.Fatal("expected an error for a non-numeric port id")
	}
	if _, err := ParseAddress("127.0.0.1:9001%256"); err == nil {
		t.Fatal("expected an error for a port id that overflows a byte")
	}
}

// TestSendReceiveReplyRoundTrip exercises Send and readLoop together over
// real loopback UDP sockets: a request from A to B, and B's reply back to
// whatever remote address readLoop populated for A, which must resolve —
// a regression test for readLoop discarding ReadFromUDP's remote address.
func TestSendReceiveReplyRoundTrip(t *testing.T) {
	addrA := Address{UDPAddr: "127.0.0.1:19511", PortId: 0}
	addrB := Address{UDPAddr: "127.0.0.1:19512", PortId: 0}

	tA, err := New(Config{LocalAddr: addrA.UDPAddr, Replicas: []Address{addrA, addrB}})
	if err != nil {
		t.Fatal(err)
	}
	defer tA.Close()
	tB, err := New(Config{LocalAddr: addrB.UDPAddr, Replicas: []Address{addrA, addrB}})
	if err != nil {
		t.Fatal(err)
	}
	defer tB.Close()

	tB.RegisterReceiver(addrB, func(remote Address, desc *transport.Descriptor) {
		got := string(desc.Bytes())
		desc.Release()
		if got != "ping" {
			t.Errorf("B: expected %q, got %q", "ping", got)
		}
		// remote must resolve back to A's bound socket for this reply to
		// go anywhere; an empty remote.UDPAddr would fail here.
		if err := tB.Send(addrB, remote, func(buf []byte) int {
			return copy(buf, "pong")
		}); err != nil {
			t.Errorf("B: reply send: %v", err)
		}
	})

	done := make(chan struct{})
	tA.RegisterReceiver(addrA, func(remote Address, desc *transport.Descriptor) {
		got := string(desc.Bytes())
		desc.Release()
		if got != "pong" {
			t.Errorf("A: expected %q, got %q", "pong", got)
		}
		close(done)
	})

	if err := tA.Send(addrA, addrB, func(buf []byte) int {
		return copy(buf, "ping")
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reply; sender.UDPAddr was likely left empty by readLoop")
	}
}

// TestSendToAllInvokesWriteExactlyOnce exercises SendToAll over real
// sockets with more than one destination: a regression test for SendToAll
// re-invoking write per destination instead of serializing once and fanning
// the same bytes out.
func TestSendToAllInvokesWriteExactlyOnce(t *testing.T) {
	addrA := Address{UDPAddr: "127.0.0.1:19521", PortId: 0}
	addrB := Address{UDPAddr: "127.0.0.1:19522", PortId: 0}
	addrC := Address{UDPAddr: "127.0.0.1:19523", PortId: 0}
	all := []Address{addrA, addrB, addrC}

	tA, err := New(Config{LocalAddr: addrA.UDPAddr, Replicas: all})
	if err != nil {
		t.Fatal(err)
	}
	defer tA.Close()
	tB, err := New(Config{LocalAddr: addrB.UDPAddr, Replicas: all})
	if err != nil {
		t.Fatal(err)
	}
	defer tB.Close()
	tC, err := New(Config{LocalAddr: addrC.UDPAddr, Replicas: all})
	if err != nil {
		t.Fatal(err)
	}
	defer tC.Close()

	var got sync.Map
	done := make(chan struct{}, 2)
	recv := func(self Address) transport.Receiver[Address] {
		return func(remote Address, desc *transport.Descriptor) {
			got.Store(self, string(desc.Bytes()))
			desc.Release()
			done <- struct{}{}
		}
	}
	tB.RegisterReceiver(addrB, recv(addrB))
	tC.RegisterReceiver(addrC, recv(addrC))

	var writes atomic.Int64
	if err := tA.SendToAll(addrA, func(buf []byte) int {
		writes.Add(1)
		return copy(buf, "broadcast")
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for SendToAll's fan-out to reach every replica")
		}
	}

	if writes.Load() != 1 {
		t.Fatalf("SendToAll must invoke write exactly once regardless of replica count, got %d", writes.Load())
	}
	for _, self := range []Address{addrB, addrC} {
		v, ok := got.Load(self)
		if !ok || v.(string) != "broadcast" {
			t.Fatalf("replica %v: expected %q, got %v (present=%v)", self, "broadcast", v, ok)
		}
	}
}
