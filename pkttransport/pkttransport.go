// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package pkttransport implements the transport contract over ordinary UDP
// sockets. It stands in for the userspace-NIC-backed transport spec.md
// §4.3 describes: integrating a DPDK-style poll-mode driver is explicitly
// out of this module's scope (§1's "external collaborators" list), so this
// package keeps the wire framing spec.md specifies — a one-byte
// destination port id and a one-byte source port id ahead of the payload —
// while moving the actual frames over a Go UDP socket instead of raw
// ethertype-0x88d5 frames and an mbuf mempool.
package pkttransport

import (
	"bytes"
	"fmt"
	"log"
	"net"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oskr-smr/smrcore/transport"
)

// Address is a (host:port UDP endpoint, port id) pair. PortId plays the
// role spec.md assigns the NIC port id: a replica's is its ReplicaId;
// clients allocate ids above the replica range.
type Address struct {
	UDPAddr string
	PortId  uint8
}

func (a Address) String() string {
	return a.UDPAddr + "#" + strconv.Itoa(int(a.PortId))
}

// ParseAddress parses "<host:port>%<port-id>", the packet transport's
// stand-in for spec.md §6's "aa:bb:cc:dd:ee:ff%<port-id>" MAC syntax: the
// part before '%' is a UDP endpoint instead of a NIC MAC, but the
// '%'-separated two-field grammar is kept.
func ParseAddress(s string) (Address, error) {
	host, portStr, ok := strings.Cut(s, "%")
	if !ok {
		return Address{}, fmt.Errorf("pkttransport: address %q missing '%%<port-id>'", s)
	}
	portId, err := strconv.ParseUint(portStr, 10, 8)
	if err != nil {
		return Address{}, fmt.Errorf("pkttransport: address %q: invalid port id: %w", s, err)
	}
	return Address{UDPAddr: host, PortId: uint8(portId)}, nil
}

// frameHeaderSize is the dest-port/src-port byte pair spec.md §4.3
// prescribes, carried ahead of the payload in every datagram.
const frameHeaderSize = 2

// Transport is the UDP-backed transport.Transport[Address] implementation.
// One Transport binds one UDP socket and therefore one local UDPAddr; it
// can still register receivers for several PortIds sharing that socket,
// the way several local addresses can share one NIC port.
type Transport struct {
	conn      *net.UDPConn
	localAddr string

	mu           sync.Mutex
	receivers    map[Address]transport.Receiver[Address]
	replicas     []Address
	multicast    Address
	hasMulticast bool
	nextAlloc    uint32

	jobs chan func()
	done chan struct{}

	channels   sync.Map // goroutine id (int64) -> transport.ChannelId
	nextWorker atomic.Int64

	bufSize int
}

// Config bundles the construction parameters that would otherwise be a
// long New() argument list.
type Config struct {
	LocalAddr    string // host:port to bind, e.g. "127.0.0.1:9001"
	Replicas     []Address
	Multicast    Address
	HasMulticast bool
}

// New binds a UDP socket at cfg.LocalAddr and starts the read loop and the
// sequential worker. Callers must call Close when done.
func New(cfg Config) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("pkttransport: resolve %s: %w", cfg.LocalAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("pkttransport: listen %s: %w", cfg.LocalAddr, err)
	}

	t := &Transport{
		conn:         conn,
		localAddr:    cfg.LocalAddr,
		receivers:    make(map[Address]transport.Receiver[Address]),
		replicas:     append([]Address(nil), cfg.Replicas...),
		multicast:    cfg.Multicast,
		hasMulticast: cfg.HasMulticast,
		jobs:         make(chan func(), 4096),
		done:         make(chan struct{}),
		bufSize:      65507,
	}
	maxPort := uint32(0)
	for _, r := range cfg.Replicas {
		if uint32(r.PortId) > maxPort {
			maxPort = uint32(r.PortId)
		}
	}
	t.nextAlloc = maxPort + 1

	go t.runSequentialWorker()
	go t.readLoop()
	return t, nil
}

// Close releases the UDP socket and stops the background loops.
func (t *Transport) Close() error {
	close(t.done)
	return t.conn.Close()
}

func (t *Transport) AllocateAddress() Address {
	id := atomic.AddUint32(&t.nextAlloc, 1) - 1
	return Address{UDPAddr: t.localAddr, PortId: uint8(id)}
}

func (t *Transport) RegisterReceiver(addr Address, recv transport.Receiver[Address]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receivers[addr] = recv
}

func (t *Transport) Send(sender, dest Address, write transport.Writer) error {
	payload := transport.SerializeOnce(write, t.bufSize)
	return t.sendPayload(sender, dest, payload)
}

// sendPayload frames an already-serialized payload for dest and writes it
// to the socket. Every destination of a fan-out (SendToAll,
// SendToMulticast) shares the same payload bytes and only rebuilds the
// 2-byte dest-port/src-port header per destination, the framing
// counterpart to the packet transport's mbuf clone-and-rewrite.
func (t *Transport) sendPayload(sender, dest Address, payload []byte) error {
	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = dest.PortId
	frame[1] = sender.PortId
	copy(frame[frameHeaderSize:], payload)

	udpAddr, err := net.ResolveUDPAddr("udp", dest.UDPAddr)
	if err != nil {
		return fmt.Errorf("pkttransport: resolve dest %s: %w", dest.UDPAddr, err)
	}
	_, err = t.conn.WriteToUDP(frame, udpAddr)
	return err
}

func (t *Transport) SendToAll(sender Address, write transport.Writer) error {
	payload := transport.SerializeOnce(write, t.bufSize)
	for _, dest := range t.replicas {
		if dest == sender {
			continue
		}
		if err := t.sendPayload(sender, dest, payload); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) SendToMulticast(sender Address, write transport.Writer) error {
	if !t.hasMulticast {
		return nil
	}
	// UDP has no native L2 multicast MAC to reuse, so this sends one
	// datagram to the single configured multicast address. A real
	// NIC-backed implementation would write one mbuf and let the switch
	// replicate it; write is invoked exactly once via SerializeOnce.
	payload := transport.SerializeOnce(write, t.bufSize)
	return t.sendPayload(sender, t.multicast, payload)
}

func (t *Transport) Spawn(cb func()) {
	t.jobs <- cb
}

func (t *Transport) SpawnConcurrent(cb func()) {
	go func() {
		id := t.nextWorker.Add(1)
		t.channels.Store(goroutineID(), transport.ChannelId(id))
		defer t.channels.Delete(goroutineID())
		cb()
	}()
}

func (t *Transport) SpawnAfter(delay time.Duration, cb func()) transport.CancelFunc {
	var canceled atomic.Bool
	timer := time.AfterFunc(delay, func() {
		if canceled.Load() {
			return
		}
		t.Spawn(cb)
	})
	return func() bool {
		stopped := timer.Stop()
		canceled.Store(true)
		return stopped
	}
}

func (t *Transport) Channel() transport.ChannelId {
	if id, ok := t.channels.Load(goroutineID()); ok {
		return id.(transport.ChannelId)
	}
	return transport.Sequential
}

func (t *Transport) BufferSize() int {
	return t.bufSize
}

func (t *Transport) runSequentialWorker() {
	for {
		select {
		case job := <-t.jobs:
			job()
		case <-t.done:
			return
		}
	}
}

func (t *Transport) readLoop() {
	buf := make([]byte, frameHeaderSize+t.bufSize)
	for {
		n, remoteAddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				log.Printf("pkttransport: read error: %v", err)
				continue
			}
		}
		if n < frameHeaderSize {
			continue
		}
		destPort, srcPort := buf[0], buf[1]
		payload := make([]byte, n-frameHeaderSize)
		copy(payload, buf[frameHeaderSize:n])

		dest := Address{UDPAddr: t.localAddr, PortId: destPort}
		t.mu.Lock()
		recv, ok := t.receivers[dest]
		t.mu.Unlock()
		if !ok {
			continue
		}
		// remoteAddr.String() is the sender's bound UDP endpoint, which
		// Send's net.ResolveUDPAddr(dest.UDPAddr) round-trips through —
		// without it, sender.UDPAddr is the zero value and replying via
		// Send(self, sender, ...) fails to resolve.
		sender := Address{UDPAddr: remoteAddr.String(), PortId: srcPort}
		recv(sender, transport.NewDescriptor(payload, nil))
	}
}

// goroutineID parses the current goroutine's id out of its own stack trace.
// Go deliberately has no supported goroutine-local storage; this is the
// same trick a handful of goroutine-aware libraries in the wild use, kept
// here only to give Channel() something to report for concurrent workers.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseInt(string(fields[1]), 10, 64)
	return id
}
