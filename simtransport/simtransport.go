// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package simtransport implements a single-threaded, deterministic
// transport.Transport[string] used to test protocols without a real
// network: a virtual clock, a time-keyed queue of pending events, and a
// filter table tests install to simulate partitions and latency.
package simtransport

import (
	"container/heap"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/oskr-smr/smrcore/transport"
)

// ErrTimeLimitReached is returned by Run if it reaches limit with events
// still pending — a deterministic test that hits this almost certainly has
// a bug (a replica stuck waiting on a dropped message, say), so this is
// treated as fatal by callers rather than a normal stopping condition.
var ErrTimeLimitReached = errors.New("simtransport: time limit reached with events still pending")

// Filter inspects (or drops, or delays) a message before it is enqueued for
// delivery. Returning false drops the message. delay is mutated in place;
// it starts at the delay the caller requested (normally 0).
type Filter func(source, dest string, delay *time.Duration) bool

type event struct {
	at  time.Duration
	seq uint64
	cb  func()
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)        { *q = append(*q, x.(*event)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

type filterEntry struct {
	id     int
	filter Filter
}

// Transport is the simulated transport.Transport[string] implementation.
// Every method is expected to be called from the same goroutine that drives
// Run; it keeps no locks.
type Transport struct {
	now       time.Duration
	queue     eventQueue
	seq       uint64
	receivers map[string]transport.Receiver[string]
	filters   []filterEntry
	nextAddr  uint64
	nextFilt  int
	terminated bool
	bufSize   int
	replicas  []string
	multicast string
	hasMulti  bool
}

// New constructs an empty simulated transport. replicas and multicast (if
// hasMulticast) seed SendToAll/SendToMulticast's destination sets; they
// need not be registered yet.
func New(replicas []string, multicast string, hasMulticast bool) *Transport {
	return &Transport{
		receivers: make(map[string]transport.Receiver[string]),
		bufSize:   9000, // matches spec's declared simulated-transport buffer_size
		replicas:  append([]string(nil), replicas...),
		multicast: multicast,
		hasMulti:  hasMulticast,
	}
}

// AddFilter installs f, returning an id usable with RemoveFilter. Filters
// run in ascending id order.
func (t *Transport) AddFilter(f Filter) int {
	id := t.nextFilt
	t.nextFilt++
	t.filters = append(t.filters, filterEntry{id: id, filter: f})
	return id
}

// RemoveFilter uninstalls the filter previously returned by AddFilter.
func (t *Transport) RemoveFilter(id int) {
	for i, fe := range t.filters {
		if fe.id == id {
			t.filters = append(t.filters[:i], t.filters[i+1:]...)
			return
		}
	}
}

// Now returns the transport's current virtual-clock cursor.
func (t *Transport) Now() time.Duration {
	return t.now
}

func (t *Transport) AllocateAddress() string {
	t.nextAddr++
	return "client-" + itoa(t.nextAddr)
}

func (t *Transport) RegisterReceiver(addr string, recv transport.Receiver[string]) {
	t.receivers[addr] = recv
}

func (t *Transport) Send(sender, dest string, write transport.Writer) error {
	payload := transport.SerializeOnce(write, t.bufSize)
	return t.sendPayload(sender, dest, payload)
}

// sendPayload delivers an already-serialized payload to dest, applying
// filters and enqueuing delivery exactly as Send does. Every destination of
// a fan-out shares the same payload slice, since it is only ever read by
// the eventually-invoked receivers, never mutated.
func (t *Transport) sendPayload(sender, dest string, payload []byte) error {
	delay := time.Duration(0)
	for _, fe := range t.filters {
		if !fe.filter(sender, dest, &delay) {
			log.Printf("simtransport: filter %d dropped %s -> %s", fe.id, sender, dest)
			return nil
		}
	}

	recv, ok := t.receivers[dest]
	if !ok {
		log.Printf("simtransport: no receiver registered for %s", dest)
		return nil
	}
	t.enqueue(delay, func() {
		desc := transport.NewDescriptor(payload, nil)
		recv(sender, desc)
	})
	return nil
}

func (t *Transport) SendToAll(sender string, write transport.Writer) error {
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

func (t *Transport) SendToMulticast(sender string, write transport.Writer) error {
	if !t.hasMulti {
		return nil
	}
	payload := transport.SerializeOnce(write, t.bufSize)
	return t.sendPayload(sender, t.multicast, payload)
}

func (t *Transport) Spawn(cb func()) {
	t.enqueue(0, cb)
}

func (t *Transport) SpawnConcurrent(cb func()) {
	// The simulated transport is single-threaded by design; concurrent
	// work runs inline on the sequential queue like everything else.
	t.enqueue(0, cb)
}

func (t *Transport) SpawnAfter(delay time.Duration, cb func()) transport.CancelFunc {
	var canceled atomic.Bool
	t.enqueue(delay, func() {
		if !canceled.CompareAndSwap(false, true) {
			return
		}
		cb()
	})
	return func() bool {
		return canceled.CompareAndSwap(false, true)
	}
}

func (t *Transport) Channel() transport.ChannelId {
	return transport.Sequential
}

func (t *Transport) BufferSize() int {
	return t.bufSize
}

func (t *Transport) enqueue(delay time.Duration, cb func()) {
	t.seq++
	heap.Push(&t.queue, &event{at: t.now + delay, seq: t.seq, cb: cb})
}

// Run pops and invokes events in (time, insertion-order) order, advancing
// the virtual clock to each event's timestamp as it fires, until the queue
// empties or limit is reached. Reaching limit with events still pending is
// reported as ErrTimeLimitReached.
func (t *Transport) Run(limit time.Duration) error {
	t.terminated = false
	for t.queue.Len() > 0 {
		if t.terminated {
			return nil
		}
		next := t.queue[0]
		if next.at > limit {
			return ErrTimeLimitReached
		}
		heap.Pop(&t.queue)
		t.now = next.at
		next.cb()
	}
	return nil
}

// Terminate empties the queue, stopping a Run in progress once its current
// callback returns.
func (t *Transport) Terminate() {
	t.terminated = true
	t.queue = nil
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
