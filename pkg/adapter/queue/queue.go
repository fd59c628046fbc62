// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue is the reference "queue" adapter: an in-memory
// Message producer/consumer. Persistent queue backends are out of scope
// by design; this is the reference implementation of the Message
// contract only.
package queue

import (
	"sync"
	"time"

	"github.com/tombee/orbyt/pkg/adapter"
)

// Message is the queue consumer contract.
type Message struct {
	ID            string
	Body          any
	Headers       map[string]string
	Timestamp     time.Time
	DeliveryCount int

	queue *memQueue
	acked bool
	mu    sync.Mutex
}

// Ack marks the message as successfully processed.
func (m *Message) Ack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
}

// Nack returns the message to the queue (if requeue is true) with its
// delivery count incremented, or discards it otherwise.
func (m *Message) Nack(requeue bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acked {
		return
	}
	if requeue {
		m.queue.requeue(m)
	}
}

// memQueue is an unbounded in-memory FIFO queue backed by a
// mutex-guarded slice.
type memQueue struct {
	mu      sync.Mutex
	pending []*Message
}

func newMemQueue() *memQueue { return &memQueue{} }

func (q *memQueue) push(m *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, m)
}

func (q *memQueue) pop() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	return m, true
}

func (q *memQueue) requeue(m *Message) {
	m.DeliveryCount++
	q.push(m)
}

func (q *memQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Broker holds named in-memory queues, shared by all Adapter instances
// constructed against it.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

// NewBroker constructs an empty in-memory broker.
func NewBroker() *Broker { return &Broker{queues: make(map[string]*memQueue)} }

func (b *Broker) queueFor(name string) *memQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = newMemQueue()
		b.queues[name] = q
	}
	return q
}

// Adapter implements the queue adapter's send/receive actions.
type Adapter struct {
	broker *Broker
}

// New constructs a queue Adapter against broker.
func New(broker *Broker) *Adapter { return &Adapter{broker: broker} }

func (a *Adapter) Name() string               { return "queue" }
func (a *Adapter) Version() string            { return "1.0.0" }
func (a *Adapter) SupportedActions() []string { return []string{"queue.send", "queue.receive"} }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Concurrent: true, Cacheable: false, Idempotent: false, Cost: "low"}
}

func (a *Adapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	name, ok := input["queue"].(string)
	if !ok || name == "" {
		return adapter.Result{Success: false, Error: &adapter.ResultError{
			Message: "\"queue\" is required and must be a non-empty string",
			Code:    "InputValidation",
		}}, nil
	}

	switch action {
	case "queue.send":
		return a.send(name, input)
	case "queue.receive":
		return a.receive(name)
	default:
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: "unsupported queue action " + action, Code: "UnknownAction"}}, nil
	}
}

func (a *Adapter) send(name string, input map[string]any) (adapter.Result, error) {
	q := a.broker.queueFor(name)
	msg := &Message{
		ID:        genID(),
		Body:      input["body"],
		Headers:   stringMap(input["headers"]),
		Timestamp: time.Now(),
		queue:     q,
	}
	q.push(msg)
	return adapter.Result{Success: true, Data: map[string]any{"id": msg.ID, "queueDepth": q.size()}}, nil
}

func (a *Adapter) receive(name string) (adapter.Result, error) {
	q := a.broker.queueFor(name)
	msg, ok := q.pop()
	if !ok {
		return adapter.Result{Success: true, Data: map[string]any{"empty": true}}, nil
	}
	return adapter.Result{Success: true, Data: map[string]any{
		"id":            msg.ID,
		"body":          msg.Body,
		"headers":       msg.Headers,
		"timestamp":     msg.Timestamp,
		"deliveryCount": msg.DeliveryCount,
	}}, nil
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

var genCounter struct {
	mu sync.Mutex
	n  uint64
}

// genID produces a monotonically increasing in-process message id.
func genID() string {
	genCounter.mu.Lock()
	defer genCounter.mu.Unlock()
	genCounter.n++
	return "msg_" + itoa(genCounter.n)
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
