// Package dispatch serializes inbound messages per (channel, sender_id) so
// at most one provider call is ever outstanding for a given sender, while
// different senders are processed fully concurrently. It generalizes the
// single-mutex-over-a-registry-map pattern the gateway's channel registry
// uses for channel registration to per-sender message buffering.
package dispatch

import (
	"context"
	"sync"
)

// Message is the minimal shape the dispatcher needs; callers embed richer
// fields (sanitized text, attachments, reply target) in their own type and
// satisfy this via a small adapter.
type Message interface {
	DispatchKey() string // channel + ":" + sender_id
}

// Handler processes one message to completion. It is invoked with at most
// one concurrent call per DispatchKey.
type Handler func(ctx context.Context, msg Message)

// Dispatcher serializes per-sender message processing: a single mutex
// guards only a map of per-sender buffers, never the processing itself.
// The first arrival for a key becomes the processor and drains its own
// buffer; later arrivals
// append and return immediately.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[string][]Message
	handler Handler

	// onBuffered is called synchronously, after the mutex is released,
	// right after a message is buffered instead of processed
	// immediately — used to send the localized acknowledgement without
	// the dispatcher needing to know about channels.
	onBuffered func(msg Message)
}

// New builds a Dispatcher. handler processes a message to completion;
// onBuffered (may be nil) is invoked for every message appended to an
// already-active sender's buffer, never for the first message of a burst.
func New(handler Handler, onBuffered func(msg Message)) *Dispatcher {
	return &Dispatcher{
		pending:    make(map[string][]Message),
		handler:    handler,
		onBuffered: onBuffered,
	}
}

// Submit implements the dispatcher contract. It returns immediately once the
// message has either been queued or handed off to a freshly spawned
// processing goroutine; it never blocks on message processing itself.
func (d *Dispatcher) Submit(ctx context.Context, msg Message) {
	key := msg.DispatchKey()

	d.mu.Lock()
	if buf, active := d.pending[key]; active {
		d.pending[key] = append(buf, msg)
		d.mu.Unlock()
		if d.onBuffered != nil {
			d.onBuffered(msg)
		}
		return
	}
	d.pending[key] = nil
	d.mu.Unlock()

	go d.run(ctx, key, msg)
}

// run processes msg, then drains whatever accumulated in the buffer for key
// one at a time, until the buffer is empty, at which point it removes key
// from the map under the same lock used to check for new arrivals.
func (d *Dispatcher) run(ctx context.Context, key string, msg Message) {
	for {
		d.handler(ctx, msg)

		d.mu.Lock()
		buf := d.pending[key]
		if len(buf) == 0 {
			delete(d.pending, key)
			d.mu.Unlock()
			return
		}
		msg, buf = buf[0], buf[1:]
		d.pending[key] = buf
		d.mu.Unlock()
	}
}

// ActiveSenders returns the number of (channel, sender_id) pairs currently
// being processed or holding a non-empty buffer, for status/health reporting.
func (d *Dispatcher) ActiveSenders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// QueueDepth returns the number of buffered (not-yet-started) messages for
// key, or 0 if key is not active.
func (d *Dispatcher) QueueDepth(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending[key])
}
