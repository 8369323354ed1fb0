// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultHistoryLimit is the history ring capacity when the
	// configuration doesn't set one.
	DefaultHistoryLimit = 50

	// DefaultQueueSize is the per-subscription delivery queue
	// capacity. A browser tab that falls this many events behind the
	// room is dropped and must reattach.
	DefaultQueueSize = 16
)

// Event is one decrypted room message as seen by viewers. Events are
// immutable once published. Sequence is assigned by the producer and
// increases monotonically within a session.
type Event struct {
	Sequence  int64     `json:"sequence"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub multiplexes a single event producer to N subscriptions. All
// methods are safe for concurrent use; the history ring is only
// mutated under the hub mutex by Publish and Reset.
type Hub struct {
	logger *slog.Logger

	mu            sync.Mutex
	history       *historyBuffer
	subscriptions map[*Subscription]struct{}
	queueSize     int
}

// Options configures a Hub. Zero values select the defaults.
type Options struct {
	// HistoryLimit is the history ring capacity.
	HistoryLimit int

	// QueueSize is the delivery queue capacity for each subscription.
	QueueSize int

	// Logger receives slow-subscriber drop notices. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

func New(options Options) *Hub {
	if options.HistoryLimit <= 0 {
		options.HistoryLimit = DefaultHistoryLimit
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Hub{
		logger:        options.Logger,
		history:       newHistoryBuffer(options.HistoryLimit),
		subscriptions: make(map[*Subscription]struct{}),
		queueSize:     options.QueueSize,
	}
}

// Publish appends the event to the history ring and offers it to every
// live subscription. It never blocks: a subscription whose queue is
// full is detached instead. There must be a single caller at a time
// (the session event pump).
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history.append(event)

	for subscription := range h.subscriptions {
		select {
		case subscription.events <- event:
		default:
			h.logger.Warn("dropping slow subscriber",
				"queue_size", h.queueSize,
				"sequence", event.Sequence,
			)
			h.detachLocked(subscription)
		}
	}
}

// Attach registers a new subscription. The returned subscription's
// History is the ring contents at the moment of attachment; every
// event published afterwards arrives on Events. The caller must
// eventually call Close.
func (h *Hub) Attach() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscription := &Subscription{
		hub:     h,
		history: h.history.snapshot(),
		events:  make(chan Event, h.queueSize),
	}
	h.subscriptions[subscription] = struct{}{}
	return subscription
}

// History returns a copy of the current ring contents, oldest first.
func (h *Hub) History() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.history.snapshot()
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscriptions)
}

// Reset clears the history ring. Subscriptions stay attached and keep
// any events already queued; they simply receive nothing further until
// the next session publishes. Called when a session stops.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history.clear()
}

// Pump drains the channel into Publish until it closes. Run as a
// goroutine; it is the hub's single producer for the lifetime of a
// session (the channel closes when the session leaves Active).
func (h *Hub) Pump(events <-chan Event) {
	if events == nil {
		return
	}
	for event := range events {
		h.Publish(event)
	}
}

// detachLocked removes the subscription and closes its event channel.
// Callers must hold h.mu; the mutex is what makes closing the channel
// safe against a concurrent Publish send.
func (h *Hub) detachLocked(subscription *Subscription) {
	if _, ok := h.subscriptions[subscription]; !ok {
		return
	}
	delete(h.subscriptions, subscription)
	close(subscription.events)
}

// Subscription is one viewer's attachment to the hub. History holds
// the replay snapshot; Events carries the live tail and is closed when
// the subscription detaches (voluntarily or as a slow consumer).
type Subscription struct {
	hub     *Hub
	history []Event
	events  chan Event
}

// History returns the replay snapshot taken at attach time, oldest
// first. Events published after attachment arrive on Events, so
// replaying History then draining Events yields the full sequence
// without gap or duplicate.
func (s *Subscription) History() []Event {
	return s.history
}

// Events returns the live delivery channel. It is closed on detach.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription and releases its queue. Idempotent;
// safe to call after a slow-consumer drop.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.detachLocked(s)
}
