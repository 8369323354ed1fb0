// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func testEvent(sequence int64) Event {
	return Event{
		Sequence:  sequence,
		Sender:    "@alice:example.org",
		Body:      fmt.Sprintf("message %d", sequence),
		Timestamp: time.Unix(1700000000+sequence, 0),
	}
}

func testHub(options Options) *Hub {
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return New(options)
}

// collect drains up to want events from the subscription without
// blocking the test on a stalled channel.
func collect(t *testing.T, subscription *Subscription, want int) []Event {
	t.Helper()
	var events []Event
	for len(events) < want {
		select {
		case event, ok := <-subscription.Events():
			if !ok {
				t.Fatalf("event channel closed after %d of %d events", len(events), want)
			}
			events = append(events, event)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d events", len(events), want)
		}
	}
	return events
}

func TestHistoryEviction(t *testing.T) {
	hub := testHub(Options{HistoryLimit: 3})

	for sequence := int64(1); sequence <= 5; sequence++ {
		hub.Publish(testEvent(sequence))
	}

	history := hub.History()
	if len(history) != 3 {
		t.Fatalf("len(History()) = %d, want 3", len(history))
	}
	for i, want := range []int64{3, 4, 5} {
		if history[i].Sequence != want {
			t.Errorf("history[%d].Sequence = %d, want %d", i, history[i].Sequence, want)
		}
	}
}

func TestHistoryUnderCapacity(t *testing.T) {
	hub := testHub(Options{HistoryLimit: 10})
	hub.Publish(testEvent(1))
	hub.Publish(testEvent(2))

	history := hub.History()
	if len(history) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(history))
	}
	if history[0].Sequence != 1 || history[1].Sequence != 2 {
		t.Errorf("history sequences = [%d %d], want [1 2]", history[0].Sequence, history[1].Sequence)
	}
}

func TestSubscriptionOrdering(t *testing.T) {
	hub := testHub(Options{QueueSize: 8})
	subscription := hub.Attach()
	defer subscription.Close()

	if len(subscription.History()) != 0 {
		t.Fatalf("history before any publish = %d events", len(subscription.History()))
	}

	for sequence := int64(1); sequence <= 5; sequence++ {
		hub.Publish(testEvent(sequence))
	}

	events := collect(t, subscription, 5)
	for i, event := range events {
		if want := int64(i + 1); event.Sequence != want {
			t.Errorf("events[%d].Sequence = %d, want %d", i, event.Sequence, want)
		}
	}
}

func TestAttachMidStream(t *testing.T) {
	hub := testHub(Options{HistoryLimit: 50, QueueSize: 8})

	hub.Publish(testEvent(1))
	hub.Publish(testEvent(2))

	subscription := hub.Attach()
	defer subscription.Close()

	hub.Publish(testEvent(3))
	hub.Publish(testEvent(4))

	// History snapshot plus live tail must be the exact published
	// sequence with no gap and no duplicate.
	var sequences []int64
	for _, event := range subscription.History() {
		sequences = append(sequences, event.Sequence)
	}
	for _, event := range collect(t, subscription, 2) {
		sequences = append(sequences, event.Sequence)
	}

	want := []int64{1, 2, 3, 4}
	if len(sequences) != len(want) {
		t.Fatalf("sequences = %v, want %v", sequences, want)
	}
	for i := range want {
		if sequences[i] != want[i] {
			t.Fatalf("sequences = %v, want %v", sequences, want)
		}
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	hub := testHub(Options{QueueSize: 2})

	slow := hub.Attach()
	fast := hub.Attach()
	defer fast.Close()

	// Fill the slow subscriber's queue, then overflow it. The fast
	// subscriber drains as we go.
	for sequence := int64(1); sequence <= 3; sequence++ {
		hub.Publish(testEvent(sequence))
		collect(t, fast, 1)
	}

	if count := hub.SubscriberCount(); count != 1 {
		t.Errorf("SubscriberCount() = %d after slow drop, want 1", count)
	}

	// The slow subscriber's channel yields its queued events, then
	// reports closure.
	collect(t, slow, 2)
	select {
	case _, ok := <-slow.Events():
		if ok {
			t.Error("slow subscriber received an event past its queue capacity")
		}
	case <-time.After(time.Second):
		t.Error("slow subscriber channel not closed after drop")
	}

	// Ingestion continues undisturbed for the survivor.
	hub.Publish(testEvent(4))
	if events := collect(t, fast, 1); events[0].Sequence != 4 {
		t.Errorf("fast subscriber got sequence %d, want 4", events[0].Sequence)
	}

	// Close after a forced drop is a no-op.
	slow.Close()
}

func TestResetKeepsSubscribers(t *testing.T) {
	hub := testHub(Options{QueueSize: 8})

	hub.Publish(testEvent(1))
	subscription := hub.Attach()
	defer subscription.Close()

	hub.Reset()

	if history := hub.History(); len(history) != 0 {
		t.Errorf("len(History()) = %d after Reset, want 0", len(history))
	}
	if count := hub.SubscriberCount(); count != 1 {
		t.Errorf("SubscriberCount() = %d after Reset, want 1", count)
	}

	// The next session's events still reach the subscriber.
	hub.Publish(testEvent(1))
	if events := collect(t, subscription, 1); events[0].Sequence != 1 {
		t.Errorf("post-Reset event sequence = %d, want 1", events[0].Sequence)
	}
}

func TestCloseDetaches(t *testing.T) {
	hub := testHub(Options{})
	subscription := hub.Attach()
	subscription.Close()

	if count := hub.SubscriberCount(); count != 0 {
		t.Errorf("SubscriberCount() = %d after Close, want 0", count)
	}

	select {
	case _, ok := <-subscription.Events():
		if ok {
			t.Error("received event on closed subscription")
		}
	default:
		t.Error("event channel not closed after Close")
	}

	// Publishing after a detach must not panic or deliver.
	hub.Publish(testEvent(1))
}

func TestDefaults(t *testing.T) {
	hub := testHub(Options{})
	if hub.queueSize != DefaultQueueSize {
		t.Errorf("queueSize = %d, want %d", hub.queueSize, DefaultQueueSize)
	}
	if capacity := len(hub.history.events); capacity != DefaultHistoryLimit {
		t.Errorf("history capacity = %d, want %d", capacity, DefaultHistoryLimit)
	}
}
