// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub fans room events out from the single session event pump
// to any number of concurrently attached viewers.
//
// The hub owns a bounded history ring and a set of live subscriptions.
// Publish appends to the ring (evicting the oldest event on overflow)
// and then offers the event to every subscription's delivery queue.
// A subscription whose queue is full is force-detached rather than
// allowed to stall ingestion; backpressure lands on the slow consumer,
// never on the producer.
//
// A subscription attached at any moment sees the history snapshot
// taken at attach time followed by every event published afterwards,
// in publish order, with no gap and no duplicate, until it detaches
// or is dropped as slow.
//
// The hub outlives any one session: Reset clears the history ring but
// leaves subscriptions attached, ready for the next session's events.
package hub
