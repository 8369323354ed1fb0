// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package hub

// historyBuffer is a fixed-capacity ring of the most recent events.
// It has exactly one writer (the hub's Publish path, under the hub
// mutex) and is never resized after construction.
type historyBuffer struct {
	events []Event
	start  int
	count  int
}

func newHistoryBuffer(capacity int) *historyBuffer {
	return &historyBuffer{events: make([]Event, capacity)}
}

// append adds an event, evicting the oldest when the ring is full.
func (b *historyBuffer) append(event Event) {
	if b.count < len(b.events) {
		b.events[(b.start+b.count)%len(b.events)] = event
		b.count++
		return
	}
	b.events[b.start] = event
	b.start = (b.start + 1) % len(b.events)
}

// snapshot returns the buffered events oldest-first. The returned
// slice is a copy; callers may retain it past the hub mutex.
func (b *historyBuffer) snapshot() []Event {
	if b.count == 0 {
		return nil
	}
	snapshot := make([]Event, b.count)
	for i := 0; i < b.count; i++ {
		snapshot[i] = b.events[(b.start+i)%len(b.events)]
	}
	return snapshot
}

func (b *historyBuffer) clear() {
	b.start = 0
	b.count = 0
}
