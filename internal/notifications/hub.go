package notifications

import (
	"context"
	"sync"
	"time"

	"seqwatch/internal/datastore"
)

// Event types carried by the hub.
const (
	EventData     = "data"
	EventPipeline = "pipeline"
)

// Event is one sequenced hub entry. Data events only carry the snapshot
// version; clients read the snapshot itself from Latest.
type Event struct {
	Sequence    uint64         `json:"seq"`
	Type        string         `json:"type"`
	Timestamp   time.Time      `json:"ts"`
	DataVersion uint64         `json:"data_version,omitempty"`
	Pipeline    *PipelineEvent `json:"pipeline,omitempty"`
}

// Hub is the in-process notification target for dashboards.
type Hub struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	nextSeq  uint64
	latest   *datastore.Snapshot
	signal   chan struct{}
}

// NewHub constructs a hub retaining at most capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{capacity: capacity, signal: make(chan struct{})}
}

func (h *Hub) NotifyData(_ context.Context, snapshot *datastore.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest != nil && h.latest.Version >= snapshot.Version {
		return nil
	}
	h.latest = snapshot
	h.appendLocked(Event{Type: EventData, Timestamp: snapshot.GeneratedAt, DataVersion: snapshot.Version})
	return nil
}

func (h *Hub) NotifyPipeline(_ context.Context, event PipelineEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendLocked(Event{Type: EventPipeline, Timestamp: event.Timestamp, Pipeline: &event})
	return nil
}

func (h *Hub) appendLocked(evt Event) {
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.events) == h.capacity {
		h.events = append(h.events[:0], h.events[1:]...)
	}
	h.events = append(h.events, evt)
	close(h.signal)
	h.signal = make(chan struct{})
}

// Latest returns the most recent snapshot delivered to the hub.
func (h *Hub) Latest() (*datastore.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.latest != nil
}

// Fetch returns events with a sequence greater than since, plus the newest
// sequence number. With wait set it blocks until an event arrives or ctx ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, wait bool) ([]Event, uint64, error) {
	for {
		h.mu.Lock()
		events := h.collectLocked(since)
		next, signal := h.nextSeq, h.signal
		h.mu.Unlock()

		if len(events) > 0 || !wait {
			return events, next, nil
		}
		select {
		case <-signal:
		case <-ctx.Done():
			return nil, next, ctx.Err()
		}
	}
}

func (h *Hub) collectLocked(since uint64) []Event {
	for i, evt := range h.events {
		if evt.Sequence > since {
			out := make([]Event, len(h.events)-i)
			copy(out, h.events[i:])
			return out
		}
	}
	return nil
}
