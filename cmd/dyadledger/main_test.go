package main

import (
	"strings"
	"testing"
	"time"

	"dyadledger/internal/engine"
	"dyadledger/internal/event"
	"dyadledger/internal/observability"
	"dyadledger/internal/persistence"
	"dyadledger/internal/stream"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBridgePersistConvertsEnvelopes(t *testing.T) {
	in := make(chan engine.Output, 1)
	out := make(chan persistence.EventRow, 1)

	in <- engine.Output{Envelope: &event.Envelope{
		Sequence:  7,
		EventID:   "evt-7",
		Type:      event.EventTypeSyncCompleted,
		Block:     3,
		Timestamp: time.Now(),
		Payload:   map[string]string{"mode": "expansion"},
	}}
	close(in)

	bridgePersist(in, out)

	row, ok := <-out
	if !ok {
		t.Fatal("no row forwarded")
	}
	if row.Sequence != 7 || row.EventType != "SyncCompleted" || row.Block != 3 {
		t.Errorf("row = %+v", row)
	}
	if !strings.Contains(string(row.Payload), "expansion") {
		t.Errorf("payload not marshalled: %s", row.Payload)
	}
	if _, ok := <-out; ok {
		t.Error("bridge did not close its output")
	}
}

func TestBridgePublishCountsDrops(t *testing.T) {
	metrics := observability.NewMetrics()

	in := make(chan engine.Output, 2)
	out := make(chan stream.PublishableEvent, 1)

	in <- engine.Output{Envelope: &event.Envelope{Sequence: 1, Type: event.EventTypePositionCreated}}
	in <- engine.Output{Envelope: &event.Envelope{Sequence: 2, Type: event.EventTypeStableMinted}}
	close(in)

	// The second event finds the buffer full and is dropped; the drop
	// must be counted.
	bridgePublish(in, out, metrics)

	if got := testutil.ToFloat64(metrics.PublishDrops); got != 1 {
		t.Errorf("publish drops = %v, want 1", got)
	}
	evt, ok := <-out
	if !ok || evt.Sequence != 1 {
		t.Errorf("forwarded event = %+v (ok=%v), want sequence 1", evt, ok)
	}
}
