package live

import (
	"context"
	"testing"
	"time"
)

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	if hub.HasClients() {
		t.Error("HasClients() = true on a fresh hub")
	}

	// Broadcasting with no clients is a no-op, not an error.
	if err := hub.Broadcast(map[string]interface{}{"type": "reading"}); err != nil {
		t.Errorf("Broadcast failed: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not shut down on context cancellation")
	}
}

func TestHub_BroadcastUnmarshalable(t *testing.T) {
	hub := NewHub()
	if err := hub.Broadcast(make(chan int)); err == nil {
		t.Error("Broadcast of an unmarshalable value should fail")
	}
}

func TestHub_BroadcastBufferOverflow(t *testing.T) {
	hub := NewHub()

	// With no Run loop draining, the buffer fills and further snapshots
	// are dropped rather than blocking the caller.
	for i := 0; i < 200; i++ {
		if err := hub.Broadcast(map[string]int{"i": i}); err != nil {
			t.Fatalf("Broadcast returned error on overflow: %v", err)
		}
	}
}
