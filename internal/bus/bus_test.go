package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	ctx := context.Background()
	const tenant = "tenant-001"

	t.Run("DeliversLabelRequest", func(t *testing.T) {
		var got atomic.Pointer[domain.Message]

		if _, err := b.Subscribe(ctx, tenant, domain.TopicLabelsRequested, func(ctx context.Context, msg *domain.Message) error {
			got.Store(msg)
			return nil
		}); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		payload, _ := json.Marshal(map[string]any{"snapshotDate": "2025-06-30", "seed": 42})
		if err := b.Publish(ctx, tenant, domain.TopicLabelsRequested, payload); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		if !waitFor(t, time.Second, func() bool { return got.Load() != nil }) {
			t.Fatal("message never delivered")
		}

		msg := got.Load()
		if msg.TenantID != tenant {
			t.Errorf("tenant = %q, want %q", msg.TenantID, tenant)
		}
		if msg.Topic != domain.TopicLabelsRequested {
			t.Errorf("topic = %q, want %q", msg.Topic, domain.TopicLabelsRequested)
		}
		var decoded map[string]any
		if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
			t.Fatalf("payload did not round trip: %v", err)
		}
		if decoded["snapshotDate"] != "2025-06-30" {
			t.Errorf("snapshotDate = %v", decoded["snapshotDate"])
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("envelope missing ID or timestamp")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var a, other atomic.Int32

		b.Subscribe(ctx, "tenant-a", domain.TopicLabelsCompleted, func(ctx context.Context, msg *domain.Message) error {
			a.Add(1)
			return nil
		})
		b.Subscribe(ctx, "tenant-b", domain.TopicLabelsCompleted, func(ctx context.Context, msg *domain.Message) error {
			other.Add(1)
			return nil
		})
		time.Sleep(10 * time.Millisecond)

		b.Publish(ctx, "tenant-a", domain.TopicLabelsCompleted, []byte("{}"))

		waitFor(t, time.Second, func() bool { return a.Load() == 1 })
		if a.Load() != 1 {
			t.Errorf("tenant-a got %d messages, want 1", a.Load())
		}
		if other.Load() != 0 {
			t.Errorf("tenant-b got %d messages, want 0", other.Load())
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		if err := b.Publish(ctx, "", domain.TopicHighRiskAlert, []byte("x")); err == nil {
			t.Error("publish with empty tenant should fail")
		}
		if _, err := b.Subscribe(ctx, "", domain.TopicHighRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			return nil
		}); err == nil {
			t.Error("subscribe with empty tenant should fail")
		}
	})

	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) {
		var n atomic.Int32
		sub, err := b.Subscribe(ctx, tenant, domain.TopicHighRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			n.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		b.Publish(ctx, tenant, domain.TopicHighRiskAlert, []byte("first"))
		waitFor(t, time.Second, func() bool { return n.Load() == 1 })

		sub.Unsubscribe()
		time.Sleep(10 * time.Millisecond)
		b.Publish(ctx, tenant, domain.TopicHighRiskAlert, []byte("second"))
		time.Sleep(50 * time.Millisecond)

		if n.Load() != 1 {
			t.Errorf("got %d deliveries after unsubscribe, want 1", n.Load())
		}
		if sub.Topic() != domain.TopicHighRiskAlert {
			t.Errorf("sub.Topic() = %q", sub.Topic())
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		var first, second atomic.Int32
		b.Subscribe(ctx, tenant, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
			first.Add(1)
			return nil
		})
		b.Subscribe(ctx, tenant, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
			second.Add(1)
			return nil
		})
		time.Sleep(10 * time.Millisecond)

		b.Publish(ctx, tenant, domain.TopicTransactionIngested, []byte("{}"))

		if !waitFor(t, time.Second, func() bool { return first.Load() == 1 && second.Load() == 1 }) {
			t.Errorf("fan out incomplete: %d and %d", first.Load(), second.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := b.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(100)
	ctx := context.Background()

	b.Subscribe(ctx, "tenant-001", domain.TopicLabelsRequested, func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := b.Publish(ctx, "tenant-001", domain.TopicLabelsRequested, []byte("x")); err == nil {
		t.Error("publish after close should fail")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("ping after close should fail")
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestNew(t *testing.T) {
	t.Run("Channel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()
		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("got %T, want *ChannelBus", b)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported bus type")
		}
	})
}

func TestChannelBusBurst(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()

	ctx := context.Background()
	const n = 200

	var received atomic.Int32
	b.Subscribe(ctx, "tenant-burst", domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < n; i++ {
		b.Publish(ctx, "tenant-burst", domain.TopicTransactionIngested, []byte("{}"))
	}

	if !waitFor(t, 5*time.Second, func() bool { return received.Load() == n }) {
		t.Fatalf("received %d of %d messages", received.Load(), n)
	}
}
