package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	ctx := context.Background()
	const tenant = "tenant-001"
	c := NewLRUCache(100)

	t.Run("RoundTrip", func(t *testing.T) {
		if err := c.Set(ctx, tenant, "bundle:latest", []byte("v3"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := c.Get(ctx, tenant, "bundle:latest")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v3" {
			t.Errorf("Get = %q, want %q", got, "v3")
		}
	})

	t.Run("MissReturnsNil", func(t *testing.T) {
		got, err := c.Get(ctx, tenant, "never-set")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != nil {
			t.Errorf("miss returned %q, want nil", got)
		}
	})

	t.Run("DeleteThenMiss", func(t *testing.T) {
		c.Set(ctx, tenant, "doomed", []byte("x"), time.Minute)
		if err := c.Delete(ctx, tenant, "doomed"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if got, _ := c.Get(ctx, tenant, "doomed"); got != nil {
			t.Error("value survived delete")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		c.Set(ctx, tenant, "short", []byte("x"), 10*time.Millisecond)
		if got, _ := c.Get(ctx, tenant, "short"); got == nil {
			t.Fatal("value missing before expiry")
		}
		time.Sleep(20 * time.Millisecond)
		if got, _ := c.Get(ctx, tenant, "short"); got != nil {
			t.Error("value survived its TTL")
		}
	})

	t.Run("EvictsLeastRecentlyUsed", func(t *testing.T) {
		small := NewLRUCache(3)
		for _, k := range []string{"a", "b", "c"} {
			small.Set(ctx, tenant, k, []byte(k), time.Minute)
		}
		// Touch "a" so "b" becomes the eviction candidate.
		small.Get(ctx, tenant, "a")
		small.Set(ctx, tenant, "d", []byte("d"), time.Minute)

		if got, _ := small.Get(ctx, tenant, "b"); got != nil {
			t.Error("least recently used entry was not evicted")
		}
		for _, k := range []string{"a", "c", "d"} {
			if got, _ := small.Get(ctx, tenant, k); got == nil {
				t.Errorf("entry %q should have survived", k)
			}
		}
	})

	t.Run("TenantKeysDoNotCollide", func(t *testing.T) {
		c.Set(ctx, "tenant-a", "profile:c1", []byte("a"), time.Minute)
		c.Set(ctx, "tenant-b", "profile:c1", []byte("b"), time.Minute)

		if got, _ := c.Get(ctx, "tenant-a", "profile:c1"); string(got) != "a" {
			t.Errorf("tenant-a read %q", got)
		}
		if got, _ := c.Get(ctx, "tenant-b", "profile:c1"); string(got) != "b" {
			t.Errorf("tenant-b read %q", got)
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		if err := c.Set(ctx, "", "k", []byte("v"), time.Minute); err == nil {
			t.Error("Set with empty tenant should fail")
		}
		if _, err := c.Get(ctx, "", "k"); err == nil {
			t.Error("Get with empty tenant should fail")
		}
		if err := c.Delete(ctx, "", "k"); err == nil {
			t.Error("Delete with empty tenant should fail")
		}
	})

	t.Run("CounterWindow", func(t *testing.T) {
		window := 100 * time.Millisecond

		for want := int64(1); want <= 3; want++ {
			got, err := c.IncrementCounter(ctx, tenant, "ingest", window)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("count = %d, want %d", got, want)
			}
		}

		time.Sleep(150 * time.Millisecond)
		if got, _ := c.IncrementCounter(ctx, tenant, "ingest", window); got != 1 {
			t.Errorf("count after window reset = %d, want 1", got)
		}
	})

	t.Run("ProfileRoundTrip", func(t *testing.T) {
		profile := &domain.CustomerProfile{
			CustomerID:       "cust-001",
			TotalAmount:      1500.50,
			AverageAmount:    500.17,
			TransactionCount: 3,
			AmountStd:        120.4,
			Labeled:          true,
			HighRisk:         true,
		}
		if err := c.SetProfile(ctx, tenant, "cust-001", profile, time.Minute); err != nil {
			t.Fatalf("SetProfile failed: %v", err)
		}

		got, err := c.GetProfile(ctx, tenant, "cust-001")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if got.CustomerID != "cust-001" || got.TransactionCount != 3 {
			t.Errorf("profile did not round trip: %+v", got)
		}
		if !got.HighRisk || !got.Labeled {
			t.Error("risk flags lost in the round trip")
		}
	})

	t.Run("ProfileMiss", func(t *testing.T) {
		got, err := c.GetProfile(ctx, tenant, "cust-unknown")
		if err != nil {
			t.Fatalf("GetProfile failed: %v", err)
		}
		if got != nil {
			t.Errorf("uncached profile = %+v, want nil", got)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		fresh := NewLRUCache(50)
		for i := 0; i < 4; i++ {
			fresh.Set(ctx, tenant, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
		}
		size, capacity := fresh.Stats()
		if size != 4 || capacity != 50 {
			t.Errorf("Stats() = (%d, %d), want (4, 50)", size, capacity)
		}
	})

	t.Run("CloseClears", func(t *testing.T) {
		fresh := NewLRUCache(10)
		fresh.Set(ctx, tenant, "k", []byte("v"), time.Minute)
		if err := fresh.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if got, _ := fresh.Get(ctx, tenant, "k"); got != nil {
			t.Error("entry survived Close")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := c.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()
		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("got %T, want *LRUCache", c)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}
