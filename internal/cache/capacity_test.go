package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type capacityStore interface {
	Increment(ctx context.Context, partnerID, allocationID string) (CapacityChange, error)
	Decrement(ctx context.Context, partnerID, allocationID string) (CapacityChange, error)
	Get(ctx context.Context, partnerID string) (CapacitySnapshot, error)
}

func newTestRedisCapacityStore(t *testing.T) *RedisCapacityStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCapacityStore(client, "test")
}

func capacityStores(t *testing.T) map[string]capacityStore {
	return map[string]capacityStore{
		"redis":  newTestRedisCapacityStore(t),
		"memory": NewMemoryCapacityStore(),
	}
}

func TestCapacityIncrementIsIdempotentPerAllocation(t *testing.T) {
	for name, store := range capacityStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := store.Increment(ctx, "partner-1", "alloc-1")
			if err != nil {
				t.Fatalf("increment failed: %v", err)
			}
			if !first.Applied || first.CurrentOrders != 1 {
				t.Fatalf("unexpected first change: %+v", first)
			}
			retry, err := store.Increment(ctx, "partner-1", "alloc-1")
			if err != nil {
				t.Fatalf("retry increment failed: %v", err)
			}
			if retry.Applied || retry.CurrentOrders != 1 {
				t.Fatalf("retry should not double count: %+v", retry)
			}
			snapshot, err := store.Get(ctx, "partner-1")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if snapshot.CurrentOrders != 1 || snapshot.LastUpdated == nil {
				t.Fatalf("unexpected snapshot: %+v", snapshot)
			}
		})
	}
}

func TestCapacityDecrementNeverGoesNegative(t *testing.T) {
	for name, store := range capacityStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			change, err := store.Decrement(ctx, "partner-2", "never-counted")
			if err != nil {
				t.Fatalf("decrement failed: %v", err)
			}
			if change.Applied || change.CurrentOrders != 0 {
				t.Fatalf("unknown allocation should be ignored: %+v", change)
			}

			if _, err := store.Increment(ctx, "partner-2", "alloc-a"); err != nil {
				t.Fatalf("increment failed: %v", err)
			}
			for i := 0; i < 3; i++ {
				change, err = store.Decrement(ctx, "partner-2", "alloc-a")
				if err != nil {
					t.Fatalf("decrement failed: %v", err)
				}
				if change.CurrentOrders < 0 {
					t.Fatalf("counter went negative: %+v", change)
				}
			}
			snapshot, _ := store.Get(ctx, "partner-2")
			if snapshot.CurrentOrders != 0 {
				t.Fatalf("expected 0 after round trip, got %d", snapshot.CurrentOrders)
			}
		})
	}
}

func TestCapacityConcurrentRoundTrip(t *testing.T) {
	for name, store := range capacityStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 40
			var wg sync.WaitGroup
			errs := make(chan error, n*2)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := fmt.Sprintf("alloc-%d", i)
					if _, err := store.Increment(ctx, "partner-3", id); err != nil {
						errs <- err
					}
					// 重复调用模拟重试
					if _, err := store.Increment(ctx, "partner-3", id); err != nil {
						errs <- err
					}
				}(i)
			}
			wg.Wait()
			snapshot, err := store.Get(ctx, "partner-3")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if snapshot.CurrentOrders != n {
				t.Fatalf("expected %d in flight, got %d", n, snapshot.CurrentOrders)
			}

			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					change, err := store.Decrement(ctx, "partner-3", fmt.Sprintf("alloc-%d", i))
					if err != nil {
						errs <- err
						return
					}
					if change.CurrentOrders < 0 {
						errs <- fmt.Errorf("negative counter %d", change.CurrentOrders)
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent capacity error: %v", err)
			}
			snapshot, _ = store.Get(ctx, "partner-3")
			if snapshot.CurrentOrders != 0 {
				t.Fatalf("expected counter back at 0, got %d", snapshot.CurrentOrders)
			}
		})
	}
}

func TestCapacityRejectsEmptyKeys(t *testing.T) {
	store := NewMemoryCapacityStore()
	if _, err := store.Increment(context.Background(), "", "a"); err != ErrCapacityKeyInvalid {
		t.Fatalf("expected ErrCapacityKeyInvalid, got %v", err)
	}
	if _, err := store.Decrement(context.Background(), "p", " "); err != ErrCapacityKeyInvalid {
		t.Fatalf("expected ErrCapacityKeyInvalid, got %v", err)
	}
}
