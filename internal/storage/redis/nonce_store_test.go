package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"LobsterMarket/internal/auth"
)

// nonceStoreContract 是所有 NonceStore 实现共享的行为约束。
func nonceStoreContract(t *testing.T, store auth.NonceStore) {
	ctx := context.Background()
	key := "nonce:" + uuid.NewString()

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := store.Put(ctx, key, "n1", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if v, ok, err := store.Get(ctx, key); err != nil || !ok || v != "n1" {
		t.Fatalf("get = %q %v %v", v, ok, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := store.Consume(ctx, key); err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("nonce consumed %d times", wins)
	}

	if err := store.Put(ctx, key, "n2", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Consume(ctx, key); ok {
		t.Fatal("deleted nonce consumed")
	}
}

func TestMemoryNonceStoreContract(t *testing.T) {
	nonceStoreContract(t, auth.NewMemoryNonceStore())
}

func TestRedisNonceStoreContract(t *testing.T) {
	addr := os.Getenv("LOBSTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOBSTER_TEST_REDIS_ADDR not set")
	}
	client, err := NewClient(context.Background(), Config{Address: addr})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer client.Close()
	nonceStoreContract(t, NewNonceStore(client))
}

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without address")
	}
	if _, err := NewClient(context.Background(), Config{URL: "://bad"}); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}
