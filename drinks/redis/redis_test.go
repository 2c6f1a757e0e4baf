package redis

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/ggoodman/drinkshop/drinks"
	"github.com/ggoodman/drinkshop/drinks/drinkstest"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   2, // Use separate DB for store tests
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// newTestStore returns a store isolated under a random key prefix and removes
// its keys when the test ends.
func newTestStore(t *testing.T, client *redis.Client) *Store {
	t.Helper()
	prefix := "drinks-test:" + uuid.NewString() + ":"
	s := NewWithClient(client, prefix)
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		_ = s.Close()
	})
	return s
}

func TestRedisStore(t *testing.T) {
	client := testClient(t)
	drinkstest.RunStoreTests(t, func(t *testing.T) drinks.Store {
		return newTestStore(t, client)
	})
}

func TestRedisStore_CorruptRecipe(t *testing.T) {
	client := testClient(t)
	s := newTestStore(t, client)
	ctx := context.Background()

	d, err := s.Create(ctx, drinks.Sample())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := client.HSet(ctx, s.drinkKey(d.ID), "recipe", "{not json").Err(); err != nil {
		t.Fatalf("hset: %v", err)
	}
	if _, err := s.Get(ctx, d.ID); err == nil || errors.Is(err, drinks.ErrNotFound) {
		t.Fatalf("want a decode error, got %v", err)
	}
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(ctx, Config{RedisAddr: "127.0.0.1:1"}); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestRedisStore_CreateWritesDeclaredKeys(t *testing.T) {
	client := testClient(t)
	s := newTestStore(t, client)
	ctx := context.Background()

	d, err := s.Create(ctx, drinks.Sample())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if title, err := client.HGet(ctx, s.drinkKey(d.ID), "title").Result(); err != nil || title != d.Title {
		t.Fatalf("drink hash at %s: %q, %v", s.drinkKey(d.ID), title, err)
	}
	if score, err := client.ZScore(ctx, s.idsKey(), strconv.FormatInt(d.ID, 10)).Result(); err != nil || int64(score) != d.ID {
		t.Fatalf("id index: %v, %v", score, err)
	}

	// A title taken between the pre-check and the script leaves the
	// allocated id unused.
	id, err := client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	keys := []string{s.titlesKey(), s.idsKey(), s.drinkKey(id)}
	res, err := createScript.Run(ctx, client, keys, d.Title, "[]", id).Int64()
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if res != resultDuplicate {
		t.Fatalf("want duplicate result, got %d", res)
	}
	if n, err := client.Exists(ctx, s.drinkKey(id)).Result(); err != nil || n != 0 {
		t.Fatalf("rejected create must not write %s", s.drinkKey(id))
	}

	next, err := s.Create(ctx, drinks.Drink{Title: "second", Recipe: d.Recipe})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if next.ID <= id {
		t.Fatalf("burned id %d must not be reused, got %d", id, next.ID)
	}
}
