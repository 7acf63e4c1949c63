package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRedisCache_RoundTripAndPurge(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("set TEST_REDIS_URL to run redis tests")
	}
	c, err := NewRedisCache(url, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	type entry struct{ Title string }
	if err := c.Set(ctx, "cachetest:movies:1", entry{Title: "Heat"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "cachetest:genres", []string{"Drama"}); err != nil {
		t.Fatal(err)
	}

	var got entry
	ok, err := c.Get(ctx, "cachetest:movies:1", &got)
	if err != nil || !ok || got.Title != "Heat" {
		t.Fatalf("get = %v, %v, %+v", ok, err, got)
	}

	n, err := c.Purge(ctx, "cachetest:movies:")
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	if ok, _ := c.Get(ctx, "cachetest:movies:1", &got); ok {
		t.Fatal("purged key still present")
	}
	if ok, _ := c.Get(ctx, "cachetest:genres", &[]string{}); !ok {
		t.Fatal("purge removed a key outside the prefix")
	}
	_, _ = c.Purge(ctx, "cachetest:")
}
