package searchcache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/lakeextract/internal/cache/redisstore"
)

func TestLocalTier_HitAndEviction(t *testing.T) {
	c := New(2, time.Hour, nil, nil)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))
	if v, ok := c.Get(ctx, "a"); !ok || string(v) != "1" {
		t.Fatalf("a: got=%q ok=%v", v, ok)
	}
	c.Set(ctx, "c", []byte("3")) // evicts b, a was used more recently
	if _, ok := c.Get(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("len=%d want 2", c.Len())
	}
}

func TestLocalTier_Expiry(t *testing.T) {
	c := New(4, time.Minute, nil, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"))
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("expired entry served")
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	c := New(4, time.Minute, nil, nil)
	c.Set(context.Background(), "k", nil)
	if c.Len() != 0 {
		t.Fatalf("empty value cached")
	}
}

func TestRemoteTier_BackfillsLocal(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx := context.Background()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	writer := New(4, time.Hour, rc, nil)
	writer.Set(ctx, "shared", []byte("urls"))
	if !mr.Exists("shared") {
		t.Fatalf("value not written to redis")
	}

	reader := New(4, time.Hour, rc, nil)
	v, ok := reader.Get(ctx, "shared")
	if !ok || string(v) != "urls" {
		t.Fatalf("remote get got=%q ok=%v", v, ok)
	}
	if reader.Len() != 1 {
		t.Fatalf("remote hit should backfill local tier")
	}
}

type failingRemote struct{}

func (failingRemote) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}

func (failingRemote) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}

func TestRemoteFailureIsAMiss(t *testing.T) {
	c := New(0, time.Hour, failingRemote{}, nil)
	ctx := context.Background()
	c.Set(ctx, "k", []byte("v"))
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("failing remote must read as a miss")
	}
}
