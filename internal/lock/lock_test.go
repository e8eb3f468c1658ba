package lock

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestNoopWithoutAddress(t *testing.T) {
	locker, closeFn, err := New(context.Background(), Config{}, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer closeFn()

	if _, ok := locker.(Noop); !ok {
		t.Fatalf("expected Noop locker, got %T", locker)
	}
	release, err := locker.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := release(context.Background()); err != nil {
		t.Errorf("release: %v", err)
	}
}

// TestRedisLock needs a live server in HARVEST_TEST_REDIS_ADDR.
func TestRedisLock(t *testing.T) {
	addr := os.Getenv("HARVEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HARVEST_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	cfg := Config{RedisAddr: addr, Key: "stockharvest:test:" + uuid.NewString(), TTL: time.Minute}

	first, closeFirst, err := New(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer closeFirst()
	second, closeSecond, err := New(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer closeSecond()

	release, err := first.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := second.Acquire(ctx); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	releaseSecond, err := second.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	releaseSecond(ctx)
}
