package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSchedulerClaimsEachSlotOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	c, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	host, _ := c.Host(ctx)
	port, err := c.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })

	a, b := &sweepStub{}, &sweepStub{}
	sa, _ := NewScheduler("*/5 * * * *", a, rdb, time.Minute, 10, nil)
	sb, _ := NewScheduler("*/5 * * * *", b, rdb, time.Minute, 10, nil)

	slot := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	if !sa.tick(ctx, slot) {
		t.Fatalf("first replica should claim the slot")
	}
	if sb.tick(ctx, slot) {
		t.Fatalf("second replica must skip a claimed slot")
	}
	if !sb.tick(ctx, slot.Add(5*time.Minute)) {
		t.Fatalf("next slot should be free")
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("unexpected sweep calls a=%d b=%d", a.calls, b.calls)
	}
	ttl, err := rdb.TTL(ctx, sweepLockPrefix+fmt.Sprint(slot.Unix())).Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("slot key should expire, ttl=%v err=%v", ttl, err)
	}
}
