package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LagMetrics is the pending state of a consumer group.
type LagMetrics struct {
	Pending    int64         `json:"pending"`
	Lag        int64         `json:"lag"`
	Consumers  int64         `json:"consumers"`
	OldestIdle time.Duration `json:"oldest_idle"`
}

// GroupLag reads XINFO GROUPS and the oldest pending entry for group. Lag is
// -1 when the group does not exist.
func GroupLag(ctx context.Context, client redis.UniversalClient, stream, group string) (LagMetrics, error) {
	if client == nil {
		return LagMetrics{}, errors.New("redis client is nil")
	}
	if stream == "" || group == "" {
		return LagMetrics{}, errors.New("stream and group are required")
	}
	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return LagMetrics{}, fmt.Errorf("xinfo groups: %w", err)
	}
	m := LagMetrics{Lag: -1}
	for _, info := range groups {
		if info.Name == group {
			m.Pending = info.Pending
			m.Lag = info.Lag
			m.Consumers = info.Consumers
			break
		}
	}
	if m.Pending == 0 {
		return m, nil
	}
	entries, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return LagMetrics{}, fmt.Errorf("xpendingext: %w", err)
	}
	if len(entries) > 0 {
		m.OldestIdle = entries[0].Idle
	}
	return m, nil
}
