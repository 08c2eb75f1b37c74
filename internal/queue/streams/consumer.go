package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Consumer reads envelopes from a Redis stream through a consumer group.
type Consumer struct {
	client   redis.UniversalClient
	registry *SchemaRegistry
	group    string
	name     string
	logger   *zap.Logger
}

// ConsumerOption adjusts the XREADGROUP call.
type ConsumerOption func(*redis.XReadGroupArgs)

// WithBlock sets how long a read may block.
func WithBlock(d time.Duration) ConsumerOption {
	return func(args *redis.XReadGroupArgs) {
		if d > 0 {
			args.Block = d
		}
	}
}

// WithCount caps the number of entries per read.
func WithCount(n int64) ConsumerOption {
	return func(args *redis.XReadGroupArgs) {
		if n > 0 {
			args.Count = n
		}
	}
}

// NewConsumer builds a consumer named name in group.
func NewConsumer(client redis.UniversalClient, registry *SchemaRegistry, group, name string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{client: client, registry: registry, group: group, name: name, logger: logger}
}

// EnsureGroup creates group on stream (and the stream itself) unless it exists.
func EnsureGroup(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	if stream == "" || group == "" {
		return errors.New("stream and group must be provided")
	}
	if err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Message is one decoded stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Read returns new entries for this consumer. Undecodable or schema-invalid
// entries are acknowledged and dropped.
func (c *Consumer) Read(ctx context.Context, stream string, opts ...ConsumerOption) ([]Message, error) {
	if stream == "" {
		return nil, errors.New("stream name is required")
	}
	if c.group == "" || c.name == "" {
		return nil, errors.New("consumer group and name must be configured")
	}
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{stream, ">"},
	}
	for _, opt := range opts {
		opt(args)
	}

	res, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}
	var out []Message
	for _, st := range res {
		for _, msg := range st.Messages {
			if decoded, ok := c.decode(ctx, stream, msg); ok {
				out = append(out, decoded)
			}
		}
	}
	return out, nil
}

// Ack acknowledges ids.
func (c *Consumer) Ack(ctx context.Context, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// Lag reports the pending state of this consumer's group.
func (c *Consumer) Lag(ctx context.Context, stream string) (LagMetrics, error) {
	return GroupLag(ctx, c.client, stream, c.group)
}

// AutoClaim takes over entries idle for at least minIdle, typically left behind
// by a crashed worker. The returned cursor continues the scan.
func (c *Consumer) AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]Message, string, error) {
	if stream == "" {
		return nil, "", errors.New("stream name is required")
	}
	if start == "" {
		start = "0-0"
	}
	args := &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}
	msgs, next, err := c.client.XAutoClaim(ctx, args).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim: %w", err)
	}
	var out []Message
	for _, msg := range msgs {
		if decoded, ok := c.decode(ctx, stream, msg); ok {
			out = append(out, decoded)
		}
	}
	return out, next, nil
}

func (c *Consumer) decode(ctx context.Context, stream string, msg redis.XMessage) (Message, bool) {
	env, reason, err := decodeEntry(msg.Values)
	if err == nil && c.registry != nil {
		if verr := c.registry.Validate(env.EventType, env.PayloadVersion, env.Data); verr != nil {
			reason, err = "schema", verr
		}
	}
	if err != nil {
		c.logger.Warn("dropping stream entry",
			zap.String("stream", stream),
			zap.String("id", msg.ID),
			zap.String("reason", reason),
			zap.Error(err))
		recordDropped(ctx, reason)
		if ackErr := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); ackErr != nil {
			c.logger.Warn("ack dropped entry failed", zap.String("id", msg.ID), zap.Error(ackErr))
		}
		return Message{}, false
	}
	return Message{ID: msg.ID, Envelope: env}, true
}

func decodeEntry(values map[string]interface{}) (Envelope, string, error) {
	raw, ok := values["envelope"]
	if !ok {
		return Envelope{}, "missing", errors.New("entry has no envelope field")
	}
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, "encoding", err
		}
		b = data
	}
	env, err := UnmarshalEnvelope(b)
	if err != nil {
		return Envelope{}, "envelope", err
	}
	return env, "", nil
}
