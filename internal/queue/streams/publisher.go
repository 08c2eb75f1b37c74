package streams

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher appends schema-checked envelopes to Redis streams.
type Publisher struct {
	client   redis.UniversalClient
	registry *SchemaRegistry
	maxLen   int64
}

// PublishOption adjusts the XADD call.
type PublishOption func(*redis.XAddArgs)

// WithMaxLenApprox caps the stream length with approximate trimming.
func WithMaxLenApprox(maxLen int64) PublishOption {
	return func(args *redis.XAddArgs) {
		if maxLen > 0 {
			args.MaxLen = maxLen
			args.Approx = true
		}
	}
}

// NewPublisher creates a Publisher. A nil registry skips payload validation.
func NewPublisher(client redis.UniversalClient, registry *SchemaRegistry) *Publisher {
	return &Publisher{client: client, registry: registry}
}

// WithDefaultMaxLen applies WithMaxLenApprox(n) to every publish.
func (p *Publisher) WithDefaultMaxLen(n int64) *Publisher {
	p.maxLen = n
	return p
}

// Publish validates the envelope and appends it to stream.
func (p *Publisher) Publish(ctx context.Context, stream string, env Envelope, opts ...PublishOption) (string, error) {
	if stream == "" {
		return "", errors.New("stream name is required")
	}
	if err := env.ValidateBasic(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return "", err
		}
	}
	raw, err := env.Marshal()
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		WithMaxLenApprox(p.maxLen)(args)
	}
	for _, opt := range opts {
		opt(args)
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	recordPublished(ctx, env.EventType)
	return id, nil
}

// PublishRaw wraps payload in a new envelope and publishes it.
func (p *Publisher) PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...PublishOption) (string, error) {
	env, err := NewEnvelope(eventType, version, payload)
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, stream, env, opts...)
}
