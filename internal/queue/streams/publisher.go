package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// Publisher appends schema-checked envelopes to Redis Streams.
type Publisher struct {
	client   *redis.Client
	registry *SchemaRegistry
	maxLen   int64
}

// NewPublisher creates a Publisher. maxLen > 0 caps each stream approximately.
func NewPublisher(client *redis.Client, registry *SchemaRegistry, maxLen int64) *Publisher {
	return &Publisher{client: client, registry: registry, maxLen: maxLen}
}

// Publish wraps payload in an envelope and appends it to stream. The active
// span's trace id, if any, travels with the envelope.
func (p *Publisher) Publish(ctx context.Context, stream, eventType, version string, payload interface{}) (string, error) {
	if stream == "" {
		return "", fmt.Errorf("stream name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		OccurredAt:     time.Now().UTC(),
		PayloadVersion: version,
		Data:           data,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	if err := env.ValidateBasic(); err != nil {
		return "", err
	}
	if p.registry != nil {
		if err := p.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return "", err
		}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	recordPublished(ctx, eventType)
	return id, nil
}
