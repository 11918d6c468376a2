package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is a decoded stream entry.
type Message struct {
	ID       string
	Envelope Envelope
}

// Lag describes how far a consumer group trails its stream.
type Lag struct {
	Pending    int64
	Lag        int64
	Consumers  int64
	OldestIdle time.Duration
}

// Consumer reads one stream through a consumer group.
type Consumer struct {
	client   *redis.Client
	registry *SchemaRegistry
	stream   string
	group    string
	name     string
}

// NewConsumer binds a consumer to stream/group under the given consumer name.
func NewConsumer(client *redis.Client, registry *SchemaRegistry, stream, group, name string) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if stream == "" || group == "" || name == "" {
		return nil, fmt.Errorf("stream, group and consumer name are required")
	}
	return &Consumer{client: client, registry: registry, stream: stream, group: group, name: name}, nil
}

// Stream returns the stream this consumer reads.
func (c *Consumer) Stream() string { return c.stream }

// EnsureGroup creates the consumer group (and stream) when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	if err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Read returns up to count new messages, blocking at most block. Entries that
// cannot be decoded or fail schema validation are acknowledged and dropped.
func (c *Consumer) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}
	if block <= 0 {
		args.Block = -1
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
		out = append(out, c.decodeAll(ctx, st.Messages)...)
	}
	return out, nil
}

// Reclaim takes over entries another consumer left pending for at least minIdle.
func (c *Consumer) Reclaim(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	return c.decodeAll(ctx, msgs), nil
}

// Ack marks ids as processed.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// Lag reports pending and lag counts for the group.
func (c *Consumer) Lag(ctx context.Context) (Lag, error) {
	groups, err := c.client.XInfoGroups(ctx, c.stream).Result()
	if err != nil {
		return Lag{}, fmt.Errorf("xinfo groups: %w", err)
	}
	out := Lag{Lag: -1}
	for _, g := range groups {
		if g.Name == c.group {
			out.Pending, out.Lag, out.Consumers = g.Pending, g.Lag, g.Consumers
			break
		}
	}
	if out.Pending == 0 {
		return out, nil
	}
	entries, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream, Group: c.group, Start: "-", End: "+", Count: 1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Lag{}, fmt.Errorf("xpending: %w", err)
	}
	if len(entries) > 0 {
		out.OldestIdle = entries[0].Idle
	}
	return out, nil
}

func (c *Consumer) decodeAll(ctx context.Context, msgs []redis.XMessage) []Message {
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		env, err := c.decode(msg)
		if err != nil {
			recordDropped(ctx, c.stream)
			_ = c.client.XAck(ctx, c.stream, c.group, msg.ID).Err()
			continue
		}
		out = append(out, Message{ID: msg.ID, Envelope: env})
	}
	return out
}

func (c *Consumer) decode(msg redis.XMessage) (Envelope, error) {
	var raw []byte
	switch v := msg.Values["envelope"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return Envelope{}, fmt.Errorf("entry %s has no envelope field", msg.ID)
	}
	env, err := UnmarshalEnvelope(raw)
	if err != nil {
		return Envelope{}, err
	}
	if c.registry != nil {
		if err := c.registry.Validate(env.EventType, env.PayloadVersion, env.Data); err != nil {
			return Envelope{}, err
		}
	}
	return env, nil
}
