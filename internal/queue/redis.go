// Package queue implements the durable per-campaign work queue on Redis
// Streams. Each campaign gets its own stream; a consumer group provides
// at-least-once delivery with explicit acknowledgement, so items fetched
// but never acked (a pause mid-batch, a crashed process) are redelivered
// to the next consumer.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/dispatch"
	"github.com/ignite/campaign-engine/internal/domain"
)

const (
	// groupName is the single consumer group per campaign stream. The
	// dispatch registry guarantees at most one live consumer per campaign,
	// so one group with one named consumer is all we need.
	groupName    = "dispatch"
	consumerName = "dispatcher"

	payloadField = "item"
)

// RedisStreams is the Redis Streams implementation of dispatch.Queue.
type RedisStreams struct {
	client *redis.Client
}

// New creates a queue backed by the given Redis client.
func New(client *redis.Client) *RedisStreams {
	return &RedisStreams{client: client}
}

func streamKey(campaignID uuid.UUID) string {
	return fmt.Sprintf("campaign:%s:queue", campaignID)
}

// ensureGroup creates the consumer group (and the stream) if missing.
func (q *RedisStreams) ensureGroup(ctx context.Context, campaignID uuid.UUID) error {
	err := q.client.XGroupCreateMkStream(ctx, streamKey(campaignID), groupName, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Publish appends a work item to the campaign's stream.
func (q *RedisStreams) Publish(ctx context.Context, campaignID uuid.UUID, item domain.WorkItem) error {
	if err := q.ensureGroup(ctx, campaignID); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(campaignID),
		Values: map[string]interface{}{payloadField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish work item: %w", err)
	}
	return nil
}

// Consumer returns a pull consumer for the campaign's stream.
func (q *RedisStreams) Consumer(campaignID uuid.UUID) (dispatch.QueueConsumer, error) {
	return &streamConsumer{
		client:     q.client,
		campaignID: campaignID,
		stream:     streamKey(campaignID),
	}, nil
}

// streamConsumer drains one campaign stream. The first fetches replay this
// consumer's pending entries (delivered before a previous run exited
// without acking) before reading new ones.
type streamConsumer struct {
	client     *redis.Client
	campaignID uuid.UUID
	stream     string

	groupReady     bool
	pendingDrained bool
}

// Fetch implements dispatch.QueueConsumer. An empty result with nil error
// means the stream is currently drained.
func (c *streamConsumer) Fetch(ctx context.Context, max int, wait time.Duration) ([]dispatch.Delivery, error) {
	if !c.groupReady {
		err := c.client.XGroupCreateMkStream(ctx, c.stream, groupName, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("create consumer group: %w", err)
		}
		c.groupReady = true
	}

	if !c.pendingDrained {
		deliveries, err := c.read(ctx, "0", max, 0)
		if err != nil {
			return nil, err
		}
		if len(deliveries) > 0 {
			return deliveries, nil
		}
		c.pendingDrained = true
	}

	return c.read(ctx, ">", max, wait)
}

func (c *streamConsumer) read(ctx context.Context, cursor string, max int, block time.Duration) ([]dispatch.Delivery, error) {
	args := &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: consumerName,
		Streams:  []string{c.stream, cursor},
		Count:    int64(max),
	}
	if block > 0 {
		args.Block = block
	} else {
		args.Block = -1 // no blocking
	}

	res, err := c.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch from %s: %w", c.stream, err)
	}

	var out []dispatch.Delivery
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values[payloadField].(string)
			if !ok {
				// Malformed entry; ack it away so it cannot wedge the loop.
				c.client.XAck(ctx, c.stream, groupName, msg.ID)
				continue
			}
			var item domain.WorkItem
			if err := json.Unmarshal([]byte(raw), &item); err != nil {
				c.client.XAck(ctx, c.stream, groupName, msg.ID)
				continue
			}
			out = append(out, dispatch.Delivery{ID: msg.ID, Item: item})
		}
	}
	return out, nil
}

// Ack implements dispatch.QueueConsumer.
func (c *streamConsumer) Ack(ctx context.Context, d dispatch.Delivery) error {
	if err := c.client.XAck(ctx, c.stream, groupName, d.ID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	return nil
}

// Close implements dispatch.QueueConsumer. The Redis client is shared and
// owned by the caller; nothing to release per consumer.
func (c *streamConsumer) Close() error { return nil }

// Depth returns how many entries remain in a campaign's stream, acked or
// not. Used for health reporting.
func (q *RedisStreams) Depth(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	n, err := q.client.XLen(ctx, streamKey(campaignID)).Result()
	if err != nil {
		return 0, fmt.Errorf("stream length: %w", err)
	}
	return n, nil
}
