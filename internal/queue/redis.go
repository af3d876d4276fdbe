package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"docdigest/constants"
	"docdigest/internal/common"
)

// Stream field names. Payload bytes are hex-encoded so they round-trip
// byte-exact through the stream's string values.
const (
	fieldDocID   = "doc_id"
	fieldPayload = "payload"
	fieldMode    = "mode"
	fieldReason  = "reason"
)

// RedisQueue implements Queue on a Redis Stream with one consumer group.
type RedisQueue struct {
	client         *redis.Client
	stream         string
	group          string
	deadStream     string
	reclaimMinIdle time.Duration
	logger         *slog.Logger
}

// Options configures a RedisQueue.
type Options struct {
	Stream     string
	Group      string
	DeadStream string // defaults to Stream + ".dead"
	// ReclaimMinIdle is how long a pending entry must sit idle before Claim
	// hands it to another (or a restarted) consumer. Zero reclaims
	// immediately, which only makes sense in tests.
	ReclaimMinIdle time.Duration
}

// NewRedisQueue builds the queue and creates the consumer group, implicitly
// creating the stream. Creating a group that already exists is not an error.
func NewRedisQueue(ctx context.Context, client *redis.Client, opts Options, logger *slog.Logger) (*RedisQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DeadStream == "" {
		opts.DeadStream = opts.Stream + ".dead"
	}

	err := client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		logger.Error("queue.group.create_failed", "stream", opts.Stream, "group", opts.Group, "error", err)
		return nil, common.WrapError(err, "create consumer group")
	}
	if err != nil {
		logger.Debug("queue.group.exists", "stream", opts.Stream, "group", opts.Group)
	} else {
		logger.Info("queue.group.created", "stream", opts.Stream, "group", opts.Group)
	}

	return &RedisQueue{
		client:         client,
		stream:         opts.Stream,
		group:          opts.Group,
		deadStream:     opts.DeadStream,
		reclaimMinIdle: opts.ReclaimMinIdle,
		logger:         logger,
	}, nil
}

func (q *RedisQueue) Append(ctx context.Context, e Entry) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			fieldDocID:   e.DocumentID,
			fieldPayload: EncodePayload(e.Payload),
			fieldMode:    string(e.Mode),
		},
	}).Result()
	if err != nil {
		q.logger.Error("queue.append.failed", "doc_id", e.DocumentID, "error", err)
		return "", fmt.Errorf("xadd %s: %w", q.stream, err)
	}
	q.logger.Info("queue.append.ok", "doc_id", e.DocumentID, "entry_id", id, "mode", string(e.Mode), "payload_bytes", len(e.Payload))
	return id, nil
}

func (q *RedisQueue) Claim(ctx context.Context, consumer string, max int, block time.Duration) ([]Entry, error) {
	if max <= 0 {
		max = 1
	}

	// Recover entries claimed by a crashed or stalled consumer first.
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.reclaimMinIdle,
		Start:    "0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim %s: %w", q.stream, err)
	}
	if len(claimed) > 0 {
		q.logger.Warn("queue.claim.redelivered", "consumer", consumer, "count", len(claimed))
		return q.toEntries(claimed), nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // bounded block expired with nothing to do
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", q.stream, err)
	}

	var out []Entry
	for _, s := range streams {
		out = append(out, q.toEntries(s.Messages)...)
	}
	return out, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		q.logger.Error("queue.ack.failed", "entry_id", id, "error", err)
		return fmt.Errorf("xack %s: %w", id, err)
	}
	q.logger.Debug("queue.ack.ok", "entry_id", id)
	return nil
}

func (q *RedisQueue) Deliveries(ctx context.Context, id string) (int64, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", id, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, e Entry, reason string) error {
	encoded := e.Encoded
	if encoded == "" {
		encoded = EncodePayload(e.Payload)
	}
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadStream,
		Values: map[string]any{
			fieldDocID:   e.DocumentID,
			fieldPayload: encoded,
			fieldMode:    string(e.Mode),
			fieldReason:  reason,
		},
	}).Err()
	if err != nil {
		q.logger.Error("queue.deadletter.failed", "doc_id", e.DocumentID, "entry_id", e.ID, "error", err)
		return fmt.Errorf("xadd %s: %w", q.deadStream, err)
	}
	q.logger.Warn("queue.deadletter.ok", "doc_id", e.DocumentID, "entry_id", e.ID, "reason", reason)
	return q.Ack(ctx, e.ID)
}

func (q *RedisQueue) toEntries(msgs []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		e := Entry{ID: m.ID}
		if v, ok := m.Values[fieldDocID].(string); ok {
			e.DocumentID = v
		}
		if v, ok := m.Values[fieldMode].(string); ok {
			e.Mode = constants.Mode(v)
		}
		if v, ok := m.Values[fieldPayload].(string); ok {
			e.Encoded = v
		}
		out = append(out, e)
	}
	return out
}
