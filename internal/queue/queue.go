// Package queue implements the at-least-once delivery task queue (spec
// §4.3) against Redis, grounded on the key-shape the spec names literally:
// a ready list, a processing list with per-message TTL sentinels, a delayed
// sorted set, a dead-letter list and TTL'd idempotency markers. The teacher's
// own work queue is Postgres SKIP LOCKED rows (pkg/execution/engine.go); this
// package is enrichment from the rest of the retrieved pack, which uses
// redis/go-redis/v9 elsewhere for exactly this kind of durable queueing.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message is one unit of work: a pointer to an execution, not its state.
type Message struct {
	ID                string    `json:"id"`
	ExecutionID       uuid.UUID `json:"execution_id"`
	TaskType          string    `json:"task_type,omitempty"`
	Payload           string    `json:"payload,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	Attempt           int       `json:"attempt"`
	VisibilityTimeout int       `json:"visibility_timeout"`

	// DLQReason/DLQTimestamp are only populated once a message has been
	// routed to the dead-letter queue.
	DLQReason    string     `json:"dlq_reason,omitempty"`
	DLQTimestamp *time.Time `json:"dlq_timestamp,omitempty"`
}

// Queue is a Redis-backed, at-least-once delivery queue.
type Queue struct {
	rdb    *redis.Client
	prefix string // QUEUE_NAME; every key below is prefix-qualified
	vis    time.Duration
}

// New returns a Queue whose keys are namespaced under name (the spec's `Q`),
// using visibilityTimeout as the default per-message TTL.
func New(rdb *redis.Client, name string, visibilityTimeout time.Duration) *Queue {
	return &Queue{rdb: rdb, prefix: name, vis: visibilityTimeout}
}

func (q *Queue) readyKey() string        { return q.prefix }
func (q *Queue) processingKey() string    { return q.prefix + ":processing" }
func (q *Queue) processingTTLKey(id string) string {
	return q.prefix + ":processing:" + id
}
func (q *Queue) delayedKey() string { return q.prefix + ":delayed" }
func (q *Queue) dlqKey() string     { return q.prefix + ":dlq" }
func (q *Queue) idempotencyKey(key string) string {
	return q.prefix + ":idempotency:" + key
}

const idempotencyTTL = 24 * time.Hour

// EnqueueOptions configures a single enqueue call.
type EnqueueOptions struct {
	TaskType       string
	Payload        string
	IdempotencyKey string
	DelaySeconds   int
}

// Enqueue constructs a Message for executionID and pushes it onto the ready
// list (or the delayed set, if DelaySeconds > 0). If IdempotencyKey is set
// and already marked, returns (nil, nil): "duplicate, nothing enqueued".
func (q *Queue) Enqueue(ctx context.Context, executionID uuid.UUID, opts EnqueueOptions) (*Message, error) {
	if opts.IdempotencyKey != "" {
		set, err := q.rdb.SetNX(ctx, q.idempotencyKey(opts.IdempotencyKey), "1", idempotencyTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: check idempotency key: %w", err)
		}
		if !set {
			return nil, nil
		}
	}

	msg := &Message{
		ID:                uuid.NewString(),
		ExecutionID:       executionID,
		TaskType:          opts.TaskType,
		Payload:           opts.Payload,
		CreatedAt:         time.Now().UTC(),
		Attempt:           1,
		VisibilityTimeout: int(q.vis.Seconds()),
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal message: %w", err)
	}

	if opts.DelaySeconds > 0 {
		readyAt := float64(time.Now().Add(time.Duration(opts.DelaySeconds) * time.Second).Unix())
		if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: readyAt, Member: raw}).Err(); err != nil {
			return nil, fmt.Errorf("queue: push delayed: %w", err)
		}
		return msg, nil
	}

	if err := q.rdb.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return nil, fmt.Errorf("queue: push ready: %w", err)
	}
	return msg, nil
}

// promoteDelayed moves any Q:delayed entries whose score has passed into Q.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := float64(time.Now().Unix())
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return fmt.Errorf("queue: scan delayed: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	pipe := q.rdb.TxPipeline()
	for _, raw := range due {
		pipe.LPush(ctx, q.readyKey(), raw)
		pipe.ZRem(ctx, q.delayedKey(), raw)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: promote delayed: %w", err)
	}
	return nil
}

// Dequeue promotes due delayed messages, then blocks up to blockingTimeout
// for a ready message, atomically moving it into the processing list and
// setting its visibility TTL key. Returns (nil, nil) on timeout.
func (q *Queue) Dequeue(ctx context.Context, blockingTimeout time.Duration) (*Message, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	raw, err := q.rdb.BRPopLPush(ctx, q.readyKey(), q.processingKey(), blockingTimeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("queue: unmarshal dequeued message: %w", err)
	}

	vis := q.vis
	if msg.VisibilityTimeout > 0 {
		vis = time.Duration(msg.VisibilityTimeout) * time.Second
	}
	if err := q.rdb.Set(ctx, q.processingTTLKey(msg.ID), raw, vis).Err(); err != nil {
		return nil, fmt.Errorf("queue: set visibility key: %w", err)
	}
	return &msg, nil
}

// Acknowledge removes msg from the processing list and deletes its TTL key.
func (q *Queue) Acknowledge(ctx context.Context, msg *Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 0, raw)
	pipe.Del(ctx, q.processingTTLKey(msg.ID))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: acknowledge: %w", err)
	}
	return nil
}

// Reject removes msg from processing; if toDLQ, annotates and routes to the
// dead-letter list; else if requeue, increments Attempt and pushes back onto
// the ready list.
func (q *Queue) Reject(ctx context.Context, msg *Message, requeue bool, toDLQ bool, dlqReason string) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 0, raw)
	pipe.Del(ctx, q.processingTTLKey(msg.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: reject: %w", err)
	}

	if toDLQ {
		now := time.Now().UTC()
		dlqMsg := *msg
		dlqMsg.DLQReason = dlqReason
		dlqMsg.DLQTimestamp = &now
		dlqRaw, err := json.Marshal(dlqMsg)
		if err != nil {
			return fmt.Errorf("queue: marshal dlq message: %w", err)
		}
		return q.rdb.LPush(ctx, q.dlqKey(), dlqRaw).Err()
	}

	if requeue {
		requeued := *msg
		requeued.Attempt++
		requeuedRaw, err := json.Marshal(requeued)
		if err != nil {
			return fmt.Errorf("queue: marshal requeued message: %w", err)
		}
		return q.rdb.LPush(ctx, q.readyKey(), requeuedRaw).Err()
	}

	return nil
}

// maxRecoveryAttempts is the attempt ceiling recover_stale applies
// independently of any per-execution max_retries.
const maxRecoveryAttempts = 3

// RecoverStale scans the processing list for entries whose visibility key has
// expired, requeueing (with incremented attempt) or DLQ-routing each one, and
// returns the count recovered.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	entries, err := q.rdb.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: scan processing: %w", err)
	}

	recovered := 0
	for _, raw := range entries {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}

		exists, err := q.rdb.Exists(ctx, q.processingTTLKey(msg.ID)).Result()
		if err != nil {
			return recovered, fmt.Errorf("queue: check visibility key: %w", err)
		}
		if exists > 0 {
			continue
		}

		if err := q.rdb.LRem(ctx, q.processingKey(), 0, raw).Err(); err != nil {
			return recovered, fmt.Errorf("queue: remove stale entry: %w", err)
		}

		if msg.Attempt <= maxRecoveryAttempts {
			msg.Attempt++
			requeuedRaw, err := json.Marshal(msg)
			if err != nil {
				return recovered, fmt.Errorf("queue: marshal recovered message: %w", err)
			}
			if err := q.rdb.LPush(ctx, q.readyKey(), requeuedRaw).Err(); err != nil {
				return recovered, fmt.Errorf("queue: requeue recovered message: %w", err)
			}
		} else {
			now := time.Now().UTC()
			msg.DLQReason = "max_attempts_exceeded"
			msg.DLQTimestamp = &now
			dlqRaw, err := json.Marshal(msg)
			if err != nil {
				return recovered, fmt.Errorf("queue: marshal dlq message: %w", err)
			}
			if err := q.rdb.LPush(ctx, q.dlqKey(), dlqRaw).Err(); err != nil {
				return recovered, fmt.Errorf("queue: dlq recovered message: %w", err)
			}
		}
		recovered++
	}
	return recovered, nil
}

// QueueLength returns the number of ready messages.
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.readyKey()).Result()
}

// ProcessingLength returns the number of in-flight messages.
func (q *Queue) ProcessingLength(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.processingKey()).Result()
}

// DLQLength returns the number of dead-lettered messages.
func (q *Queue) DLQLength(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.dlqKey()).Result()
}

// HealthCheck verifies the underlying Redis connection is reachable.
func (q *Queue) HealthCheck(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
