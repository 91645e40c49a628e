package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// defaultStreamMaxLen is the approximate cap applied with XADD MAXLEN ~.
const defaultStreamMaxLen int64 = 10000

const (
	TaskStreamName           = keyPrefix + "tasks"
	ReconciliationStreamName = keyPrefix + "reconciliation"
)

// streamAppend XADDs payload under the "payload" field.
func streamAppend(ctx context.Context, rdb *redis.Client, stream string, maxLen int64, payload []byte) (string, error) {
	id, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return id, nil
}

func payloadOf(msg redis.XMessage) ([]byte, bool) {
	switch v := msg.Values["payload"].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

// TaskStream is a durable domain.TaskQueue on a Redis stream, consumed through
// a consumer group so each task is handled by one worker.
type TaskStream struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	maxLen   int64
}

// TaskStreamConfig names the stream and the consumer identity.
type TaskStreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	MaxLen   int64
}

// NewTaskStream creates a TaskStream. Empty fields take package defaults.
func NewTaskStream(c *Client, cfg TaskStreamConfig) *TaskStream {
	if cfg.Stream == "" {
		cfg.Stream = TaskStreamName
	}
	if cfg.Group == "" {
		cfg.Group = "side-effects"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = defaultStreamMaxLen
	}
	return &TaskStream{
		rdb:      c.Underlying(),
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		maxLen:   cfg.MaxLen,
	}
}

// Publish appends the task as JSON.
func (s *TaskStream) Publish(ctx context.Context, task domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("redis: marshal task %s: %w", task.ID, err)
	}
	_, err = streamAppend(ctx, s.rdb, s.stream, s.maxLen, data)
	return err
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (s *TaskStream) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s on %s: %w", s.group, s.stream, err)
	}
	return nil
}

// Read fetches up to count undelivered messages for this consumer. A negative
// block returns immediately; zero blocks until a message arrives. It returns
// an empty slice when nothing is pending.
func (s *TaskStream) Read(ctx context.Context, count int, block time.Duration) ([]domain.StreamMessage, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: read group %s: %w", s.stream, err)
	}

	var out []domain.StreamMessage
	for _, st := range res {
		for _, msg := range st.Messages {
			data, ok := payloadOf(msg)
			if !ok {
				continue
			}
			out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return out, nil
}

// Ack marks messages as processed for the consumer group.
func (s *TaskStream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.rdb.XAck(ctx, s.stream, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: ack %s: %w", s.stream, err)
	}
	return nil
}

// DeadLetter parks a payload that exhausted its retries on "<stream>:dead".
func (s *TaskStream) DeadLetter(ctx context.Context, payload []byte) error {
	_, err := streamAppend(ctx, s.rdb, s.stream+":dead", s.maxLen, payload)
	return err
}

// ReconciliationStream implements domain.ReconciliationQueue on a stream that
// operators drain out of band.
type ReconciliationStream struct {
	rdb    *redis.Client
	stream string
}

// NewReconciliationStream creates a ReconciliationStream on the default stream.
func NewReconciliationStream(c *Client) *ReconciliationStream {
	return &ReconciliationStream{rdb: c.Underlying(), stream: ReconciliationStreamName}
}

// Record appends the entry. The stream is never trimmed.
func (r *ReconciliationStream) Record(ctx context.Context, entry domain.ReconciliationEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis: marshal reconciliation %s: %w", entry.TradeID, err)
	}
	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{"payload": data},
	}).Err(); err != nil {
		return fmt.Errorf("redis: record reconciliation %s: %w", entry.TradeID, err)
	}
	return nil
}

// Pending returns up to count recorded entries from the start of the stream.
func (r *ReconciliationStream) Pending(ctx context.Context, count int64) ([]domain.ReconciliationEntry, error) {
	msgs, err := r.rdb.XRangeN(ctx, r.stream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: range %s: %w", r.stream, err)
	}
	out := make([]domain.ReconciliationEntry, 0, len(msgs))
	for _, m := range msgs {
		data, ok := payloadOf(m)
		if !ok {
			continue
		}
		var e domain.ReconciliationEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("redis: decode reconciliation %s: %w", m.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.TaskQueue           = (*TaskStream)(nil)
	_ domain.ReconciliationQueue = (*ReconciliationStream)(nil)
)
