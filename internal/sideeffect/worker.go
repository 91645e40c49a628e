package sideeffect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/metrics"
)

// Handler performs one kind of task.
type Handler interface {
	Handle(ctx context.Context, task domain.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task domain.Task) error

func (f HandlerFunc) Handle(ctx context.Context, task domain.Task) error { return f(ctx, task) }

// StreamSource is a durable task stream consumed through a consumer group.
type StreamSource interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, count int, block time.Duration) ([]domain.StreamMessage, error)
	Ack(ctx context.Context, ids ...string) error
	DeadLetter(ctx context.Context, payload []byte) error
}

// WorkerConfig bounds retries and stream polling.
type WorkerConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	BatchSize   int
	Block       time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	return c
}

// Worker dispatches tasks to handlers by kind with bounded retries.
type Worker struct {
	handlers map[domain.TaskKind]Handler
	cfg      WorkerConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a Worker. Tasks of a kind with no handler are dropped.
func NewWorker(handlers map[domain.TaskKind]Handler, cfg WorkerConfig, m *metrics.Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		handlers: handlers,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		logger:   logger.With(slog.String("component", "sideeffect_worker")),
		sleep:    sleepCtx,
	}
}

// Process runs task until it succeeds, fails permanently, or exhausts its
// attempts. The returned error is the last handler error.
func (w *Worker) Process(ctx context.Context, task domain.Task) error {
	h, ok := w.handlers[task.Kind]
	if !ok {
		w.metrics.Task(string(task.Kind), "process", "dropped")
		w.logger.WarnContext(ctx, "no handler for task", slog.String("kind", string(task.Kind)), slog.String("task_id", task.ID))
		return nil
	}

	var err error
	for attempt := task.Attempt + 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		task.Attempt = attempt
		if err = h.Handle(ctx, task); err == nil {
			w.metrics.Task(string(task.Kind), "process", "ok")
			return nil
		}
		if permanent(err) || attempt == w.cfg.MaxAttempts {
			break
		}
		w.logger.DebugContext(ctx, "task failed, retrying",
			slog.String("task_id", task.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if serr := w.sleep(ctx, w.backoff(attempt)); serr != nil {
			return serr
		}
	}

	w.metrics.Task(string(task.Kind), "process", "error")
	w.logger.ErrorContext(ctx, "task failed",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.String("trade_id", task.TradeID),
		slog.Int("attempts", task.Attempt),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("sideeffect: task %s: %w", task.ID, err)
}

// RunChannel consumes q until ctx is cancelled.
func (w *Worker) RunChannel(ctx context.Context, q *ChannelQueue) error {
	w.logger.InfoContext(ctx, "worker started", slog.String("source", "channel"))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-q.Tasks():
			_ = w.Process(ctx, task)
		}
	}
}

// RunStream consumes s until ctx is cancelled. Tasks that fail are parked on
// the dead-letter stream; every message is acknowledged.
func (w *Worker) RunStream(ctx context.Context, s StreamSource) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("sideeffect: %w", err)
	}
	w.logger.InfoContext(ctx, "worker started", slog.String("source", "stream"))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := s.Read(ctx, w.cfg.BatchSize, w.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.WarnContext(ctx, "stream read failed", slog.String("error", err.Error()))
			if serr := w.sleep(ctx, w.cfg.MaxBackoff); serr != nil {
				return serr
			}
			continue
		}
		for _, msg := range msgs {
			w.handleMessage(ctx, s, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, s StreamSource, msg domain.StreamMessage) {
	var task domain.Task
	failed := false
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		w.logger.WarnContext(ctx, "undecodable task", slog.String("msg_id", msg.ID), slog.String("error", err.Error()))
		failed = true
	} else if err := w.Process(ctx, task); err != nil {
		if ctx.Err() != nil {
			return
		}
		failed = true
	}

	if failed {
		if err := s.DeadLetter(ctx, msg.Payload); err != nil {
			w.logger.ErrorContext(ctx, "dead letter failed", slog.String("msg_id", msg.ID), slog.String("error", err.Error()))
		}
	}
	if err := s.Ack(ctx, msg.ID); err != nil {
		w.logger.WarnContext(ctx, "ack failed", slog.String("msg_id", msg.ID), slog.String("error", err.Error()))
	}
}

// backoff doubles from BaseBackoff, capped at MaxBackoff.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff << (attempt - 1)
	if d <= 0 || d > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return d
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrUnauthorized)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
