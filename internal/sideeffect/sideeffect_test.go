package sideeffect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestWorker(handlers map[domain.TaskKind]Handler, maxAttempts int) *Worker {
	w := NewWorker(handlers, WorkerConfig{MaxAttempts: maxAttempts}, nil, testLogger())
	w.sleep = noSleep
	return w
}

func TestChannelQueueFull(t *testing.T) {
	q := NewChannelQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, domain.Task{ID: "a"}))
	err := q.Publish(ctx, domain.Task{ID: "b"})
	assert.ErrorIs(t, err, domain.ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

func TestChannelQueueCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewChannelQueue(4).Publish(ctx, domain.Task{}), context.Canceled)
}

func TestWorkerRetriesUntilSuccess(t *testing.T) {
	calls := 0
	w := newTestWorker(map[domain.TaskKind]Handler{
		domain.TaskReputation: HandlerFunc(func(_ context.Context, task domain.Task) error {
			calls++
			if task.Attempt < 3 {
				return errors.New("transient")
			}
			return nil
		}),
	}, 3)

	require.NoError(t, w.Process(context.Background(), domain.Task{ID: "t1", Kind: domain.TaskReputation}))
	assert.Equal(t, 3, calls)
}

func TestWorkerGivesUp(t *testing.T) {
	calls := 0
	w := newTestWorker(map[domain.TaskKind]Handler{
		domain.TaskValidation: HandlerFunc(func(context.Context, domain.Task) error {
			calls++
			return errors.New("down")
		}),
	}, 2)

	err := w.Process(context.Background(), domain.Task{ID: "t1", Kind: domain.TaskValidation})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestWorkerPermanentErrorNotRetried(t *testing.T) {
	calls := 0
	w := newTestWorker(map[domain.TaskKind]Handler{
		domain.TaskValidation: HandlerFunc(func(context.Context, domain.Task) error {
			calls++
			return domain.ErrInvalidRequest
		}),
	}, 5)

	require.Error(t, w.Process(context.Background(), domain.Task{Kind: domain.TaskValidation}))
	assert.Equal(t, 1, calls)
}

func TestWorkerUnknownKindDropped(t *testing.T) {
	w := newTestWorker(nil, 3)
	assert.NoError(t, w.Process(context.Background(), domain.Task{Kind: "other"}))
}

func TestWorkerBackoff(t *testing.T) {
	w := NewWorker(nil, WorkerConfig{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}, nil, testLogger())
	assert.Equal(t, 100*time.Millisecond, w.backoff(1))
	assert.Equal(t, 400*time.Millisecond, w.backoff(3))
	assert.Equal(t, time.Second, w.backoff(10))
}

func TestRunChannel(t *testing.T) {
	q := NewChannelQueue(4)
	done := make(chan string, 1)
	w := newTestWorker(map[domain.TaskKind]Handler{
		domain.TaskReputation: HandlerFunc(func(_ context.Context, task domain.Task) error {
			done <- task.ID
			return nil
		}),
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.RunChannel(ctx, q) }()

	require.NoError(t, q.Publish(ctx, domain.Task{ID: "t9", Kind: domain.TaskReputation}))
	select {
	case id := <-done:
		assert.Equal(t, "t9", id)
	case <-time.After(2 * time.Second):
		t.Fatal("task not processed")
	}
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

type fakeStream struct {
	mu     sync.Mutex
	msgs   []domain.StreamMessage
	acked  []string
	dead   [][]byte
	cancel context.CancelFunc
}

func (s *fakeStream) EnsureGroup(context.Context) error { return nil }

func (s *fakeStream) Read(context.Context, int, time.Duration) ([]domain.StreamMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		s.cancel()
		return nil, nil
	}
	out := s.msgs
	s.msgs = nil
	return out, nil
}

func (s *fakeStream) Ack(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, ids...)
	return nil
}

func (s *fakeStream) DeadLetter(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, payload)
	return nil
}

func TestRunStreamAcksAndDeadLetters(t *testing.T) {
	good, _ := json.Marshal(domain.Task{ID: "ok", Kind: domain.TaskReputation})
	bad, _ := json.Marshal(domain.Task{ID: "bad", Kind: domain.TaskValidation})

	ctx, cancel := context.WithCancel(context.Background())
	s := &fakeStream{
		cancel: cancel,
		msgs: []domain.StreamMessage{
			{ID: "1-0", Payload: good},
			{ID: "2-0", Payload: bad},
			{ID: "3-0", Payload: []byte("{not json")},
		},
	}
	w := newTestWorker(map[domain.TaskKind]Handler{
		domain.TaskReputation: HandlerFunc(func(context.Context, domain.Task) error { return nil }),
		domain.TaskValidation: HandlerFunc(func(context.Context, domain.Task) error { return errors.New("down") }),
	}, 2)

	err := w.RunStream(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, s.acked)
	require.Len(t, s.dead, 2)
	assert.Equal(t, bad, s.dead[0])
}

type fakeVenues struct {
	domain.VenueStore
	venue    domain.Venue
	outcomes []domain.VenueOutcome
}

func (f *fakeVenues) GetByID(_ context.Context, id string) (domain.Venue, error) {
	if id != f.venue.ID {
		return domain.Venue{}, domain.ErrNotFound
	}
	return f.venue, nil
}

func (f *fakeVenues) RecordOutcome(_ context.Context, _ string, o domain.VenueOutcome) (domain.Venue, error) {
	f.outcomes = append(f.outcomes, o)
	f.venue.TotalCount++
	if o.Success {
		f.venue.SuccessCount++
	}
	f.venue.VolumeUsd = f.venue.VolumeUsd.Add(o.VolumeUsd)
	return f.venue, nil
}

func TestReputationHandler(t *testing.T) {
	store := &fakeVenues{venue: domain.Venue{ID: "gmx", SuccessCount: 1, TotalCount: 2, VolumeUsd: decimal.Zero}}
	h := NewReputationHandler(store, testLogger())

	err := h.Handle(context.Background(), domain.Task{
		Kind: domain.TaskReputation, VenueID: "gmx", Success: true,
		SizeUsd: decimal.NewFromInt(500), LatencyMs: 120,
	})
	require.NoError(t, err)
	require.Len(t, store.outcomes, 1)
	assert.True(t, store.outcomes[0].Success)
	assert.Equal(t, int64(120), store.outcomes[0].LatencyMs)
	assert.Equal(t, int64(3), store.venue.TotalCount)
	assert.True(t, store.venue.VolumeUsd.Equal(decimal.NewFromInt(500)))
}

func TestReputationHandlerSkipsUnknownVenue(t *testing.T) {
	store := &fakeVenues{venue: domain.Venue{ID: "gmx"}}
	h := NewReputationHandler(store, testLogger())

	require.NoError(t, h.Handle(context.Background(), domain.Task{VenueID: "default"}))
	assert.Empty(t, store.outcomes)
}

func TestValidationHandler(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "task-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	h := NewValidationHandler(srv.URL, time.Second, testLogger())
	err := h.Handle(context.Background(), domain.Task{
		ID: "task-1", TradeID: "trade-1", Payload: json.RawMessage(`{"trade_id":"trade-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "trade-1", got["trade_id"])
}

func TestValidationHandlerStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	h := NewValidationHandler(srv.URL, time.Second, testLogger())
	err := h.Handle(context.Background(), domain.Task{ID: "t", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestValidationHandlerDisabled(t *testing.T) {
	h := NewValidationHandler("", 0, testLogger())
	assert.False(t, h.Enabled())
	assert.NoError(t, h.Handle(context.Background(), domain.Task{}))
}
