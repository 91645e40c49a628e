// Package sideeffect runs the work queued after a trade: venue reputation
// updates and external validation calls.
package sideeffect

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/venuerouter/internal/domain"
)

// DefaultQueueSize is the ChannelQueue buffer when none is configured.
const DefaultQueueSize = 1024

// ChannelQueue is an in-process domain.TaskQueue. Publish never waits for
// the consumer.
type ChannelQueue struct {
	ch chan domain.Task
}

// NewChannelQueue creates a queue holding up to size tasks.
func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &ChannelQueue{ch: make(chan domain.Task, size)}
}

// Publish enqueues task or returns ErrQueueFull.
func (q *ChannelQueue) Publish(ctx context.Context, task domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- task:
		return nil
	default:
		return fmt.Errorf("sideeffect: publish %s: %w", task.ID, domain.ErrQueueFull)
	}
}

// Tasks is the consumer side of the queue.
func (q *ChannelQueue) Tasks() <-chan domain.Task { return q.ch }

// Len returns the number of buffered tasks.
func (q *ChannelQueue) Len() int { return len(q.ch) }

var _ domain.TaskQueue = (*ChannelQueue)(nil)
