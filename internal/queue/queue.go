// Package queue implements the inbound message work queue: FIFO,
// single-flight, with exponential-backoff retry. It decouples message
// arrival from processing so a transient handler failure never loses the
// messages queued behind it.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shopbot/internal/bus"
	"shopbot/internal/domain"
	"shopbot/internal/metrics"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// Processor applies a single inbound message. A non-nil error marks the
// attempt as failed and triggers the retry policy.
type Processor func(ctx context.Context, msg domain.InboundMessage) error

type item struct {
	msg     domain.InboundMessage
	process Processor
	retries int
}

// Queue buffers inbound messages and applies them to their processor one at
// a time, strictly in arrival order. A failing head item blocks the tail
// until it succeeds or exhausts its retries; there is no reordering and no
// concurrent processing within one queue instance.
type Queue struct {
	mu         sync.Mutex
	items      []*item
	processing bool
	gen        uint64 // bumped by Clear so a stale drain loop stops

	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
	events     *bus.EventBus
}

// Config tunes a Queue. Zero values fall back to 3 retries / 1s base delay.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *slog.Logger
	Events     *bus.EventBus // optional; receives queue.dropped events
}

func New(cfg Config) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		logger:     cfg.Logger,
		events:     cfg.Events,
	}
}

// Enqueue appends a message to the tail and starts the drain loop if it is
// not already running. Non-blocking; returns immediately.
func (q *Queue) Enqueue(ctx context.Context, msg domain.InboundMessage, process Processor) {
	q.mu.Lock()
	q.items = append(q.items, &item{msg: msg, process: process})
	metrics.QueueDepth.Set(int64(len(q.items)))
	start := !q.processing
	if start {
		q.processing = true
	}
	gen := q.gen
	q.mu.Unlock()

	if start {
		go q.drain(ctx, gen)
	}
}

// drain processes items until the queue is empty. Runs in its own goroutine;
// at most one drain loop is active per queue.
func (q *Queue) drain(ctx context.Context, gen uint64) {
	for {
		q.mu.Lock()
		if q.gen != gen {
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		head := q.items[0]
		q.mu.Unlock()

		err := q.attempt(ctx, head)
		if err == nil {
			q.pop(head)
			continue
		}

		if head.retries < q.maxRetries {
			head.retries++
			delay := q.baseDelay << (head.retries - 1)
			q.logger.Warn("message processing failed, retrying",
				"sender", head.msg.SenderID,
				"attempt", head.retries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				q.logger.Info("queue drain cancelled during backoff")
				q.Clear()
				return
			case <-time.After(delay):
			}
			continue
		}

		q.logger.Error("message dropped after exhausting retries",
			"sender", head.msg.SenderID,
			"attempts", head.retries+1,
			"error", err,
		)
		metrics.DroppedTotal.Inc()
		if q.events != nil {
			q.events.Emit(bus.Event{
				Type:    bus.EventMessageDropped,
				Source:  "queue",
				Payload: map[string]any{"sender": head.msg.SenderID, "id": head.msg.ID},
			})
		}
		q.pop(head)
	}
}

// attempt runs the processor once, converting panics into errors so a logic
// bug in a processor cannot kill the drain loop.
func (q *Queue) attempt(ctx context.Context, it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return it.process(ctx, it.msg)
}

// pop removes the head item, but only if it is still the expected one
// (Clear may have emptied the queue while an attempt was in flight).
func (q *Queue) pop(expected *item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 && q.items[0] == expected {
		q.items = q.items[1:]
	}
	metrics.QueueDepth.Set(int64(len(q.items)))
}

// Len returns the number of pending items, including the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Processing reports whether a drain loop is currently active.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Clear drops all pending items and resets the processing flag. Used for
// shutdown and test reset.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.processing = false
	q.gen++
	metrics.QueueDepth.Set(0)
}
