package presort

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/domain"
	"github.com/baechuer/real-time-ressys/services/feed-ranker/internal/metrics"
	"github.com/rs/zerolog"
)

const guardKeyPrefix = "presort:enqueue:"

func GuardKey(userID string) string { return guardKeyPrefix + userID }

type TriggerOptions struct {
	Buffer   int
	GuardTTL time.Duration

	// PublishTimeout bounds one guard+publish round trip.
	PublishTimeout time.Duration
}

// Trigger submits presort refreshes without blocking the caller. Requests
// are queued on a buffered channel and published by one worker; when the
// buffer is full the request is dropped. A user is enqueued at most once
// per GuardTTL.
type Trigger struct {
	queue domain.PresortQueue
	guard domain.EnqueueGuard
	opts  TriggerOptions
	log   zerolog.Logger

	tasks      chan domain.PresortTask
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
	stopSignal chan struct{}
}

func NewTrigger(queue domain.PresortQueue, guard domain.EnqueueGuard, opts TriggerOptions, log zerolog.Logger) *Trigger {
	if opts.Buffer < 1 {
		opts.Buffer = 1
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &Trigger{
		queue:      queue,
		guard:      guard,
		opts:       opts,
		log:        log.With().Str("component", "presort_trigger").Logger(),
		tasks:      make(chan domain.PresortTask, opts.Buffer),
		stopSignal: make(chan struct{}),
	}
}

// Request queues a task and returns immediately. It reports false when the
// task was dropped.
func (t *Trigger) Request(task domain.PresortTask) bool {
	if task.UserID == "" {
		return false
	}
	select {
	case <-t.stopSignal:
		metrics.RecordPresortEnqueue("dropped")
		return false
	default:
	}
	select {
	case t.tasks <- task:
		return true
	default:
		metrics.RecordPresortEnqueue("dropped")
		t.log.Warn().Str("user_id", task.UserID).Msg("presort trigger buffer full, dropping request")
		return false
	}
}

// Start runs the publishing worker until ctx is done or Stop is called.
func (t *Trigger) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		t.wg.Add(1)
		go t.worker(ctx)
	})
}

func (t *Trigger) worker(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopSignal:
			t.drain(ctx)
			return
		case task := <-t.tasks:
			t.publish(ctx, task)
		}
	}
}

// drain publishes whatever is already buffered.
func (t *Trigger) drain(ctx context.Context) {
	for {
		select {
		case task := <-t.tasks:
			t.publish(ctx, task)
		default:
			return
		}
	}
}

func (t *Trigger) publish(ctx context.Context, task domain.PresortTask) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.PublishTimeout)
	defer cancel()
	if err := t.Enqueue(ctx, task); err != nil && !errors.Is(err, domain.ErrEnqueueSuppressed) {
		t.log.Warn().Err(err).Str("user_id", task.UserID).Msg("presort enqueue failed")
	}
}

// Stop stops accepting requests, publishes what is buffered and waits for
// the worker.
func (t *Trigger) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopSignal)
	})
	t.wg.Wait()
}

// Enqueue guards and publishes a task synchronously. It returns
// ErrEnqueueSuppressed when the user already has a pending task. A guard
// failure falls through to publishing, since a duplicate run only repeats
// work.
func (t *Trigger) Enqueue(ctx context.Context, task domain.PresortTask) error {
	if t.guard != nil && t.opts.GuardTTL > 0 {
		ok, err := t.guard.TryAcquire(ctx, GuardKey(task.UserID), t.opts.GuardTTL)
		switch {
		case err != nil:
			t.log.Warn().Err(err).Str("user_id", task.UserID).Msg("enqueue guard unavailable")
		case !ok:
			metrics.RecordPresortEnqueue("suppressed")
			return domain.ErrEnqueueSuppressed
		}
	}
	if err := t.queue.EnqueuePresort(ctx, task); err != nil {
		metrics.RecordPresortEnqueue("failed")
		return fmt.Errorf("publish presort task: %w", err)
	}
	metrics.RecordPresortEnqueue("enqueued")
	t.log.Debug().
		Str("user_id", task.UserID).
		Str("trigger", task.Trigger).
		Bool("incremental", task.Incremental).
		Msg("presort task enqueued")
	return nil
}
