package presort

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls atomic.Int32
	last  atomic.Value
	done  chan struct{}
}

func (r *countingRunner) Run(_ context.Context, p Params) (Result, error) {
	r.last.Store(p)
	if r.calls.Add(1) == 2 {
		close(r.done)
	}
	return Result{Status: StatusSuccess}, nil
}

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) DeleteExpiredSegments(context.Context) (int64, error) {
	s.calls.Add(1)
	return 3, s.err
}

func TestScheduler_RunsBatchEveryInterval(t *testing.T) {
	runner := &countingRunner{done: make(chan struct{})}
	sweeper := &countingSweeper{err: errors.New("db down")}
	s := NewScheduler(runner, sweeper, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not run twice")
	}
	cancel()
	<-stopped

	p, ok := runner.last.Load().(Params)
	require.True(t, ok)
	assert.Equal(t, TriggerSchedule, p.Trigger)
	assert.Empty(t, p.UserID)
	assert.GreaterOrEqual(t, sweeper.calls.Load(), int32(2), "sweep failures do not stop the batch")
}

func TestScheduler_DisabledReturnsImmediately(t *testing.T) {
	runner := &countingRunner{done: make(chan struct{})}
	s := NewScheduler(runner, nil, 0, zerolog.Nop())

	s.Run(context.Background())
	assert.Equal(t, int32(0), runner.calls.Load())
}
