package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	registry := NewRegistry()
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, QueueConfig{MaxTries: 3, RetryDelay: 5 * time.Millisecond, Registry: registry})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-1", Type: "bulk"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not succeed")
	}
	assert.Eventually(t, func() bool {
		rec, ok := registry.Get("job-1")
		return ok && rec.Status == StatusFinished && rec.Attempts == 2
	}, time.Second, 5*time.Millisecond)
}

func TestQueueCallsFailedHookWhenTriesExhausted(t *testing.T) {
	var calls int32
	failed := make(chan error, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}, QueueConfig{
		MaxTries:   2,
		RetryDelay: 5 * time.Millisecond,
		OnFailed: func(ctx context.Context, job Job, err error) {
			failed <- err
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-2"}))

	select {
	case err := <-failed:
		assert.EqualError(t, err, "boom")
	case <-time.After(time.Second):
		t.Fatal("failed hook not called")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueuePermanentErrorSkipsRetry(t *testing.T) {
	var calls int32
	failed := make(chan struct{}, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("invalid payload"))
	}, QueueConfig{
		MaxTries:   3,
		RetryDelay: 5 * time.Millisecond,
		OnFailed:   func(ctx context.Context, job Job, err error) { failed <- struct{}{} },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-3"}))
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("failed hook not called")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueueAppliesAttemptTimeout(t *testing.T) {
	failed := make(chan error, 1)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{
		MaxTries: 1,
		Timeout:  10 * time.Millisecond,
		OnFailed: func(ctx context.Context, job Job, err error) { failed <- err },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "job-4"}))
	select {
	case err := <-failed:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("timeout not applied")
	}
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}
