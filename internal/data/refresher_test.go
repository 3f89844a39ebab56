package data

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) Run(_ context.Context) (*Result, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &Result{Origin: OriginFallback, OutputPath: "epg.xml"}, nil
}

func TestRefresherStart(t *testing.T) {
	runner := &countingRunner{}
	refresher := NewRefresher(runner, 20*time.Millisecond, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		refresher.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Refresher did not stop after context cancellation")
	}

	assert.GreaterOrEqual(t, runner.calls.Load(), int32(2))
}

func TestRefresherRunsImmediately(t *testing.T) {
	runner := &countingRunner{}
	refresher := NewRefresher(runner, time.Hour, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	refresher.Start(ctx)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestScheduleNextRefresh(t *testing.T) {
	failure := errors.New("boom")

	tests := []struct {
		name     string
		interval time.Duration
		err      error
		expected time.Duration
	}{
		{"success", 6 * time.Hour, nil, 6 * time.Hour},
		{"failure capped", 6 * time.Hour, failure, 5 * time.Minute},
		{"failure halved", 4 * time.Minute, failure, 2 * time.Minute},
		{"tiny interval", time.Nanosecond, failure, time.Nanosecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := NewRefresher(&countingRunner{}, tt.interval, quietLogger())
			assert.Equal(t, tt.expected, refresher.scheduleNextRefresh(tt.err))
		})
	}
}
