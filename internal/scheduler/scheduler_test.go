package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingResyncer struct {
	calls atomic.Int32
	err   error
}

func (c *countingResyncer) Resync(ctx context.Context) error {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("resync called without a deadline")
	}
	return c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_Disabled(t *testing.T) {
	target := &countingResyncer{}
	s := New(0, time.Second, target, quietLogger())

	require.NoError(t, s.Start())
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, target.calls.Load())
}

func TestScheduler_RunsPeriodically(t *testing.T) {
	target := &countingResyncer{}
	s := New(20*time.Millisecond, time.Second, target, quietLogger())

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return target.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_RunPassesDeadline(t *testing.T) {
	target := &countingResyncer{err: errors.New("boom")}
	s := New(time.Hour, time.Second, target, quietLogger())

	s.run()

	assert.Equal(t, int32(1), target.calls.Load())
}
