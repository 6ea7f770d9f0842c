package jobs

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls atomic.Int32
	n     int64
	err   error
}

func (e *countingExpirer) ExpireOverdueCards(context.Context) (int64, error) {
	e.calls.Add(1)
	return e.n, e.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNewExpirySweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewExpirySweeper(&countingExpirer{}, "every tuesday", quietLogger())
	assert.Error(t, err)

	for _, spec := range []string{"", "@daily", "0 3 * * *"} {
		_, err := NewExpirySweeper(&countingExpirer{}, spec, quietLogger())
		assert.NoError(t, err, spec)
	}
}

func TestSweep(t *testing.T) {
	expirer := &countingExpirer{n: 3}
	sweeper, err := NewExpirySweeper(expirer, "", quietLogger())
	require.NoError(t, err)

	assert.EqualValues(t, 3, sweeper.Sweep(context.Background()))

	expirer.err = errors.New("connection refused")
	assert.Zero(t, sweeper.Sweep(context.Background()))
	assert.EqualValues(t, 2, expirer.calls.Load())
}

func TestRunDisabledWaitsForCancel(t *testing.T) {
	expirer := &countingExpirer{}
	sweeper, err := NewExpirySweeper(expirer, "", quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, expirer.calls.Load())
}

func TestRunFiresOnSchedule(t *testing.T) {
	expirer := &countingExpirer{}
	sweeper, err := NewExpirySweeper(expirer, "@every 1s", quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	require.Eventually(t, func() bool { return expirer.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
