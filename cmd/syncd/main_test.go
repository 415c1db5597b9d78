package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"bookingsync/internal/api"
	"bookingsync/internal/config"
	"bookingsync/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls atomic.Int32
}

func (r *countingRunner) Run(ctx context.Context) (worker.RunResult, error) {
	r.calls.Add(1)
	return worker.RunResult{Message: "ok"}, nil
}

func TestParseArgs(t *testing.T) {
	mode, target, err := parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, "serve", mode)
	assert.Empty(t, target)

	mode, target, err = parseArgs([]string{"once", "fullsync"})
	require.NoError(t, err)
	assert.Equal(t, "once", mode)
	assert.Equal(t, "fullsync", target)

	_, _, err = parseArgs([]string{"once", "sideways"})
	assert.Error(t, err)
	_, _, err = parseArgs([]string{"once"})
	assert.Error(t, err)
}

func TestStartScheduler(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()
	outbound := &countingRunner{}
	runners := map[string]api.Runner{"outbound": outbound, "inbound": &countingRunner{}}

	c, err := startScheduler(ctx, config.SchedulerConfig{Enabled: false, Outbound: "@every 1s"}, runners, &logger)
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = startScheduler(ctx, config.SchedulerConfig{Enabled: true, Outbound: "not a spec"}, runners, &logger)
	assert.Error(t, err)

	c, err = startScheduler(ctx, config.SchedulerConfig{Enabled: true, Outbound: "@every 1s"}, runners, &logger)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Stop()
	assert.Len(t, c.Entries(), 1)

	assert.Eventually(t, func() bool { return outbound.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
