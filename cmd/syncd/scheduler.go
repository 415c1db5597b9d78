package main

import (
	"context"
	"fmt"

	"bookingsync/internal/api"
	"bookingsync/internal/config"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// startScheduler runs the processors on their cron specs. An empty spec
// leaves that processor to external triggers. Overlapping runs of one
// processor are skipped.
func startScheduler(ctx context.Context, cfg config.SchedulerConfig, runners map[string]api.Runner, logger *zerolog.Logger) (*cron.Cron, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	schedLogger := logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: &schedLogger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	for name, spec := range scheduleSpecs(cfg) {
		if spec == "" {
			continue
		}
		runner, ok := runners[name]
		if !ok {
			continue
		}
		name := name
		if _, err := c.AddFunc(spec, func() {
			if err := runOnce(ctx, runner, name, &schedLogger); err != nil {
				schedLogger.Error().Err(err).Str("processor", name).Msg("scheduled batch failed")
			}
		}); err != nil {
			return nil, fmt.Errorf("scheduler.%s: invalid cron spec %q: %w", name, spec, err)
		}
		schedLogger.Info().Str("processor", name).Str("spec", spec).Msg("scheduled")
	}

	c.Start()
	return c, nil
}
