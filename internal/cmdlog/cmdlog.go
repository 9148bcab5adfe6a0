// Package cmdlog wraps CLI commands with logging and metrics.
package cmdlog

import (
	"context"
	"errors"
	"time"

	"pocketsync/internal/logging"
	"pocketsync/internal/metrics"
)

// Run executes cmd, counting it and logging its outcome and duration.
func Run(cmd string, f func() error) error {
	start := time.Now()
	metrics.IncCommandRun(cmd)
	err := f()
	fields := map[string]any{"command": cmd, "duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		metrics.IncCommandError(cmd)
		fields["error"] = err.Error()
		logging.Error("command_failed", fields)
		return err
	}
	logging.Info("command_done", fields)
	return nil
}

// RunContext is Run for long-running commands: cancellation of ctx counts
// as a clean stop.
func RunContext(ctx context.Context, cmd string, f func(context.Context) error) error {
	return Run(cmd, func() error {
		err := f(ctx)
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
}
