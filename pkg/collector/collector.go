// Package collector runs the serial telemetry logger from other programs.
package collector

import (
	"context"

	"serial-telemetry/internal/tasks"
)

// Options re-exposes the tasks.Options type for external callers.
type Options = tasks.Options

// Run discovers the device, logs its telemetry and serves the configured
// consumers until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	return tasks.InitAndRun(ctx, opts)
}
