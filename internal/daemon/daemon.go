// Package daemon provides the signal-driven lifecycle shared by the world
// agent: startup reconciliation, serving until terminated, and a grace
// period for in-flight work before exit (spec §4.6 Lifecycle). Grounded in
// the teacher's internal/daemon/daemon.go shape (recoverInterrupted before
// serving, SIGTERM/SIGINT with a grace sleep), generalized from the
// teacher's timeline-engine-plus-transport-server pair to the world
// agent's GC-sweep-plus-Server pair.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ehrlich-b/substrate/internal/logger"
)

// Runnable is anything the daemon serves until ctx is cancelled. Grounded
// in the teacher's engine.Run(ctx)/srv.ListenAndServe(ctx) pair, which
// daemon.Run raced against a signal channel; here every runnable races the
// same way.
type Runnable func(ctx context.Context) error

// Options configures the daemon's startup and shutdown behavior.
type Options struct {
	// StartupGC runs synchronously before any Runnable is started (spec
	// §4.6 "Startup GC": "a synchronous reaper sweep removes orphaned
	// worlds from previous runs").
	StartupGC func(ctx context.Context)
	// Grace bounds how long in-flight work gets to finish after SIGTERM
	// before the process exits anyway (spec §4.6 "lets in-flight PTY
	// sessions finish within a grace period").
	Grace time.Duration
}

// Run starts every runnable, performs the startup reconciliation pass, and
// blocks until either a runnable returns an error or a termination signal
// arrives — at which point it cancels the shared context, waits up to
// opts.Grace, and returns. Mirrors the teacher's daemon.Run select between
// sigCh and errCh, generalized to N runnables instead of a fixed pair.
func Run(opts Options, runnables ...Runnable) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.StartupGC != nil {
		opts.StartupGC(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	errCh := make(chan error, len(runnables))
	for _, r := range runnables {
		r := r
		go func() {
			errCh <- r(ctx)
		}()
	}

	select {
	case sig := <-sigCh:
		logger.Info("daemon: received signal, shutting down", "signal", sig.String())
		cancel()
		grace := opts.Grace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		select {
		case <-time.After(grace):
		case err := <-errCh:
			if err != nil {
				logger.Warn("daemon: runnable exited during grace period", "err", err)
			}
		}
		return nil
	case err := <-errCh:
		cancel()
		if err != nil && err != context.Canceled {
			return fmt.Errorf("daemon: runnable exited: %w", err)
		}
		return nil
	}
}
