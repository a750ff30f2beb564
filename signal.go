package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tonimelisma/gdrive-replicate/internal/journal"
	"github.com/tonimelisma/gdrive-replicate/internal/replicate"
)

// errForcedExit is the run error recorded when a second signal cuts a run
// short.
var errForcedExit = fmt.Errorf("forced exit on second signal: %w", context.Canceled)

// shutdown owns a command's signal handling. The first SIGINT/SIGTERM
// cancels ctx: the walk stops dispatching and in-flight transfers are
// recorded as canceled. The second runs the force hook, which closes the
// journal run record, and exits.
type shutdown struct {
	ctx    context.Context
	logger *slog.Logger
	exit   func(int)

	mu      sync.Mutex
	onForce func()
}

// shutdownContext installs signal handling for a command that exits the
// process on a second signal.
func shutdownContext(parent context.Context, logger *slog.Logger) *shutdown {
	return newShutdown(parent, logger, os.Exit)
}

func newShutdown(parent context.Context, logger *slog.Logger, exit func(int)) *shutdown {
	ctx, cancel := context.WithCancel(parent)

	s := &shutdown{ctx: ctx, logger: logger, exit: exit}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping after in-flight transfers",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			s.force()
		case <-parent.Done():
			return
		}
	}()

	return s
}

// Context is canceled by the first signal or by the parent.
func (s *shutdown) Context() context.Context {
	return s.ctx
}

// onForceExit registers fn to run before a forced exit. A later call
// replaces the earlier hook; nil clears it.
func (s *shutdown) onForceExit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onForce = fn
}

func (s *shutdown) force() {
	s.mu.Lock()
	fn := s.onForce
	s.mu.Unlock()

	if fn != nil {
		fn()
	}

	s.exit(1)
}

// finishOnForce closes run with errForcedExit if the process is forced
// down. totals supplies the counts recorded so far.
func (s *shutdown) finishOnForce(run *journal.Run, totals func() replicate.Snapshot) {
	s.onForceExit(func() {
		if err := run.Finish(totals(), errForcedExit); err != nil {
			s.logger.Warn("failed to finish run record on forced exit",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)

			return
		}

		s.logger.Info("run record closed on forced exit", slog.String("run_id", run.ID))
	})
}
