// Package mlruntime checks, once, that the numeric runtime models run on is usable.
package mlruntime

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/utils"
)

// Backend is a runtime whose readiness can be checked.
type Backend interface {
	Ready(ctx context.Context) error
}

// BackendFunc adapts a function to a Backend.
type BackendFunc func(ctx context.Context) error

// Ready calls f.
func (f BackendFunc) Ready(ctx context.Context) error {
	return f(ctx)
}

// Initializer runs the readiness check of a Backend at most once. Until the check succeeds no
// model or tensor operation may run; if it fails the runtime stays Uninitialized.
type Initializer struct {
	backend Backend
	clock   clock.Clock
	logger  logging.Logger
	ready   *utils.Readiness[struct{}]

	startOnce sync.Once
	workers   utils.StoppableWorkers
}

// NewInitializer returns an Initializer that has not started.
func NewInitializer(backend Backend, clk clock.Clock, logger logging.Logger) *Initializer {
	if clk == nil {
		clk = clock.New()
	}
	return &Initializer{
		backend: backend,
		clock:   clk,
		logger:  logger,
		ready:   utils.NewReadiness[struct{}](),
	}
}

// Start begins the check in the background. Calls after the first do nothing.
func (i *Initializer) Start(ctx context.Context) {
	i.startOnce.Do(func() {
		i.workers = utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
			stopSlowLogger := utils.SlowLogger(ctx, i.clock, "waiting for ml runtime", "backend", backendName(i.backend), i.logger)
			defer stopSlowLogger()

			i.ready.Resolve(func() (struct{}, error) {
				return struct{}{}, i.backend.Ready(ctx)
			})
			if err := i.ready.Err(); err != nil {
				i.logger.CWarnw(ctx, "ml runtime failed to initialize, models will not load", "error", err)
				return
			}
			i.logger.CDebugw(ctx, "ml runtime ready")
		})
	})
}

// State is Ready once the check has succeeded.
func (i *Initializer) State() utils.ReadyState {
	return i.ready.State()
}

// Wait blocks until the runtime is ready, the check failed or ctx is done.
func (i *Initializer) Wait(ctx context.Context) error {
	_, err := i.ready.Wait(ctx)
	return err
}

// Err returns why the check failed, if it did.
func (i *Initializer) Err() error {
	return i.ready.Err()
}

// Close cancels the check's context and waits for it to return. Start does nothing after Close.
func (i *Initializer) Close() {
	i.startOnce.Do(func() {})
	if i.workers != nil {
		i.workers.Stop()
	}
}

func backendName(b Backend) string {
	if named, ok := b.(interface{ String() string }); ok {
		return named.String()
	}
	return fmt.Sprintf("%T", b)
}
