// Package exithook runs registered cleanup functions exactly once when the
// launcher is about to exit, whatever the exit path.
package exithook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/fluentd-launcher/internal/logging"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Registry holds exit hooks
type Registry struct {
	mu      sync.Mutex
	hooks   []hook
	timeout time.Duration
	logger  *logging.Logger
	once    sync.Once
	ran     bool
}

// New creates a registry whose hooks share one deadline
func New(timeout time.Duration, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a hook. Hooks run in reverse order (LIFO).
// Hooks registered after Run are ignored.
func (r *Registry) Register(name string, fn func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ran {
		r.logger.Warn("Exit hook registered after exit", map[string]interface{}{"hook": name})
		return
	}
	r.hooks = append(r.hooks, hook{name: name, fn: fn})
}

// Run executes all hooks once. Errors and panics are logged, never returned:
// hooks run during shutdown and must not mask the real exit reason.
func (r *Registry) Run() {
	r.once.Do(func() {
		r.mu.Lock()
		r.ran = true
		hooks := r.hooks
		r.mu.Unlock()

		ctx := context.Background()
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		for i := len(hooks) - 1; i >= 0; i-- {
			if err := call(ctx, hooks[i]); err != nil {
				r.logger.Error("Exit hook failed", map[string]interface{}{
					"hook":  hooks[i].name,
					"error": err.Error(),
				})
			}
		}
	})
}

// call runs one hook, abandoning it once the shared deadline passes
func call(ctx context.Context, h hook) error {
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errCh <- fmt.Errorf("panic: %v", rec)
			}
		}()
		errCh <- h.fn(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("abandoned: %w", ctx.Err())
	}
}
