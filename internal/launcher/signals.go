package launcher

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/psantana5/fluentd-launcher/internal/delegate"
	"github.com/psantana5/fluentd-launcher/internal/logging"
)

// relay owns the launcher's signal handling for the whole of Run. While a
// delegated command runs, signals go to it. With an in-process delegate a
// termination signal cancels its context. Otherwise the first termination
// signal is recorded so exit hooks still finish.
type relay struct {
	logger *logging.Logger
	in     chan os.Signal

	mu       sync.Mutex
	target   chan os.Signal
	cancel   context.CancelFunc
	received os.Signal

	stop chan struct{}
	done chan struct{}
}

// listen installs handlers for sigs and starts relaying
func listen(logger *logging.Logger, sigs ...os.Signal) *relay {
	r := &relay{
		logger: logger,
		in:     make(chan os.Signal, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	signal.Notify(r.in, sigs...)

	go func() {
		defer close(r.done)
		for {
			select {
			case <-r.stop:
				return
			case sig := <-r.in:
				r.dispatch(sig)
			}
		}
	}()
	return r
}

func (r *relay) dispatch(sig os.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.target != nil:
		select {
		case r.target <- sig:
		default:
			r.logger.Warn("Signal dropped, delegated command is not draining", map[string]interface{}{
				"signal": sig.String(),
			})
		}
	case !delegate.IsTermination(sig):
		r.logger.Info("Signal ignored, no delegated command running", map[string]interface{}{
			"signal": sig.String(),
		})
	default:
		if r.received == nil {
			r.received = sig
		}
		r.logger.Warn("Termination requested", map[string]interface{}{"signal": sig.String()})
		if r.cancel != nil {
			r.cancel()
		}
	}
}

// forward returns the channel a delegated command reads signals from
func (r *relay) forward() <-chan os.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = make(chan os.Signal, 8)
	return r.target
}

// cancelOnTermination makes termination signals cancel an in-process delegate
func (r *relay) cancelOnTermination(cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = cancel
	if r.received != nil {
		cancel()
	}
}

// detach stops forwarding once the delegate returned
func (r *relay) detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = nil
	r.cancel = nil
}

// terminated returns the recorded termination signal, if any
func (r *relay) terminated() os.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

// close removes the handlers and stops relaying
func (r *relay) close() {
	signal.Stop(r.in)
	close(r.stop)
	<-r.done
}

// signalExitCode is the shell convention for death by sig
func signalExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 128
}
