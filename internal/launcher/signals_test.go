package launcher

import (
	"bytes"
	"context"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/psantana5/fluentd-launcher/internal/logging"
)

// newRelay builds a relay without installing handlers
func newRelay() (*relay, *bytes.Buffer) {
	var buf bytes.Buffer
	return &relay{logger: logging.New(&buf, logging.DEBUG, true)}, &buf
}

func TestRelayRecordsFirstTermination(t *testing.T) {
	r, logs := newRelay()

	r.dispatch(syscall.SIGTERM)
	r.dispatch(syscall.SIGINT)

	if got := r.terminated(); got != syscall.SIGTERM {
		t.Errorf("Expected SIGTERM recorded, got %v", got)
	}
	if !strings.Contains(logs.String(), "Termination requested") {
		t.Errorf("Expected termination logged, got %s", logs.String())
	}
}

func TestRelayIgnoresOtherSignalsWithoutTarget(t *testing.T) {
	r, logs := newRelay()

	r.dispatch(syscall.SIGHUP)

	if got := r.terminated(); got != nil {
		t.Errorf("Expected nothing recorded, got %v", got)
	}
	if !strings.Contains(logs.String(), "Signal ignored") {
		t.Errorf("Expected ignored signal logged, got %s", logs.String())
	}
}

func TestRelayForwardsWhileAttached(t *testing.T) {
	r, _ := newRelay()
	ch := r.forward()

	r.dispatch(syscall.SIGHUP)
	r.dispatch(syscall.SIGTERM)

	for _, expected := range []os.Signal{syscall.SIGHUP, syscall.SIGTERM} {
		select {
		case got := <-ch:
			if got != expected {
				t.Errorf("Expected %v forwarded, got %v", expected, got)
			}
		default:
			t.Fatalf("Expected %v forwarded", expected)
		}
	}
	if got := r.terminated(); got != nil {
		t.Errorf("Expected forwarded signals not recorded, got %v", got)
	}

	r.detach()
	r.dispatch(syscall.SIGTERM)
	if got := r.terminated(); got != syscall.SIGTERM {
		t.Errorf("Expected SIGTERM recorded after detach, got %v", got)
	}
	select {
	case sig := <-ch:
		t.Errorf("Expected nothing forwarded after detach, got %v", sig)
	default:
	}
}

func TestRelayDropsWhenTargetFull(t *testing.T) {
	r, logs := newRelay()
	r.forward()

	for i := 0; i < 9; i++ {
		r.dispatch(syscall.SIGHUP)
	}
	if !strings.Contains(logs.String(), "Signal dropped") {
		t.Errorf("Expected dropped signal logged, got %s", logs.String())
	}
}

func TestRelayCancelOnTermination(t *testing.T) {
	r, _ := newRelay()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.cancelOnTermination(cancel)
	r.dispatch(syscall.SIGHUP)
	if ctx.Err() != nil {
		t.Fatal("Expected SIGHUP not to cancel")
	}

	r.dispatch(syscall.SIGINT)
	if ctx.Err() == nil {
		t.Error("Expected SIGINT to cancel the delegate context")
	}
}

func TestRelayCancelAfterEarlyTermination(t *testing.T) {
	r, _ := newRelay()
	r.dispatch(syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.cancelOnTermination(cancel)

	if ctx.Err() == nil {
		t.Error("Expected an already recorded termination to cancel immediately")
	}
}

func TestSignalExitCode(t *testing.T) {
	tests := map[os.Signal]int{
		syscall.SIGINT:  130,
		syscall.SIGQUIT: 131,
		syscall.SIGTERM: 143,
	}
	for sig, expected := range tests {
		if got := signalExitCode(sig); got != expected {
			t.Errorf("signalExitCode(%v) = %d, expected %d", sig, got, expected)
		}
	}
}
