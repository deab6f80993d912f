package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/devicelab-dev/testpilot/pkg/testcase"
)

// Handle tracks one run started with Runner.Start. Each run owns its own
// handle; cancelling one never affects another.
type Handle struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// Start runs tc in the background and returns its handle.
func (r *Runner) Start(ctx context.Context, tc *testcase.TestCase) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		defer cancel()
		h.result, h.err = r.run(ctx, tc, h.ID)
	}()
	return h
}

// Cancel stops the run before its next turn. A cancelled run reports
// context.Canceled from Wait.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed when the run has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run returns.
func (h *Handle) Wait() (*Result, error) {
	<-h.done
	return h.result, h.err
}
