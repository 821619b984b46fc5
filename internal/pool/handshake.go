package pool

import (
	"context"
	"time"

	"github.com/River-unknown/kit/internal/errors"
)

// DefaultHandshakeTimeout bounds the handshake call of a new worker.
const DefaultHandshakeTimeout = 500 * time.Millisecond

// Validate issues a handshake to worker and fails with InvalidWorkerError if it is rejected or
// does not answer within timeout.
func Validate(ctx context.Context, worker Worker, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		defer errors.Recover(func(cause error) { done <- cause })

		done <- worker.Handshake(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return InvalidWorkerError{WorkerID: worker.ID(), Err: err}
		}

		return nil
	case <-ctx.Done():
		return InvalidWorkerError{WorkerID: worker.ID(), Err: errors.Errorf("no handshake within %s: %w", timeout, ctx.Err())}
	}
}
