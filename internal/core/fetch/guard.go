package fetch

import (
	"context"
	"time"
)

// Guard is the cooperative exclusive lock around one pipeline's store mutation.
type Guard struct {
	ch chan struct{}
}

// NewGuard returns an unlocked guard.
func NewGuard() *Guard {
	return &Guard{ch: make(chan struct{}, 1)}
}

// TryAcquire takes the guard if it is free.
func (g *Guard) TryAcquire() bool {
	select {
	case g.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire waits for the guard or for ctx to end.
func (g *Guard) Acquire(ctx context.Context) error {
	select {
	case g.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireTimeout waits at most d for the guard.
func (g *Guard) AcquireTimeout(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return g.Acquire(ctx)
}

// Release frees the guard. Releasing a free guard is a no-op.
func (g *Guard) Release() {
	select {
	case <-g.ch:
	default:
	}
}
