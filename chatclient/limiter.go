// Package chatclient implements shiftlog.RPCExecutor: a process-wide
// token-bucket rate limiter sitting in front of every chat-platform RPC,
// with the transient/rate-limited/fatal retry classification described in
// spec §4.A. It generalizes the teacher's retryProvider/rateLimitProvider
// pair (ratelimit.go, retry.go) from wrapping a fixed Provider interface to
// wrapping an arbitrary thunk, and swaps the teacher's hand-rolled sliding
// window for golang.org/x/time/rate's token bucket.
package chatclient

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nevindra/shiftlog"
)

// Limiter implements shiftlog.RPCExecutor.
type Limiter struct {
	bucket           *rate.Limiter
	maxRetries       int
	initialBackoff   time.Duration
	defaultRetryWait time.Duration

	mu          sync.Mutex
	queueCtx    context.Context
	queueCancel context.CancelFunc
}

// New creates a Limiter that admits at most requestsPerSecond operations
// per second (burst of 1, matching a strict process-wide token bucket),
// retrying transient failures up to maxRetries times with exponential
// backoff starting at initialBackoff.
func New(requestsPerSecond float64, maxRetries int, initialBackoff time.Duration) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Limiter{
		bucket:           rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		maxRetries:       maxRetries,
		initialBackoff:   initialBackoff,
		defaultRetryWait: 60 * time.Second,
		queueCtx:         ctx,
		queueCancel:      cancel,
	}
}

// Execute runs fn once the token bucket admits it, retrying according to
// the classification of fn's error against *shiftlog.ErrRPC.
func (l *Limiter) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	retries := 0
	for {
		if err := l.waitForSlot(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var rpcErr *shiftlog.ErrRPC
		if !errors.As(err, &rpcErr) {
			// Unclassified errors are treated as fatal: surface immediately.
			return err
		}

		switch rpcErr.Status {
		case shiftlog.RPCStatusRateLimited:
			wait := l.defaultRetryWait
			if rpcErr.RetryAfter > 0 {
				wait = time.Duration(rpcErr.RetryAfter * float64(time.Second))
			}
			if sleepErr := l.sleep(ctx, wait); sleepErr != nil {
				return sleepErr
			}
			// Does not count against maxRetries.
			continue
		case shiftlog.RPCStatusTransient:
			if retries >= l.maxRetries {
				return err
			}
			if sleepErr := l.sleep(ctx, retryBackoff(l.initialBackoff, retries)); sleepErr != nil {
				return sleepErr
			}
			retries++
			continue
		default: // RPCStatusFatal
			return err
		}
	}
}

// ClearQueue rejects every call currently blocked in waitForSlot with
// shiftlog.ErrQueueCancelled, then opens a fresh queue for calls made after
// this point. In-flight fn invocations (past admission) are unaffected.
func (l *Limiter) ClearQueue() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queueCancel()
	l.queueCtx, l.queueCancel = context.WithCancel(context.Background())
}

func (l *Limiter) currentQueue() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queueCtx
}

// waitForSlot blocks until the bucket admits one operation, or returns
// ErrQueueCancelled if ClearQueue cancels the queue this call joined, or
// ctx's own error if the caller's context is done first.
func (l *Limiter) waitForSlot(ctx context.Context) error {
	qctx := l.currentQueue()
	if qctx.Err() != nil {
		return shiftlog.ErrQueueCancelled
	}

	merged, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-qctx.Done():
			cancel()
		case <-stop:
		}
	}()

	if err := l.bucket.Wait(merged); err != nil {
		if qctx.Err() != nil {
			return shiftlog.ErrQueueCancelled
		}
		return err
	}
	return nil
}

// sleep waits for d, returning early with ErrQueueCancelled or the caller's
// context error, whichever fires first.
func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	qctx := l.currentQueue()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-qctx.Done():
		return shiftlog.ErrQueueCancelled
	}
}

// retryBackoff computes base * 2^i plus up to 50% jitter, matching the
// teacher's retryBackoff in retry.go.
func retryBackoff(base time.Duration, i int) time.Duration {
	exp := base * time.Duration(1<<uint(i))
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	return exp + jitter
}
