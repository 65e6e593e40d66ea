package aggregate

import (
	"context"

	"github.com/nevindra/shiftlog"
)

// claudeLimiter bounds total concurrent CreateMessage calls across every
// channel's pipeline, independent of channel_concurrency (spec §5's
// process-global claude_concurrency ceiling, "shared across channels via a
// single limiter instance"). It reuses the same semaphore-channel idiom as
// internal/pool, but acquires and releases synchronously in the calling
// goroutine rather than spawning one, since CreateMessage must block the
// summarizer's own pool-bounded goroutine rather than hand off to a new one.
type claudeLimiter struct {
	inner shiftlog.LLMProvider
	sem   chan struct{}
}

// newClaudeLimiter wraps inner so no more than n CreateMessage calls run at
// once. n <= 0 leaves inner unbounded.
func newClaudeLimiter(inner shiftlog.LLMProvider, n int) shiftlog.LLMProvider {
	if n <= 0 {
		return inner
	}
	return &claudeLimiter{inner: inner, sem: make(chan struct{}, n)}
}

func (l *claudeLimiter) Name() string { return l.inner.Name() }

func (l *claudeLimiter) CreateMessage(ctx context.Context, model string, maxTokens int, messages []shiftlog.LLMMessage) (shiftlog.LLMContent, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return shiftlog.LLMContent{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.CreateMessage(ctx, model, maxTokens, messages)
}
