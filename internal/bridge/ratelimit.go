package bridge

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited is returned by a send function to signal a platform 429; Send
// reads RetryAfter (when the platform provided one) to pace the retry.
type RateLimited struct {
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string { return "bridge send rate limited" }

// Limiter paces outbound bridge calls: on a 429 it sleeps and retries up
// to 3 times before giving up.
type Limiter struct {
	tokens *rate.Limiter
}

// NewLimiter creates a token-bucket limiter allowing burst immediate sends
// and refilling at ratePerSecond afterwards.
func NewLimiter(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{tokens: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

const maxSendRetries = 3

// Send waits for a token then calls fn, retrying up to maxSendRetries times
// when fn reports rate limiting via a *RateLimited error.
func (l *Limiter) Send(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := l.tokens.Wait(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var rl *RateLimited
		if !errors.As(err, &rl) || attempt >= maxSendRetries {
			return err
		}

		wait := rl.RetryAfter
		if wait <= 0 {
			wait = time.Second << attempt
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
