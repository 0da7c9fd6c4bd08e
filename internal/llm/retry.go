package llm

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry runs op up to cfg.Retries times. The wait starts at cfg.Backoff and
// doubles after each failure, capped at maxWait. Every failed attempt is
// logged under tag. The last attempt's error is returned on exhaustion, or
// the context's error once ctx is done.
func Retry[T any](ctx context.Context, cfg Config, maxWait time.Duration, tag string, op func(context.Context) (T, error)) (T, error) {
	policy := &backoff.ExponentialBackOff{
		InitialInterval: cfg.Backoff,
		Multiplier:      2,
		MaxInterval:     max(maxWait, cfg.Backoff),
	}
	tries := max(cfg.Retries, 1)

	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return v, backoff.Permanent(ctx.Err())
			}
			log.Printf("[%s] attempt %d/%d: %v", tag, attempt, tries, err)
		}
		return v, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil && ctx.Err() != nil {
		return v, ctx.Err()
	}
	return v, err
}
