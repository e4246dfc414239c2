// SPDX-License-Identifier: MPL-2.0

package gitfetch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
)

const (
	// DefaultMaxAttempts bounds how often a transient failure is retried.
	DefaultMaxAttempts = 3
	// DefaultInitialInterval is the first retry delay; later delays grow
	// exponentially.
	DefaultInitialInterval = 500 * time.Millisecond
)

// RetryPolicy bounds retries of transient network failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	return p
}

// retry runs op until it succeeds, returns a permanent error, the context is
// done or the attempts are exhausted. Wrap errors in backoff.Permanent to
// stop early.
func retry(ctx context.Context, p RetryPolicy, logger *log.Logger, what string, op func() error) error {
	p = p.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		logger.Warn("transient failure, retrying", "op", what, "in", next, "err", err)
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return errors.Join(ctx.Err(), err)
	}
	return err
}

func permanent(err error) error {
	return backoff.Permanent(err)
}
