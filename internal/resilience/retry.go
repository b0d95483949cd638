package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxRetries bounds the extra attempts after the first call.
const DefaultMaxRetries = 3

// Transient marks an error as retry-eligible. RetryAfter, when positive,
// carries a server-provided wait hint (rate-limit reset) that overrides the
// computed backoff interval.
type Transient struct {
	RetryAfter time.Duration
	Err        error
}

func (t *Transient) Error() string { return t.Err.Error() }

func (t *Transient) Unwrap() error { return t.Err }

// RetryableStatus reports whether an HTTP status is retry-eligible.
// Every other 4xx is a client error unlikely to succeed on retry.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}

// Policy retries transient failures with exponential backoff, bounded by
// MaxRetries extra attempts, optionally guarded by a circuit breaker.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Breaker         *Breaker
}

// Execute runs op until it succeeds, fails permanently, or exhausts the retry
// budget. op signals a retryable outcome by returning a *Transient; any other
// error is terminal and returned as-is. Cancellation aborts between attempts.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	bo.Reset()

	for attempt := 0; ; attempt++ {
		if p.Breaker != nil && !p.Breaker.Allow() {
			return ErrCircuitOpen
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if p.Breaker != nil {
				p.Breaker.RecordSuccess()
			}
			return nil
		}

		var tr *Transient
		if !errors.As(err, &tr) {
			// Terminal outcome; carried-through error statuses land here and
			// must not trip the breaker.
			return err
		}

		if p.Breaker != nil {
			p.Breaker.RecordFailure()
		}
		if attempt >= maxRetries {
			return tr.Err
		}

		wait := tr.RetryAfter
		if wait <= 0 {
			wait = bo.NextBackOff()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
