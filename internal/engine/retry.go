package engine

import (
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
)

// RetryPolicy is a capped exponential backoff. Decide is pure.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 3}
}

// Decision is either Retry after Delay or give up.
type Decision struct {
	Retry bool
	Delay time.Duration
}

func GiveUp() Decision { return Decision{} }

func RetryAfter(d time.Duration) Decision { return Decision{Retry: true, Delay: d} }

// Backoff returns min(base * 2^(attempt-1), max) for attempt >= 1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Decide is consulted after attempt number `attempt` failed with kind.
func (p RetryPolicy) Decide(attempt int, kind models.ErrorKind) Decision {
	if !kind.Retryable() {
		return GiveUp()
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return GiveUp()
	}
	return RetryAfter(p.Backoff(attempt))
}
