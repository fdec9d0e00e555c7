package signaling

import (
	"context"
	"time"
)

const defaultBackoff = 2 * time.Second

// Retry is a fixed backoff. Limit bounds the number of failures; zero means
// retry forever.
type Retry struct {
	t     time.Duration
	limit int
	fails int
}

func NewRetry(backoff time.Duration, limit int) *Retry {
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Retry{t: backoff, limit: limit}
}

// Fail records a failure and waits out the backoff. It reports false once
// the limit is spent or ctx is done.
func (r *Retry) Fail(ctx context.Context) bool {
	r.fails++
	if r.limit > 0 && r.fails > r.limit {
		return false
	}
	timer := time.NewTimer(r.t)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Retry) Success()            { r.fails = 0 }
func (r *Retry) Failures() int       { return r.fails }
func (r *Retry) Time() time.Duration { return r.t }
