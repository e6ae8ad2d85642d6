package schedule

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive sends at least interval apart, measured from the
// end of the previous send. The first Wait returns immediately. A Pacer
// belongs to a single firing and is not safe for concurrent use.
type Pacer struct {
	every   rate.Limit
	limiter *rate.Limiter
}

// NewPacer returns a pacer for the given interval. A non-positive interval
// never waits.
func NewPacer(interval time.Duration) *Pacer {
	every := rate.Inf
	if interval > 0 {
		every = rate.Every(interval)
	}
	return &Pacer{every: every, limiter: rate.NewLimiter(every, 1)}
}

// Wait blocks until the next send may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Done marks the end of a send attempt. The token for the next send is
// taken here, so a late wake-up or a slow send never shortens the gap.
func (p *Pacer) Done() {
	limiter := rate.NewLimiter(p.every, 1)
	limiter.ReserveN(time.Now(), 1)
	p.limiter = limiter
}
