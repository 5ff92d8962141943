// Package ratelimit paces outbound requests to the listing site and to
// gofile.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces calls at least interval apart. A zero interval never waits.
// The zero value and a nil *Pacer are usable and unthrottled.
type Pacer struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	waits    int
	waited   time.Duration
}

// NewPacer creates a pacer allowing one call per interval. The first call
// passes immediately.
func NewPacer(interval time.Duration) *Pacer {
	p := &Pacer{interval: interval}
	if interval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return p
}

// Wait blocks until the next call is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}

	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.waits++
	p.waited += time.Since(start)
	p.mu.Unlock()
	return nil
}

// Interval returns the configured spacing.
func (p *Pacer) Interval() time.Duration {
	if p == nil {
		return 0
	}
	return p.interval
}

// GetStats returns pacing statistics
func (p *Pacer) GetStats() map[string]interface{} {
	if p == nil {
		return map[string]interface{}{"interval": time.Duration(0), "waits": 0, "waited": time.Duration(0)}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]interface{}{
		"interval": p.interval,
		"waits":    p.waits,
		"waited":   p.waited,
	}
}
