package service

import (
	"context"
	"math"
	"sync"
	"time"
)

const mintSweepInterval = 5 * time.Minute

// MintLimiter caps how many anonymous principals one client key can mint.
// A client starts with burst mints and earns rate more per second, never
// holding more than burst. It is safe for concurrent use.
type MintLimiter struct {
	mu      sync.Mutex
	clients map[string]mintAllowance
	rate    float64
	burst   float64
	now     func() time.Time
}

// mintAllowance is the mints a client had left at a point in time.
type mintAllowance struct {
	left float64
	at   time.Time
}

// refill returns the allowance as of now.
func (a mintAllowance) refill(now time.Time, rate, burst float64) mintAllowance {
	if elapsed := now.Sub(a.at); elapsed > 0 {
		a.left = min(a.left+elapsed.Seconds()*rate, burst)
	}
	a.at = now
	return a
}

// NewMintLimiter creates a limiter. Run forgets clients whose allowance has
// fully recovered.
func NewMintLimiter(rate, burst float64) *MintLimiter {
	return &MintLimiter{
		clients: make(map[string]mintAllowance),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

// Reserve spends one mint for key. When none is left it spends nothing and
// returns how long until the next one is earned, or a negative duration if
// the limiter never refills.
func (l *MintLimiter) Reserve(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	a, seen := l.clients[key]
	if !seen {
		a = mintAllowance{left: l.burst, at: now}
	}
	a = a.refill(now, l.rate, l.burst)

	if a.left < 1 {
		l.clients[key] = a
		if l.rate <= 0 {
			return false, -1
		}
		wait := time.Duration(math.Ceil((1 - a.left) / l.rate * float64(time.Second)))
		return false, wait
	}
	a.left--
	l.clients[key] = a
	return true, 0
}

// Sweep forgets clients whose allowance is back to burst, since they are
// indistinguishable from a client never seen. It returns how many were
// forgotten.
func (l *MintLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, a := range l.clients {
		if a.refill(now, l.rate, l.burst).left >= l.burst {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Run sweeps until ctx is done.
func (l *MintLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(mintSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
