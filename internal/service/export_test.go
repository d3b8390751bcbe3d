package service

import "time"

// SetClock replaces the limiter clock in tests.
func (l *MintLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}
