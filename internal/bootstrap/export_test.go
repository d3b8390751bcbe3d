package bootstrap

import "time"

// SetClock replaces the registry clock in tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}
