package domain

import "time"

// CircuitBreaker counts consecutive transport failures against the broker and
// pauses order flow for a cooldown once the threshold is reached.
// Not safe for concurrent use; the engine serializes signals.
type CircuitBreaker struct {
	ConsecutiveFailures int
	MaxFailures         int
	CooldownUntil       time.Time
	CooldownDuration    time.Duration
	TriggeredReason     string

	Now func() time.Time
}

// NewCircuitBreaker builds a breaker. maxFailures <= 0 disables it.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{MaxFailures: maxFailures, CooldownDuration: cooldown, Now: time.Now}
}

func (cb *CircuitBreaker) now() time.Time {
	if cb.Now != nil {
		return cb.Now()
	}
	return time.Now()
}

// IsOpen returns true if broker calls are allowed.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb == nil || cb.MaxFailures <= 0 {
		return true
	}
	return !cb.now().Before(cb.CooldownUntil)
}

// RecordFailure counts a transport failure and may trip the breaker.
func (cb *CircuitBreaker) RecordFailure(reason string) {
	if cb == nil || cb.MaxFailures <= 0 {
		return
	}
	cb.ConsecutiveFailures++
	if cb.ConsecutiveFailures >= cb.MaxFailures {
		cb.CooldownUntil = cb.now().Add(cb.CooldownDuration)
		cb.ConsecutiveFailures = 0
		cb.TriggeredReason = reason
	}
}

// RecordSuccess resets the consecutive failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.ConsecutiveFailures = 0
}

// RemainingCooldown returns how long until the breaker closes again.
func (cb *CircuitBreaker) RemainingCooldown() time.Duration {
	if cb == nil {
		return 0
	}
	d := cb.CooldownUntil.Sub(cb.now())
	if d < 0 {
		return 0
	}
	return d
}
