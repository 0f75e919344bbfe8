// Package backoff computes retry delays for the connection manager.
package backoff

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

const (
	minInitial    = time.Millisecond
	minMultiplier = 1.0
	maxJitter     = 1.0
)

var (
	// ErrInvalidInitial is returned when the initial delay is below 1ms.
	ErrInvalidInitial = errors.New("initial delay must be at least 1ms")
	// ErrInvalidMultiplier is returned when the multiplier is below 1.0.
	ErrInvalidMultiplier = errors.New("multiplier must be at least 1.0")
	// ErrInvalidJitter is returned when jitter is outside [0, 1].
	ErrInvalidJitter = errors.New("jitter must be between 0 and 1")
)

// Policy computes the delay before a given reconnection attempt.
// The delay for attempt n (1-based) is min(Initial * Multiplier^(n-1), Max),
// optionally spread by +/- Jitter*delay to avoid synchronized retry storms.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// NewPolicy validates the parameters and returns a Policy.
func NewPolicy(initial, max time.Duration, multiplier, jitter float64) (Policy, error) {
	if initial < minInitial {
		return Policy{}, ErrInvalidInitial
	}
	if multiplier < minMultiplier {
		return Policy{}, ErrInvalidMultiplier
	}
	if jitter < 0 || jitter > maxJitter {
		return Policy{}, ErrInvalidJitter
	}
	if max < initial {
		max = initial
	}
	return Policy{Initial: initial, Max: max, Multiplier: multiplier, Jitter: jitter}, nil
}

// Delay returns the backoff delay for the given 1-based attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.Max) || math.IsInf(d, 1) {
		d = float64(p.Max)
	}

	if p.Jitter > 0 {
		spread := d * p.Jitter
		d = d - spread + rand.Float64()*2*spread
		if d < float64(minInitial) {
			d = float64(minInitial)
		}
		if d > float64(p.Max) {
			d = float64(p.Max)
		}
	}

	return time.Duration(d)
}
