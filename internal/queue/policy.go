package queue

import (
	"fmt"
	"time"
)

// BackoffType selects how the retry delay grows with attempts.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff maps the number of failed attempts to the delay before the next one.
type Backoff struct {
	Type BackoffType   `json:"type" yaml:"type"`
	Base time.Duration `json:"base" yaml:"delay"`
}

// Next returns the delay after the given number of failed attempts (1-indexed).
// Exponential doubles the base for every attempt after the first: 5s, 10s, 20s.
func (b Backoff) Next(failedAttempts int) time.Duration {
	if failedAttempts < 1 {
		failedAttempts = 1
	}
	switch b.Type {
	case BackoffExponential:
		shift := failedAttempts - 1
		if shift > 30 {
			shift = 30
		}
		return b.Base * time.Duration(1<<uint(shift))
	default:
		return b.Base
	}
}

// Validate checks the backoff is usable.
func (b Backoff) Validate() error {
	if b.Type != BackoffFixed && b.Type != BackoffExponential {
		return fmt.Errorf("unknown backoff type %q", b.Type)
	}
	if b.Base < 0 {
		return fmt.Errorf("backoff delay must not be negative")
	}
	return nil
}

// Policy is the retry configuration of one queue.
type Policy struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	Backoff          Backoff `yaml:"backoff"`
	RemoveOnComplete bool    `yaml:"remove_on_complete"`
}

// DefaultPolicies returns the per-queue retry table.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		QueueEmail: {
			MaxAttempts:      3,
			Backoff:          Backoff{Type: BackoffExponential, Base: 5 * time.Second},
			RemoveOnComplete: true,
		},
		QueueInventory: {
			MaxAttempts:      3,
			Backoff:          Backoff{Type: BackoffFixed, Base: 2 * time.Second},
			RemoveOnComplete: true,
		},
		QueueNotification: {
			MaxAttempts:      3,
			Backoff:          Backoff{Type: BackoffExponential, Base: 3 * time.Second},
			RemoveOnComplete: true,
		},
		QueuePayment: {
			MaxAttempts:      5,
			Backoff:          Backoff{Type: BackoffExponential, Base: 10 * time.Second},
			RemoveOnComplete: true,
		},
	}
}
