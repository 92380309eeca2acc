package reliability

import "time"

// Params holds the C6 Reliability tunables (spec §6), mirroring the
// teacher's pkg/exchange/params.go grouped-constants-plus-struct idiom.
type Params struct {
	// BaseRetryInterval is the base of the exponential backoff. Spec
	// default: 5s.
	BaseRetryInterval time.Duration
	// MaxBackoffInterval caps the computed retry interval. Spec default: 60s.
	MaxBackoffInterval time.Duration
	// MaxRetries bounds the retry count before a TrackedMessage is
	// marked Failed. Spec default: 3.
	MaxRetries int
	// RetryTick is how often the retry sweep runs. Spec default: 1s.
	RetryTick time.Duration
	// ExpiryTick is how often the expiry sweep runs. Spec default: 30s.
	ExpiryTick time.Duration
	// MessageExpiry is the age past which a Pending/Sent entry becomes
	// Expired, and a Delivered/Failed entry is purged. Spec default: 300s.
	MessageExpiry time.Duration
}

// DefaultParams returns the spec §6 defaults for the Reliability component.
func DefaultParams() Params {
	return Params{
		BaseRetryInterval:  5 * time.Second,
		MaxBackoffInterval: 60 * time.Second,
		MaxRetries:         3,
		RetryTick:          1 * time.Second,
		ExpiryTick:         30 * time.Second,
		MessageExpiry:      300 * time.Second,
	}
}

func (p *Params) applyDefaults() {
	d := DefaultParams()
	if p.BaseRetryInterval == 0 {
		p.BaseRetryInterval = d.BaseRetryInterval
	}
	if p.MaxBackoffInterval == 0 {
		p.MaxBackoffInterval = d.MaxBackoffInterval
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.RetryTick == 0 {
		p.RetryTick = d.RetryTick
	}
	if p.ExpiryTick == 0 {
		p.ExpiryTick = d.ExpiryTick
	}
	if p.MessageExpiry == 0 {
		p.MessageExpiry = d.MessageExpiry
	}
}
