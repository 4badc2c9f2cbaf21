package market

import (
	"time"

	"github.com/chainbazaar/marketd/internal/domain"
)

// Policy is the mutable marketplace configuration record. It is owned by
// the Engine and mutated only through the operator-gated setters, so every
// request evaluates against an explicit injected value rather than ambient
// global state.
type Policy struct {
	TradingEnabled   bool
	MinExpireWindow  time.Duration
	MaxExpireWindow  time.Duration
	ServiceFeePoints uint64
}

// DefaultPolicy returns the policy the marketplace boots with: trading on,
// expiry windows between 30 minutes and one year, a 2% service fee.
func DefaultPolicy() Policy {
	return Policy{
		TradingEnabled:   true,
		MinExpireWindow:  30 * time.Minute,
		MaxExpireWindow:  365 * 24 * time.Hour,
		ServiceFeePoints: 20,
	}
}

// Validate checks a policy record against its hard bounds.
func (p Policy) Validate() error {
	if p.ServiceFeePoints > MaxServiceFeePoints {
		return domain.ErrPolicy("service fee %d exceeds cap %d", p.ServiceFeePoints, MaxServiceFeePoints)
	}
	if p.MinExpireWindow <= 0 {
		return domain.ErrPolicy("min expire window must be positive")
	}
	if p.MaxExpireWindow < p.MinExpireWindow {
		return domain.ErrPolicy("max expire window below min")
	}
	return nil
}

// checkExpireWindow rejects expiry timestamps outside the configured
// window relative to now.
func (p Policy) checkExpireWindow(now, expireAt time.Time) error {
	window := expireAt.Sub(now)
	if window < p.MinExpireWindow {
		return domain.ErrPolicy("expiry %s below minimum window %s", window, p.MinExpireWindow)
	}
	if window > p.MaxExpireWindow {
		return domain.ErrPolicy("expiry %s above maximum window %s", window, p.MaxExpireWindow)
	}
	return nil
}
