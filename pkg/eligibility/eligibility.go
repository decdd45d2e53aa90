// Package eligibility is the authoritative gate in front of every send.
package eligibility

import (
	"fmt"
	"time"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/constants"
	"outreach-policy-engine/pkg/models"
)

// PolicyConstants are injected per campaign so stricter values need no code change
type PolicyConstants struct {
	GracePeriod       time.Duration
	RateLimitInterval time.Duration
}

// DefaultPolicy returns a 24h grace period and a 7 day rate limit
func DefaultPolicy() PolicyConstants {
	return PolicyConstants{
		GracePeriod:       constants.HoursToDuration(constants.DefaultGracePeriodHours),
		RateLimitInterval: constants.DaysToDuration(constants.DefaultRateLimitDays),
	}
}

// PolicyFromConfig builds policy constants from service configuration
func PolicyFromConfig(cfg *config.Config) PolicyConstants {
	return PolicyConstants{
		GracePeriod:       cfg.GracePeriod(),
		RateLimitInterval: cfg.RateLimitInterval(),
	}
}

// Validate rejects negative windows
func (p PolicyConstants) Validate() error {
	if p.GracePeriod < 0 || p.RateLimitInterval < 0 {
		return fmt.Errorf("policy windows must not be negative: grace=%s rate_limit=%s", p.GracePeriod, p.RateLimitInterval)
	}
	return nil
}

// Evaluate decides whether state may be contacted at now. Rules apply in
// precedence order and the first match is reported:
//
//  1. refused                       -> explicit_refusal
//  2. escalated                     -> pending_human_review
//  3. deferred_until after now      -> deferred
//  4. joined less than grace ago    -> grace_period
//  5. last send within rate limit   -> rate_limited
//
// An invalid state or policy is denied with invalid_state and the input
// error is returned alongside. Evaluate has no side effects.
func Evaluate(state *models.ContactState, now time.Time, policy PolicyConstants) (models.Decision, error) {
	if err := state.Validate(); err != nil {
		return deny(models.ReasonInvalidState), err
	}
	if err := policy.Validate(); err != nil {
		return deny(models.ReasonInvalidState), err
	}

	if state.Refused {
		return deny(models.ReasonExplicitRefusal), nil
	}
	if state.Escalated {
		return deny(models.ReasonPendingHumanReview), nil
	}
	if state.DeferredUntil != nil && state.DeferredUntil.After(now) {
		return deny(models.ReasonDeferred), nil
	}
	if now.Sub(state.JoinedAt) < policy.GracePeriod {
		return deny(models.ReasonGracePeriod), nil
	}
	// a send time in the future yields a negative gap and stays denied
	if last, ok := state.LastContactAt(); ok && now.Sub(last) < policy.RateLimitInterval {
		return deny(models.ReasonRateLimited), nil
	}

	return models.Decision{Allowed: true}, nil
}

func deny(reason models.DenialReason) models.Decision {
	return models.Decision{Allowed: false, Reason: reason}
}
