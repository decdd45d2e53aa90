package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-policy-engine/pkg/models"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func establishedUser() *models.ContactState {
	return models.NewContactState("user_1", now.Add(-90*day))
}

func withAttempt(s *models.ContactState, sentAt time.Time) *models.ContactState {
	s.OutreachHistory = append(s.OutreachHistory, models.OutreachAttempt{VariantID: "v1", SentAt: sentAt})
	return s
}

func TestEvaluate_Rules(t *testing.T) {
	future := now.Add(3 * day)
	past := now.Add(-3 * day)

	tests := []struct {
		name   string
		state  func() *models.ContactState
		reason models.DenialReason
	}{
		{"fresh established user", establishedUser, models.ReasonNone},
		{"refused", func() *models.ContactState {
			s := establishedUser()
			s.Refused = true
			return s
		}, models.ReasonExplicitRefusal},
		{"escalated", func() *models.ContactState {
			s := establishedUser()
			s.Escalated = true
			return s
		}, models.ReasonPendingHumanReview},
		{"deferred", func() *models.ContactState {
			s := establishedUser()
			s.DeferredUntil = &future
			return s
		}, models.ReasonDeferred},
		{"deferral in the past no longer blocks", func() *models.ContactState {
			s := establishedUser()
			s.DeferredUntil = &past
			return s
		}, models.ReasonNone},
		{"inside grace period", func() *models.ContactState {
			return models.NewContactState("user_1", now.Add(-2*time.Hour))
		}, models.ReasonGracePeriod},
		{"spam prevention: contacted 3 days ago", func() *models.ContactState {
			return withAttempt(establishedUser(), now.Add(-3*day))
		}, models.ReasonRateLimited},
		{"contacted exactly 7 days ago", func() *models.ContactState {
			return withAttempt(establishedUser(), now.Add(-7*day))
		}, models.ReasonNone},
		{"send time in the future", func() *models.ContactState {
			return withAttempt(establishedUser(), now.Add(time.Hour))
		}, models.ReasonRateLimited},
		{"refusal outranks every other reason", func() *models.ContactState {
			s := withAttempt(models.NewContactState("user_1", now.Add(-time.Hour)), now.Add(-time.Minute))
			s.Refused = true
			s.Escalated = true
			s.DeferredUntil = &future
			return s
		}, models.ReasonExplicitRefusal},
		{"escalation outranks deferral", func() *models.ContactState {
			s := establishedUser()
			s.Escalated = true
			s.DeferredUntil = &future
			return s
		}, models.ReasonPendingHumanReview},
		{"deferral outranks grace period", func() *models.ContactState {
			s := models.NewContactState("user_1", now.Add(-time.Hour))
			s.DeferredUntil = &future
			return s
		}, models.ReasonDeferred},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := Evaluate(tt.state(), now, DefaultPolicy())
			require.NoError(t, err)
			assert.Equal(t, tt.reason == models.ReasonNone, decision.Allowed)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}
}

func TestEvaluate_InvalidInputDenies(t *testing.T) {
	tests := []struct {
		name  string
		state *models.ContactState
	}{
		{"nil state", nil},
		{"missing user id", models.NewContactState("", now.Add(-90*day))},
		{"missing joined_at", models.NewContactState("user_1", time.Time{})},
		{"out of order history", withAttempt(withAttempt(establishedUser(), now.Add(-10*day)), now.Add(-20*day))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := Evaluate(tt.state, now, DefaultPolicy())
			assert.ErrorIs(t, err, models.ErrInvalidState)
			assert.False(t, decision.Allowed)
			assert.Equal(t, models.ReasonInvalidState, decision.Reason)
		})
	}
}

func TestEvaluate_InjectedPolicy(t *testing.T) {
	strict := PolicyConstants{GracePeriod: 72 * time.Hour, RateLimitInterval: 30 * day}

	s := withAttempt(establishedUser(), now.Add(-10*day))
	decision, err := Evaluate(s, now, strict)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonRateLimited, decision.Reason)

	decision, err = Evaluate(s, now, DefaultPolicy())
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	_, err = Evaluate(s, now, PolicyConstants{GracePeriod: -time.Hour})
	assert.Error(t, err)
}

func TestEvaluate_DoesNotMutateState(t *testing.T) {
	s := withAttempt(establishedUser(), now.Add(-3*day))
	before := s.Clone()

	for i := 0; i < 3; i++ {
		_, err := Evaluate(s, now, DefaultPolicy())
		require.NoError(t, err)
	}
	assert.Equal(t, before, s)
}
