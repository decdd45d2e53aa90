package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidState is wrapped by every ContactState validation failure
var ErrInvalidState = errors.New("invalid contact state")

// OutreachAttempt is one automated message sent to a user. The response
// fields are filled in at most once, when the user's reply arrives.
type OutreachAttempt struct {
	VariantID          string          `json:"variant_id"`
	SentAt             time.Time       `json:"sent_at"`
	ResponseText       *string         `json:"response_text,omitempty"`
	ResponseReceivedAt *time.Time      `json:"response_received_at,omitempty"`
	Classification     *Classification `json:"classification,omitempty"`
}

// HasResponse reports whether a reply has been attached to the attempt
func (a OutreachAttempt) HasResponse() bool {
	return a.ResponseText != nil
}

// ContactState is the durable per-user outreach record
type ContactState struct {
	UserID            string            `json:"user_id"`
	JoinedAt          time.Time         `json:"joined_at"`
	OutreachHistory   []OutreachAttempt `json:"outreach_history"`
	Refused           bool              `json:"refused"`
	DeferredUntil     *time.Time        `json:"deferred_until,omitempty"`
	DetectedSeniority Seniority         `json:"detected_seniority,omitempty"`
	Escalated         bool              `json:"escalated"`
	Converted         bool              `json:"converted"`

	// PendingEscalation holds an escalation action until the review queue
	// has accepted it.
	PendingEscalation *EscalationAction `json:"pending_escalation,omitempty"`

	// Recorded but not yet acted upon by any policy.
	OrganizationClassification string `json:"organization_classification,omitempty"`
	PriorMembershipStatus      string `json:"prior_membership_status,omitempty"`
}

// NewContactState returns a fresh state for a user first seen at joinedAt
func NewContactState(userID string, joinedAt time.Time) *ContactState {
	return &ContactState{
		UserID:            userID,
		JoinedAt:          joinedAt,
		OutreachHistory:   []OutreachAttempt{},
		DetectedSeniority: SeniorityUnknown,
	}
}

// LastContactAt returns the send time of the most recent attempt
func (s *ContactState) LastContactAt() (time.Time, bool) {
	if len(s.OutreachHistory) == 0 {
		return time.Time{}, false
	}
	return s.OutreachHistory[len(s.OutreachHistory)-1].SentAt, true
}

// PendingAttempt returns the index of the latest attempt when it is still
// waiting for a reply. Older unanswered attempts are never reopened.
func (s *ContactState) PendingAttempt() (int, bool) {
	last := len(s.OutreachHistory) - 1
	if last < 0 || s.OutreachHistory[last].HasResponse() {
		return -1, false
	}
	return last, true
}

// Validate checks the fields every component relies on
func (s *ContactState) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidState)
	}
	if s.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidState)
	}
	if s.JoinedAt.IsZero() {
		return fmt.Errorf("%w: user %s: missing joined_at", ErrInvalidState, s.UserID)
	}
	if s.DetectedSeniority != "" && !s.DetectedSeniority.Valid() {
		return fmt.Errorf("%w: user %s: unknown seniority %q", ErrInvalidState, s.UserID, s.DetectedSeniority)
	}

	var prev time.Time
	for i, attempt := range s.OutreachHistory {
		if attempt.VariantID == "" {
			return fmt.Errorf("%w: user %s: attempt %d missing variant_id", ErrInvalidState, s.UserID, i)
		}
		if attempt.SentAt.IsZero() {
			return fmt.Errorf("%w: user %s: attempt %d missing sent_at", ErrInvalidState, s.UserID, i)
		}
		if attempt.SentAt.Before(prev) {
			return fmt.Errorf("%w: user %s: attempt %d out of chronological order", ErrInvalidState, s.UserID, i)
		}
		prev = attempt.SentAt

		if c := attempt.Classification; c != nil {
			if (c.Kind == KindDeferral) != (c.DeferralUntil != nil) {
				return fmt.Errorf("%w: user %s: attempt %d deferral_until inconsistent with kind %s", ErrInvalidState, s.UserID, i, c.Kind)
			}
		}
	}

	return nil
}

// Clone returns a deep copy so callers can mutate without sharing slices or pointers
func (s *ContactState) Clone() *ContactState {
	if s == nil {
		return nil
	}
	out := *s
	out.DeferredUntil = cloneTime(s.DeferredUntil)
	if s.PendingEscalation != nil {
		action := *s.PendingEscalation
		action.Evidence = append([]ActivityEvent(nil), s.PendingEscalation.Evidence...)
		out.PendingEscalation = &action
	}
	out.OutreachHistory = make([]OutreachAttempt, len(s.OutreachHistory))
	for i, a := range s.OutreachHistory {
		out.OutreachHistory[i] = a.clone()
	}
	return &out
}

func (a OutreachAttempt) clone() OutreachAttempt {
	out := a
	if a.ResponseText != nil {
		text := *a.ResponseText
		out.ResponseText = &text
	}
	out.ResponseReceivedAt = cloneTime(a.ResponseReceivedAt)
	if a.Classification != nil {
		c := *a.Classification
		c.DeferralUntil = cloneTime(a.Classification.DeferralUntil)
		out.Classification = &c
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
