// Package store is the only state boundary of the engine. Every write to a
// user's ContactState goes through an atomic per-user read-modify-write and
// is checked against the contact state invariants before it is committed.
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"outreach-policy-engine/pkg/models"
)

var (
	ErrNotFound           = errors.New("contact state not found")
	ErrAlreadyExists      = errors.New("contact state already exists")
	ErrInvariantViolation = errors.New("contact state invariant violation")
	ErrConflict           = errors.New("contact state update kept conflicting")

	// ErrNoChange may be returned by an update function to finish without writing
	ErrNoChange = errors.New("no change")
)

// UpdateFunc mutates state in place. It runs while the user's state is held
// exclusively and may be retried, so it must not have outside side effects.
type UpdateFunc func(state *models.ContactState) error

// Override is an explicit human action on flags the engine never clears itself
type Override struct {
	ClearRefusal    bool   `json:"clear_refusal"`
	ClearEscalation bool   `json:"clear_escalation"`
	Operator        string `json:"operator"`
	Note            string `json:"note,omitempty"`
}

type Store interface {
	Get(ctx context.Context, userID string) (*models.ContactState, error)
	Create(ctx context.Context, state *models.ContactState) error
	Update(ctx context.Context, userID string, fn UpdateFunc) (*models.ContactState, error)
	Override(ctx context.Context, userID string, override Override) (*models.ContactState, error)
	ListUserIDs(ctx context.Context) ([]string, error)
}

func overrideFunc(o Override) (UpdateFunc, error) {
	if o.Operator == "" {
		return nil, fmt.Errorf("override requires an operator")
	}
	if !o.ClearRefusal && !o.ClearEscalation {
		return nil, fmt.Errorf("override clears nothing")
	}
	return func(state *models.ContactState) error {
		if o.ClearRefusal {
			state.Refused = false
		}
		if o.ClearEscalation {
			state.Escalated = false
			state.PendingEscalation = nil
		}
		return nil
	}, nil
}

// checkTransition rejects any write that breaks an invariant. allowed carries
// the flags a human override may reset.
func checkTransition(before, after *models.ContactState, allowed Override) error {
	if err := after.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if after.UserID != before.UserID {
		return fmt.Errorf("%w: user_id changed", ErrInvariantViolation)
	}
	if !after.JoinedAt.Equal(before.JoinedAt) {
		return fmt.Errorf("%w: joined_at changed", ErrInvariantViolation)
	}
	if before.Refused && !after.Refused && !allowed.ClearRefusal {
		return fmt.Errorf("%w: refusal can only be cleared by a human override", ErrInvariantViolation)
	}
	if before.Escalated && !after.Escalated && !allowed.ClearEscalation {
		return fmt.Errorf("%w: escalation can only be cleared by a human override", ErrInvariantViolation)
	}
	if before.DeferredUntil != nil && after.DeferredUntil == nil {
		return fmt.Errorf("%w: deferred_until is retained for audit", ErrInvariantViolation)
	}
	if before.DetectedSeniority.Known() && !after.DetectedSeniority.Known() {
		return fmt.Errorf("%w: detected seniority cannot be removed", ErrInvariantViolation)
	}

	if len(after.OutreachHistory) < len(before.OutreachHistory) {
		return fmt.Errorf("%w: outreach history is append-only", ErrInvariantViolation)
	}
	for i, prev := range before.OutreachHistory {
		next := after.OutreachHistory[i]
		if next.VariantID != prev.VariantID || !next.SentAt.Equal(prev.SentAt) {
			return fmt.Errorf("%w: outreach attempt %d was rewritten", ErrInvariantViolation, i)
		}
		if prev.HasResponse() && !reflect.DeepEqual(prev, next) {
			return fmt.Errorf("%w: response on attempt %d is write-once", ErrInvariantViolation, i)
		}
	}
	for i, attempt := range after.OutreachHistory {
		if attempt.HasResponse() && attempt.Classification == nil {
			return fmt.Errorf("%w: attempt %d has a response without a classification", ErrInvariantViolation, i)
		}
	}

	return nil
}
