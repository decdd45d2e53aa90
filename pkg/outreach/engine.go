// Package outreach runs the two live flows of the engine: deciding and
// recording an outbound message, and folding an inbound reply into the
// user's contact state.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-policy-engine/pkg/classifier"
	"outreach-policy-engine/pkg/eligibility"
	"outreach-policy-engine/pkg/metrics"
	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/patterns"
	"outreach-policy-engine/pkg/store"
	"outreach-policy-engine/pkg/variants"
)

var (
	ErrNotEligible    = errors.New("user is not eligible for outreach")
	ErrDeliveryFailed = errors.New("outreach delivery failed")
)

// NotEligibleError carries the denial reason; it matches ErrNotEligible
type NotEligibleError struct {
	Reason models.DenialReason
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotEligible, e.Reason)
}

func (e *NotEligibleError) Is(target error) bool {
	return target == ErrNotEligible
}

type Engine struct {
	store     store.Store
	patterns  *patterns.Store
	catalogue variants.Catalogue
	policy    eligibility.PolicyConstants
	transport Transport
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	st store.Store,
	pats *patterns.Store,
	catalogue variants.Catalogue,
	policy eligibility.PolicyConstants,
	transport Transport,
	logger *logrus.Logger,
	metrics *metrics.Metrics,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:     st,
		patterns:  pats,
		catalogue: catalogue,
		policy:    policy,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ContactResult describes an attempt that was recorded
type ContactResult struct {
	Attempt   models.OutreachAttempt `json:"attempt"`
	Variant   variants.Variant       `json:"variant"`
	Delivered bool                   `json:"delivered"`
}

// ReplyResult describes how a reply changed the contact state
type ReplyResult struct {
	Classification models.Classification `json:"classification"`
	AttemptIndex   int                   `json:"attempt_index"`
	State          *models.ContactState  `json:"state"`
}

// Register creates the contact state for a newly joined user
func (e *Engine) Register(ctx context.Context, userID string, joinedAt time.Time) (*models.ContactState, error) {
	state := models.NewContactState(userID, joinedAt)
	if err := state.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.Create(ctx, state); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"joined_at": joinedAt,
	}).Info("Registered contact")
	return state, nil
}

func (e *Engine) State(ctx context.Context, userID string) (*models.ContactState, error) {
	return e.store.Get(ctx, userID)
}

// Contacts lists every registered user id
func (e *Engine) Contacts(ctx context.Context) ([]string, error) {
	return e.store.ListUserIDs(ctx)
}

// Evaluate reports the current eligibility decision without changing anything
func (e *Engine) Evaluate(ctx context.Context, userID string) (models.Decision, error) {
	state, err := e.store.Get(ctx, userID)
	if err != nil {
		return models.Decision{Allowed: false, Reason: models.ReasonInvalidState}, err
	}

	decision, err := eligibility.Evaluate(state, e.now(), e.policy)
	e.recordDecision(decision)
	return decision, err
}

// Contact evaluates, selects a variant and records the attempt in one store
// transaction, then hands the message to the transport. The attempt stays in
// the history whether or not delivery succeeds.
func (e *Engine) Contact(ctx context.Context, userID, trigger string) (ContactResult, error) {
	now := e.now()

	var (
		decision models.Decision
		variant  variants.Variant
		attempt  models.OutreachAttempt
	)
	_, err := e.store.Update(ctx, userID, func(state *models.ContactState) error {
		var err error
		decision, err = eligibility.Evaluate(state, now, e.policy)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return &NotEligibleError{Reason: decision.Reason}
		}

		variant, err = variants.Select(variants.Targeting{Seniority: state.DetectedSeniority, Trigger: trigger}, e.catalogue)
		if err != nil {
			return err
		}

		attempt = models.OutreachAttempt{VariantID: variant.ID, SentAt: now}
		state.OutreachHistory = append(state.OutreachHistory, attempt)
		return nil
	})
	if decision != (models.Decision{}) {
		e.recordDecision(decision)
	}
	if err != nil {
		var denied *NotEligibleError
		if errors.As(err, &denied) {
			e.logger.WithFields(logrus.Fields{
				"user_id": userID,
				"reason":  denied.Reason,
			}).Info("Outreach denied")
		}
		return ContactResult{}, err
	}

	result := ContactResult{Attempt: attempt, Variant: variant}

	logFields := logrus.Fields{
		"user_id":    userID,
		"variant_id": variant.ID,
		"sent_at":    now,
	}
	if err := e.transport.Deliver(ctx, userID, variant.Template); err != nil {
		e.metrics.DeliveryFailures.Inc()
		e.logger.WithError(err).WithFields(logFields).Error("Failed to deliver outreach message")
		return result, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	result.Delivered = true
	e.logger.WithFields(logFields).Info("Sent outreach message")
	return result, nil
}

// HandleReply classifies text and applies it to the user's state. The reply
// is attached to the latest unanswered attempt; with no such attempt its
// refusal or deferral still takes effect.
func (e *Engine) HandleReply(ctx context.Context, userID, text string, receivedAt time.Time) (ReplyResult, error) {
	if receivedAt.IsZero() {
		receivedAt = e.now()
	}

	classification := classifier.Classify(text, e.patterns, receivedAt)
	e.metrics.Classifications.WithLabelValues(string(classification.Kind)).Inc()

	index := -1
	state, err := e.store.Update(ctx, userID, func(state *models.ContactState) error {
		index = ApplyReply(state, text, receivedAt, classification)
		return nil
	})
	if err != nil {
		return ReplyResult{}, err
	}

	fields := logrus.Fields{
		"user_id":         userID,
		"kind":            classification.Kind,
		"matched_pattern": classification.MatchedPattern,
		"pattern_version": classification.PatternVersion,
		"attempt_index":   index,
	}
	switch {
	case classification.Kind == models.KindUnclassified:
		e.logger.WithFields(fields).Warn("Reply could not be classified, queued for human review")
	case index < 0:
		e.logger.WithFields(fields).Warn("Reply received with no pending outreach attempt")
	default:
		e.logger.WithFields(fields).Info("Recorded reply")
	}

	return ReplyResult{Classification: classification, AttemptIndex: index, State: state}, nil
}

// ObserveTitle detects seniority from a job title and records it when known
func (e *Engine) ObserveTitle(ctx context.Context, userID, title string) (*models.ContactState, error) {
	return e.UpdateSeniority(ctx, userID, e.patterns.DetectSeniority(title))
}

// UpdateSeniority overwrites the detected seniority with a known value. An
// unknown value never replaces what is recorded.
func (e *Engine) UpdateSeniority(ctx context.Context, userID string, seniority models.Seniority) (*models.ContactState, error) {
	if !seniority.Valid() {
		return nil, fmt.Errorf("%w: unknown seniority %q", models.ErrInvalidState, seniority)
	}

	return e.store.Update(ctx, userID, func(state *models.ContactState) error {
		if !seniority.Known() || state.DetectedSeniority == seniority {
			return store.ErrNoChange
		}
		state.DetectedSeniority = seniority
		return nil
	})
}

// MarkConverted records that the user converted, which stops momentum escalation
func (e *Engine) MarkConverted(ctx context.Context, userID string) (*models.ContactState, error) {
	return e.store.Update(ctx, userID, func(state *models.ContactState) error {
		if state.Converted {
			return store.ErrNoChange
		}
		state.Converted = true
		return nil
	})
}

// Override applies a human override and logs who made it
func (e *Engine) Override(ctx context.Context, userID string, override store.Override) (*models.ContactState, error) {
	return e.store.Override(ctx, userID, override)
}

func (e *Engine) recordDecision(decision models.Decision) {
	e.metrics.EligibilityDecisions.WithLabelValues(strconv.FormatBool(decision.Allowed), string(decision.Reason)).Inc()
}
