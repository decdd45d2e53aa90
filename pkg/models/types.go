package models

import "time"

// Seniority is the detected role level of a contact
type Seniority string

const (
	SeniorityExecutive             Seniority = "executive"
	SenioritySenior                Seniority = "senior"
	SeniorityIndividualContributor Seniority = "individual_contributor"
	SeniorityUnknown               Seniority = "unknown"
)

// Valid reports whether s is one of the known seniority levels
func (s Seniority) Valid() bool {
	switch s {
	case SeniorityExecutive, SenioritySenior, SeniorityIndividualContributor, SeniorityUnknown:
		return true
	}
	return false
}

// Known reports whether s carries an actual signal (not empty, not unknown)
func (s Seniority) Known() bool {
	return s.Valid() && s != SeniorityUnknown
}

// ClassificationKind is the outcome of classifying a reply
type ClassificationKind string

const (
	KindRefusal      ClassificationKind = "refusal"
	KindDeferral     ClassificationKind = "deferral"
	KindPositive     ClassificationKind = "positive"
	KindNeutral      ClassificationKind = "neutral"
	KindNegative     ClassificationKind = "negative"
	KindUnclassified ClassificationKind = "unclassified"
)

// Classification is attached to an OutreachAttempt once its reply has been classified
type Classification struct {
	Kind           ClassificationKind `json:"kind"`
	DeferralUntil  *time.Time         `json:"deferral_until,omitempty"` // only set for deferrals
	MatchedPattern string             `json:"matched_pattern,omitempty"`
	PatternVersion string             `json:"pattern_version,omitempty"`
}

// DenialReason explains why the eligibility evaluator refused contact
type DenialReason string

const (
	ReasonNone               DenialReason = ""
	ReasonExplicitRefusal    DenialReason = "explicit_refusal"
	ReasonPendingHumanReview DenialReason = "pending_human_review"
	ReasonDeferred           DenialReason = "deferred"
	ReasonGracePeriod        DenialReason = "grace_period"
	ReasonRateLimited        DenialReason = "rate_limited"
	ReasonInvalidState       DenialReason = "invalid_state"
)

// Decision is the result of an eligibility evaluation
type Decision struct {
	Allowed bool         `json:"allowed"`
	Reason  DenialReason `json:"reason,omitempty"`
}

// Activity event kinds understood by the momentum detector
const (
	ActivityQuestion   = "question"
	ActivityEngagement = "engagement"
	ActivityConversion = "conversion"
)

// ActivityEvent is one engagement signal supplied by the activity source
type ActivityEvent struct {
	ID     string    `json:"id,omitempty"`
	UserID string    `json:"user_id"`
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// EscalationPatternTireKicker flags repeated engagement without conversion
const EscalationPatternTireKicker = "tire_kicker"

// EscalationAction is emitted for human reviewers when a user is escalated
type EscalationAction struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Pattern    string          `json:"pattern"`
	Evidence   []ActivityEvent `json:"evidence"`
	DetectedAt time.Time       `json:"detected_at"`
}
