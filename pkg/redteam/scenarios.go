package redteam

import (
	"fmt"
	"time"

	"outreach-policy-engine/pkg/classifier"
	"outreach-policy-engine/pkg/eligibility"
	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/momentum"
	"outreach-policy-engine/pkg/outreach"
	"outreach-policy-engine/pkg/variants"
)

// ReferenceTime is the fixed clock the built-in catalogue runs at so reports
// are identical from one CI run to the next.
var ReferenceTime = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

const (
	CategorySpam       = "spam_prevention"
	CategoryRefusal    = "refusal"
	CategoryDeferral   = "deferral"
	CategoryOnboarding = "onboarding"
	CategoryMomentum   = "momentum"
	CategoryTargeting  = "targeting"
	CategoryAmbiguity  = "ambiguity"
	CategoryExtension  = "extension"
)

func member(userID string, joinedAt time.Time) *models.ContactState {
	return models.NewContactState(userID, joinedAt)
}

func contacted(state *models.ContactState, variantID string, sentAt time.Time) *models.ContactState {
	state.OutreachHistory = append(state.OutreachHistory, models.OutreachAttempt{VariantID: variantID, SentAt: sentAt})
	return state
}

func questions(userID string, n int, first, last time.Time) []models.ActivityEvent {
	events := make([]models.ActivityEvent, n)
	step := time.Duration(0)
	if n > 1 {
		step = last.Sub(first) / time.Duration(n-1)
	}
	for i := range events {
		events[i] = models.ActivityEvent{
			ID:     fmt.Sprintf("%s-q%d", userID, i),
			UserID: userID,
			Kind:   models.ActivityQuestion,
			At:     first.Add(step * time.Duration(i)),
		}
	}
	return events
}

// applyReply classifies the scenario reply at sc.Now and folds it into the
// scenario's own state copy.
func applyReply(env Env, sc Scenario) models.Classification {
	c := classifier.Classify(sc.Reply, env.Patterns, sc.Now)
	if sc.State != nil {
		outreach.ApplyReply(sc.State, sc.Reply, sc.Now, c)
	}
	return c
}

func checkDecision(env Env, state *models.ContactState, at time.Time, allowed bool, reason models.DenialReason) []string {
	decision, err := eligibility.Evaluate(state, at, env.Policy)
	if err != nil {
		return []string{fmt.Sprintf("evaluation failed: %v", err)}
	}
	if decision.Allowed != allowed || decision.Reason != reason {
		return []string{fmt.Sprintf("at %s expected allowed=%t reason=%q, got allowed=%t reason=%q",
			at.Format(time.RFC3339), allowed, reason, decision.Allowed, decision.Reason)}
	}
	return nil
}

func verdict(issues []string, recommendation string) Verdict {
	if len(issues) == 0 {
		return pass()
	}
	v := Verdict{Issues: issues}
	if recommendation != "" {
		v.Recommendations = []string{recommendation}
	}
	return v
}

// DefaultScenarios returns the built-in adversarial catalogue evaluated at now
func DefaultScenarios(now time.Time) []Scenario {
	return []Scenario{
		{
			Name:        "spam_prevention",
			Category:    CategorySpam,
			Description: "a user contacted 3 days ago is evaluated again",
			State:       contacted(member("rt_spam", now.Add(-30*day)), "friendly_intro", now.Add(-3*day)),
			Now:         now,
			ActualRisk:  RiskHigh,
			Test: func(env Env, sc Scenario) Verdict {
				return verdict(checkDecision(env, sc.State, sc.Now, false, models.ReasonRateLimited),
					"Keep the rate limit check on every send path, including retries")
			},
		},
		{
			Name:        "explicit_refusal_honored",
			Category:    CategoryRefusal,
			Description: "a plain refusal must block contact permanently",
			State:       contacted(member("rt_refusal", now.Add(-30*day)), "friendly_intro", now.Add(-2*day)),
			Reply:       "No thanks, not interested",
			Now:         now,
			ActualRisk:  RiskHigh,
			Test: func(env Env, sc Scenario) Verdict {
				c := applyReply(env, sc)
				var issues []string
				if c.Kind != models.KindRefusal {
					issues = append(issues, fmt.Sprintf("reply classified as %s", c.Kind))
				}
				if !sc.State.Refused {
					issues = append(issues, "refused flag not set")
				}
				for _, later := range []time.Duration{0, 30 * day, 365 * day} {
					issues = append(issues, checkDecision(env, sc.State, sc.Now.Add(later), false, models.ReasonExplicitRefusal)...)
				}
				return verdict(issues, "Extend the refusal table before relaxing any other rule")
			},
		},
		{
			Name:        "refusal_beats_deferral",
			Category:    CategoryRefusal,
			Description: "a reply that declines and offers a date is still a refusal",
			State:       contacted(member("rt_mixed", now.Add(-30*day)), "friendly_intro", now.Add(-2*day)),
			Reply:       "Not interested, maybe next month",
			Now:         now,
			ActualRisk:  RiskHigh,
			Test: func(env Env, sc Scenario) Verdict {
				c := applyReply(env, sc)
				var issues []string
				if c.Kind != models.KindRefusal {
					issues = append(issues, fmt.Sprintf("reply classified as %s", c.Kind))
				}
				if sc.State.DeferredUntil != nil {
					issues = append(issues, "deferral recorded for a refusal")
				}
				return verdict(issues, "Match refusal phrases before deferral phrases")
			},
		},
		{
			Name:        "typographic_apostrophe_refusal",
			Category:    CategoryRefusal,
			Description: "curly quotes from mobile keyboards must not hide a refusal",
			Reply:       "Please don’t contact me again",
			Now:         now,
			ActualRisk:  RiskHigh,
			Test: func(env Env, sc Scenario) Verdict {
				if c := applyReply(env, sc); c.Kind != models.KindRefusal {
					return fail(fmt.Sprintf("reply classified as %s", c.Kind), "Normalize typographic quotes before matching")
				}
				return pass()
			},
		},
		{
			Name:        "shouted_refusal",
			Category:    CategoryRefusal,
			Description: "upper case and punctuation must not hide a refusal",
			Reply:       "NO THANKS!!! UNSUBSCRIBE",
			Now:         now,
			ActualRisk:  RiskHigh,
			Test: func(env Env, sc Scenario) Verdict {
				if c := applyReply(env, sc); c.Kind != models.KindRefusal {
					return fail(fmt.Sprintf("reply classified as %s", c.Kind), "Match refusals case-insensitively")
				}
				return pass()
			},
		},
		{
			Name:        "punctuated_refusal",
			Category:    CategoryRefusal,
			Description: "commas and hyphens between the words of a refusal must not hide it",
			Reply:       "No, thank you. Not-interested.",
			Now:         now,
			ActualRisk:  RiskHigh,
			Test: func(env Env, sc Scenario) Verdict {
				if c := applyReply(env, sc); c.Kind != models.KindRefusal {
					return fail(fmt.Sprintf("reply classified as %s", c.Kind), "Match refusal phrases on word tokens, not raw text")
				}
				return pass()
			},
		},
		{
			Name:        "onboarding_grace_period",
			Category:    CategoryOnboarding,
			Description: "a user who joined two hours ago is not contacted until the grace period ends",
			State:       member("rt_new", now.Add(-2*time.Hour)),
			Now:         now,
			ActualRisk:  RiskHigh,
			Test: func(env Env, sc Scenario) Verdict {
				issues := checkDecision(env, sc.State, sc.Now, false, models.ReasonGracePeriod)
				issues = append(issues, checkDecision(env, sc.State, sc.State.JoinedAt.Add(env.Policy.GracePeriod), true, models.ReasonNone)...)
				return verdict(issues, "Never shorten the onboarding grace period below 24 hours")
			},
		},
		{
			Name:        "deferral_honored",
			Category:    CategoryDeferral,
			Description: "\"remind me next month\" blocks contact for 30 days and then lifts",
			State:       contacted(member("rt_defer", now.Add(-60*day)), "friendly_intro", now.Add(-day)),
			Reply:       "Swamped this week, remind me next month",
			Now:         now,
			ActualRisk:  RiskMedium,
			Test: func(env Env, sc Scenario) Verdict {
				c := applyReply(env, sc)
				if c.Kind != models.KindDeferral || sc.State.DeferredUntil == nil {
					return fail(fmt.Sprintf("reply classified as %s", c.Kind), "Add the phrase to the deferral table")
				}
				var issues []string
				if want := sc.Now.Add(30 * day); !sc.State.DeferredUntil.Equal(want) {
					issues = append(issues, fmt.Sprintf("deferred until %s, want %s", sc.State.DeferredUntil.Format(time.RFC3339), want.Format(time.RFC3339)))
				}
				issues = append(issues, checkDecision(env, sc.State, sc.Now.Add(10*day), false, models.ReasonDeferred)...)
				issues = append(issues, checkDecision(env, sc.State, *sc.State.DeferredUntil, true, models.ReasonNone)...)
				return verdict(issues, "Honor deferral dates exactly")
			},
		},
		{
			Name:        "expired_deferral_retained",
			Category:    CategoryDeferral,
			Description: "a past deferral no longer blocks contact",
			State: func() *models.ContactState {
				s := member("rt_expired", now.Add(-60*day))
				past := now.Add(-day)
				s.DeferredUntil = &past
				return s
			}(),
			Now:        now,
			ActualRisk: RiskLow,
			Test: func(env Env, sc Scenario) Verdict {
				issues := checkDecision(env, sc.State, sc.Now, true, models.ReasonNone)
				if sc.State.DeferredUntil == nil {
					issues = append(issues, "past deferral was cleared")
				}
				return verdict(issues, "")
			},
		},
		{
			Name:        "escalated_user_not_contacted",
			Category:    CategoryMomentum,
			Description: "a user waiting for human review gets no automated message",
			State: func() *models.ContactState {
				s := member("rt_escalated", now.Add(-60*day))
				s.Escalated = true
				return s
			}(),
			Now:        now,
			ActualRisk: RiskHigh,
			Test: func(env Env, sc Scenario) Verdict {
				return verdict(checkDecision(env, sc.State, sc.Now, false, models.ReasonPendingHumanReview),
					"Check the escalated flag before any automated send")
			},
		},
		{
			Name:        "tire_kicker_escalation",
			Category:    CategoryMomentum,
			Description: "five questions over twenty days without conversion escalate exactly once",
			State:       member("rt_kicker", now.Add(-60*day)),
			Signals:     questions("rt_kicker", 5, now.Add(-20*day), now),
			Now:         now,
			ActualRisk:  RiskHigh,
			Test: func(env Env, sc Scenario) Verdict {
				signals := map[string][]models.ActivityEvent{sc.State.UserID: sc.Signals}
				states := []*models.ContactState{sc.State}

				var issues []string
				first := momentum.Scan(states, signals, sc.Now, env.Momentum)
				if len(first.Actions) != 1 {
					issues = append(issues, fmt.Sprintf("first scan emitted %d actions, want 1", len(first.Actions)))
				}
				second := momentum.Scan(states, signals, sc.Now.Add(day), env.Momentum)
				if len(second.Actions) != 0 {
					issues = append(issues, fmt.Sprintf("repeat scan emitted %d duplicate actions", len(second.Actions)))
				}
				issues = append(issues, checkDecision(env, sc.State, sc.Now.Add(day), false, models.ReasonPendingHumanReview)...)
				return verdict(issues, "Route repeat engagers to a human instead of more automation")
			},
		},
		{
			Name:        "converted_user_not_escalated",
			Category:    CategoryMomentum,
			Description: "a user who converted is not handed to review however much they engage",
			State:       member("rt_converted", now.Add(-60*day)),
			Signals: append(questions("rt_converted", 5, now.Add(-20*day), now.Add(-2*day)), models.ActivityEvent{
				ID: "rt_converted-conv", UserID: "rt_converted", Kind: models.ActivityConversion, At: now.Add(-day),
			}),
			Now:        now,
			ActualRisk: RiskMedium,
			Test: func(env Env, sc Scenario) Verdict {
				result := momentum.Scan([]*models.ContactState{sc.State},
					map[string][]models.ActivityEvent{sc.State.UserID: sc.Signals}, sc.Now, env.Momentum)
				if len(result.Actions) != 0 {
					return fail("converted user escalated", "Read conversion events before flagging")
				}
				return pass()
			},
		},
		{
			Name:        "executive_targeting",
			Category:    CategoryTargeting,
			Description: "an executive receives an executive-targeted variant",
			State: func() *models.ContactState {
				s := member("rt_exec", now.Add(-60*day))
				s.DetectedSeniority = models.SeniorityExecutive
				return s
			}(),
			Now:        now,
			ActualRisk: RiskMedium,
			Test: func(env Env, sc Scenario) Verdict {
				v, err := variants.Select(variants.Targeting{Seniority: sc.State.DetectedSeniority}, env.Catalogue)
				if err != nil {
					return fail(err.Error(), "")
				}
				if v.Universal() {
					return fail(fmt.Sprintf("executive got universal variant %s", v.ID), "Add an executive-specific variant to the catalogue")
				}
				return pass()
			},
		},
		{
			Name:        "selector_never_fails",
			Category:    CategoryTargeting,
			Description: "a catalogue with nothing for the user's seniority still yields a variant",
			Now:         now,
			ActualRisk:  RiskLow,
			Test: func(env Env, sc Scenario) Verdict {
				var restricted variants.Catalogue
				for _, v := range env.Catalogue.Variants {
					if !v.Universal() && !containsSeniority(v.TargetSeniority, models.SeniorityIndividualContributor) {
						restricted.Variants = append(restricted.Variants, v)
					}
				}
				if len(restricted.Variants) == 0 {
					return pass()
				}
				if _, err := variants.Select(variants.Targeting{Seniority: models.SeniorityIndividualContributor}, restricted); err != nil {
					return fail(err.Error(), "Declare a universal default variant")
				}
				return pass()
			},
		},
		{
			Name:        "empty_reply",
			Category:    CategoryAmbiguity,
			Description: "an empty reply is unclassified, still recorded and does not block",
			State:       contacted(member("rt_empty", now.Add(-60*day)), "friendly_intro", now.Add(-8*day)),
			Reply:       "",
			Now:         now,
			ActualRisk:  RiskMedium,
			Test: func(env Env, sc Scenario) Verdict {
				c := applyReply(env, sc)
				var issues []string
				if c.Kind != models.KindUnclassified {
					issues = append(issues, fmt.Sprintf("empty reply classified as %s", c.Kind))
				}
				if sc.State.OutreachHistory[0].Classification == nil {
					issues = append(issues, "reply recorded without a classification")
				}
				issues = append(issues, checkDecision(env, sc.State, sc.Now, true, models.ReasonNone)...)
				return verdict(issues, "")
			},
		},
		{
			Name:        "emoji_only_reply",
			Category:    CategoryAmbiguity,
			Description: "a reply with no words falls back to unclassified",
			Reply:       "\U0001F44D\U0001F389",
			Now:         now,
			ActualRisk:  RiskMedium,
			Test: func(env Env, sc Scenario) Verdict {
				if c := applyReply(env, sc); c.Kind != models.KindUnclassified {
					return fail(fmt.Sprintf("emoji reply classified as %s", c.Kind), "Queue wordless replies for human review")
				}
				return pass()
			},
		},
		{
			Name:        "gibberish_reply",
			Category:    CategoryAmbiguity,
			Description: "gibberish must neither refuse nor defer",
			State:       contacted(member("rt_gibberish", now.Add(-60*day)), "friendly_intro", now.Add(-day)),
			Reply:       "asdf qwer zxcv",
			Now:         now,
			ActualRisk:  RiskLow,
			Test: func(env Env, sc Scenario) Verdict {
				c := applyReply(env, sc)
				if c.Kind == models.KindRefusal || c.Kind == models.KindDeferral || sc.State.Refused || sc.State.DeferredUntil != nil {
					return fail(fmt.Sprintf("gibberish classified as %s", c.Kind), "Tighten phrase matching to whole phrases")
				}
				return pass()
			},
		},
		{
			Name:        "hostile_reply_not_refusal",
			Category:    CategoryAmbiguity,
			Description: "a hostile reply without a refusal phrase is negative, not a refusal",
			Reply:       "this is spammy and annoying",
			Now:         now,
			ActualRisk:  RiskMedium,
			Test: func(env Env, sc Scenario) Verdict {
				if c := applyReply(env, sc); c.Kind != models.KindNegative {
					return fail(fmt.Sprintf("hostile reply classified as %s", c.Kind), "")
				}
				return pass()
			},
		},
		{
			Name:        "competitor_employee",
			Category:    CategoryExtension,
			Description: "contacts employed by a competitor need their own policy",
			State: func() *models.ContactState {
				s := member("rt_competitor", now.Add(-60*day))
				s.OrganizationClassification = "competitor"
				return s
			}(),
			Now:        now,
			ActualRisk: RiskMedium,
			Test: func(env Env, sc Scenario) Verdict {
				return fail("no policy exists for competitor employees",
					"Classify organizations and add a competitor rule to the evaluator")
			},
		},
		{
			Name:        "churned_member_return",
			Category:    CategoryExtension,
			Description: "returning churned members need different messaging",
			State: func() *models.ContactState {
				s := member("rt_churned", now.Add(-60*day))
				s.PriorMembershipStatus = "churned"
				return s
			}(),
			Now:        now,
			ActualRisk: RiskMedium,
			Test: func(env Env, sc Scenario) Verdict {
				return fail("no policy exists for returning churned members",
					"Record prior membership status and add win-back variants")
			},
		},
	}
}

func containsSeniority(list []models.Seniority, s models.Seniority) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
