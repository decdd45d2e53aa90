// Package momentum finds users who keep engaging without converting and hands
// them to human review instead of further automated contact.
package momentum

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/constants"
	"outreach-policy-engine/pkg/models"
)

type Config struct {
	QuestionThreshold   int
	DaysActiveThreshold time.Duration
	Window              time.Duration
	Concurrency         int
}

func DefaultConfig() Config {
	return Config{
		QuestionThreshold:   constants.DefaultQuestionThreshold,
		DaysActiveThreshold: constants.DaysToDuration(constants.DefaultDaysActiveThreshold),
		Window:              constants.DaysToDuration(constants.DefaultMomentumWindowDays),
		Concurrency:         constants.DefaultScanConcurrency,
	}
}

func FromConfig(cfg *config.Config) Config {
	return Config{
		QuestionThreshold:   cfg.QuestionThreshold,
		DaysActiveThreshold: cfg.DaysActive(),
		Window:              cfg.MomentumWindow(),
		Concurrency:         cfg.ScanConcurrency,
	}
}

// Warning records a user skipped during a scan
type Warning struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

type ScanResult struct {
	Scanned  int                       `json:"scanned"`
	Actions  []models.EscalationAction `json:"actions"`
	Warnings []Warning                 `json:"warnings"`
}

func (r *ScanResult) sort() {
	sort.Slice(r.Actions, func(i, j int) bool { return r.Actions[i].UserID < r.Actions[j].UserID })
	sort.Slice(r.Warnings, func(i, j int) bool { return r.Warnings[i].UserID < r.Warnings[j].UserID })
}

// ShouldEscalate reports whether state is a tire-kicker at now and returns the
// supporting events. A user qualifies when the trailing window holds at least
// QuestionThreshold distinct engagement events, the first of them is at least
// DaysActiveThreshold old, no conversion happened and the user is not already
// escalated.
func ShouldEscalate(state *models.ContactState, events []models.ActivityEvent, now time.Time, cfg Config) ([]models.ActivityEvent, bool) {
	if state.Escalated || state.Converted {
		return nil, false
	}

	windowStart := now.Add(-cfg.Window)
	seen := make(map[string]bool)
	var evidence []models.ActivityEvent

	for _, e := range events {
		if e.At.Before(windowStart) || e.At.After(now) {
			continue
		}
		if e.Kind == models.ActivityConversion {
			return nil, false
		}
		key := eventKey(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		evidence = append(evidence, e)
	}

	if len(evidence) < cfg.QuestionThreshold || len(evidence) == 0 {
		return nil, false
	}

	sort.SliceStable(evidence, func(i, j int) bool { return evidence[i].At.Before(evidence[j].At) })
	if now.Sub(evidence[0].At) < cfg.DaysActiveThreshold {
		return nil, false
	}
	return evidence, true
}

func eventKey(e models.ActivityEvent) string {
	if e.ID != "" {
		return e.ID
	}
	return e.Kind + "|" + strconv.FormatInt(e.At.UnixNano(), 10) + "|" + e.Detail
}

// NewAction builds the escalation action for userID. The id is derived from
// the user, pattern and detection time so a republished action keeps its id.
func NewAction(userID string, evidence []models.ActivityEvent, now time.Time) models.EscalationAction {
	name := fmt.Sprintf("%s|%s|%d", userID, models.EscalationPatternTireKicker, now.UnixNano())
	return models.EscalationAction{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String(),
		UserID:     userID,
		Pattern:    models.EscalationPatternTireKicker,
		Evidence:   evidence,
		DetectedAt: now,
	}
}

// Scan evaluates in-memory states against signals and marks qualifying states
// escalated. It is the offline form of Detector.Scan used by the harness; the
// states passed in are mutated, nothing else is touched.
func Scan(states []*models.ContactState, signals map[string][]models.ActivityEvent, now time.Time, cfg Config) ScanResult {
	result := ScanResult{Actions: []models.EscalationAction{}, Warnings: []Warning{}}

	for _, state := range states {
		result.Scanned++
		action, ok, err := scanState(state, signals, now, cfg)
		if err != nil {
			userID := ""
			if state != nil {
				userID = state.UserID
			}
			result.Warnings = append(result.Warnings, Warning{UserID: userID, Error: err.Error()})
			continue
		}
		if ok {
			result.Actions = append(result.Actions, action)
		}
	}

	result.sort()
	return result
}

func scanState(state *models.ContactState, signals map[string][]models.ActivityEvent, now time.Time, cfg Config) (action models.EscalationAction, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while evaluating user: %v", r)
		}
	}()

	if err := state.Validate(); err != nil {
		return action, false, err
	}

	evidence, flag := ShouldEscalate(state, signals[state.UserID], now, cfg)
	if !flag {
		return action, false, nil
	}

	state.Escalated = true
	return NewAction(state.UserID, evidence, now), true, nil
}
