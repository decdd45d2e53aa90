package constants

import "time"

// Default policy values
const (
	// DefaultGracePeriodHours - No automated contact within this many hours of joining
	DefaultGracePeriodHours = 24

	// DefaultRateLimitDays - Minimum days between two outreach attempts to one user
	DefaultRateLimitDays = 7

	// DefaultQuestionThreshold - Distinct engagement events before a user is a tire-kicker
	DefaultQuestionThreshold = 3

	// DefaultDaysActiveThreshold - Days since first engagement before escalation
	DefaultDaysActiveThreshold = 14

	// DefaultMomentumWindowDays - Trailing window the momentum scan looks at
	DefaultMomentumWindowDays = 30

	// DefaultScanConcurrency - Users evaluated in parallel during a momentum scan
	DefaultScanConcurrency = 8
)

// Default persona simulation effectiveness weights
const (
	DefaultResponseRateWeight = 0.4
	DefaultPositiveRateWeight = 0.6
)

// Default leader election values
const (
	DefaultLeaderElectionTTLSeconds      = 10
	DefaultLeaderElectionIntervalSeconds = 5
)

// Redis key prefixes and names
const (
	ContactStateKeyPrefix  = "contact_state:"
	ContactStateIndexKey   = "contact_states"
	ActivityKeyPrefix      = "activity:"
	LeaderElectionKey      = "momentum:leader"
	EscalationActionStream = "escalation_actions"
)

// Day is the unit used by every *Days setting
const Day = 24 * time.Hour

// DaysToDuration converts a day count to a duration
func DaysToDuration(days int) time.Duration {
	return time.Duration(days) * Day
}

// HoursToDuration converts an hour count to a duration
func HoursToDuration(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}
