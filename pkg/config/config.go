package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"outreach-policy-engine/pkg/constants"
)

type Config struct {
	RedisURL          string
	LeaderElectionTTL int
	PodID             string
	Port              string
	LogLevel          string

	// Policy constants
	GracePeriodHours int
	RateLimitDays    int

	// Momentum scan
	QuestionThreshold   int
	DaysActiveThreshold int
	MomentumWindowDays  int
	ScanIntervalMS      int64
	ScanConcurrency     int

	// Tables
	PatternsFile  string
	CatalogueFile string

	// Persona simulation weights
	ResponseRateWeight float64
	PositiveRateWeight float64
}

func Load() *Config {
	config := &Config{
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
		LeaderElectionTTL: getEnvInt("LEADER_ELECTION_TTL", constants.DefaultLeaderElectionTTLSeconds),
		PodID:             getEnv("POD_ID", generatePodID()),
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),

		GracePeriodHours: getEnvInt("GRACE_PERIOD_HOURS", constants.DefaultGracePeriodHours),
		RateLimitDays:    getEnvInt("RATE_LIMIT_DAYS", constants.DefaultRateLimitDays),

		QuestionThreshold:   getEnvInt("QUESTION_THRESHOLD", constants.DefaultQuestionThreshold),
		DaysActiveThreshold: getEnvInt("DAYS_ACTIVE_THRESHOLD", constants.DefaultDaysActiveThreshold),
		MomentumWindowDays:  getEnvInt("MOMENTUM_WINDOW_DAYS", constants.DefaultMomentumWindowDays),
		ScanIntervalMS:      getEnvInt64("SCAN_INTERVAL_MS", int64(time.Hour/time.Millisecond)),
		ScanConcurrency:     getEnvInt("SCAN_CONCURRENCY", constants.DefaultScanConcurrency),

		PatternsFile:  getEnv("PATTERNS_FILE", ""),
		CatalogueFile: getEnv("CATALOGUE_FILE", ""),

		ResponseRateWeight: getEnvFloat("RESPONSE_RATE_WEIGHT", constants.DefaultResponseRateWeight),
		PositiveRateWeight: getEnvFloat("POSITIVE_RATE_WEIGHT", constants.DefaultPositiveRateWeight),
	}

	return config
}

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate rejects values that would silently disable a policy rule or make
// every evaluation fail
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.GracePeriodHours >= 0, "GRACE_PERIOD_HOURS must not be negative, got %d", c.GracePeriodHours)
	check(c.RateLimitDays >= 0, "RATE_LIMIT_DAYS must not be negative, got %d", c.RateLimitDays)
	check(c.QuestionThreshold >= 1, "QUESTION_THRESHOLD must be at least 1, got %d", c.QuestionThreshold)
	check(c.DaysActiveThreshold >= 0, "DAYS_ACTIVE_THRESHOLD must not be negative, got %d", c.DaysActiveThreshold)
	check(c.MomentumWindowDays >= c.DaysActiveThreshold,
		"MOMENTUM_WINDOW_DAYS (%d) must be at least DAYS_ACTIVE_THRESHOLD (%d) or no user can ever escalate",
		c.MomentumWindowDays, c.DaysActiveThreshold)
	check(c.ScanIntervalMS > 0, "SCAN_INTERVAL_MS must be positive, got %d", c.ScanIntervalMS)
	check(c.ScanConcurrency >= 0, "SCAN_CONCURRENCY must not be negative, got %d", c.ScanConcurrency)
	check(c.LeaderElectionTTL >= 1, "LEADER_ELECTION_TTL must be at least 1 second, got %d", c.LeaderElectionTTL)
	check(c.ResponseRateWeight >= 0 && c.PositiveRateWeight >= 0,
		"effectiveness weights must not be negative, got %g and %g", c.ResponseRateWeight, c.PositiveRateWeight)

	return errors.Join(errs...)
}

func (c *Config) GracePeriod() time.Duration {
	return constants.HoursToDuration(c.GracePeriodHours)
}

func (c *Config) RateLimitInterval() time.Duration {
	return constants.DaysToDuration(c.RateLimitDays)
}

func (c *Config) DaysActive() time.Duration {
	return constants.DaysToDuration(c.DaysActiveThreshold)
}

func (c *Config) MomentumWindow() time.Duration {
	return constants.DaysToDuration(c.MomentumWindowDays)
}

func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMS) * time.Millisecond
}

func (c *Config) LeaderElectionTTLDuration() time.Duration {
	return time.Duration(c.LeaderElectionTTL) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func generatePodID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
