package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/metrics"
	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/outreach"
	"outreach-policy-engine/pkg/patterns"
	"outreach-policy-engine/pkg/variants"
)

func testConfig(podID string) *config.Config {
	return &config.Config{
		PodID:               podID,
		Port:                "0",
		LeaderElectionTTL:   10,
		GracePeriodHours:    24,
		RateLimitDays:       7,
		QuestionThreshold:   3,
		DaysActiveThreshold: 14,
		MomentumWindowDays:  30,
		ScanIntervalMS:      20,
		ScanConcurrency:     4,
	}
}

func newService(t *testing.T, rdb *redis.Client, podID string) *Service {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	tables := Tables{Patterns: patterns.Default(), Catalogue: variants.Default()}
	return NewService(rdb, testConfig(podID), tables, outreach.NewLogTransport(logger), logger, metrics.NewMetrics(prometheus.NewRegistry()))
}

func seedTireKicker(t *testing.T, s *Service, userID string) {
	ctx := context.Background()
	now := time.Now()

	_, err := s.Engine().Register(ctx, userID, now.Add(-60*24*time.Hour))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Activity().Record(ctx, models.ActivityEvent{
			ID:     fmt.Sprintf("%s-%d", userID, i),
			UserID: userID,
			Kind:   models.ActivityQuestion,
			At:     now.Add(-time.Duration(20-5*i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}
}

func TestService_RunScanEscalatesOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := newService(t, rdb, "pod-a")
	ctx := context.Background()
	seedTireKicker(t, s, "kicker")
	_, err := s.Engine().Register(ctx, "quiet", time.Now().Add(-60*24*time.Hour))
	require.NoError(t, err)

	result, err := s.RunScan(ctx)
	require.NoError(t, err)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, "kicker", result.Actions[0].UserID)

	result, err = s.RunScan(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Actions)

	n, err := s.Escalations().Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	decision, err := s.Engine().Evaluate(ctx, "kicker")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonPendingHumanReview, decision.Reason)
}

func TestService_OnlyLeaderScans(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newService(t, rdb, "pod-a")
	b := newService(t, rdb, "pod-b")
	seedTireKicker(t, a, "kicker")

	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer b.Stop(context.Background())
	defer a.Stop(context.Background())

	assert.True(t, a.IsLeader())
	assert.False(t, b.IsLeader())

	assert.Eventually(t, func() bool {
		n, err := a.Escalations().Length(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 20*time.Millisecond)

	// further ticks never duplicate the action
	time.Sleep(100 * time.Millisecond)
	n, err := b.Escalations().Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
