package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-policy-engine/pkg/constants"
	"outreach-policy-engine/pkg/models"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newQueue(t *testing.T) (*Queue, *redis.Client) {
	rdb := setupTestRedis(t)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewQueue(rdb, logger), rdb
}

func TestQueue_EnsureGroupIsIdempotent(t *testing.T) {
	q, rdb := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnsureGroup(ctx))
	require.NoError(t, q.EnsureGroup(ctx))

	require.NoError(t, q.Publish(ctx, models.EscalationAction{ID: "act-1", UserID: "user_1", Pattern: models.EscalationPatternTireKicker}))

	streams, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ReviewerGroup,
		Consumer: "reviewer-1",
		Streams:  []string{constants.EscalationActionStream, ">"},
		Count:    10,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)
	assert.Equal(t, "user_1", streams[0].Messages[0].Values["user_id"])
}

func TestQueue_PublishAndList(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	detected := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

	action := models.EscalationAction{
		ID:      "act-1",
		UserID:  "user_1",
		Pattern: models.EscalationPatternTireKicker,
		Evidence: []models.ActivityEvent{
			{ID: "e1", UserID: "user_1", Kind: models.ActivityQuestion, At: detected.Add(-20 * 24 * time.Hour)},
			{ID: "e2", UserID: "user_1", Kind: models.ActivityQuestion, At: detected.Add(-time.Hour)},
		},
		DetectedAt: detected,
	}
	require.NoError(t, q.Publish(ctx, action))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	actions, err := q.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "act-1", actions[0].ID)
	assert.Len(t, actions[0].Evidence, 2)
	assert.True(t, detected.Equal(actions[0].DetectedAt))
}

func TestQueue_ListSkipsMalformedMessages(t *testing.T) {
	q, rdb := newQueue(t)
	ctx := context.Background()

	err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: constants.EscalationActionStream,
		Values: map[string]interface{}{"user_id": "user_x"},
	}).Err()
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, models.EscalationAction{ID: "ok", UserID: "user_1", Pattern: models.EscalationPatternTireKicker}))

	actions, err := q.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "ok", actions[0].ID)
}
