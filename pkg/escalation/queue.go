// Package escalation publishes escalation actions to a Redis stream that
// human reviewers consume.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"outreach-policy-engine/pkg/constants"
	"outreach-policy-engine/pkg/models"
)

const ReviewerGroup = "escalation-reviewers"

type Queue struct {
	rdb    *redis.Client
	logger *logrus.Logger
	stream string
}

func NewQueue(rdb *redis.Client, logger *logrus.Logger) *Queue {
	return &Queue{
		rdb:    rdb,
		logger: logger,
		stream: constants.EscalationActionStream,
	}
}

// EnsureGroup creates the reviewer consumer group if it doesn't exist
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, ReviewerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create reviewer group: %w", err)
	}

	q.logger.WithField("consumer_group", ReviewerGroup).Info("Reviewer group ready")
	return nil
}

// Publish appends the action to the stream
func (q *Queue) Publish(ctx context.Context, action models.EscalationAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation action: %w", err)
	}

	messageID, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"action_id":   action.ID,
			"user_id":     action.UserID,
			"pattern":     action.Pattern,
			"detected_at": action.DetectedAt.UnixMilli(),
			"evidence":    len(action.Evidence),
			"action_data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add escalation action to stream: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"user_id":    action.UserID,
		"action_id":  action.ID,
		"message_id": messageID,
	}).Debug("Published escalation action")

	return nil
}

// List returns up to count actions, oldest first
func (q *Queue) List(ctx context.Context, count int64) ([]models.EscalationAction, error) {
	messages, err := q.rdb.XRangeN(ctx, q.stream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read escalation stream: %w", err)
	}

	actions := make([]models.EscalationAction, 0, len(messages))
	for _, message := range messages {
		action, err := parseAction(message)
		if err != nil {
			q.logger.WithError(err).WithField("message_id", message.ID).Warn("Skipping malformed escalation action")
			continue
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// Length returns the number of actions in the stream
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.rdb.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read escalation stream length: %w", err)
	}
	return n, nil
}

func parseAction(message redis.XMessage) (models.EscalationAction, error) {
	var action models.EscalationAction

	raw, ok := message.Values["action_data"].(string)
	if !ok {
		return action, fmt.Errorf("missing or invalid action_data")
	}
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return action, fmt.Errorf("invalid action_data: %w", err)
	}

	if userID, ok := message.Values["user_id"].(string); !ok || userID != action.UserID {
		return action, fmt.Errorf("user_id field does not match action_data")
	}
	if evidence, ok := message.Values["evidence"].(string); ok {
		if n, err := strconv.Atoi(evidence); err != nil || n != len(action.Evidence) {
			return action, fmt.Errorf("evidence count does not match action_data")
		}
	}

	return action, nil
}
