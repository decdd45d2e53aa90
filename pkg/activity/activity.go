// Package activity supplies timestamped engagement events per user to the
// momentum detector.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"outreach-policy-engine/pkg/constants"
	"outreach-policy-engine/pkg/models"
)

// ErrInvalidEvent is returned when an event is missing a required field
var ErrInvalidEvent = errors.New("invalid activity event")

// Source returns the events of one user with from <= At <= to, oldest first.
// A user without data yields an empty slice, not an error.
type Source interface {
	Events(ctx context.Context, userID string, from, to time.Time) ([]models.ActivityEvent, error)
}

// RedisSource stores events in a sorted set per user scored by unix millis
type RedisSource struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

func NewRedisSource(rdb *redis.Client, logger *logrus.Logger) *RedisSource {
	return &RedisSource{rdb: rdb, logger: logger}
}

func activityKey(userID string) string {
	return constants.ActivityKeyPrefix + userID
}

// Record stores an event, assigning an id when it has none
func (s *RedisSource) Record(ctx context.Context, event models.ActivityEvent) (models.ActivityEvent, error) {
	if event.UserID == "" || event.Kind == "" || event.At.IsZero() {
		return event, fmt.Errorf("%w: needs user_id, kind and at", ErrInvalidEvent)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return event, fmt.Errorf("failed to marshal activity event: %w", err)
	}

	err = s.rdb.ZAdd(ctx, activityKey(event.UserID), &redis.Z{
		Score:  float64(event.At.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return event, fmt.Errorf("failed to record activity event: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": event.UserID,
		"kind":    event.Kind,
		"at":      event.At,
	}).Debug("Recorded activity event")

	return event, nil
}

func (s *RedisSource) Events(ctx context.Context, userID string, from, to time.Time) ([]models.ActivityEvent, error) {
	members, err := s.rdb.ZRangeByScore(ctx, activityKey(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity events: %w", err)
	}

	events := make([]models.ActivityEvent, 0, len(members))
	for _, member := range members {
		var event models.ActivityEvent
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Skipping malformed activity event")
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// MemorySource is a fixed in-process event table used by the harness and tests
type MemorySource struct {
	mu     sync.RWMutex
	events map[string][]models.ActivityEvent
}

func NewMemorySource(events ...models.ActivityEvent) *MemorySource {
	s := &MemorySource{events: make(map[string][]models.ActivityEvent)}
	for _, e := range events {
		s.Add(e)
	}
	return s
}

func (s *MemorySource) Add(event models.ActivityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.events[event.UserID], event)
	sort.SliceStable(list, func(i, j int) bool { return list[i].At.Before(list[j].At) })
	s.events[event.UserID] = list
}

func (s *MemorySource) Events(ctx context.Context, userID string, from, to time.Time) ([]models.ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.ActivityEvent{}
	for _, e := range s.events[userID] {
		if !e.At.Before(from) && !e.At.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}
