package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"outreach-policy-engine/pkg/constants"
	"outreach-policy-engine/pkg/metrics"
	"outreach-policy-engine/pkg/models"
)

const defaultMaxRetries = 20

// RedisStore keeps each state as a JSON document under contact_state:<id>.
// Updates are optimistic WATCH/MULTI transactions on that key, so concurrent
// writers to the same user retry instead of interleaving.
type RedisStore struct {
	rdb        *redis.Client
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	maxRetries int
}

func NewRedisStore(rdb *redis.Client, logger *logrus.Logger, metrics *metrics.Metrics) *RedisStore {
	return &RedisStore{
		rdb:        rdb,
		logger:     logger,
		metrics:    metrics,
		maxRetries: defaultMaxRetries,
	}
}

func stateKey(userID string) string {
	return constants.ContactStateKeyPrefix + userID
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*models.ContactState, error) {
	data, err := s.rdb.Get(ctx, stateKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get contact state: %w", err)
	}
	return decodeState(data)
}

func (s *RedisStore) Create(ctx context.Context, state *models.ContactState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal contact state: %w", err)
	}

	created, err := s.rdb.SetNX(ctx, stateKey(state.UserID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create contact state: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, state.UserID)
	}

	if err := s.rdb.SAdd(ctx, constants.ContactStateIndexKey, state.UserID).Err(); err != nil {
		return fmt.Errorf("failed to index contact state: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   state.UserID,
		"joined_at": state.JoinedAt,
	}).Debug("Created contact state")

	return nil
}

func (s *RedisStore) Update(ctx context.Context, userID string, fn UpdateFunc) (*models.ContactState, error) {
	return s.mutate(ctx, userID, fn, Override{})
}

func (s *RedisStore) Override(ctx context.Context, userID string, override Override) (*models.ContactState, error) {
	fn, err := overrideFunc(override)
	if err != nil {
		return nil, err
	}

	state, err := s.mutate(ctx, userID, fn, override)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":          userID,
		"operator":         override.Operator,
		"clear_refusal":    override.ClearRefusal,
		"clear_escalation": override.ClearEscalation,
		"note":             override.Note,
	}).Info("Applied human override")

	return state, nil
}

func (s *RedisStore) ListUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, constants.ContactStateIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list contact states: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) mutate(ctx context.Context, userID string, fn UpdateFunc, allowed Override) (*models.ContactState, error) {
	key := stateKey(userID)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var result *models.ContactState

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return fmt.Errorf("%w: %s", ErrNotFound, userID)
				}
				return fmt.Errorf("failed to read contact state: %w", err)
			}

			before, err := decodeState(data)
			if err != nil {
				return err
			}

			after := before.Clone()
			if err := fn(after); err != nil {
				if errors.Is(err, ErrNoChange) {
					result = before
					return nil
				}
				return err
			}
			if err := checkTransition(before, after, allowed); err != nil {
				return err
			}

			encoded, err := json.Marshal(after)
			if err != nil {
				return fmt.Errorf("failed to marshal contact state: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}

			result = after
			return nil
		}, key)

		if err == redis.TxFailedErr {
			s.metrics.StoreConflicts.Inc()
			s.logger.WithFields(logrus.Fields{
				"user_id": userID,
				"attempt": attempt + 1,
			}).Debug("Contact state changed during update, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	s.logger.WithField("user_id", userID).Warn("Contact state update exhausted retries")
	return nil, fmt.Errorf("%w: %s", ErrConflict, userID)
}

func decodeState(data []byte) (*models.ContactState, error) {
	var state models.ContactState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode contact state: %w", err)
	}
	return &state, nil
}
