package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-policy-engine/pkg/metrics"
	"outreach-policy-engine/pkg/models"
)

var joined = time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func newRedisStore(t *testing.T) *RedisStore {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewRedisStore(setupTestRedis(t), logger, metrics.NewMetrics(prometheus.NewRegistry()))
}

// forEachStore runs the same contract test against every implementation
func forEachStore(t *testing.T, test func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { test(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) { test(t, newRedisStore(t)) })
}

func seed(t *testing.T, s Store, userID string) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), models.NewContactState(userID, joined)))
}

func appendAttempt(variantID string, at time.Time) UpdateFunc {
	return func(state *models.ContactState) error {
		state.OutreachHistory = append(state.OutreachHistory, models.OutreachAttempt{VariantID: variantID, SentAt: at})
		return nil
	}
}

func TestStore_CreateGetList(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "user_b")
		seed(t, s, "user_a")

		err := s.Create(ctx, models.NewContactState("user_a", joined))
		assert.ErrorIs(t, err, ErrAlreadyExists)

		err = s.Create(ctx, models.NewContactState("", joined))
		assert.ErrorIs(t, err, models.ErrInvalidState)

		state, err := s.Get(ctx, "user_a")
		require.NoError(t, err)
		assert.Equal(t, "user_a", state.UserID)
		assert.True(t, joined.Equal(state.JoinedAt))
		assert.Equal(t, models.SeniorityUnknown, state.DetectedSeniority)

		_, err = s.Get(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)

		ids, err := s.ListUserIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"user_a", "user_b"}, ids)
	})
}

func TestStore_UpdateAppendsHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "user_1")

		_, err := s.Update(ctx, "user_1", appendAttempt("v1", joined.Add(48*time.Hour)))
		require.NoError(t, err)
		state, err := s.Update(ctx, "user_1", appendAttempt("v2", joined.Add(10*24*time.Hour)))
		require.NoError(t, err)

		require.Len(t, state.OutreachHistory, 2)
		assert.Equal(t, "v1", state.OutreachHistory[0].VariantID)
		assert.Equal(t, "v2", state.OutreachHistory[1].VariantID)

		_, err = s.Update(ctx, "nobody", appendAttempt("v1", joined))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_NoChangeSkipsWrite(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "user_1")

		state, err := s.Update(ctx, "user_1", func(state *models.ContactState) error {
			state.Converted = true
			return ErrNoChange
		})
		require.NoError(t, err)
		assert.False(t, state.Converted)

		stored, err := s.Get(ctx, "user_1")
		require.NoError(t, err)
		assert.False(t, stored.Converted)
	})
}

func TestStore_RejectsInvariantViolations(t *testing.T) {
	reply := "No thanks"
	received := joined.Add(72 * time.Hour)
	deferred := joined.Add(30 * 24 * time.Hour)

	tests := []struct {
		name  string
		setup UpdateFunc
		bad   UpdateFunc
	}{
		{"history truncated", appendAttempt("v1", joined.Add(48*time.Hour)), func(s *models.ContactState) error {
			s.OutreachHistory = s.OutreachHistory[:0]
			return nil
		}},
		{"attempt rewritten", appendAttempt("v1", joined.Add(48*time.Hour)), func(s *models.ContactState) error {
			s.OutreachHistory[0].VariantID = "v9"
			return nil
		}},
		{"out of order append", appendAttempt("v1", joined.Add(48*time.Hour)), appendAttempt("v2", joined.Add(24*time.Hour))},
		{"refusal reset", func(s *models.ContactState) error {
			s.Refused = true
			return nil
		}, func(s *models.ContactState) error {
			s.Refused = false
			return nil
		}},
		{"escalation reset", func(s *models.ContactState) error {
			s.Escalated = true
			return nil
		}, func(s *models.ContactState) error {
			s.Escalated = false
			return nil
		}},
		{"deferral cleared", func(s *models.ContactState) error {
			s.DeferredUntil = &deferred
			return nil
		}, func(s *models.ContactState) error {
			s.DeferredUntil = nil
			return nil
		}},
		{"seniority removed", func(s *models.ContactState) error {
			s.DetectedSeniority = models.SeniorityExecutive
			return nil
		}, func(s *models.ContactState) error {
			s.DetectedSeniority = models.SeniorityUnknown
			return nil
		}},
		{"response without classification", appendAttempt("v1", joined.Add(48*time.Hour)), func(s *models.ContactState) error {
			s.OutreachHistory[0].ResponseText = &reply
			s.OutreachHistory[0].ResponseReceivedAt = &received
			return nil
		}},
		{"joined_at moved", func(s *models.ContactState) error { return nil }, func(s *models.ContactState) error {
			s.JoinedAt = s.JoinedAt.Add(time.Hour)
			return nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachStore(t, func(t *testing.T, s Store) {
				ctx := context.Background()
				seed(t, s, "user_1")

				_, err := s.Update(ctx, "user_1", tt.setup)
				require.NoError(t, err)

				before, err := s.Get(ctx, "user_1")
				require.NoError(t, err)

				_, err = s.Update(ctx, "user_1", tt.bad)
				assert.ErrorIs(t, err, ErrInvariantViolation)

				after, err := s.Get(ctx, "user_1")
				require.NoError(t, err)
				assert.Equal(t, before, after, "rejected update must not be persisted")
			})
		})
	}
}

func TestStore_ResponseIsWriteOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "user_1")

		_, err := s.Update(ctx, "user_1", appendAttempt("v1", joined.Add(48*time.Hour)))
		require.NoError(t, err)

		answer := func(text string, kind models.ClassificationKind) UpdateFunc {
			return func(state *models.ContactState) error {
				received := joined.Add(50 * time.Hour)
				state.OutreachHistory[0].ResponseText = &text
				state.OutreachHistory[0].ResponseReceivedAt = &received
				state.OutreachHistory[0].Classification = &models.Classification{Kind: kind}
				return nil
			}
		}

		_, err = s.Update(ctx, "user_1", answer("Not interested", models.KindRefusal))
		require.NoError(t, err)

		_, err = s.Update(ctx, "user_1", answer("Sure!", models.KindPositive))
		assert.ErrorIs(t, err, ErrInvariantViolation)
	})
}

func TestStore_Override(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "user_1")

		_, err := s.Update(ctx, "user_1", func(state *models.ContactState) error {
			state.Refused = true
			state.Escalated = true
			return nil
		})
		require.NoError(t, err)

		_, err = s.Override(ctx, "user_1", Override{ClearRefusal: true})
		assert.Error(t, err, "operator is required")

		_, err = s.Override(ctx, "user_1", Override{Operator: "ops@example.com"})
		assert.Error(t, err, "override must clear something")

		state, err := s.Override(ctx, "user_1", Override{ClearEscalation: true, Operator: "ops@example.com"})
		require.NoError(t, err)
		assert.False(t, state.Escalated)
		assert.True(t, state.Refused, "only the requested flag is cleared")

		state, err = s.Override(ctx, "user_1", Override{ClearRefusal: true, Operator: "ops@example.com"})
		require.NoError(t, err)
		assert.False(t, state.Refused)
	})
}

func TestStore_ConcurrentUpdatesSerializePerUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, "user_1")

		sendAt := joined.Add(10 * 24 * time.Hour)
		// each writer only appends when nothing was sent yet, like a rate limit check
		sendOnce := func(state *models.ContactState) error {
			if len(state.OutreachHistory) > 0 {
				return ErrNoChange
			}
			state.OutreachHistory = append(state.OutreachHistory, models.OutreachAttempt{VariantID: "v1", SentAt: sendAt})
			return nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, "user_1", sendOnce)
				if err != nil && !errors.Is(err, ErrConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		state, err := s.Get(ctx, "user_1")
		require.NoError(t, err)
		assert.Len(t, state.OutreachHistory, 1)
	})
}
