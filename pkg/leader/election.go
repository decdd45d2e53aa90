// Package leader elects a single replica to run periodic work such as the
// momentum scan.
package leader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/constants"
	"outreach-policy-engine/pkg/metrics"
)

var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

var resignScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

type Election struct {
	rdb      *redis.Client
	key      string
	podID    string
	ttl      time.Duration
	interval time.Duration
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	isLeader atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewElection(rdb *redis.Client, cfg *config.Config, logger *logrus.Logger, metrics *metrics.Metrics) *Election {
	return &Election{
		rdb:      rdb,
		key:      constants.LeaderElectionKey,
		podID:    cfg.PodID,
		ttl:      cfg.LeaderElectionTTLDuration(),
		interval: constants.DefaultLeaderElectionIntervalSeconds * time.Second,
		logger:   logger,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
	}
}

func (e *Election) Start(ctx context.Context) error {
	e.logger.WithField("pod_id", e.podID).Info("Starting leader election process")

	e.TryAcquire(ctx)
	go e.electionLoop(ctx)

	return nil
}

func (e *Election) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		if e.isLeader.Load() {
			e.resign(context.Background())
		}
	})
}

// IsLeader reports the local view of leadership, refreshed every election tick
func (e *Election) IsLeader() bool {
	return e.isLeader.Load()
}

// Holder returns the pod currently holding the lease, or "" if none
func (e *Election) Holder(ctx context.Context) (string, error) {
	holder, err := e.rdb.Get(ctx, e.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return holder, err
}

func (e *Election) electionLoop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.TryAcquire(ctx)
		}
	}
}

// TryAcquire takes the lease if it is free or renews it if this pod holds it.
// It returns the resulting leadership state.
func (e *Election) TryAcquire(ctx context.Context) bool {
	start := time.Now()
	defer func() {
		e.metrics.LeaderElectionDuration.Observe(time.Since(start).Seconds())
	}()

	acquired, err := e.rdb.SetNX(ctx, e.key, e.podID, e.ttl).Result()
	if err != nil {
		e.logger.WithError(err).Error("Failed to attempt leader election")
		e.setLeader(false)
		return false
	}

	if acquired {
		e.setLeader(true)
		return true
	}

	e.setLeader(e.renew(ctx))
	return e.isLeader.Load()
}

func (e *Election) renew(ctx context.Context) bool {
	renewed, err := renewScript.Run(ctx, e.rdb, []string{e.key}, e.podID, leaseMillis(e.ttl)).Int64()
	if err != nil {
		e.logger.WithError(err).Error("Failed to renew leadership")
		return false
	}
	return renewed == 1
}

// leaseMillis converts the lease ttl for PEXPIRE. A zero argument would
// delete the key, so anything shorter than a millisecond is rounded up.
func leaseMillis(ttl time.Duration) int64 {
	if ms := ttl.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

func (e *Election) resign(ctx context.Context) {
	if err := resignScript.Run(ctx, e.rdb, []string{e.key}, e.podID).Err(); err != nil {
		e.logger.WithError(err).Error("Failed to resign leadership")
	} else {
		e.logger.Info("Resigned leadership")
	}
	e.isLeader.Store(false)
}

func (e *Election) setLeader(leader bool) {
	was := e.isLeader.Swap(leader)
	if was == leader {
		return
	}
	if leader {
		e.logger.WithField("pod_id", e.podID).Info("Became leader")
		e.metrics.LeaderChanges.Inc()
	} else {
		e.logger.WithField("pod_id", e.podID).Info("Lost leadership")
	}
}

// RunWhileLeader calls fn every interval while this pod is the leader, until
// ctx is done or the election is stopped.
func (e *Election) RunWhileLeader(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if e.IsLeader() {
				fn(ctx)
			}
		}
	}
}
