package momentum

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"outreach-policy-engine/pkg/activity"
	"outreach-policy-engine/pkg/metrics"
	"outreach-policy-engine/pkg/models"
	"outreach-policy-engine/pkg/store"
)

// Sink receives escalation actions for human reviewers
type Sink interface {
	Publish(ctx context.Context, action models.EscalationAction) error
}

// Detector runs the momentum scan against the live store. Users are evaluated
// in parallel; the escalated flag is written through the store so it is
// serialized with every other write to the same user.
type Detector struct {
	store   store.Store
	source  activity.Source
	sink    Sink
	cfg     Config
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewDetector(st store.Store, source activity.Source, sink Sink, cfg Config, logger *logrus.Logger, metrics *metrics.Metrics) *Detector {
	return &Detector{
		store:   st,
		source:  source,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Scan evaluates every known user at now. Failures for one user are recorded
// as warnings and never stop the batch; only failing to list users or a
// cancelled context is returned as an error.
func (d *Detector) Scan(ctx context.Context, now time.Time) (ScanResult, error) {
	start := time.Now()
	defer func() {
		d.metrics.ScanDuration.Observe(time.Since(start).Seconds())
	}()

	ids, err := d.store.ListUserIDs(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to list users for momentum scan: %w", err)
	}

	result := ScanResult{Scanned: len(ids), Actions: []models.EscalationAction{}, Warnings: []Warning{}}
	var mu sync.Mutex

	var g errgroup.Group
	if d.cfg.Concurrency > 0 {
		g.SetLimit(d.cfg.Concurrency)
	}

	for _, id := range ids {
		userID := id
		g.Go(func() error {
			action, ok, err := d.scanUser(ctx, userID, now)

			mu.Lock()
			defer mu.Unlock()
			if ok {
				result.Actions = append(result.Actions, action)
			}
			if err != nil {
				result.Warnings = append(result.Warnings, Warning{UserID: userID, Error: err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()

	result.sort()
	d.metrics.ScannedUsers.Set(float64(result.Scanned))
	d.metrics.ScanWarnings.Add(float64(len(result.Warnings)))

	for _, w := range result.Warnings {
		d.logger.WithFields(logrus.Fields{
			"user_id": w.UserID,
			"error":   w.Error,
		}).Warn("Momentum scan warning")
	}

	d.logger.WithFields(logrus.Fields{
		"scanned":   result.Scanned,
		"escalated": len(result.Actions),
		"warnings":  len(result.Warnings),
		"duration":  time.Since(start),
	}).Info("Momentum scan complete")

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (d *Detector) scanUser(ctx context.Context, userID string, now time.Time) (action models.EscalationAction, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while evaluating user: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return action, false, err
	}

	events, err := d.source.Events(ctx, userID, now.Add(-d.cfg.Window), now)
	if err != nil {
		return action, false, fmt.Errorf("failed to load activity: %w", err)
	}

	var (
		pending *models.EscalationAction
		raised  bool
	)
	_, err = d.store.Update(ctx, userID, func(state *models.ContactState) error {
		if state.Escalated {
			// escalated earlier but the review queue never took the action
			if state.PendingEscalation != nil && d.sink != nil {
				action := *state.PendingEscalation
				pending = &action
			}
			return store.ErrNoChange
		}

		evidence, flag := ShouldEscalate(state, events, now, d.cfg)
		if !flag {
			return store.ErrNoChange
		}
		action := NewAction(userID, evidence, now)
		state.Escalated = true
		if d.sink != nil {
			state.PendingEscalation = &action
		}
		pending, raised = &action, true
		return nil
	})
	if err != nil {
		return action, false, err
	}
	if pending == nil {
		return action, false, nil
	}
	action = *pending

	fields := logrus.Fields{
		"user_id":   userID,
		"pattern":   action.Pattern,
		"events":    len(action.Evidence),
		"action_id": action.ID,
	}
	if raised {
		d.metrics.EscalationsRaised.Inc()
		d.logger.WithFields(fields).Info("Escalated user to human review")
	} else {
		d.logger.WithFields(fields).Warn("Republishing escalation action the review queue never accepted")
	}

	if d.sink == nil {
		return action, true, nil
	}
	if err := d.sink.Publish(ctx, action); err != nil {
		// the action stays pending on the state and is retried next scan
		return action, true, fmt.Errorf("escalated but failed to publish action: %w", err)
	}

	_, err = d.store.Update(ctx, userID, func(state *models.ContactState) error {
		if state.PendingEscalation == nil || state.PendingEscalation.ID != action.ID {
			return store.ErrNoChange
		}
		state.PendingEscalation = nil
		return nil
	})
	if err != nil {
		return action, true, fmt.Errorf("published action but failed to clear pending marker: %w", err)
	}

	return action, true, nil
}
