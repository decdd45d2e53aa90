// Package service wires the engine, the momentum scan and the HTTP API into
// one long-running process.
package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"outreach-policy-engine/pkg/activity"
	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/eligibility"
	"outreach-policy-engine/pkg/escalation"
	"outreach-policy-engine/pkg/handlers"
	"outreach-policy-engine/pkg/leader"
	"outreach-policy-engine/pkg/metrics"
	"outreach-policy-engine/pkg/momentum"
	"outreach-policy-engine/pkg/outreach"
	"outreach-policy-engine/pkg/patterns"
	"outreach-policy-engine/pkg/server"
	"outreach-policy-engine/pkg/store"
	"outreach-policy-engine/pkg/variants"
)

// Tables are the operator-supplied data the engine runs on
type Tables struct {
	Patterns  *patterns.Store
	Catalogue variants.Catalogue
}

type Service struct {
	config      *config.Config
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	engine      *outreach.Engine
	activity    *activity.RedisSource
	escalations *escalation.Queue
	detector    *momentum.Detector
	election    *leader.Election
	router      http.Handler
	server      *http.Server
}

func NewService(rdb *redis.Client, config *config.Config, tables Tables, transport outreach.Transport, logger *logrus.Logger, metrics *metrics.Metrics) *Service {
	st := store.NewRedisStore(rdb, logger, metrics)
	source := activity.NewRedisSource(rdb, logger)
	queue := escalation.NewQueue(rdb, logger)

	engine := outreach.NewEngine(st, tables.Patterns, tables.Catalogue, eligibility.PolicyFromConfig(config), transport, logger, metrics)
	detector := momentum.NewDetector(st, source, queue, momentum.FromConfig(config), logger, metrics)
	election := leader.NewElection(rdb, config, logger, metrics)

	handler := handlers.NewHandler(engine, tables.Patterns, source, queue, logger, election.IsLeader)

	return &Service{
		config:      config,
		logger:      logger,
		metrics:     metrics,
		engine:      engine,
		activity:    source,
		escalations: queue,
		detector:    detector,
		election:    election,
		router:      server.NewRouter(handler, nil, logger),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting outreach policy service")

	if err := s.escalations.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to prepare escalation stream: %w", err)
	}

	if err := s.election.Start(ctx); err != nil {
		return fmt.Errorf("failed to start leader election: %w", err)
	}

	go s.election.RunWhileLeader(ctx, s.config.ScanInterval(), func(ctx context.Context) {
		if _, err := s.RunScan(ctx); err != nil {
			s.logger.WithError(err).Error("Momentum scan failed")
		}
	})

	s.startHTTPServer()

	s.logger.WithFields(logrus.Fields{
		"pod_id":        s.config.PodID,
		"scan_interval": s.config.ScanInterval(),
	}).Info("Outreach policy service started successfully")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping outreach policy service")

	s.election.Stop()

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
			return err
		}
	}

	s.logger.Info("Outreach policy service stopped")
	return nil
}

// RunScan runs one momentum scan now, regardless of leadership
func (s *Service) RunScan(ctx context.Context) (momentum.ScanResult, error) {
	return s.detector.Scan(ctx, time.Now())
}

func (s *Service) IsLeader() bool {
	return s.election.IsLeader()
}

func (s *Service) Engine() *outreach.Engine {
	return s.engine
}

func (s *Service) Activity() *activity.RedisSource {
	return s.activity
}

func (s *Service) Escalations() *escalation.Queue {
	return s.escalations
}

func (s *Service) Router() http.Handler {
	return s.router
}

func (s *Service) startHTTPServer() {
	s.server = server.NewHTTPServer(s.config, s.router)

	go func() {
		s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP server failed")
		}
	}()
}
