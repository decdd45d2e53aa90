package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"outreach-policy-engine/pkg/config"
	"outreach-policy-engine/pkg/metrics"
	"outreach-policy-engine/pkg/outreach"
	"outreach-policy-engine/pkg/patterns"
	redisClient "outreach-policy-engine/pkg/redis"
	"outreach-policy-engine/pkg/service"
	"outreach-policy-engine/pkg/variants"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithField("pod_id", cfg.PodID).Info("Starting outreach policy engine")

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	tables, err := loadTables(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load pattern or variant tables")
	}
	logger.WithFields(logrus.Fields{
		"pattern_version": tables.Patterns.Version(),
		"variants":        len(tables.Catalogue.Variants),
	}).Info("Loaded tables")

	metrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	redisConfig := redisClient.DefaultConnectionConfig()
	redisConfig.URL = cfg.RedisURL

	redis, err := redisClient.NewClient(redisConfig, logger, metrics)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	svc := service.NewService(redis.GetRedisClient(), cfg, tables, outreach.NewLogTransport(logger), logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start service")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error during service shutdown")
	}

	logger.Info("Outreach policy engine shutdown complete")
}

func loadTables(cfg *config.Config) (service.Tables, error) {
	tables := service.Tables{
		Patterns:  patterns.Default(),
		Catalogue: variants.Default(),
	}

	if cfg.PatternsFile != "" {
		pats, err := patterns.LoadFile(cfg.PatternsFile)
		if err != nil {
			return tables, err
		}
		tables.Patterns = pats
	}
	if cfg.CatalogueFile != "" {
		catalogue, err := variants.LoadFile(cfg.CatalogueFile)
		if err != nil {
			return tables, err
		}
		tables.Catalogue = catalogue
	}
	return tables, nil
}
