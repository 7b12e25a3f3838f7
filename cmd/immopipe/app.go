package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"immopipe/config"
	"immopipe/internal/client"
	"immopipe/internal/database"
	"immopipe/internal/dpe"
	"immopipe/internal/estimator"
	"immopipe/internal/geocoding"
	"immopipe/internal/models"
	"immopipe/internal/notify"
	"immopipe/internal/pipeline"
	"immopipe/internal/processor"
	"immopipe/internal/store"
)

// app holds the pieces every command needs: configuration, logging and the
// dataset.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  *store.Store
}

// components holds the network-facing pipeline pieces. Commands that only
// read or mutate the dataset never build these.
type components struct {
	cache     *database.Cache
	engine    *processor.Engine
	estimator *estimator.Estimator
	notifier  *notify.Service
	runner    *pipeline.Runner
	logger    *logrus.Logger
}

func newApp() (*app, error) {
	// A missing .env file is fine, the environment may be set directly.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	st, err := store.New(cfg.Paths.Dataset, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: st}, nil
}

// buildComponents wires the enrichment engine, the estimator and the runner.
// A broken lookup cache or a missing reference-price file degrades the run
// instead of blocking it.
func (a *app) buildComponents() *components {
	cache := a.openCache()

	var proxy *client.ProxyConfig
	if a.cfg.Proxy.Enabled && a.cfg.Proxy.Username != "" {
		proxy = &client.ProxyConfig{
			Host:     a.cfg.Proxy.Host,
			Port:     a.cfg.Proxy.Port,
			Username: a.cfg.Proxy.Username,
			Password: a.cfg.Proxy.Password,
		}
		a.logger.Info("Rotating proxy enabled for outbound requests")
	}

	httpClient := client.New(client.Options{
		MinDelay:   a.cfg.Client.MinDelay,
		MaxRetries: a.cfg.Client.MaxRetries,
		RetryDelay: a.cfg.Client.RetryDelay,
		MaxDelay:   a.cfg.Client.MaxDelay,
		Timeout:    a.cfg.Client.Timeout,
		Proxy:      proxy,
		Logger:     a.logger,
	})

	geocoder := geocoding.NewService(httpClient, cache, a.logger)
	searcher := dpe.NewService(httpClient, cache, a.logger)

	engine := processor.NewEngine(geocoder, searcher, a.store, processor.Options{
		MaxInFlight:   a.cfg.Pipeline.MaxConcurrent,
		SaveBatchSize: a.cfg.Pipeline.SaveBatchSize,
		ResultsBuffer: a.cfg.Pipeline.ResultsBuffer,
		ProgressEvery: a.cfg.Pipeline.ProgressInterval,
		Logger:        a.logger,
	})

	est := estimator.New(a.loadReferencePrices(), a.cfg.Estimator.AnchorYear, a.logger)

	notifier := notify.NewService(notify.Options{
		Enabled:  a.cfg.Telegram.Enabled,
		BotToken: a.cfg.Telegram.BotToken,
		ChatID:   a.cfg.Telegram.ChatID,
		Logger:   a.logger,
	})

	runner := pipeline.NewRunner(a.store, engine, est, notifier, a.logger)
	return &components{
		cache:     cache,
		engine:    engine,
		estimator: est,
		notifier:  notifier,
		runner:    runner,
		logger:    a.logger,
	}
}

func (a *app) openCache() *database.Cache {
	path := a.cfg.Paths.CacheDB
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		a.logger.WithError(err).Warn("Cannot create cache directory, running without lookup cache")
		return nil
	}
	cache, err := database.New(path)
	if err != nil {
		a.logger.WithError(err).Warn("Cannot open lookup cache, running without it")
		return nil
	}
	if err := cache.RunMigrations(); err != nil {
		a.logger.WithError(err).Warn("Cannot migrate lookup cache, running without it")
		cache.Close()
		return nil
	}
	return cache
}

func (a *app) loadReferencePrices() []models.ReferencePrice {
	prices, err := config.LoadReferencePrices(a.cfg.Paths.ReferencePrices)
	if err != nil {
		a.logger.WithError(err).Warn("Reference prices unavailable, estimates will lack an anchor")
		return nil
	}
	return prices
}

func (c *components) Close() {
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close lookup cache")
		}
	}
}
