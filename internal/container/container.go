// Package container wires the application dependency graph: ensemble
// weights, the adapter registry, client configuration, observers, the
// engine, and the HTTP boundary.
package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/verilens/detection-engine/internal/adapter"
	"github.com/verilens/detection-engine/internal/clientcfg"
	"github.com/verilens/detection-engine/internal/config"
	"github.com/verilens/detection-engine/internal/dispatch"
	"github.com/verilens/detection-engine/internal/engine"
	"github.com/verilens/detection-engine/internal/ensemble"
	"github.com/verilens/detection-engine/internal/logger"
	"github.com/verilens/detection-engine/internal/observer"
	"github.com/verilens/detection-engine/internal/storage"
	"github.com/verilens/detection-engine/internal/transport"
)

// Container holds all application dependencies
type Container struct {
	config    *config.Config
	weights   *ensemble.WeightProvider
	registry  *adapter.Registry
	clients   clientcfg.Provider
	publisher *observer.EventPublisher
	engine    *engine.Engine
	handler   http.Handler

	drainStop chan struct{}
	drainDone chan struct{}
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	weights, err := buildWeightProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load ensemble weights: %w", err)
	}

	registry := adapter.NewRegistry(cfg.AdapterTimeout)
	clients := buildClientProvider(cfg)

	publisher := observer.NewEventPublisher()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(observer.NewPrometheusObserver())
	if cfg.FatalAlertThreshold > 0 {
		publisher.Subscribe(observer.NewFatalAlertObserver(cfg.FatalAlertThreshold, cfg.FatalAlertWindow))
	}

	eng := engine.New(cfg, registry, weights, clients, publisher)

	fetcher, err := buildSourceFetcher(cfg)
	if err != nil {
		weights.Close()
		return nil, err
	}
	handler := transport.NewHandler(eng, fetcher, cfg)

	c := &Container{
		config:    cfg,
		weights:   weights,
		registry:  registry,
		clients:   clients,
		publisher: publisher,
		engine:    eng,
		handler:   handler,
		drainStop: make(chan struct{}),
		drainDone: make(chan struct{}),
	}
	go c.drainDeadLetters()
	return c, nil
}

// Start launches the engine worker pool.
func (c *Container) Start() {
	c.engine.Start()
}

// Stop drains the engine and flushes the dead-letter drain, bounded by ctx.
func (c *Container) Stop(ctx context.Context) error {
	err := c.engine.Stop(ctx)
	close(c.drainStop)
	<-c.drainDone
	return err
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Engine returns the detection engine
func (c *Container) Engine() *engine.Engine {
	return c.engine
}

// drainDeadLetters logs every dead-letter record so exhausted requests are
// never silently lost. Records already buffered at shutdown are flushed
// before the drain exits.
func (c *Container) drainDeadLetters() {
	defer close(c.drainDone)
	letters := c.engine.DeadLetters()
	for {
		select {
		case record := <-letters:
			logDeadLetter(record)
		case <-c.drainStop:
			for {
				select {
				case record := <-letters:
					logDeadLetter(record)
				default:
					return
				}
			}
		}
	}
}

func logDeadLetter(record dispatch.DeadLetter) {
	logger.WithFields(logrus.Fields{
		"request_id": record.ID,
		"client_id":  record.ClientID,
		"priority":   record.Priority.String(),
		"attempts":   record.Attempts,
		"last_error": record.LastErr,
	}).Error("Analysis dead-lettered after exhausting retries")
}

func buildWeightProvider(cfg *config.Config) (*ensemble.WeightProvider, error) {
	if cfg.WeightsFile == "" {
		return ensemble.NewWeightProvider(), nil
	}
	return ensemble.NewWeightProviderFromFile(cfg.WeightsFile)
}

// buildSourceFetcher assembles the image source backends. Fetched bytes obey
// the same hard size cap as inline uploads.
func buildSourceFetcher(cfg *config.Config) (storage.SourceFetcher, error) {
	httpSource := storage.NewHTTPSource(cfg.FetchTimeout, cfg.MaxImageBytes)
	if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" {
		return httpSource, nil
	}

	azureSource, err := storage.NewAzureSource(cfg.AzureAccountName, cfg.AzureAccountKey, cfg.MaxImageBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to build azure source: %w", err)
	}
	return storage.NewSourceRouter(httpSource, azureSource), nil
}

// buildClientProvider selects the client configuration backend. Redis being
// unreachable is not fatal: lookups degrade to per-client defaults.
func buildClientProvider(cfg *config.Config) clientcfg.Provider {
	if cfg.RedisAddr == "" {
		return clientcfg.NewMemoryProvider()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	provider := clientcfg.NewRedisProvider(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.Ping(ctx); err != nil {
		logger.WithError(err).Warn("Client config Redis unreachable at startup, lookups fall back to defaults")
	}
	return provider
}
