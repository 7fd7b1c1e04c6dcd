package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/aggregation"
	customLogger "github.com/thirdweb-dev/ledgersync/internal/log"
	"github.com/thirdweb-dev/ledgersync/internal/publisher"
	"github.com/thirdweb-dev/ledgersync/internal/retention"
	"github.com/thirdweb-dev/ledgersync/internal/source"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
	"github.com/thirdweb-dev/ledgersync/internal/tiering"
)

const (
	DEFAULT_TIERING_INTERVAL     = 10 * 60 * 1000
	DEFAULT_AGGREGATION_INTERVAL = 60 * 1000
	DEFAULT_RETENTION_INTERVAL   = 60 * 60 * 1000
)

// Orchestrator runs every pipeline of every enabled network in its own
// goroutine: ingestion, tiering, aggregation and retention.
type Orchestrator struct {
	storage            storage.IStorage
	publisher          *publisher.Multi
	networks           []config.NetworkConfig
	tieringEnabled     bool
	aggregationEnabled bool
	retentionEnabled   bool
	cancel             context.CancelFunc
}

// NewOrchestrator wraps the checkpoint store so that every advance is
// published to the configured sinks.
func NewOrchestrator(store storage.IStorage, pub *publisher.Multi) *Orchestrator {
	if pub != nil {
		store.Checkpoints = publisher.NewPublishingCheckpointStore(store.Checkpoints, pub)
	}

	networks := make([]config.NetworkConfig, 0, len(config.Cfg.Networks))
	for _, n := range config.Cfg.Networks {
		if n.Enabled {
			n.ApplyFamilyDefaults()
			networks = append(networks, n)
		}
	}

	return &Orchestrator{
		storage:            store,
		publisher:          pub,
		networks:           networks,
		tieringEnabled:     config.Cfg.Tiering.Enabled,
		aggregationEnabled: config.Cfg.Aggregation.Enabled,
		retentionEnabled:   config.Cfg.Retention.Enabled,
	}
}

func (o *Orchestrator) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	o.cancel = cancel

	var wg sync.WaitGroup

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Msgf("Received signal %v, initiating graceful shutdown", sig)
			o.cancel()
		case <-ctx.Done():
		}
	}()

	if len(o.networks) == 0 {
		log.Warn().Msg("No enabled networks configured")
	}

	tier := tiering.NewManager(o.storage, config.Cfg.Tiering)
	aggregator := aggregation.NewEngine(o.storage)
	reaper := retention.NewReaper(o.storage, config.Cfg.Retention)

	for _, network := range o.networks {
		network := network

		ingester, err := NewIngester(network, o.storage, func(ctx context.Context) (source.ISource, error) {
			return source.New(ctx, network)
		}, WithIngesterPublisher(o.publisher))
		if err != nil {
			log.Error().Err(err).Str("network", network.Name).Msg("Failed to create ingester")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				isolate("ingester", network.Name, func() { ingester.Start(ctx) })
				if err := sleepContext(ctx, ingester.backoff.Cap()); err != nil {
					return
				}
			}
		}()

		if o.tieringEnabled {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runPeriodically(ctx, "tiering", network.Name, intervalOrDefault(config.Cfg.Tiering.Interval, DEFAULT_TIERING_INTERVAL), func(ctx context.Context) error {
					_, err := tier.Sweep(ctx, network)
					return err
				})
			}()
		}

		if o.aggregationEnabled {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runPeriodically(ctx, "aggregation", network.Name, intervalOrDefault(config.Cfg.Aggregation.Interval, DEFAULT_AGGREGATION_INTERVAL), func(ctx context.Context) error {
					for {
						res, err := aggregator.Refresh(ctx, network)
						if err != nil || res.UpToDate || ctx.Err() != nil {
							return err
						}
					}
				})
			}()
		}

		if o.retentionEnabled {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runPeriodically(ctx, "retention", network.Name, intervalOrDefault(config.Cfg.Retention.Interval, DEFAULT_RETENTION_INTERVAL), func(ctx context.Context) error {
					_, err := reaper.Reap(ctx, network)
					return err
				})
			}()
		}
	}

	wg.Wait()
	log.Info().Msg("Orchestrator stopped")
}

func (o *Orchestrator) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
}

// runPeriodically calls fn on every tick until ctx is done. Errors are
// logged and never stop the loop.
func runPeriodically(ctx context.Context, component string, network string, interval time.Duration, fn func(ctx context.Context) error) {
	logger := customLogger.ForNetwork(component, network)
	logger.Debug().Msgf("%s running every %s", component, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		isolate(component, network, func() {
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msgf("%s run failed", component)
			}
		})
		select {
		case <-ctx.Done():
			logger.Debug().Msgf("%s shutting down", component)
			return
		case <-ticker.C:
		}
	}
}

// isolate keeps a panic in one network's pipeline from taking down the others
func isolate(component string, network string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger := customLogger.ForNetwork(component, network)
			logger.WithLevel(zerolog.PanicLevel).Interface("panic", r).Msg("Recovered from panic")
		}
	}()
	fn()
}

func intervalOrDefault(ms int, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}
