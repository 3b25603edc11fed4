package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"betstream/auth"
	"betstream/config"
	"betstream/internal/cache"
	"betstream/internal/channel"
	"betstream/internal/session"
	"betstream/logger"
	"betstream/models"
	"betstream/stream"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Betstream.Name,
		"version":     cfg.Betstream.Version,
		"environment": config.AppEnvironment(),
		"endpoint":    cfg.Stream.Endpoint,
	}).Info("starting betstream")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Logging.DashboardName)
	}
	logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)

	channels := channel.NewChannels(cfg.Channels.DecodedBuffer, cfg.Channels.RawBuffer)

	proto := session.New(session.Config{
		AppKey:              cfg.Auth.AppKey,
		HeartbeatMs:         cfg.Subscription.HeartbeatMs,
		ConflateMs:          cfg.Subscription.ConflateMs,
		SegmentationEnabled: cfg.Subscription.SegmentationEnabled,
		MarketFilter: &models.MarketFilter{
			MarketIDs:    cfg.Subscription.MarketIDs,
			EventTypeIDs: cfg.Subscription.EventTypeIDs,
			CountryCodes: cfg.Subscription.CountryCodes,
			MarketTypes:  cfg.Subscription.MarketTypes,
		},
		MarketDataFilter: &models.MarketDataFilter{
			LadderLevels: cfg.Subscription.LadderLevels,
			Fields:       cfg.Subscription.Fields,
		},
		OrderFilter: orderFilter(cfg),
	})

	var tokens auth.TokenProvider
	if cfg.Auth.SessionToken != "" {
		tokens = auth.Static(cfg.Auth.SessionToken)
	} else {
		tokens = auth.Env(cfg.Auth.SessionTokenEnv)
	}

	client := stream.NewClient(cfg, proto, tokens, channels)
	markets := cache.NewMarketCache()
	orders := cache.NewOrderCache()

	var wg sync.WaitGroup

	runErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr <- client.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		consume(ctx, channels, markets, orders)
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-runErr:
		if err != nil {
			log.WithError(err).Error("stream terminated")
		} else {
			log.Info("stream finished")
		}
	}

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	stats := markets.Stats()
	log.WithFields(logger.Fields{
		"markets_tracked": stats.MarketsTracked,
		"images_applied":  stats.ImagesApplied,
		"deltas_applied":  stats.DeltasApplied,
	}).Info("betstream stopped")
}

func orderFilter(cfg *config.Config) *models.OrderFilter {
	if !cfg.Subscription.Orders.Enabled {
		return nil
	}
	include := cfg.Subscription.Orders.IncludeOverallPosition
	return &models.OrderFilter{IncludeOverallPosition: &include}
}

// consume folds the decoded stream into the caches in wire order. A delta
// before an image means the caches can no longer be trusted; it is logged as
// an error and the message skipped, leaving recovery to the next image.
func consume(ctx context.Context, channels *channel.Channels, markets *cache.MarketCache, orders *cache.OrderCache) {
	log := logger.GetLogger().WithComponent("cache_consumer")
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-channels.Decoded:
			if !ok {
				return
			}
			switch msg.Op {
			case models.OpMarketChange:
				if err := markets.Apply(msg); err != nil {
					log.WithError(err).Error("failed to apply market change")
					continue
				}
				logger.IncrementMarketApply()
			case models.OpOrderChange:
				if err := orders.Apply(msg); err != nil {
					log.WithError(err).Error("failed to apply order change")
					continue
				}
				logger.IncrementOrderApply()
			}
		}
	}
}
