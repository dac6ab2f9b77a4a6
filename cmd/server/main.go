package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inventory-decision-engine/config"
	"inventory-decision-engine/internal/api"
	"inventory-decision-engine/internal/broker"
	"inventory-decision-engine/internal/redisclient"
	"inventory-decision-engine/internal/service"
	"inventory-decision-engine/internal/signals"
	"inventory-decision-engine/internal/store"
	"inventory-decision-engine/internal/util"
	"inventory-decision-engine/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// repository is everything the engine reads and writes; both store backends
// satisfy it
type repository interface {
	service.SalesLedger
	service.ProductCatalog
	service.InteractionLog
	service.FreezeSessionRepository
	service.BlockedActionLog
	service.CashPositionSource
	api.Repository
	ListTenants(ctx context.Context) ([]string, error)
}

// logReportPublisher stands in for the notifier when Kafka is disabled
type logReportPublisher struct {
	logger *zap.Logger
}

func (p logReportPublisher) PublishPostMortemCompleted(_ context.Context, r *service.PostMortemReport) error {
	p.logger.Info("Post-mortem ready",
		zap.String("tenant_id", r.TenantID),
		zap.String("session_id", r.SessionID),
		zap.String("opportunity_cost", r.OpportunityCost.StringFixed(2)),
		zap.String("recommendation", r.Recommendation))
	return nil
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting inventory decision engine")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	repo, closeRepo := openRepository(cfg, logger)
	defer closeRepo()

	var redisClient *redisclient.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, running without locks and signal cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		}
	}

	kafkaEnabled := len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Brokers[0] != ""
	var publisher *broker.EventPublisher
	if kafkaEnabled {
		guardProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicGuard)
		defer guardProducer.Close()
		actionProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicActions)
		defer actionProducer.Close()
		publisher = broker.NewEventPublisher(guardProducer, actionProducer)
		logger.Info("Kafka producers initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	rules, err := signals.LoadRules(cfg.Signals.RulesPath)
	if err != nil {
		logger.Fatal("Failed to load signal rules", zap.Error(err))
	}
	rulesEngine := signals.NewEngine(rules)
	logger.Info("Signal rules loaded", zap.Int("version", rulesEngine.RulesVersion()))

	var provider signals.ContextProvider = signals.NewCalendarProvider(rules)
	if cfg.Signals.WeatherEndpoint != "" {
		weather := signals.NewHTTPWeatherProvider(cfg.Signals.WeatherEndpoint, cfg.Signals.Timeout)
		provider = signals.NewCompositeProvider(weather, provider)
	}
	if redisClient != nil {
		provider = signals.NewCachedProvider(provider, redisClient, cfg.Signals.CacheTTL)
	}
	signalSource := signals.NewSafeProvider(provider, cfg.Signals.Timeout)

	tracker := service.NewInteractionTracker(repo)
	engine := service.NewSimulationEngine(service.SimulationConfig{
		BaseDecay:         cfg.Engine.BaseDecay,
		HorizonDays:       cfg.Engine.HorizonDays,
		LookbackDays:      cfg.Engine.LookbackDays,
		BoostLookbackDays: cfg.Engine.BoostLookbackDays,
		MaxIterations:     cfg.Engine.MaxIterations,
		DefaultLocale:     cfg.Signals.DefaultLocale,
	}, rulesEngine, signalSource, tracker)

	portfolio := service.NewPortfolioService(repo, repo, engine, service.PortfolioConfig{
		LookbackDays: cfg.Engine.LookbackDays,
		PoolSize:     cfg.Engine.PoolSize,
		LeadTimeDays: cfg.Engine.ReorderLeadTimeDays,
	})

	guardOpts := []service.GuardOption{service.WithCashSource(repo)}
	if redisClient != nil {
		guardOpts = append(guardOpts, service.WithLocker(redisclient.NewTenantLocker(redisClient, cfg.Redis.LockTTL, 5*time.Second)))
	}
	if publisher != nil {
		guardOpts = append(guardOpts,
			service.WithEvents(publisher),
			service.WithScheduler(publisher),
			service.WithExecutor(publisher))
	}
	guard := service.NewLiquidityGuard(repo, repo, service.GuardConfig{
		CCCThresholdDays: cfg.Engine.CCCThresholdDays,
		PostMortemDelay:  cfg.Engine.PostMortemDelay,
	}, guardOpts...)
	registry := service.NewTenantRegistry()
	analyzer := service.NewPostMortemAnalyzer(repo, repo, repo, repo)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var (
		consumer        *broker.Consumer
		reportPublisher worker.ReportPublisher = logReportPublisher{logger: logger}
	)
	if kafkaEnabled {
		consumer = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicGuard, cfg.Kafka.ConsumerGroup)
		reportPublisher = publisher
	}
	postMortemWorker := worker.NewPostMortemWorker(consumer, analyzer, reportPublisher, repo, worker.PostMortemConfig{
		Delay:         cfg.Engine.PostMortemDelay,
		SweepInterval: time.Minute,
	})
	if redisClient != nil {
		postMortemWorker.WithClaimer(redisClient)
	}
	go func() {
		if err := postMortemWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Post-mortem worker error", zap.Error(err))
		}
	}()

	scheduler := worker.NewSimulationScheduler(repo, portfolio, guard, registry, cfg.Engine.SimulationInterval, service.PortfolioOptions{
		Iterations:         cfg.Engine.ScheduledIterations,
		Seed:               int64(cfg.Engine.ScheduledSeed),
		UseExternalSignals: true,
		Locale:             cfg.Signals.DefaultLocale,
	})
	go func() {
		if err := scheduler.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Simulation scheduler error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Dependencies{
		Repository:    repo,
		Portfolio:     portfolio,
		Tracker:       tracker,
		Guard:         guard,
		Registry:      registry,
		Analyzer:      analyzer,
		Rules:         rulesEngine,
		Signals:       signalSource,
		Snapshots:     scheduler,
		LeadTime:      cfg.Engine.ReorderLeadTimeDays,
		BoostLookback: cfg.Engine.BoostLookbackDays,
		Locale:        cfg.Signals.DefaultLocale,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := postMortemWorker.Stop(); err != nil {
		logger.Warn("Error stopping post-mortem worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// openRepository connects the configured store backend
func openRepository(cfg *config.Config, logger *zap.Logger) (repository, func()) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Database connected")

	return db, func() {
		if err := db.Close(); err != nil {
			logger.Warn("Error closing database", zap.Error(err))
		}
	}
}
