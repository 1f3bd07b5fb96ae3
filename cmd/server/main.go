package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"course-bot/config"
	"course-bot/internal/access"
	"course-bot/internal/api"
	"course-bot/internal/assistant"
	"course-bot/internal/bot"
	"course-bot/internal/broker"
	"course-bot/internal/catalog"
	"course-bot/internal/processor"
	"course-bot/internal/redisclient"
	"course-bot/internal/service"
	"course-bot/internal/store"
	"course-bot/internal/store/memory"
	"course-bot/internal/util"
	"course-bot/internal/worker"
)

// ledgerStore is satisfied by both the Postgres and the in-memory store
type ledgerStore interface {
	service.Ledger
	catalog.Seeder
	access.Reader
	assistant.QuotaStore
	bot.LessonReader
	worker.EventLog
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting course bot", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer ledger.Close()

	if err := catalog.Seed(ctx, ledger); err != nil {
		logger.Fatal("Failed to seed catalog", zap.Error(err))
	}

	checks := map[string]api.Pinger{"store": ledger}

	var redisClient *redisclient.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = redisClient
		logger.Info("Redis connected")
	}

	var publisher *broker.EventPublisher
	if cfg.Kafka.Enabled() {
		purchases := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPurchase)
		defer purchases.Close()
		notifications := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
		defer notifications.Close()
		publisher = broker.NewEventPublisher(purchases, notifications)
		logger.Info("Kafka producers initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	registry := processor.NewRegistry(capabilities(cfg))

	client, err := bot.NewClient(cfg.Bot.Token, cfg.Bot.Debug)
	if err != nil {
		logger.Fatal("Failed to connect to Telegram", zap.Error(err))
	}

	render := bot.NewRenderer(bot.ManualConfig{
		PayPalEmail:    cfg.Manual.PayPalEmail,
		WebMoneyWallet: cfg.Manual.WebMoneyWallet,
	}, "RUB")
	notifier := bot.NewNotifier(client.API(), render, cfg.Bot.AdminID, cfg.Bot.ChannelID)

	var enginePublisher service.Publisher
	if publisher != nil {
		enginePublisher = publisher
	}
	engine := service.NewEngine(ledger, registry, notifier, enginePublisher, service.EngineConfig{
		AdminID:        cfg.Bot.AdminID,
		CommissionRate: cfg.Business.CommissionRate,
		ReconcileBatch: cfg.Business.ReconcileBatch,
	})

	gate := access.NewGate(ledger)

	cache, err := assistant.NewLRUCache(cfg.Assistant.CacheSize)
	if err != nil {
		logger.Fatal("Failed to create assistant cache", zap.Error(err))
	}
	ollama := assistant.NewOllamaClient(cfg.Assistant.OllamaURL, cfg.Assistant.Model, cfg.Assistant.Timeout)
	helper := assistant.New(gate, ledger, cache, ollama, ledger, cfg.Assistant.DailyLimit)

	chatBot := bot.New(client.API(), engine, gate, ledger, helper, render, bot.Config{
		BotUsername:    client.Username(),
		CommissionRate: cfg.Business.CommissionRate,
		DailyLimit:     cfg.Assistant.DailyLimit,
	})
	if redisClient != nil {
		chatBot.WithRedis(redisClient, redisClient)
	}
	if err := chatBot.LoadCourses(ctx); err != nil {
		logger.Warn("Failed to load course titles", zap.Error(err))
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Background task stopped", zap.String("task", name), zap.Error(err))
			}
		}()
	}

	var paymentWorker *worker.PaymentWorker
	if cfg.Kafka.Enabled() {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
		paymentWorker = worker.NewPaymentWorker(consumer, engine, ledger)
		run("payment-worker", paymentWorker.Start)
	}

	var locker worker.Locker
	if redisClient != nil {
		locker = redisClient
	}
	if registry.Len() > 0 {
		reconciler := worker.NewReconcileWorker(engine, locker, cfg.Business.ReconcileInterval)
		run("reconcile-worker", reconciler.Start)
	}

	run("telegram", func(ctx context.Context) error {
		return client.Start(ctx, chatBot.HandleUpdate)
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	apiCfg := api.Config{
		Engine:         engine,
		Checks:         checks,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}
	if publisher != nil {
		apiCfg.Publisher = publisher
	}
	if pp, ok := registry.PayPal(); ok {
		apiCfg.PayPal = pp
	}

	router := gin.New()
	api.NewHandler(apiCfg).SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := serveHTTP(srv, stop)

	<-ctx.Done()
	select {
	case err := <-serveErr:
		logger.Error("HTTP server failed", zap.Error(err))
	default:
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	if paymentWorker != nil {
		if err := paymentWorker.Stop(); err != nil {
			logger.Warn("Error stopping payment worker", zap.Error(err))
		}
	}
	wg.Wait()

	logger.Info("Server exited")
}

// serveHTTP runs srv in the background. A listen failure is sent on the
// returned channel and cancels the run context through stop.
func serveHTTP(srv *http.Server, stop context.CancelFunc) <-chan error {
	errc := make(chan error, 1)
	go func() {
		util.GetLogger().Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			stop()
		}
	}()
	return errc
}

func openStore(cfg *config.Config) (ledgerStore, error) {
	logger := util.GetLogger()

	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.New(), nil
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Database connected")
	return db, nil
}

func capabilities(cfg *config.Config) processor.Capabilities {
	caps := processor.Capabilities{
		ReturnBaseURL: cfg.Server.WebhookHost,
		Timeout:       cfg.Business.ProcessorTimeout,
	}
	if cfg.PayPal.ClientID != "" && cfg.PayPal.ClientSecret != "" {
		caps.PayPal = &processor.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			Mode:         cfg.PayPal.Mode,
		}
	}
	if cfg.YooKassa.ShopID != "" && cfg.YooKassa.SecretKey != "" {
		caps.YooKassa = &processor.YooKassaConfig{
			ShopID:    cfg.YooKassa.ShopID,
			SecretKey: cfg.YooKassa.SecretKey,
		}
	}
	return caps
}
