package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rawblock/mule-engine/internal/alerts"
	"github.com/rawblock/mule-engine/internal/api"
	"github.com/rawblock/mule-engine/internal/cache"
	"github.com/rawblock/mule-engine/internal/config"
	"github.com/rawblock/mule-engine/internal/db"
	"github.com/rawblock/mule-engine/internal/events"
	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/internal/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: environment variables)")
	flag.Parse()

	// A missing .env is normal outside local development
	_ = godotenv.Load()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.New("info").Fatal("failed to load configuration", zap.Error(err))
	}

	log := logger.New(cfg.LogLevel)
	defer log.Sync() //nolint:errcheck
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("starting mule detection engine",
		zap.String("port", cfg.Server.Port),
		zap.Any("engine", cfg.Engine))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{
		Analyzer: heuristics.NewAnalyzer(cfg.Engine, log),
		Server:   cfg.Server,
		Logger:   log,
	}

	// Every backend is optional: the engine keeps serving without it.
	if cfg.Database.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		store, err := db.Connect(connectCtx, cfg.Database.URL, cfg.Database.MaxConns, log)
		cancel()
		if err != nil {
			log.Warn("failed to connect to PostgreSQL, continuing without session history", zap.Error(err))
		} else {
			defer store.Close()
			if err := store.InitSchema(ctx); err != nil {
				log.Warn("schema init failed", zap.Error(err))
			}
			deps.Sessions = store
		}
	}

	if cfg.Redis.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := cache.Connect(connectCtx, cfg.Redis.URL, cfg.Redis.TTL)
		cancel()
		if err != nil {
			log.Warn("failed to connect to Redis, continuing without result cache", zap.Error(err))
		} else {
			defer rc.Close()
			deps.Cache = rc
			log.Info("result cache enabled", zap.Duration("ttl", cfg.Redis.TTL))
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, nil)
		if err != nil {
			log.Warn("failed to connect to Kafka, continuing without event stream", zap.Error(err))
		} else {
			defer sink.Close()
			deps.Events = sink
			log.Info("publishing analysis events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
		}
	}

	wsHub := api.NewHub(log)
	go wsHub.Run()
	deps.Hub = wsHub

	alertManager := alerts.NewAlertManager(cfg.Alerts.MinSeverity, func(a alerts.Alert) {
		wsHub.Publish(api.MessageRingAlert, a)
	}, log)
	for _, wh := range cfg.Alerts.Webhooks {
		minSeverity := wh.MinSeverity
		if minSeverity == "" {
			minSeverity = cfg.Alerts.MinSeverity
		}
		alertManager.RegisterWebhook(wh.Name, wh.URL, minSeverity, wh.Headers)
	}
	deps.Alerts = alertManager

	router, stopRouter := api.SetupRouter(deps)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("engine listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	alertManager.Wait()
	stopRouter()
	wsHub.Close()
}
