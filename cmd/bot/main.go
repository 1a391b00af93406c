package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/nc-ai-qqbot-go/internal/config"
	"github.com/nc-ai-qqbot-go/internal/handlers"
	"github.com/nc-ai-qqbot-go/internal/i18n"
	"github.com/nc-ai-qqbot-go/internal/middleware"
	"github.com/nc-ai-qqbot-go/internal/onebot"
	"github.com/nc-ai-qqbot-go/internal/services/ai"
	"github.com/nc-ai-qqbot-go/internal/services/history"
	"github.com/nc-ai-qqbot-go/internal/services/storage"
	"github.com/nc-ai-qqbot-go/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// It's okay if .env doesn't exist
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting QQ AI bot...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	if err := storageManager.Seed(ctx, cfg.Groups); err != nil {
		log.WithError(err).Fatal("Failed to seed group settings")
	}

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	metrics := middleware.NewMetrics()
	gate := middleware.NewGate(&cfg.Rate, log)
	filter := middleware.NewContentFilter(&cfg.Access, log)
	perms := middleware.NewPermissions(&cfg.Access)
	historyStore := history.NewStore(&cfg.Storage.Memory, log)
	responder := ai.NewResponder(&cfg.AI, historyStore, localizer, metrics, log)

	// The client delivers events to the pipeline and is also the sender
	// the pipeline replies through.
	var pipeline *handlers.Pipeline
	client := onebot.NewClient(cfg.Bot, func(ctx context.Context, ev *onebot.Event) {
		pipeline.HandleEvent(ctx, ev)
	}, log)

	commands := handlers.NewCommandHandler(cfg, client, gate, perms, historyStore, storageManager, localizer, metrics, log)
	pipeline = handlers.NewPipeline(cfg, client, commands, gate, filter, historyStore, responder, storageManager, localizer, metrics, log)

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	if err := client.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start OneBot client")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	client.Stop()
	cancel()

	// Give in-flight handlers time to finish
	time.Sleep(2 * time.Second)

	log.Info("Bot stopped")
}
