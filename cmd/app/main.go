package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"macroferro-bot/internal/analyzer"
	"macroferro-bot/internal/cache"
	"macroferro-bot/internal/cart"
	"macroferro-bot/internal/chatapi"
	"macroferro-bot/internal/checkout"
	"macroferro-bot/internal/config"
	"macroferro-bot/internal/embedding"
	"macroferro-bot/internal/httpserver"
	"macroferro-bot/internal/invoice"
	"macroferro-bot/internal/llm"
	"macroferro-bot/internal/logging"
	"macroferro-bot/internal/metrics"
	"macroferro-bot/internal/orchestrator"
	"macroferro-bot/internal/product"
	"macroferro-bot/internal/repo"
	"macroferro-bot/internal/session"
	"macroferro-bot/internal/vectorindex"
	"macroferro-bot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting macroferro-bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry("macroferro")

	store, err := repo.New(ctx, cfg.DatabaseURL, cfg.DBSchema, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	vectorIndex, err := vectorindex.New(vectorindex.Config{
		Host:       cfg.QdrantHost,
		Port:       cfg.QdrantPort,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.VectorCollection,
	}, logger)
	if err != nil {
		return fmt.Errorf("init vector index: %w", err)
	}
	defer vectorIndex.Close()

	llmClient := llm.New(cfg.OpenAIAPIKey, cfg.ChatModel, cfg.EmbeddingModel, logger, metricRegistry)
	embeddingService := embedding.New(llmClient, redisClient)
	sessions := session.New(redisClient)
	productAnalyzer := analyzer.New(llmClient, logger)

	productHandler := product.New(embeddingService, vectorIndex, store, sessions, llmClient, logger)
	cartHandler := cart.New(productHandler, store, sessions)

	mailer, err := invoice.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SenderEmail)
	if err != nil {
		return fmt.Errorf("init smtp mailer: %w", err)
	}
	invoiceDispatcher := invoice.New(store, mailer, 2, logger, metricRegistry)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		invoiceDispatcher.Shutdown(shutdownCtx)
	}()

	checkoutHandler := checkout.New(store, sessions, invoiceDispatcher)

	transport := chatapi.New(chatapi.Config{
		BaseURL: cfg.ChatAPIBaseURL,
		Token:   cfg.ChatBotToken,
	}, logger, metricRegistry)

	orch := orchestrator.New(sessions, productAnalyzer, productHandler, cartHandler, checkoutHandler, transport, logger, metricRegistry)
	webhookHandler := orchestrator.NewWebhookHandler(logger, metricRegistry, orch, cfg.WebhookSecret)

	httpSrv := httpserver.New(cfg.HTTPAddr, logger, metricRegistry, httpserver.Handlers{
		Webhook: webhookHandler,
	}, cfg.HTTPBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
