package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reportgen/reportgen/internal/api"
	"github.com/reportgen/reportgen/internal/api/uistatic"
	"github.com/reportgen/reportgen/internal/archive"
	"github.com/reportgen/reportgen/internal/auth"
	"github.com/reportgen/reportgen/internal/config"
	"github.com/reportgen/reportgen/internal/database"
	"github.com/reportgen/reportgen/internal/nl2sql"
	"github.com/reportgen/reportgen/internal/nl2sql/bedrock"
	"github.com/reportgen/reportgen/internal/observability"
	"github.com/reportgen/reportgen/internal/query"
	"github.com/reportgen/reportgen/internal/report"
	"github.com/reportgen/reportgen/internal/schema"
	"github.com/reportgen/reportgen/internal/secrets"
	"github.com/reportgen/reportgen/internal/secrets/awssm"
	s3store "github.com/reportgen/reportgen/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("reportgen-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx := context.Background()

	credentials, err := newCredentialsProvider(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize secrets provider", slog.Any("error", err))
		os.Exit(1)
	}
	dialer := &database.Dialer{
		Driver:      cfg.Database.Driver,
		SSLMode:     cfg.Database.SSLMode,
		Credentials: credentials,
	}

	translator, err := newTranslator(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize query translator", slog.Any("error", err))
		os.Exit(1)
	}

	service := &report.Service{
		Connector:  dialer,
		Metadata:   schema.Introspector{SchemaName: cfg.Database.SchemaName},
		Translator: translator,
		Executor: query.Executor{
			RowLimit: cfg.Database.RowLimit,
			Timeout:  cfg.Database.QueryTimeout,
		},
		Logger:         logger,
		Engine:         cfg.Database.Engine,
		SchemaName:     cfg.Database.SchemaName,
		ModelProvider:  cfg.AI.Provider,
		VerifyReadOnly: cfg.Guard.ParseSQL,
	}

	readiness := []api.ReadinessCheck{dialer.HealthCheck}
	deps := api.Dependencies{
		Logger:            logger,
		Reports:           service,
		UI:                uistatic.Handler(),
		DependencyTimeout: 5 * time.Second,
	}

	if cfg.Archive.Enabled {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.Archive.Endpoint,
			Region:           cfg.Archive.Region,
			Bucket:           cfg.Archive.Bucket,
			AccessKeyID:      cfg.Archive.AccessKeyID,
			SecretAccessKey:  cfg.Archive.SecretAccessKey,
			UseSSL:           cfg.Archive.UseSSL,
			Prefix:           cfg.Archive.Prefix,
			AutoCreateBucket: cfg.Archive.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize archive store", slog.Any("error", err))
			os.Exit(1)
		}
		archiver := &archive.Archiver{Store: store}
		service.Archiver = archiver
		deps.Archive = archiver
		readiness = append(readiness, store.HealthCheck)
	}
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	if err := service.Validate(); err != nil {
		logger.Error("invalid report service", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		if validator.Len() == 0 {
			logger.Warn("auth is required but no static keys are configured; every protected request will be rejected")
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator, auth.RoleReportReader)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("db_driver", cfg.Database.Driver),
			slog.String("ai_provider", cfg.AI.Provider),
			slog.Bool("archive", cfg.Archive.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func newCredentialsProvider(ctx context.Context, cfg config.Config) (secrets.Provider, error) {
	switch cfg.Secrets.Provider {
	case config.SecretsProviderAWS:
		return awssm.New(ctx, awssm.Config{
			SecretID: cfg.Secrets.SecretID,
			Region:   cfg.Secrets.Region,
			Endpoint: cfg.Secrets.Endpoint,
		})
	case config.SecretsProviderStatic:
		return secrets.Static{DSN: cfg.Database.DSN}, nil
	default:
		return nil, fmt.Errorf("unsupported secrets provider %q", cfg.Secrets.Provider)
	}
}

func newTranslator(ctx context.Context, cfg config.Config) (nl2sql.Translator, error) {
	switch cfg.AI.Provider {
	case config.AIProviderBedrock:
		return bedrock.New(ctx, bedrock.Config{
			Region:      cfg.AI.Region,
			ModelID:     cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			TopP:        cfg.AI.TopP,
			TopK:        cfg.AI.TopK,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
		})
	case config.AIProviderOpenAI:
		return nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			TopP:        cfg.AI.TopP,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.AI.Provider)
	}
}
