package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"order-bot/handler"
	"order-bot/internal/actions"
	"order-bot/internal/integrations/openai"
	"order-bot/internal/integrations/paramstore"
	"order-bot/internal/metrics"
	"order-bot/internal/rails"
	"order-bot/internal/repository"
	"order-bot/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()

	if err := paramstore.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	})))

	// ---- Configuration (read only here) ----
	configPath := envOr("RAILS_CONFIG_PATH", "./config")
	port := envOr("PORT", "8000")
	paramPrefix := strings.TrimSpace(os.Getenv("PARAM_PREFIX"))
	stateTable := strings.TrimSpace(os.Getenv("STATE_TABLE"))
	baseURL := os.Getenv("OPENAI_BASE_URL")

	railsCfg, err := rails.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load rails config", "path", configPath, "err", err)
		os.Exit(1)
	}
	model := railsCfg.MainModel()
	if baseURL == "" {
		baseURL = model.Parameters.BaseURL
	}

	// ---- AWS SDK config, only when an AWS-backed feature is enabled ----
	var awsCfg aws.Config
	if paramPrefix != "" || stateTable != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
	}

	// ---- Clients ----
	var (
		keys    openai.Getter
		keyName string
	)
	if paramPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		keys, keyName = ssmClient, paramstore.TokenParameter(paramPrefix)
	} else {
		mustEnv("OPENAI_API_KEY")
		keys, keyName = paramstore.NewEnv(), "OPENAI_API_KEY"
	}

	openaiClient, err := openai.NewClient(keys, keyName,
		openai.WithBaseURL(baseURL),
		openai.WithTimeout(model.Parameters.RequestTimeout),
	)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Engine ----
	registry := actions.NewRegistry()
	if err := actions.RegisterDefaults(registry); err != nil {
		slog.Error("failed to register actions", "err", err)
		os.Exit(1)
	}
	m := metrics.New()
	engine, err := rails.New(railsCfg, openaiClient, registry,
		rails.WithActionObserver(m),
		rails.WithLogger(slog.Default()),
	)
	if err != nil {
		slog.Error("failed to create rails engine", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	chatOpts := []usecase.Option{
		usecase.WithObserver(m),
		usecase.WithLogger(slog.Default()),
	}
	if stateTable != "" {
		stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), stateTable)
		if err != nil {
			slog.Error("failed to create state client", "err", err)
			os.Exit(1)
		}
		chatOpts = append(chatOpts, usecase.WithRecorder(stateClient))
	}
	chatService, err := usecase.NewChatService(engine, chatOpts...)
	if err != nil {
		slog.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService,
		handler.WithLogger(slog.Default()),
		handler.WithMetrics(m, m.Handler()),
	)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(h.Handle)
		return
	}
	serve(h.Routes(), net.JoinHostPort("0.0.0.0", port))
}

func serve(routes http.Handler, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-stop:
		slog.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("graceful shutdown failed", "err", err)
		}
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func logLevel(v string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return slog.LevelInfo
	}
	return level
}
