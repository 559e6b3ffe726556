package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trackify/handler"
	"trackify/internal/config"
	"trackify/internal/integrations/gemini"
	"trackify/internal/integrations/mono"
	"trackify/internal/integrations/paramstore"
	"trackify/internal/repository"
	"trackify/internal/security"
	"trackify/internal/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	secrets, err := resolveSecrets(ctx, cfg)
	if err != nil {
		return err
	}

	// ---- Persistence ----
	store, err := repository.OpenPostgres(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Assistant.RowLimit)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	schema, err := store.SchemaDescription(ctx)
	if err != nil {
		return err
	}

	threads, err := buildThreadStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	// ---- Collaborators ----
	cipher, err := security.NewCipher(secrets.EncryptionKey)
	if err != nil {
		return err
	}
	llm, err := gemini.NewClient(ctx, secrets.GeminiAPIKey, cfg.Assistant.Model)
	if err != nil {
		return err
	}
	aggregator, err := mono.NewClient(secrets.MonoSecretKey, mono.WithBaseURL(cfg.Mono.BaseURL))
	if err != nil {
		return err
	}

	// ---- Services ----
	assistant, err := usecase.NewAssistant(llm, store, threads, cipher, schema, log.Named("assistant"))
	if err != nil {
		return err
	}
	accounts, err := usecase.NewAccountService(aggregator, store, store, cipher, log.Named("accounts"))
	if err != nil {
		return err
	}
	insights, err := usecase.NewInsightService(store, store, log.Named("insights"))
	if err != nil {
		return err
	}

	h, err := handler.New(
		timedAssistant{inner: assistant, budget: cfg.Assistant.TurnBudget},
		accounts, insights, store, secrets.MonoWebhookSecret, log.Named("http"))
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-stop.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// timedAssistant bounds each conversational turn with the configured budget so
// a stalled model call cannot hold a request open indefinitely.
type timedAssistant struct {
	inner  *usecase.Assistant
	budget time.Duration
}

func (t timedAssistant) Answer(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error) {
	if t.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.budget)
		defer cancel()
	}
	return t.inner.Answer(ctx, in)
}

// resolveSecrets loads secret material from SSM when a parameter prefix is
// configured, from the environment otherwise.
func resolveSecrets(ctx context.Context, cfg config.Config) (paramstore.Secrets, error) {
	if cfg.AWS.ParamPrefix != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return paramstore.Secrets{}, fmt.Errorf("load AWS config: %w", err)
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return paramstore.Secrets{}, err
		}
		return paramstore.LoadSecrets(ctx, ps, cfg.AWS.ParamPrefix)
	}

	secrets := paramstore.Secrets{
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		EncryptionKey:     os.Getenv("ENCRYPTION_KEY"),
		MonoSecretKey:     os.Getenv("MONO_SECRET_KEY"),
		MonoWebhookSecret: os.Getenv("MONO_WEBHOOK_SECRET"),
	}
	if secrets.GeminiAPIKey == "" || secrets.EncryptionKey == "" || secrets.MonoSecretKey == "" {
		return paramstore.Secrets{}, errors.New("missing secrets: set TRACKIFY_PARAM_PREFIX or GEMINI_API_KEY, ENCRYPTION_KEY and MONO_SECRET_KEY")
	}
	return secrets, nil
}

// buildThreadStore selects DynamoDB when a table is configured, in-process
// memory otherwise.
func buildThreadStore(ctx context.Context, cfg config.Config, log *zap.Logger) (usecase.ThreadStore, error) {
	if cfg.AWS.ThreadTable == "" {
		log.Warn("no thread table configured, conversation state is in-process only")
		return usecase.NewMemoryThreadStore(), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return repository.NewThreads(awsdynamodb.NewFromConfig(awsCfg), cfg.AWS.ThreadTable)
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if cfg.Development {
		c := zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(level)
		return c.Build()
	}
	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(level)
	return c.Build()
}
