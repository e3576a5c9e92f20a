package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/infrastructure/api"
	"huddle/internal/infrastructure/identity"
	"huddle/pkg/circuitbreaker"
	"huddle/pkg/config"
	"huddle/pkg/logger"
	"huddle/pkg/retry"
	"huddle/pkg/tracing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// app holds what every command needs: config, logging, tracing and a
// logged-in REST client.
type app struct {
	cfg        *config.Config
	zlog       *zap.Logger
	log        *zap.SugaredLogger
	tracer     *tracing.TracerProvider
	api        *api.Client
	user       domain.User
	instanceID string
}

func newApp(ctx context.Context) (*app, error) {
	envErr := godotenv.Load(flagEnvFile)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagIDToken != "" {
		cfg.Client.IDToken = flagIDToken
	}

	zlog, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	instanceID := uuid.NewString()
	log := zlog.Sugar().With("instance_id", instanceID)
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warnw("Failed to load env file", "path", flagEnvFile, "error", envErr)
	}

	tracer, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "huddle",
		JaegerURL:   cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
		Version:     version,
	})
	if err != nil {
		log.Warnw("Tracing disabled", "error", err)
		tracer = &tracing.TracerProvider{}
	}

	user, err := resolveUser(cfg)
	if err != nil {
		return nil, err
	}

	client, err := api.NewClient(api.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Retry: retry.Config{
			Enabled:      cfg.API.Retry.Enabled,
			MaxAttempts:  cfg.API.Retry.MaxAttempts,
			InitialDelay: cfg.API.Retry.InitialDelay,
			MaxDelay:     cfg.API.Retry.MaxDelay,
			Multiplier:   2,
			Jitter:       true,
		},
		CircuitBreaker: circuitbreaker.Config{
			FailureThreshold: cfg.API.CircuitBreaker.FailureThreshold,
			SuccessThreshold: cfg.API.CircuitBreaker.SuccessThreshold,
			Timeout:          cfg.API.CircuitBreaker.Timeout,
		},
	}, log)
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to log in as %s: %w", user.ID, err)
	}

	return &app{
		cfg:        cfg,
		zlog:       zlog,
		log:        log,
		tracer:     tracer,
		api:        client,
		user:       user,
		instanceID: instanceID,
	}, nil
}

// resolveUser reads the identity token. With a dev secret configured the
// token must carry a valid HS256 signature.
func resolveUser(cfg *config.Config) (domain.User, error) {
	token := cfg.Client.IDToken
	if token == "" {
		return domain.User{}, errors.New("no identity token: set client.id_token, HUDDLE_ID_TOKEN or --id-token")
	}

	var (
		user domain.User
		err  error
	)
	if cfg.Identity.DevSecret != "" {
		user, err = identity.NewVerifier(cfg.Identity.DevSecret, 0).Verify(token)
	} else {
		user, err = identity.FromIDToken(token)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to read identity token: %w", err)
	}
	if cfg.Client.DisplayName != "" {
		user.Name = cfg.Client.DisplayName
	}
	return user, nil
}

// close logs out and flushes telemetry.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.api.Logout(ctx); err != nil {
		a.log.Warnw("Logout failed", "error", err)
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.log.Warnw("Failed to flush traces", "error", err)
	}
	_ = a.zlog.Sync()
}
