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

	"go.uber.org/zap"

	"github.com/dlddu/gim-auth/internal/blocklist"
	"github.com/dlddu/gim-auth/internal/config"
	"github.com/dlddu/gim-auth/internal/crypto"
	"github.com/dlddu/gim-auth/internal/handler"
	"github.com/dlddu/gim-auth/internal/jwt"
	"github.com/dlddu/gim-auth/internal/metrics"
	"github.com/dlddu/gim-auth/internal/ratelimit"
	"github.com/dlddu/gim-auth/internal/repository"
	"github.com/dlddu/gim-auth/internal/service"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

type repositories struct {
	clients    repository.ClientRepository
	identities repository.IdentityRepository
	close      func()
}

func openRepositories(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*repositories, error) {
	if cfg.URL == "" {
		logger.Warn("no database configured, using in-memory repositories")
		return &repositories{
			clients:    repository.NewMemoryClientRepository(),
			identities: repository.NewMemoryIdentityRepository(),
			close:      func() {},
		}, nil
	}

	if !cfg.SkipMigrations {
		if err := repository.Migrate(ctx, cfg.URL); err != nil {
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	pool, err := repository.NewPool(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	return &repositories{
		clients:    repository.NewClientRepository(pool),
		identities: repository.NewIdentityRepository(pool),
		close:      pool.Close,
	}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	key, err := jwt.LoadSigningKey(cfg.Token.SigningKeyPath, cfg.Token.SigningKeyEnv)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	repos, err := openRepositories(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open repositories: %w", err)
	}
	defer repos.close()

	m := metrics.New()
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(m),
	}

	tokens, err := jwt.NewTokenManager(key, cfg.Server.BaseURL, cfg.Token.Audience, cfg.Token.BearerTTL,
		jwt.WithLogger(logger.Named("jwt")))
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}
	bl := blocklist.New(blocklist.WithLogger(logger.Named("blocklist")))

	identityRL := ratelimit.New(ratelimit.Config{
		Name:   "identity",
		Limit:  cfg.RateLimit.IdentityLimit,
		Window: cfg.RateLimit.IdentityWindow,
	}, ratelimit.WithLogger(logger))
	submissionRL := ratelimit.New(ratelimit.Config{
		Name:   "submission",
		Limit:  cfg.RateLimit.SubmissionLimit,
		Window: cfg.RateLimit.SubmissionWindow,
	}, ratelimit.WithLogger(logger))
	registrationRL := ratelimit.New(ratelimit.Config{
		Name:   "registration",
		Limit:  cfg.RateLimit.RegistrationLimit,
		Window: cfg.RateLimit.RegistrationWindow,
	}, ratelimit.WithLogger(logger))

	clients := service.NewClientService(repos.clients, crypto.NewBcryptHasher(cfg.OAuth.BcryptCost), cfg.OAuth.Scopes, opts...)
	provider, err := service.NewProvider(service.ProviderConfig{
		Issuer:               cfg.Server.BaseURL,
		AccessTokenTTL:       cfg.OAuth.AccessTokenTTL,
		RefreshTokenTTL:      cfg.OAuth.RefreshTokenTTL,
		AuthorizationCodeTTL: cfg.OAuth.AuthorizationCodeTTL,
	}, clients, tokens, bl, repos.identities, opts...)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	verifier := service.NewVerifier(tokens, bl, append(opts, service.WithIdentityLookup(repos.identities))...)
	identities := service.NewIdentityService(repos.identities, tokens, identityRL, opts...)

	router := handler.NewRouter(handler.Deps{
		Provider:            provider,
		Verifier:            verifier,
		Identities:          identities,
		IPs:                 ratelimit.NewIPExtractor(cfg.Server.TrustProxy, logger),
		IdentityLimiter:     identityRL,
		RegistrationLimiter: registrationRL,
		SubmissionLimiter:   submissionRL,
		Admin:               identities,
		AdminToken:          cfg.Admin.Token,
		Metrics:             m,
		Logger:              logger.Named("http"),
	})

	if cfg.Admin.Token == "" {
		logger.Info("admin token not configured, identity administration routes disabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listen start",
			zap.String("addr", srv.Addr),
			zap.String("issuer", cfg.Server.BaseURL),
			zap.Bool("postgres", cfg.Database.URL != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	logger.Info("server stopped",
		zap.Int("pending_codes", provider.PendingCodes()),
		zap.Int("refresh_tokens", provider.RefreshTokens()),
		zap.Int("blocklisted", bl.Len()),
	)
	return nil
}
