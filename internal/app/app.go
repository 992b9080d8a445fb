package app

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"go-quest-session/internal/config"
	"go-quest-session/internal/database"
	"go-quest-session/internal/handler"
	"go-quest-session/internal/mailer"
	"go-quest-session/internal/metrics"
	"go-quest-session/internal/middleware"
	"go-quest-session/internal/repository"
	"go-quest-session/internal/router"
	"go-quest-session/internal/service"
)

const tokenCleanupInterval = time.Hour

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

type repositories struct {
	users  service.UserRepository
	tokens service.TokenRepository
	codes  service.CodeRepository
	health func(*http.Request) error
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cleanupFuncs []func()

	repos, closeDB, err := openRepositories(cfg)
	if err != nil {
		return nil, err
	}
	if closeDB != nil {
		cleanupFuncs = append(cleanupFuncs, closeDB)
	}

	var sender mailer.Sender
	if cfg.SMTPHost != "" {
		sender = mailer.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
		slog.Info("mail delivery via SMTP", "host", cfg.SMTPHost, "port", cfg.SMTPPort)
	} else {
		sender = mailer.NewLogSender(slog.Default())
		slog.Warn("SMTP_HOST not set, emails will be logged instead of sent")
	}

	userService := service.NewUserService(repos.users, repos.tokens, repos.codes, sender,
		service.NewAvatarStore(cfg.AvatarRoot, cfg.MaxAvatarSize),
		service.UserServiceConfig{
			JWTSecret:           cfg.JWTSecret,
			AccessTTL:           cfg.JWTAccessTTL,
			RefreshTTL:          cfg.JWTRefreshTTL,
			VerificationCodeTTL: cfg.VerificationCodeTTL,
			ResetCodeTTL:        cfg.ResetCodeTTL,
		})

	deps := router.Deps{
		Auth:   middleware.NewAuthMiddleware(userService),
		Users:  handler.NewUserHandler(userService, cfg.MaxAvatarSize),
		Health: repos.health,
	}
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		httpMetrics := metrics.NewHTTP()
		httpMetrics.RegisterCollectors(registry)
		deps.Metrics = httpMetrics
		deps.Gatherer = registry
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go runTokenCleanup(cleanupCtx, userService, tokenCleanupInterval)
	cleanupFuncs = append(cleanupFuncs, cleanupCancel)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router.New(cfg, deps),
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{server: server, cleanupFuncs: cleanupFuncs}, nil
}

// openRepositories uses PostgreSQL when DATABASE_URL is set and falls back
// to in-memory repositories otherwise.
func openRepositories(cfg *config.Config) (repositories, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory repositories")
		return repositories{
			users:  repository.NewMemoryUserRepository(),
			tokens: repository.NewMemoryTokenRepository(),
			codes:  repository.NewMemoryCodeRepository(),
		}, nil, nil
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return repositories{}, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return repositories{}, nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}
	slog.Info("database ready")

	return repositories{
		users:  repository.NewUserRepository(db.Pool),
		tokens: repository.NewTokenRepository(db.Pool),
		codes:  repository.NewCodeRepository(db.Pool),
		health: func(r *http.Request) error { return db.Health(r.Context()) },
	}, db.Close, nil
}

type tokenCleaner interface {
	CleanExpiredTokens(ctx context.Context) (int64, error)
}

func runTokenCleanup(ctx context.Context, cleaner tokenCleaner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := cleaner.CleanExpiredTokens(ctx)
			if err != nil {
				slog.Error("refresh token cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("expired refresh tokens removed", "count", removed)
			}
		}
	}
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	slog.Info("server stopped")
	return nil
}
