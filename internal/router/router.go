package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-quest-session/internal/config"
	"go-quest-session/internal/handler"
	"go-quest-session/internal/metrics"
	"go-quest-session/internal/middleware"
)

// Deps groups what the router needs beyond configuration. Metrics and
// Gatherer may be nil, which disables instrumentation and /metrics.
type Deps struct {
	Auth     *middleware.AuthMiddleware
	Users    *handler.UserHandler
	Health   func(*http.Request) error
	Metrics  *metrics.HTTP
	Gatherer prometheus.Gatherer
}

func New(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
		rateLimitMiddleware.WithMetrics(deps.Metrics)
	}
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(req); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Handle("/avatars/*", http.StripPrefix("/avatars/", http.FileServer(http.Dir(cfg.AvatarRoot))))

	r.Route("/users", func(users chi.Router) {
		users.Use(rateLimitMiddleware.Handler)
		users.Use(middleware.Timeout(cfg.RequestTimeout))

		users.Post("/register", deps.Users.Register)
		users.Post("/login", deps.Users.Login)
		users.Post("/verify-email", deps.Users.VerifyEmail)
		users.Post("/resend-verification-code", deps.Users.ResendVerificationCode)
		users.Post("/request-password-reset", deps.Users.RequestPasswordReset)
		users.Post("/reset-password", deps.Users.ResetPassword)
		users.Post("/refresh-token", deps.Users.RefreshToken)

		users.With(deps.Auth.RequireAuth).Post("/logout", deps.Users.Logout)
		users.With(deps.Auth.RequireAuth).Get("/current-user", deps.Users.CurrentUser)
		users.With(deps.Auth.RequireAuth).Post("/change-password", deps.Users.ChangePassword)
	})

	return r
}
