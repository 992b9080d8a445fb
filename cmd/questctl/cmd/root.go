package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-quest-session/internal/config"
	"go-quest-session/internal/event"
	"go-quest-session/internal/logger"
	"go-quest-session/internal/metrics"
	"go-quest-session/internal/session"
	"go-quest-session/internal/tokenstore"
	"go-quest-session/internal/transport"
)

// cli carries per-invocation state. Flags and QUESTCTL_* variables are
// layered over the QUEST_* client configuration.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "questctl",
		Short:         "questctl manages a Quest API session from the terminal",
		Long:          `Log in, register and manage credentials against a Quest Users API. The session survives between invocations in the configured token store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("api-url", "", "Users API base URL (QUESTCTL_API_URL)")
	flags.String("token-store", "", "token store: memory, bolt or redis (QUESTCTL_TOKEN_STORE)")
	flags.String("bolt-path", "", "bbolt file for the bolt token store (QUESTCTL_BOLT_PATH)")
	flags.String("redis-addr", "", "Redis address for the redis token store (QUESTCTL_REDIS_ADDR)")
	flags.String("redis-prefix", "", "key prefix for the redis token store (QUESTCTL_REDIS_PREFIX)")
	flags.String("log-level", "", "debug, info, warn or error (QUESTCTL_LOG_LEVEL)")
	flags.String("pushgateway", "", "Pushgateway URL that receives session metrics after each command (QUESTCTL_PUSHGATEWAY)")

	c.v.SetEnvPrefix("QUESTCTL")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	_ = c.v.BindPFlags(flags)

	root.AddCommand(
		c.statusCmd(),
		c.loginCmd(),
		c.registerCmd(),
		c.verifyCmd(),
		c.resendCodeCmd(),
		c.forgotPasswordCmd(),
		c.resetPasswordCmd(),
		c.whoamiCmd(),
		c.refreshCmd(),
		c.changePasswordCmd(),
		c.logoutCmd(),
	)

	return root
}

func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		os.Exit(1)
	}
}

func (c *cli) clientConfig() (*config.Client, error) {
	cfg := config.ReadClient()

	overlay := map[string]*string{
		"api-url":        &cfg.APIBaseURL,
		"token-store":    &cfg.TokenStore,
		"bolt-path":      &cfg.BoltPath,
		"redis-addr":     &cfg.RedisAddr,
		"redis-prefix":   &cfg.RedisPrefix,
		"redis-password": &cfg.RedisPassword,
		"log-level":      &cfg.LogLevel,
		"pushgateway":    &cfg.PushgatewayURL,
	}
	for key, target := range overlay {
		if v := strings.TrimSpace(c.v.GetString(key)); v != "" {
			*target = v
		}
	}
	cfg.TokenStore = strings.ToLower(cfg.TokenStore)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Client) (tokenstore.Store, func() error, error) {
	switch cfg.TokenStore {
	case config.StoreMemory:
		return tokenstore.NewMemoryStore(), func() error { return nil }, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		return tokenstore.NewRedisStore(client, cfg.RedisPrefix), client.Close, nil
	default:
		store, err := tokenstore.OpenBoltStore(cfg.BoltPath, nil)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// withSession runs fn against a manager restored from the token store.
func (c *cli) withSession(fn func(cmd *cobra.Command, m *session.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := c.clientConfig()
		if err != nil {
			return err
		}

		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		log := slog.New(logger.NewPrettyHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: logger.ParseLevel(cfg.LogLevel)}))

		reg := prometheus.NewRegistry()
		sm := metrics.NewSession()
		sm.RegisterCollectors(reg)
		if cfg.PushgatewayURL != "" {
			defer pushMetrics(cmd, log, cfg.PushgatewayURL, reg)
		}

		bus := event.NewBus()
		stop := logEvents(bus, log)
		defer stop()

		m := session.New(
			transport.NewHTTPTransport(cfg.APIBaseURL, nil, cfg.HTTPTimeout),
			store,
			session.WithLogger(log),
			session.WithMetrics(sm),
			session.WithBus(bus),
			session.WithRefreshTimeout(cfg.RefreshTimeout),
			session.WithLogoutTimeout(cfg.LogoutTimeout),
			session.WithRefreshSkew(cfg.RefreshSkew),
		)
		if err := m.Initialize(cmd.Context()); err != nil {
			return err
		}

		return fn(cmd, m)
	}
}

// logEvents writes every session event to log at debug level until the
// returned func is called.
func logEvents(bus event.Bus, log *slog.Logger) func() {
	events, unsubscribe := bus.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range events {
			log.Debug("session event", "type", e.Type, "session", e.Payload)
		}
	}()

	return func() {
		unsubscribe()
		wg.Wait()
	}
}

// pushMetrics sends the session counters of one invocation to a Pushgateway,
// grouped by command. A failed push is logged, never returned.
func pushMetrics(cmd *cobra.Command, log *slog.Logger, url string, g prometheus.Gatherer) {
	err := push.New(url, "questctl").
		Gatherer(g).
		Grouping("command", cmd.Name()).
		PushContext(cmd.Context())
	if err != nil {
		log.Warn("failed to push session metrics", "error", err)
	}
}

// secret returns the flag value, falling back to QUESTCTL_<NAME>.
func (c *cli) secret(cmd *cobra.Command, name string) string {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		return v
	}
	return c.v.GetString(name)
}

func describe(err error) string {
	var se *session.Error
	if errors.As(err, &se) {
		return fmt.Sprintf("%s (%s)", se.Message, se.Kind)
	}
	return err.Error()
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
