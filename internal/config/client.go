package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreRedis  = "redis"
)

// Client configures a session manager and its transport.
type Client struct {
	APIBaseURL     string
	HTTPTimeout    time.Duration
	RefreshTimeout time.Duration
	LogoutTimeout  time.Duration
	RefreshSkew    time.Duration
	LogLevel       string
	TokenStore     string
	BoltPath       string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
	PushgatewayURL string
}

// LoadClient reads the QUEST_* environment and validates the result.
func LoadClient() (*Client, error) {
	cfg := ReadClient()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadClient reads the QUEST_* environment without validating it, for callers
// that overlay their own values first.
func ReadClient() *Client {
	_ = godotenv.Load()

	cfg := &Client{
		APIBaseURL:     getEnv("QUEST_API_URL", "http://localhost:8080"),
		HTTPTimeout:    getDuration("QUEST_HTTP_TIMEOUT", 15*time.Second),
		RefreshTimeout: getDuration("QUEST_REFRESH_TIMEOUT", 10*time.Second),
		LogoutTimeout:  getDuration("QUEST_LOGOUT_TIMEOUT", 5*time.Second),
		RefreshSkew:    getDuration("QUEST_REFRESH_SKEW", 30*time.Second),
		LogLevel:       getEnv("QUEST_LOG_LEVEL", "warn"),
		TokenStore:     strings.ToLower(getEnv("QUEST_TOKEN_STORE", StoreBolt)),
		BoltPath:       getEnv("QUEST_BOLT_PATH", "./state/session.db"),
		RedisAddr:      getEnv("QUEST_REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("QUEST_REDIS_PASSWORD", ""),
		RedisDB:        getInt("QUEST_REDIS_DB", 0),
		RedisPrefix:    getEnv("QUEST_REDIS_PREFIX", "questsession:"),
		PushgatewayURL: getEnv("QUEST_PUSHGATEWAY_URL", ""),
	}

	return cfg
}

func (c *Client) Validate() error {
	parsed, err := url.Parse(strings.TrimSpace(c.APIBaseURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("QUEST_API_URL must be an absolute URL")
	}

	if c.PushgatewayURL != "" {
		parsed, err := url.Parse(c.PushgatewayURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("QUEST_PUSHGATEWAY_URL must be an absolute URL")
		}
	}

	if c.HTTPTimeout <= 0 || c.RefreshTimeout <= 0 || c.LogoutTimeout <= 0 {
		return fmt.Errorf("client timeouts must be positive")
	}

	if c.RefreshSkew < 0 {
		return fmt.Errorf("QUEST_REFRESH_SKEW cannot be negative")
	}

	switch c.TokenStore {
	case StoreMemory:
	case StoreBolt:
		if strings.TrimSpace(c.BoltPath) == "" {
			return fmt.Errorf("QUEST_BOLT_PATH cannot be empty")
		}
	case StoreRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("QUEST_REDIS_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("QUEST_TOKEN_STORE must be one of memory, bolt, redis")
	}

	return nil
}
