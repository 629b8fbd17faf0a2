// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // entitlement cache ttl
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	// APIURL overrides the Stripe API base, used against stripe-mock.
	APIURL string `yaml:"api_url"`
}

type AuthConfig struct {
	JWTSecret              string `yaml:"jwt_secret"`
	Issuer                 string `yaml:"issuer"`
	AppCheckSecret         string `yaml:"app_check_secret"`
	EnforceAppCheck        bool   `yaml:"enforce_app_check"`
	RequireNonAnonCheckout bool   `yaml:"require_non_anon_checkout"`
}

type CheckoutConfig struct {
	AppBaseURL     string        `yaml:"app_base_url"`
	AllowedSchemes []string      `yaml:"allowed_schemes"`
	Limit          int           `yaml:"limit"`
	Window         time.Duration `yaml:"window"`
	Reuse          time.Duration `yaml:"reuse"`
	CreatingGrace  time.Duration `yaml:"creating_grace"`
	RateLimitTTL   time.Duration `yaml:"rate_limit_ttl"`
	AttemptTTL     time.Duration `yaml:"attempt_ttl"`
	EventTTL       time.Duration `yaml:"event_ttl"`
}

// ThrottleConfig bounds callable requests per caller, across all functions.
type ThrottleConfig struct {
	Limit  int           `yaml:"limit"` // 0 takes the default, negative disables
	Window time.Duration `yaml:"window"`
}

type SchedulerConfig struct {
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	ReconcileStaleAfter time.Duration `yaml:"reconcile_stale_after"`
	ReconcileBatch      int           `yaml:"reconcile_batch"`
	Workers             int           `yaml:"workers"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Auth      AuthConfig      `yaml:"auth"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads .env (if present), the YAML file at path (if present),
// then applies environment overrides and defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployment
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	if err := validateBaseURL(cfg.Checkout.AppBaseURL); err != nil {
		return nil, err
	}
	if cfg.Auth.EnforceAppCheck && cfg.Auth.AppCheckSecret == "" {
		return nil, errors.New("auth.app_check_secret is required when enforce_app_check is on")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	c := &cfg.Checkout
	if c.AppBaseURL == "" {
		c.AppBaseURL = "http://localhost:8081"
	}
	if len(c.AllowedSchemes) == 0 {
		c.AllowedSchemes = []string{"puzzlepass", "exp", "exps"}
	}
	if c.Limit <= 0 {
		c.Limit = 5
	}
	if c.Window <= 0 {
		c.Window = 600 * time.Second
	}
	if c.Reuse <= 0 {
		c.Reuse = 1800 * time.Second
	}
	if c.CreatingGrace <= 0 {
		c.CreatingGrace = 30 * time.Second
	}
	if c.RateLimitTTL <= 0 {
		c.RateLimitTTL = 2 * c.Window
	}
	if c.AttemptTTL <= 0 {
		c.AttemptTTL = 24 * time.Hour
	}
	if c.EventTTL <= 0 {
		c.EventTTL = 7 * 24 * time.Hour
	}

	if cfg.Throttle.Limit == 0 {
		cfg.Throttle.Limit = 60
	}
	if cfg.Throttle.Window <= 0 {
		cfg.Throttle.Window = time.Minute
	}

	s := &cfg.Scheduler
	if s.ReconcileInterval <= 0 {
		s.ReconcileInterval = time.Minute
	}
	if s.ReconcileStaleAfter <= 0 {
		s.ReconcileStaleAfter = 5 * time.Minute
	}
	if s.ReconcileBatch <= 0 {
		s.ReconcileBatch = 200
	}
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = 15 * time.Minute
	}
}

// applyEnv overlays the environment variables the deployment recognizes.
func applyEnv(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	seconds := func(name string, dst *time.Duration) {
		var n int
		num(name, &n)
		if n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v == "true"
		}
	}

	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("LOG_LEVEL", &cfg.Log.Level)
	num("HTTP_PORT", &cfg.HTTP.Port)

	str("STRIPE_SECRET_KEY", &cfg.Stripe.SecretKey)
	str("STRIPE_WEBHOOK_SECRET", &cfg.Stripe.WebhookSecret)
	str("STRIPE_API_URL", &cfg.Stripe.APIURL)

	str("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("AUTH_ISSUER", &cfg.Auth.Issuer)
	str("APPCHECK_SECRET", &cfg.Auth.AppCheckSecret)
	flag("ENFORCE_APPCHECK", &cfg.Auth.EnforceAppCheck)
	flag("REQUIRE_NON_ANON_FOR_CHECKOUT", &cfg.Auth.RequireNonAnonCheckout)

	str("APP_BASE_URL", &cfg.Checkout.AppBaseURL)
	if v, ok := os.LookupEnv("ALLOWED_MOBILE_SCHEMES"); ok {
		cfg.Checkout.AllowedSchemes = splitList(v)
	}
	num("CHECKOUT_LIMIT", &cfg.Checkout.Limit)
	seconds("CHECKOUT_WINDOW_SECONDS", &cfg.Checkout.Window)
	seconds("CHECKOUT_REUSE_SECONDS", &cfg.Checkout.Reuse)
	seconds("CHECKOUT_CREATING_GRACE_SECONDS", &cfg.Checkout.CreatingGrace)
	seconds("RATE_LIMIT_TTL_SECONDS", &cfg.Checkout.RateLimitTTL)
	seconds("CHECKOUT_DOC_TTL_SECONDS", &cfg.Checkout.AttemptTTL)
	seconds("STRIPE_EVENT_TTL_SECONDS", &cfg.Checkout.EventTTL)
	num("THROTTLE_LIMIT", &cfg.Throttle.Limit)

	str("TELEGRAM_NOTIFY_TOKEN", &cfg.Notify.TelegramToken)
	if v, ok := os.LookupEnv("TELEGRAM_NOTIFY_CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TELEGRAM_NOTIFY_CHAT_ID: %w", err))
		} else {
			cfg.Notify.TelegramChatID = id
		}
	}

	return errors.Join(errs...)
}

// validateBaseURL requires an absolute web URL, since redirect targets are
// matched against its origin.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("checkout.app_base_url must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
