package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Log      LogConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Events   EventsConfig
	Webhook  WebhookConfig
	Token    TokenConfig
	Site     SiteConfig
	Email    EmailConfig
	Gateways map[string]GatewayConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level string // debug, info, warn, error
}

// StorageConfig selects the repository backend: memory, postgres or sqlite.
type StorageConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Enabled reports whether payment locks should go through Redis.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// EventsConfig sizes the in-process event bus.
type EventsConfig struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
}

type WebhookConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

type TokenConfig struct {
	Secret string
	TTL    time.Duration
}

type SiteConfig struct {
	Name   string
	Domain string
}

type EmailConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	SenderName    string
	SenderAddress string
	UseTLS        bool
	StaffEmails   []string
	// Subjects and Templates are keyed by notify event type.
	Subjects  map[string]string
	Templates map[string]string
}

// GatewayConfig is the raw per-gateway section; the plugin layer turns it into payment.GatewayConfig.
type GatewayConfig struct {
	Active              bool
	Channels            []string
	AutoCapture         bool
	SupportedCurrencies []string
	StoreCustomer       bool
	Require3DSecure     bool
	ConnectionParams    map[string]string
}

var ErrMissingTokenSecret = errors.New("config: token.secret is required outside dev")

// Load reads configuration from storefront.yaml and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with STOREFRONT_ prefix (e.g., STOREFRONT_STORAGE_DSN)
// 2. storefront.yaml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("storefront")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/storefront")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds the typed config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Log: LogConfig{Level: v.GetString("log.level")},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
			DSN:    v.GetString("storage.dsn"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  v.GetDuration("redis.lock_ttl"),
		},
		Events: EventsConfig{
			Workers:        v.GetInt("events.workers"),
			QueueSize:      v.GetInt("events.queue_size"),
			HandlerTimeout: v.GetDuration("events.handler_timeout"),
		},
		Webhook: WebhookConfig{
			Timeout:     v.GetDuration("webhook.timeout"),
			MaxRetries:  v.GetInt("webhook.max_retries"),
			BackoffBase: v.GetDuration("webhook.backoff_base"),
			MaxBackoff:  v.GetDuration("webhook.max_backoff"),
		},
		Token: TokenConfig{
			Secret: v.GetString("token.secret"),
			TTL:    v.GetDuration("token.ttl"),
		},
		Site: SiteConfig{
			Name:   v.GetString("site.name"),
			Domain: v.GetString("site.domain"),
		},
		Email: EmailConfig{
			Host:          v.GetString("email.host"),
			Port:          v.GetInt("email.port"),
			Username:      v.GetString("email.username"),
			Password:      v.GetString("email.password"),
			SenderName:    v.GetString("email.sender_name"),
			SenderAddress: v.GetString("email.sender_address"),
			UseTLS:        v.GetBool("email.use_tls"),
			StaffEmails:   v.GetStringSlice("email.staff_emails"),
			Subjects:      v.GetStringMapString("email.subjects"),
			Templates:     v.GetStringMapString("email.templates"),
		},
		Gateways: make(map[string]GatewayConfig),
	}

	for name := range v.GetStringMap("gateways") {
		sub := v.Sub("gateways." + name)
		if sub == nil {
			continue
		}
		cfg.Gateways[name] = GatewayConfig{
			Active:              sub.GetBool("active"),
			Channels:            sub.GetStringSlice("channels"),
			AutoCapture:         sub.GetBool("auto_capture"),
			SupportedCurrencies: sub.GetStringSlice("supported_currencies"),
			StoreCustomer:       sub.GetBool("store_customer"),
			Require3DSecure:     sub.GetBool("require_3d_secure"),
			ConnectionParams:    sub.GetStringMapString("connection_params"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required for driver %q", c.Storage.Driver)
	}
	if c.Token.Secret == "" && c.App.Env != "dev" {
		return ErrMissingTokenSecret
	}
	if c.Webhook.MaxRetries < 0 {
		return errors.New("config: webhook.max_retries must be zero or greater")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "storefront")
	v.SetDefault("app.env", "dev")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("redis.lock_ttl", 30*time.Second)
	v.SetDefault("events.workers", 8)
	v.SetDefault("events.queue_size", 1024)
	v.SetDefault("events.handler_timeout", 2*time.Minute)
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_retries", 5)
	v.SetDefault("webhook.backoff_base", 10*time.Second)
	v.SetDefault("webhook.max_backoff", 10*time.Minute)
	v.SetDefault("token.ttl", 72*time.Hour)
	v.SetDefault("site.name", "Storefront")
	v.SetDefault("site.domain", "localhost:8000")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.use_tls", true)
	v.SetDefault("gateways.dummy.active", true)
	v.SetDefault("gateways.dummy.auto_capture", true)
	v.SetDefault("gateways.dummy.supported_currencies", []string{"USD", "EUR", "PLN"})
}
