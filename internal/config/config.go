package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Module   string         `mapstructure:"module"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Platform PlatformConfig `mapstructure:"platform"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	BusSize int    `mapstructure:"bus_size"`
}

type ServerConfig struct {
	Addr      string          `mapstructure:"addr"`
	Cors      CorsConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type CorsConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type RateLimitConfig struct {
	PerClientQPS   float64 `mapstructure:"per_client_qps"`
	PerClientBurst int     `mapstructure:"per_client_burst"`
	MaxClients     int     `mapstructure:"max_clients"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxIdle     time.Duration `mapstructure:"conn_max_idle"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// DSN returns the explicit URL when set, otherwise one assembled from the
// host parts. An empty string means no database is configured.
func (c DatabaseConfig) DSN() string {
	if strings.TrimSpace(c.URL) != "" {
		return strings.TrimSpace(c.URL)
	}
	if strings.TrimSpace(c.Host) == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type AuthConfig struct {
	AccessSecret  string        `mapstructure:"access_secret"`
	RefreshSecret string        `mapstructure:"refresh_secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	Issuer        string        `mapstructure:"issuer"`
}

type StripeConfig struct {
	SecretKey         string        `mapstructure:"secret_key"`
	WebhookSecret     string        `mapstructure:"webhook_secret"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryCount        int           `mapstructure:"retry_count"`
	ConnectReturnURL  string        `mapstructure:"connect_return_url"`
	ConnectRefreshURL string        `mapstructure:"connect_refresh_url"`
}

type PlatformConfig struct {
	DefaultFeePercent float64       `mapstructure:"default_fee_percent"`
	CheckoutTTL       time.Duration `mapstructure:"checkout_ttl"`
	SubscriptionGrace time.Duration `mapstructure:"subscription_grace"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" && c.From != "" }

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type StorageConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Bucket        string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

func (c StorageConfig) Enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

// plain env names kept for deployments that predate the MARKETPLACE_ prefix.
var legacyEnv = map[string]string{
	"server.addr":                "PORT",
	"module":                     "MODULE_NAME",
	"database.url":               "DATABASE_URL",
	"database.host":              "DB_HOST",
	"database.port":              "DB_PORT",
	"database.user":              "DB_USER",
	"database.password":          "DB_PASSWORD",
	"database.name":              "DB_NAME",
	"database.sslmode":           "DB_SSLMODE",
	"database.max_open_conns":    "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DB_MAX_IDLE_CONNS",
	"database.conn_max_idle":     "DB_CONN_MAX_IDLE",
	"database.conn_max_lifetime": "DB_CONN_MAX_LIFETIME",
	"database.cache_ttl":         "CACHE_TTL",
	"stripe.secret_key":          "STRIPE_SECRET_KEY",
	"stripe.webhook_secret":      "STRIPE_WEBHOOK_SECRET",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("module", "marketplace")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.bus_size", 200)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors.allow_origins", []string{})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.rate_limit.per_client_qps", 5.0)
	v.SetDefault("server.rate_limit.per_client_burst", 20)
	v.SetDefault("server.rate_limit.max_clients", 10000)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "marketplace")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 60)
	v.SetDefault("database.max_idle_conns", 20)
	v.SetDefault("database.conn_max_idle", 5*time.Minute)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.cache_ttl", 45*time.Second)
	v.SetDefault("auth.access_secret", "")
	v.SetDefault("auth.refresh_secret", "")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.issuer", "marketplace")
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.base_url", "https://api.stripe.com")
	v.SetDefault("stripe.timeout", 20*time.Second)
	v.SetDefault("stripe.retry_count", 2)
	v.SetDefault("stripe.connect_return_url", "http://localhost:3000/dashboard/shop/onboarding/complete")
	v.SetDefault("stripe.connect_refresh_url", "http://localhost:3000/dashboard/shop/onboarding/refresh")
	v.SetDefault("platform.default_fee_percent", 10.0)
	v.SetDefault("platform.checkout_ttl", 24*time.Hour)
	v.SetDefault("platform.subscription_grace", 72*time.Hour)
	v.SetDefault("platform.sweep_interval", 5*time.Minute)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "marketplace.events")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.public_base_url", "")
}

// Load reads .env (if present), the optional YAML file at path, and the
// environment. Environment wins over the file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("MARKETPLACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		envKey := "MARKETPLACE_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := v.BindEnv(key, envKey, name); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr != "" && !strings.Contains(c.Server.Addr, ":") {
		// PORT=8080 style
		c.Server.Addr = ":" + c.Server.Addr
	}
	if c.Log.BusSize <= 0 {
		c.Log.BusSize = 200
	}
	if c.Server.RateLimit.PerClientBurst <= 0 {
		c.Server.RateLimit.PerClientBurst = 20
	}
	if c.Server.RateLimit.MaxClients <= 0 {
		c.Server.RateLimit.MaxClients = 10000
	}
	if c.Platform.CheckoutTTL <= 0 {
		c.Platform.CheckoutTTL = 24 * time.Hour
	}
	if c.Platform.SweepInterval <= 0 {
		c.Platform.SweepInterval = 5 * time.Minute
	}
	if c.Auth.AccessTTL <= 0 {
		c.Auth.AccessTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTTL <= 0 {
		c.Auth.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "marketplace.events"
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Auth.AccessSecret == "" || c.Auth.RefreshSecret == "" {
		return errors.New("auth.access_secret and auth.refresh_secret are required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("auth.access_secret and auth.refresh_secret must differ")
	}
	if c.Platform.DefaultFeePercent < 0 || c.Platform.DefaultFeePercent > 100 {
		return errors.New("platform.default_fee_percent must be between 0 and 100")
	}
	return nil
}
