package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VghostS/backNotifications/internal/domain/model"
	"github.com/VghostS/backNotifications/internal/pkg/validate"
)

type Config struct {
	Env         string            `yaml:"env"`
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Auth        AuthConfig        `yaml:"auth"`
	Bot         BotConfig         `yaml:"bot"`
	Payments    PaymentsConfig    `yaml:"payments"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Fulfillment FulfillmentConfig `yaml:"fulfillment"`
	Reaper      ReaperConfig      `yaml:"reaper"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type BotConfig struct {
	Token       string  `yaml:"token"`
	PollTimeout int     `yaml:"poll_timeout"`
	OperatorIDs []int64 `yaml:"operator_ids"`
	SupportText string  `yaml:"support_text"`
	WebAppURL   string  `yaml:"webapp_url"`
}

type PaymentsConfig struct {
	Currency           string        `yaml:"currency"`
	ProviderToken      string        `yaml:"provider_token"`
	PreCheckoutTimeout time.Duration `yaml:"precheckout_timeout"`
	RefundTimeout      time.Duration `yaml:"refund_timeout"`
	MaxQuantity        int           `yaml:"max_quantity"`
	InvoicesPerMinute  int           `yaml:"invoices_per_minute"`
	InvoicesPerHour    int           `yaml:"invoices_per_hour"`
}

type CatalogConfig struct {
	Items []model.CatalogItem `yaml:"items"`
}

type FulfillmentConfig struct {
	GameServerURL   string        `yaml:"game_server_url"`
	APIKey          string        `yaml:"api_key"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
}

type ReaperConfig struct {
	Interval      time.Duration `yaml:"interval"`
	PendingTTL    time.Duration `yaml:"pending_ttl"`
	ChargeTimeout time.Duration `yaml:"charge_timeout"`
}

type BroadcastConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Messages    []string      `yaml:"messages"`
}

func Default() Config {
	return Config{
		Env: "dev",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		Log: LogConfig{Level: "debug"},
		Postgres: PostgresConfig{
			DSN: "",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Auth: AuthConfig{
			JWTSecret: "change-me",
			TokenTTL:  12 * time.Hour,
		},
		Bot: BotConfig{
			Token:       "",
			PollTimeout: 30,
			SupportText: "Payment issues? Write to the support chat and include your charge id.",
			WebAppURL:   "https://t.me/tls_game_bot/play",
		},
		Payments: PaymentsConfig{
			Currency:           "XTR",
			ProviderToken:      "",
			PreCheckoutTimeout: 5 * time.Second,
			RefundTimeout:      15 * time.Second,
			MaxQuantity:        10,
			InvoicesPerMinute:  5,
			InvoicesPerHour:    30,
		},
		Catalog: CatalogConfig{
			Items: []model.CatalogItem{
				{
					ID:                 "flask_one",
					DisplayName:        "Flask",
					Description:        "One healing flask delivered to your game inventory.",
					UnitPrice:          1,
					FulfillmentPayload: "flask_one",
				},
			},
		},
		Fulfillment: FulfillmentConfig{
			GameServerURL:   "http://localhost:3000",
			AttemptTimeout:  3 * time.Second,
			MaxAttempts:     5,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			QueueSize:       256,
			Workers:         2,
		},
		Reaper: ReaperConfig{
			Interval:      time.Minute,
			PendingTTL:    time.Hour,
			ChargeTimeout: 30 * time.Minute,
		},
		Broadcast: BroadcastConfig{
			Enabled:     true,
			MinInterval: time.Hour,
			MaxInterval: 4 * time.Hour,
			Messages: []string{
				"Hope you're having a great day! 🌟",
				"Remember to stay hydrated! 💧",
				"Time for a quick stretch! 🧘",
				"You're doing great! Keep it up! 👍",
				"Here's your random reminder to smile! 😊",
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Catalog.Items) == 0 {
		return errors.New("catalog.items must not be empty")
	}
	if !validate.Required(c.Payments.Currency) {
		return errors.New("payments.currency is required")
	}
	if c.Payments.MaxQuantity <= 0 {
		return errors.New("payments.max_quantity must be positive")
	}
	if c.Fulfillment.MaxAttempts <= 0 {
		return errors.New("fulfillment.max_attempts must be positive")
	}
	if !validate.HTTPURL(c.Fulfillment.GameServerURL) {
		return errors.New("fulfillment.game_server_url must be an http(s) url")
	}
	if validate.Required(c.Bot.WebAppURL) && !validate.HTTPURL(c.Bot.WebAppURL) {
		return errors.New("bot.webapp_url must be an http(s) url")
	}
	if c.Broadcast.Enabled && c.Broadcast.MaxInterval < c.Broadcast.MinInterval {
		return errors.New("broadcast.max_interval must not be less than broadcast.min_interval")
	}
	if c.IsProduction() && !validate.Required(c.Bot.Token) {
		return errors.New("bot.token is required in production")
	}
	if c.IsProduction() && c.Auth.JWTSecret == "change-me" {
		return errors.New("auth.jwt_secret must be changed in production")
	}
	return nil
}

func (c Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func (c BotConfig) IsOperator(userID int64) bool {
	for _, id := range c.OperatorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config yaml: %w", err)
	}

	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Env = v
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if err := overrideDuration("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return err
	}
	if err := overrideDuration("HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return err
	}
	if err := overrideDuration("HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if err := overrideInt("REDIS_DB", &cfg.Redis.DB); err != nil {
		return err
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if err := overrideDuration("JWT_TOKEN_TTL", &cfg.Auth.TokenTTL); err != nil {
		return err
	}

	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
	if v := os.Getenv("BOT_WEBAPP_URL"); v != "" {
		cfg.Bot.WebAppURL = v
	}
	if err := overrideInt64List("BOT_OPERATOR_IDS", &cfg.Bot.OperatorIDs); err != nil {
		return err
	}

	if v := os.Getenv("PAYMENTS_PROVIDER_TOKEN"); v != "" {
		cfg.Payments.ProviderToken = v
	}
	if err := overrideDuration("PAYMENTS_PRECHECKOUT_TIMEOUT", &cfg.Payments.PreCheckoutTimeout); err != nil {
		return err
	}
	if err := overrideDuration("PAYMENTS_REFUND_TIMEOUT", &cfg.Payments.RefundTimeout); err != nil {
		return err
	}
	if err := overrideInt("PAYMENTS_INVOICES_PER_MINUTE", &cfg.Payments.InvoicesPerMinute); err != nil {
		return err
	}
	if err := overrideInt("PAYMENTS_INVOICES_PER_HOUR", &cfg.Payments.InvoicesPerHour); err != nil {
		return err
	}

	if v := os.Getenv("GAME_SERVER_URL"); v != "" {
		cfg.Fulfillment.GameServerURL = v
	}
	if v := os.Getenv("GAME_SERVER_API_KEY"); v != "" {
		cfg.Fulfillment.APIKey = v
	}
	if err := overrideInt("FULFILLMENT_MAX_ATTEMPTS", &cfg.Fulfillment.MaxAttempts); err != nil {
		return err
	}

	if err := overrideDuration("REAPER_PENDING_TTL", &cfg.Reaper.PendingTTL); err != nil {
		return err
	}
	if err := overrideDuration("REAPER_CHARGE_TIMEOUT", &cfg.Reaper.ChargeTimeout); err != nil {
		return err
	}

	if err := overrideBool("BROADCAST_ENABLED", &cfg.Broadcast.Enabled); err != nil {
		return err
	}

	return nil
}

func overrideDuration(key string, target *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s duration: %w", key, err)
	}
	*target = d
	return nil
}

func overrideInt(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s int: %w", key, err)
	}
	*target = n
	return nil
}

func overrideBool(key string, target *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s bool: %w", key, err)
	}
	*target = b
	return nil
}

func overrideInt64List(key string, target *[]int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s int64 list: %w", key, err)
		}
		out = append(out, n)
	}
	*target = out
	return nil
}
