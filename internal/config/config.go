package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type MercadoPago struct {
	AccessToken   string
	BaseURL       string
	WebhookSecret string
	Timeout       time.Duration
}

type Identity struct {
	URL    string
	APIKey string
}

// Config is read once at process start. Each binary uses the subset it needs
// and declares its mandatory keys with Require.
type Config struct {
	Port             string
	PostgresURL      string
	KafkaBrokers     []string
	OrderEventsTopic string
	RedisURL         string
	SiteURL          string
	Currency         string
	MigrationsPath   string

	MercadoPago MercadoPago
	Identity    Identity

	PendingOrderTTL time.Duration
	SweepInterval   time.Duration
	OutboxInterval  time.Duration

	EmailServiceURL     string
	CheckoutServiceURL  string
	InventoryServiceURL string

	v *viper.Viper
}

func Load(defaultPort string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", defaultPort)
	v.SetDefault("ORDER_EVENTS_TOPIC", "order.events")
	v.SetDefault("CURRENCY", "ARS")
	v.SetDefault("MIGRATIONS_PATH", "file://migrations")
	v.SetDefault("MP_BASE_URL", "https://api.mercadopago.com")
	v.SetDefault("MP_TIMEOUT", "10s")
	v.SetDefault("PENDING_ORDER_TTL", "24h")
	v.SetDefault("SWEEP_INTERVAL", "5m")
	v.SetDefault("OUTBOX_INTERVAL", "1s")

	cfg := &Config{
		Port:             v.GetString("PORT"),
		PostgresURL:      v.GetString("POSTGRES_URL"),
		KafkaBrokers:     splitList(v.GetString("KAFKA_BROKERS")),
		OrderEventsTopic: v.GetString("ORDER_EVENTS_TOPIC"),
		RedisURL:         v.GetString("REDIS_URL"),
		SiteURL:          strings.TrimRight(v.GetString("SITE_URL"), "/"),
		Currency:         v.GetString("CURRENCY"),
		MigrationsPath:   v.GetString("MIGRATIONS_PATH"),
		MercadoPago: MercadoPago{
			AccessToken:   v.GetString("MP_ACCESS_TOKEN"),
			BaseURL:       strings.TrimRight(v.GetString("MP_BASE_URL"), "/"),
			WebhookSecret: v.GetString("MP_WEBHOOK_SECRET"),
		},
		Identity: Identity{
			URL:    strings.TrimRight(v.GetString("IDENTITY_URL"), "/"),
			APIKey: v.GetString("IDENTITY_API_KEY"),
		},
		EmailServiceURL:     v.GetString("EMAIL_SERVICE_URL"),
		CheckoutServiceURL:  v.GetString("CHECKOUT_SERVICE_URL"),
		InventoryServiceURL: v.GetString("INVENTORY_SERVICE_URL"),
		v:                   v,
	}

	var err error
	if cfg.MercadoPago.Timeout, err = duration(v, "MP_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.PendingOrderTTL, err = duration(v, "PENDING_ORDER_TTL"); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = duration(v, "SWEEP_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = duration(v, "OUTBOX_INTERVAL"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Require returns an error naming the first key that is unset.
func (c *Config) Require(keys ...string) error {
	for _, key := range keys {
		if strings.TrimSpace(c.v.GetString(key)) == "" {
			return fmt.Errorf("%s environment variable is required", key)
		}
	}
	return nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
