// Package config loads client configuration from hailside.yaml with
// HAILSIDE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full client configuration.
type Config struct {
	// PassengerID identifies the passenger whose trips this client tracks.
	PassengerID string

	// APIBaseURL is the marketplace REST root for snapshot polling.
	APIBaseURL string

	// WSBaseURL is the event-gateway root for the push subscription.
	WSBaseURL string

	// AuthSecret signs the websocket auth token.
	AuthSecret string

	// PaymentBaseURL is the payment collaborator root.
	PaymentBaseURL string

	// JournalPath is the SQLite session-journal location.
	JournalPath string

	PollInterval    time.Duration
	PaymentInterval time.Duration
	PaymentAttempts int
}

// Load reads hailside.yaml from the given directory (or the working
// directory when empty) and applies HAILSIDE-prefixed environment
// overrides, e.g. HAILSIDE_PASSENGER_ID. A missing config file is fine;
// defaults and environment cover everything except the passenger id.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName("hailside")
	v.SetConfigType("yaml")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)

	v.SetEnvPrefix("HAILSIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("passenger_id", "")
	v.SetDefault("auth_secret", "")
	v.SetDefault("api_base_url", "http://localhost:8080")
	v.SetDefault("ws_base_url", "ws://localhost:8080")
	v.SetDefault("payment_base_url", "http://localhost:8081")
	v.SetDefault("journal_path", "hailside.db")
	v.SetDefault("poll_interval", 15*time.Second)
	v.SetDefault("payment_interval", 3*time.Second)
	v.SetDefault("payment_attempts", 20)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		PassengerID:     v.GetString("passenger_id"),
		APIBaseURL:      v.GetString("api_base_url"),
		WSBaseURL:       v.GetString("ws_base_url"),
		AuthSecret:      v.GetString("auth_secret"),
		PaymentBaseURL:  v.GetString("payment_base_url"),
		JournalPath:     v.GetString("journal_path"),
		PollInterval:    v.GetDuration("poll_interval"),
		PaymentInterval: v.GetDuration("payment_interval"),
		PaymentAttempts: v.GetInt("payment_attempts"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.PassengerID == "" {
		return errors.New("config: passenger_id is required")
	}
	if c.PaymentAttempts <= 0 {
		return fmt.Errorf("config: payment_attempts must be positive, got %d", c.PaymentAttempts)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.PaymentInterval <= 0 {
		return fmt.Errorf("config: payment_interval must be positive, got %s", c.PaymentInterval)
	}
	return nil
}
