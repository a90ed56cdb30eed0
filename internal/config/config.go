// Package config loads the engine configuration from the environment and the
// providers file. A .env file is honored when present; otherwise system
// environment variables apply.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/payment-gateway/internal/policy"
)

// Config is the process-level configuration.
type Config struct {
	HTTPAddr string

	// DatabaseURL is the postgres DSN for the record store. Empty selects
	// the in-memory store.
	DatabaseURL string
	TablePrefix string

	// RedisAddr is the redis address for the session state store. Empty
	// selects the in-memory store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StateTTL      time.Duration

	RetryAttempts int
	RetryBackoff  time.Duration

	// ProvidersFile points to the JSON file with gateway credentials and
	// policy rules.
	ProvidersFile string

	// RequestSchemaFile optionally overrides the built-in request contract.
	RequestSchemaFile string
}

// MellatConfig is the providers-file entry for the Mellat gateway.
type MellatConfig struct {
	TerminalID  string `json:"terminal_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Endpoint    string `json:"endpoint"`
	PaymentURL  string `json:"payment_url"`
	CallbackURL string `json:"callback_url"`
}

// ZarinpalConfig is the providers-file entry for the ZarinPal gateway.
type ZarinpalConfig struct {
	MerchantID  string `json:"merchant_id"`
	Endpoint    string `json:"endpoint"`
	PaymentURL  string `json:"payment_url"`
	CallbackURL string `json:"callback_url"`
	Description string `json:"description"`
}

// Providers is the parsed providers file: per-gateway credentials plus the
// acceptance rules the policy enforcer compiles.
type Providers struct {
	Mellat   *MellatConfig            `json:"mellat,omitempty"`
	Zarinpal *ZarinpalConfig          `json:"zarinpal,omitempty"`
	Policy   map[string][]policy.Rule `json:"policy,omitempty"`
}

// Load reads the environment, optionally seeded from a .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:          getEnv("PAYMENT_HTTP_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("PAYMENT_DATABASE_URL"),
		TablePrefix:       getEnv("PAYMENT_TABLE_PREFIX", "payment_"),
		RedisAddr:         os.Getenv("PAYMENT_REDIS_ADDR"),
		RedisPassword:     os.Getenv("PAYMENT_REDIS_PASSWORD"),
		ProvidersFile:     getEnv("PAYMENT_PROVIDERS_FILE", "providers.json"),
		RequestSchemaFile: os.Getenv("PAYMENT_REQUEST_SCHEMA"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("PAYMENT_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.StateTTL, err = getEnvDuration("PAYMENT_STATE_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RetryAttempts, err = getEnvInt("PAYMENT_RETRY_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.RetryBackoff, err = getEnvDuration("PAYMENT_RETRY_BACKOFF", 100*time.Millisecond); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadProviders parses the providers file.
func LoadProviders(path string) (Providers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Providers{}, fmt.Errorf("config: reading providers file: %w", err)
	}
	var p Providers
	if err := json.Unmarshal(data, &p); err != nil {
		return Providers{}, fmt.Errorf("config: parsing providers file %s: %w", path, err)
	}
	return p, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
