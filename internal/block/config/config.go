package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// StorePath is the bbolt database file holding rules, settings, and
	// statistics.
	StorePath string `koanf:"store_path" validate:"required"`

	// BlockedPageURL is the default redirect target for rules without a
	// user-chosen redirect.
	BlockedPageURL string `koanf:"blocked_page_url" validate:"required,abs_url"`

	// ReconcileInterval is the seconds between reconciliation passes.
	ReconcileInterval int `koanf:"reconcile_interval" validate:"required,gte=1"`

	// IntegrityDelay is the seconds to wait after startup before the
	// one-shot integrity check.
	IntegrityDelay int `koanf:"integrity_delay" validate:"gte=0"`

	// VerdictCacheSize bounds the engine's match verdict cache.
	VerdictCacheSize int `koanf:"verdict_cache_size" validate:"required,gte=1"`
}

// DEFAULT_APP_CONFIG defines the default application configuration.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:               "prod",
	LogLevel:          "info",
	StorePath:         "/var/lib/sitewall/sitewall.db",
	BlockedPageURL:    "app://sitewall/blocked",
	ReconcileInterval: 60,
	IntegrityDelay:    5,
	VerdictCacheSize:  1024,
}

// validAbsURL validates that the field parses as an absolute URL with both
// a scheme and a host.
func validAbsURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	return err == nil && u.Scheme != "" && u.Host != ""
}

// envLoader loads environment variables with the prefix "SITEWALL_",
// lowercasing keys and stripping the prefix. Replaceable in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "SITEWALL_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "SITEWALL_"))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads default values using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "abs_url" validator.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("abs_url", validAbsURL)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
