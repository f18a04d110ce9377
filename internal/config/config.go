package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds process-level configuration for the provider service.
// Per-dapp state (sessions, custom RPCs) lives in the stores.
type Config struct {
	// Server
	Port      int
	LogFormat string
	LogLevel  string

	// Database. Empty selects in-memory stores.
	PostgresDSN string

	// Chains and backend
	ChainsFile string
	OpenAPIURL string

	// Pipeline tuning
	RPCCacheTTL       time.Duration
	RejectWindow      time.Duration
	BlockDuration     time.Duration
	PersistFailedTx   bool
	MaxApprovalStages int

	// Origins told to present themselves as MetaMask
	MetamaskModeOrigins []string

	// Inbound flood limit per origin
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Development keyring
	DevPrivateKeys  []string
	KeyringPassword string

	// Wallet UI credential, as plain text or a bcrypt hash. With neither
	// set the approval and wallet routes refuse every request.
	UISecret     string
	UISecretHash string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("CHAINS_FILE", "")
	v.SetDefault("OPENAPI_URL", "https://api.rabby.io")
	v.SetDefault("RPC_CACHE_TTL", "5s")
	v.SetDefault("REJECT_WINDOW", "60s")
	v.SetDefault("BLOCK_DURATION", "60s")
	v.SetDefault("PERSIST_FAILED_TX", false)
	v.SetDefault("MAX_APPROVAL_STAGES", 8)
	v.SetDefault("METAMASK_MODE_ORIGINS", "")
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 20.0)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("DEV_PRIVATE_KEYS", "")
	v.SetDefault("KEYRING_PASSWORD", "")
	v.SetDefault("UI_SECRET", "")
	v.SetDefault("UI_SECRET_HASH", "")
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom reads configuration through the given viper instance.
// Environment variables override anything already set on v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:                v.GetInt("PORT"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		PostgresDSN:         v.GetString("POSTGRES_DSN"),
		ChainsFile:          v.GetString("CHAINS_FILE"),
		OpenAPIURL:          strings.TrimRight(v.GetString("OPENAPI_URL"), "/"),
		RPCCacheTTL:         v.GetDuration("RPC_CACHE_TTL"),
		RejectWindow:        v.GetDuration("REJECT_WINDOW"),
		BlockDuration:       v.GetDuration("BLOCK_DURATION"),
		PersistFailedTx:     v.GetBool("PERSIST_FAILED_TX"),
		MaxApprovalStages:   v.GetInt("MAX_APPROVAL_STAGES"),
		MetamaskModeOrigins: splitList(v.GetString("METAMASK_MODE_ORIGINS")),
		RateLimitEnabled:    v.GetBool("RATE_LIMIT_ENABLED"),
		RateLimitRPS:        v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:      v.GetInt("RATE_LIMIT_BURST"),
		DevPrivateKeys:      splitList(v.GetString("DEV_PRIVATE_KEYS")),
		KeyringPassword:     v.GetString("KEYRING_PASSWORD"),
		UISecret:            v.GetString("UI_SECRET"),
		UISecretHash:        v.GetString("UI_SECRET_HASH"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port)
	}

	if c.OpenAPIURL == "" {
		return fmt.Errorf("OPENAPI_URL is required")
	}

	if c.RPCCacheTTL <= 0 {
		return fmt.Errorf("RPC_CACHE_TTL must be positive, got: %s", c.RPCCacheTTL)
	}

	if c.RejectWindow <= 0 || c.BlockDuration <= 0 {
		return fmt.Errorf("REJECT_WINDOW and BLOCK_DURATION must be positive")
	}

	if c.MaxApprovalStages < 2 {
		return fmt.Errorf("MAX_APPROVAL_STAGES must be at least 2, got: %d", c.MaxApprovalStages)
	}

	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}

	if len(c.DevPrivateKeys) > 0 && c.KeyringPassword == "" {
		return fmt.Errorf("KEYRING_PASSWORD is required when DEV_PRIVATE_KEYS is set")
	}

	if c.UISecret != "" && c.UISecretHash != "" {
		return fmt.Errorf("set only one of UI_SECRET and UI_SECRET_HASH")
	}

	return nil
}

// UsePostgres reports whether persistent stores are configured
func (c *Config) UsePostgres() bool {
	return c.PostgresDSN != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
