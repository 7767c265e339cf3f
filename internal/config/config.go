// Package config loads and validates server config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinSecretLen is the shortest accepted JWT signing secret.
const MinSecretLen = 32

// Config holds server configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the listen address of the gRPC server.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`

	JWTSecret       string        `mapstructure:"JWT_SECRET_KEY"`
	JWTAlgorithm    string        `mapstructure:"JWT_ALGORITHM"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	BcryptCost      int           `mapstructure:"BCRYPT_COST"`
	ResetTokenTTL   time.Duration `mapstructure:"RESET_TOKEN_TTL"`
	// CheckAccountActive makes every authenticated call consult the account flag.
	CheckAccountActive bool `mapstructure:"CHECK_ACCOUNT_ACTIVE"`

	// StoreURL is the remote Postgres DSN; empty disables the remote and replica transports.
	StoreURL       string `mapstructure:"STORE_URL"`
	StoreAuthToken string `mapstructure:"STORE_AUTH_TOKEN"`
	// ReplicaPath is the local file of the embedded replica; empty disables it.
	ReplicaPath string `mapstructure:"REPLICA_PATH"`
	LocalDBPath string `mapstructure:"LOCAL_DB_PATH"`
	// Transports is a comma-separated connect order, subset of remote,replica,local.
	Transports          string        `mapstructure:"DB_TRANSPORTS"`
	RetryBudget         int           `mapstructure:"DB_RETRY_BUDGET"`
	CriticalRetryBudget int           `mapstructure:"DB_CRITICAL_RETRY_BUDGET"`
	RetryBase           time.Duration `mapstructure:"DB_RETRY_BASE"`
	HealthInterval      time.Duration `mapstructure:"DB_HEALTH_INTERVAL"`
	// SyncInterval is how often the replica pulls from remote; 0 disables periodic sync.
	SyncInterval time.Duration `mapstructure:"DB_SYNC_INTERVAL"`

	LoginMaxFails int           `mapstructure:"LOGIN_MAX_FAILS"`
	LoginWindow   time.Duration `mapstructure:"LOGIN_WINDOW"`
	LoginBlockFor time.Duration `mapstructure:"LOGIN_BLOCK_FOR"`

	TLSCert string `mapstructure:"TLS_CERT"`
	TLSKey  string `mapstructure:"TLS_KEY"`

	// OTelCollectorAddr is the OTLP gRPC endpoint; empty disables trace export.
	OTelCollectorAddr string `mapstructure:"OTEL_COLLECTOR_ADDR"`
}

// Load reads .env (if present), then builds and validates Config from the environment.
func Load() (*Config, error) { return LoadFrom(".env") }

// LoadFrom is Load with an explicit env file path. A missing file is ignored;
// environment variables override the file.
func LoadFrom(envFile string) (*Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // missing file is fine
	}
	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8443")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("JWT_SECRET_KEY", "")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("CHECK_ACCOUNT_ACTIVE", true)
	v.SetDefault("STORE_URL", "")
	v.SetDefault("STORE_AUTH_TOKEN", "")
	v.SetDefault("REPLICA_PATH", "")
	v.SetDefault("LOCAL_DB_PATH", "./local.db")
	v.SetDefault("DB_TRANSPORTS", "remote,replica,local")
	v.SetDefault("DB_RETRY_BUDGET", 3)
	v.SetDefault("DB_CRITICAL_RETRY_BUDGET", 5)
	v.SetDefault("DB_RETRY_BASE", "500ms")
	v.SetDefault("DB_HEALTH_INTERVAL", "30s")
	v.SetDefault("DB_SYNC_INTERVAL", "1m")
	v.SetDefault("LOGIN_MAX_FAILS", 5)
	v.SetDefault("LOGIN_WINDOW", "15m")
	v.SetDefault("LOGIN_BLOCK_FOR", "15m")
	v.SetDefault("TLS_CERT", "")
	v.SetDefault("TLS_KEY", "")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if len(c.JWTSecret) < MinSecretLen {
		return fmt.Errorf("config: JWT_SECRET_KEY must be at least %d characters", MinSecretLen)
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("config: unsupported JWT_ALGORITHM %q", c.JWTAlgorithm)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.ResetTokenTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.RetryBudget < 1 || c.CriticalRetryBudget < 1 {
		return errors.New("config: DB retry budgets must be at least 1")
	}
	if c.RetryBase <= 0 || c.HealthInterval <= 0 {
		return errors.New("config: DB_RETRY_BASE and DB_HEALTH_INTERVAL must be positive")
	}
	if c.LoginMaxFails < 1 || c.LoginWindow <= 0 || c.LoginBlockFor <= 0 {
		return errors.New("config: login limiter settings must be positive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("config: TLS_CERT and TLS_KEY must be set together")
	}
	order, err := c.TransportOrder()
	if err != nil {
		return err
	}
	for _, name := range order {
		switch {
		case name == "local" && c.LocalDBPath != "":
			return nil
		case name != "local" && c.StoreURL != "":
			return nil
		}
	}
	return errors.New("config: no database transport configured (set STORE_URL or LOCAL_DB_PATH)")
}

// TransportOrder returns DB_TRANSPORTS as a validated list.
func (c *Config) TransportOrder() ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, p := range strings.Split(c.Transports, ",") {
		name := strings.ToLower(strings.TrimSpace(p))
		if name == "" {
			continue
		}
		switch name {
		case "remote", "replica", "local":
		default:
			return nil, fmt.Errorf("config: unknown transport %q in DB_TRANSPORTS", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, errors.New("config: DB_TRANSPORTS is empty")
	}
	return out, nil
}

// Development reports whether APP_ENV selects development mode.
func (c *Config) Development() bool { return strings.EqualFold(c.Env, "development") }

// TLSEnabled reports whether a certificate pair is configured.
func (c *Config) TLSEnabled() bool { return c.TLSCert != "" }
