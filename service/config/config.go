package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/ledgerswap/service/reconcile"
	"github.com/brojonat/ledgerswap/service/swap"
	"github.com/shopspring/decimal"
)

// Reconcile modes select which driver runs the reconciliation tick.
const (
	ReconcileModeLocal    = "local"
	ReconcileModeTemporal = "temporal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// NATS configuration (empty disables swap events)
	NATSURL string

	// Ledger gateway endpoints
	SourceDaemonRPCURL string
	SourceWalletRPCURL string
	TargetWalletRPCURL string
	GatewayTimeout     time.Duration

	// Input validation
	SourceIDLength      int
	TargetAddressLength int
	TargetAddressPrefix string

	// Conversion
	SourceAtomicUnitFactor int64
	TargetAtomicUnitFactor int64
	Ratio                  decimal.Decimal

	// Payout
	ConfirmationThreshold int64
	NetworkFee            int64
	PayoutMixin           int
	PayoutPriority        int
	PayoutComment         string

	// Reconciliation schedule
	ReconcileMode    string
	TickInitialDelay time.Duration
	TickPeriod       time.Duration
	PayoutRetryBase  time.Duration
	PayoutRetryMax   time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	if debug, _ := strconv.ParseBool(os.Getenv("DEBUG")); debug {
		cfg.LogLevel = "debug"
	}

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.NATSURL = os.Getenv("NATS_URL")

	// Ledger gateways
	cfg.SourceDaemonRPCURL = os.Getenv("SOURCE_DAEMON_RPC_URL")
	if cfg.SourceDaemonRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOURCE_DAEMON_RPC_URL is required"))
	}
	cfg.SourceWalletRPCURL = os.Getenv("SOURCE_WALLET_RPC_URL")
	if cfg.SourceWalletRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOURCE_WALLET_RPC_URL is required"))
	}
	cfg.TargetWalletRPCURL = os.Getenv("TARGET_WALLET_RPC_URL")
	if cfg.TargetWalletRPCURL == "" {
		errs = append(errs, fmt.Errorf("TARGET_WALLET_RPC_URL is required"))
	}
	if cfg.SourceWalletRPCURL != "" && cfg.SourceWalletRPCURL == cfg.TargetWalletRPCURL {
		errs = append(errs, fmt.Errorf("SOURCE_WALLET_RPC_URL and TARGET_WALLET_RPC_URL must be different"))
	}

	var err error
	if cfg.GatewayTimeout, err = parseDuration("GATEWAY_TIMEOUT", "30s"); err != nil {
		errs = append(errs, err)
	}

	// Input validation
	if cfg.SourceIDLength, err = parseInt("SOURCE_ID_LENGTH", 64); err != nil {
		errs = append(errs, err)
	}
	if cfg.TargetAddressLength, err = parseInt("TARGET_ADDRESS_LENGTH", 97); err != nil {
		errs = append(errs, err)
	}
	cfg.TargetAddressPrefix = os.Getenv("TARGET_ADDRESS_PREFIX")
	if cfg.TargetAddressPrefix == "" {
		errs = append(errs, fmt.Errorf("TARGET_ADDRESS_PREFIX is required"))
	}

	// Conversion
	if cfg.SourceAtomicUnitFactor, err = parseInt64("SOURCE_ATOMIC_UNIT_FACTOR", 1_000_000_000); err != nil {
		errs = append(errs, err)
	}
	if cfg.TargetAtomicUnitFactor, err = parseInt64("TARGET_ATOMIC_UNIT_FACTOR", 1_000_000_000_000); err != nil {
		errs = append(errs, err)
	}
	ratio := strings.TrimSpace(os.Getenv("SWAP_RATIO"))
	if ratio == "" {
		errs = append(errs, fmt.Errorf("SWAP_RATIO is required"))
	} else if cfg.Ratio, err = decimal.NewFromString(ratio); err != nil {
		errs = append(errs, fmt.Errorf("SWAP_RATIO: invalid decimal %q: %w", ratio, err))
	}

	// Payout
	if cfg.ConfirmationThreshold, err = parseInt64("CONFIRMATION_THRESHOLD", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.NetworkFee, err = parseInt64("NETWORK_FEE", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.PayoutMixin, err = parseInt("PAYOUT_MIXIN", 10); err != nil {
		errs = append(errs, err)
	}
	if cfg.PayoutPriority, err = parseInt("PAYOUT_PRIORITY", 0); err != nil {
		errs = append(errs, err)
	}
	cfg.PayoutComment = os.Getenv("PAYOUT_COMMENT")

	// Reconciliation schedule
	cfg.ReconcileMode = getEnvOrDefault("RECONCILE_MODE", ReconcileModeLocal)
	if cfg.TickInitialDelay, err = parseDuration("TICK_INITIAL_DELAY", "10s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.TickPeriod, err = parseDuration("TICK_PERIOD", "60s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.PayoutRetryBase, err = parseDuration("PAYOUT_RETRY_BASE", "1m"); err != nil {
		errs = append(errs, err)
	}
	if cfg.PayoutRetryMax, err = parseDuration("PAYOUT_RETRY_MAX", "30m"); err != nil {
		errs = append(errs, err)
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "ledgerswap-reconcile")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	// Range checks run on a fully parsed config.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}
	if c.SourceDaemonRPCURL == "" || c.SourceWalletRPCURL == "" || c.TargetWalletRPCURL == "" {
		errs = append(errs, fmt.Errorf("all ledger RPC URLs are required"))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GatewayTimeout must be positive"))
	}
	if c.SourceIDLength <= 0 {
		errs = append(errs, fmt.Errorf("SourceIDLength must be positive"))
	}
	if c.TargetAddressLength <= 0 {
		errs = append(errs, fmt.Errorf("TargetAddressLength must be positive"))
	}
	if len(c.TargetAddressPrefix) > c.TargetAddressLength {
		errs = append(errs, fmt.Errorf("TargetAddressPrefix is longer than TargetAddressLength"))
	}
	if c.SourceAtomicUnitFactor <= 0 || c.TargetAtomicUnitFactor <= 0 {
		errs = append(errs, fmt.Errorf("atomic unit factors must be positive"))
	}
	if !c.Ratio.IsPositive() {
		errs = append(errs, fmt.Errorf("Ratio must be positive"))
	}
	if c.ConfirmationThreshold < 0 {
		errs = append(errs, fmt.Errorf("ConfirmationThreshold cannot be negative"))
	}
	if c.NetworkFee < 0 {
		errs = append(errs, fmt.Errorf("NetworkFee cannot be negative"))
	}
	if c.PayoutMixin < 0 {
		errs = append(errs, fmt.Errorf("PayoutMixin cannot be negative"))
	}
	if c.ReconcileMode != ReconcileModeLocal && c.ReconcileMode != ReconcileModeTemporal {
		errs = append(errs, fmt.Errorf("ReconcileMode must be %q or %q, got %q",
			ReconcileModeLocal, ReconcileModeTemporal, c.ReconcileMode))
	}
	if c.TickInitialDelay < 0 {
		errs = append(errs, fmt.Errorf("TickInitialDelay cannot be negative"))
	}
	if c.TickPeriod < time.Second {
		errs = append(errs, fmt.Errorf("TickPeriod must be at least 1 second"))
	}
	// A zero PayoutRetryBase retries failed payouts on every tick.
	if c.PayoutRetryBase < 0 || c.PayoutRetryMax < c.PayoutRetryBase {
		errs = append(errs, fmt.Errorf("PayoutRetryMax (%v) must be at least PayoutRetryBase (%v), neither negative",
			c.PayoutRetryMax, c.PayoutRetryBase))
	}
	if c.ReconcileMode == ReconcileModeTemporal && (c.TemporalHost == "" || c.TemporalNamespace == "" || c.TemporalTaskQueue == "") {
		errs = append(errs, fmt.Errorf("Temporal host, namespace and task queue are required in temporal mode"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// SwapParams returns the validation and conversion parameters for the swap core.
func (c *Config) SwapParams() swap.Params {
	return swap.Params{
		SourceIDLength:         c.SourceIDLength,
		TargetAddressLength:    c.TargetAddressLength,
		TargetAddressPrefix:    c.TargetAddressPrefix,
		SourceAtomicUnitFactor: c.SourceAtomicUnitFactor,
		TargetAtomicUnitFactor: c.TargetAtomicUnitFactor,
		Ratio:                  c.Ratio,
	}
}

// ReconcileConfig returns the payout and retry settings for the reconciler.
func (c *Config) ReconcileConfig() reconcile.Config {
	return reconcile.Config{
		ConfirmationThreshold: c.ConfirmationThreshold,
		NetworkFee:            c.NetworkFee,
		Mixin:                 c.PayoutMixin,
		Priority:              c.PayoutPriority,
		Comment:               c.PayoutComment,
		RetryBase:             c.PayoutRetryBase,
		RetryMax:              c.PayoutRetryMax,
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseInt64 is parseInt for atomic amounts and factors.
func parseInt64(key string, defaultValue int64) (int64, error) {
	value := strings.ReplaceAll(os.Getenv(key), "_", "")
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
