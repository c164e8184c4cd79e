package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"lendvault/ledger"
)

// Duration wraps time.Duration to support TOML and YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// Config captures everything needed to reach the ledger and run workflows.
type Config struct {
	RPC          RPCConfig          `toml:"rpc" yaml:"rpc"`
	Contracts    ContractsConfig    `toml:"contracts" yaml:"contracts"`
	Confirmation ConfirmationConfig `toml:"confirmation" yaml:"confirmation"`
	Approval     ApprovalConfig     `toml:"approval" yaml:"approval"`
	Repayment    RepaymentConfig    `toml:"repayment" yaml:"repayment"`
	Signer       SignerConfig       `toml:"signer" yaml:"signer"`
	Logging      LoggingConfig      `toml:"logging" yaml:"logging"`
	Telemetry    TelemetryConfig    `toml:"telemetry" yaml:"telemetry"`
}

// RPCConfig points at the node serving the ledger.
type RPCConfig struct {
	Endpoint          string   `toml:"endpoint" yaml:"endpoint"`
	ChainID           uint64   `toml:"chain_id" yaml:"chain_id"`
	RequestsPerSecond float64  `toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             int      `toml:"burst" yaml:"burst"`
	DialTimeout       Duration `toml:"dial_timeout" yaml:"dial_timeout"`
}

// ContractsConfig holds the deployed contract addresses.
type ContractsConfig struct {
	Token            string `toml:"token" yaml:"token"`
	Vault            string `toml:"vault" yaml:"vault"`
	LoanRegistry     string `toml:"loan_registry" yaml:"loan_registry"`
	PaymentCollector string `toml:"payment_collector" yaml:"payment_collector"`
}

// ConfirmationConfig bounds how long workflows wait for receipts.
type ConfirmationConfig struct {
	Timeout        Duration `toml:"timeout" yaml:"timeout"`
	InitialBackoff Duration `toml:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff" yaml:"max_backoff"`
	Blocks         uint64   `toml:"blocks" yaml:"blocks"`
}

// ApprovalConfig selects exact or unlimited token approvals.
type ApprovalConfig struct {
	Unlimited bool `toml:"unlimited" yaml:"unlimited"`
}

// RepaymentConfig controls how repay workflows treat payments larger than
// the loan's remaining balance.
type RepaymentConfig struct {
	RejectOverpayment bool `toml:"reject_overpayment" yaml:"reject_overpayment"`
}

// SignerConfig locates an optional local keystore identity.
type SignerConfig struct {
	Keystore       string `toml:"keystore" yaml:"keystore"`
	PassphraseEnv  string `toml:"passphrase_env" yaml:"passphrase_env"`
	PassphraseFile string `toml:"passphrase_file" yaml:"passphrase_file"`

	// Passphrase is resolved from the env var or file during Load.
	Passphrase string `toml:"-" yaml:"-"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `toml:"level" yaml:"level"`
	Env        string `toml:"env" yaml:"env"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// TelemetryConfig wires OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"insecure" yaml:"insecure"`
	Headers  string `toml:"headers" yaml:"headers"`
	Traces   bool   `toml:"traces" yaml:"traces"`
	Metrics  bool   `toml:"metrics" yaml:"metrics"`
}

// Load reads configuration from path, decoding TOML or YAML by extension.
func Load(path string) (Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	applyDefaults(&cfg)
	if err := cfg.Signer.normalise(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	policy := ledger.DefaultConfirmPolicy()
	if cfg.Confirmation.Timeout.Duration == 0 {
		cfg.Confirmation.Timeout.Duration = policy.Timeout
	}
	if cfg.Confirmation.InitialBackoff.Duration == 0 {
		cfg.Confirmation.InitialBackoff.Duration = policy.InitialInterval
	}
	if cfg.Confirmation.MaxBackoff.Duration == 0 {
		cfg.Confirmation.MaxBackoff.Duration = policy.MaxInterval
	}
	if cfg.Confirmation.Blocks == 0 {
		cfg.Confirmation.Blocks = policy.Blocks
	}
	if cfg.RPC.DialTimeout.Duration == 0 {
		cfg.RPC.DialTimeout.Duration = 10 * time.Second
	}
	if cfg.RPC.RequestsPerSecond > 0 && cfg.RPC.Burst <= 0 {
		cfg.RPC.Burst = 1
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.File != "" && cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Telemetry.Enabled && !cfg.Telemetry.Traces && !cfg.Telemetry.Metrics {
		cfg.Telemetry.Traces = true
	}
}

// Validate checks that the configuration can reach a ledger.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RPC.Endpoint) == "" {
		return fmt.Errorf("rpc endpoint must be configured")
	}
	if c.RPC.ChainID == 0 {
		return fmt.Errorf("rpc chain_id must be configured")
	}
	if c.RPC.RequestsPerSecond < 0 {
		return fmt.Errorf("rpc requests_per_second must not be negative")
	}
	for name, value := range map[string]string{
		"token":             c.Contracts.Token,
		"vault":             c.Contracts.Vault,
		"loan_registry":     c.Contracts.LoanRegistry,
		"payment_collector": c.Contracts.PaymentCollector,
	} {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("contracts %s: invalid address %q", name, value)
		}
		if common.HexToAddress(value) == (common.Address{}) {
			return fmt.Errorf("contracts %s: zero address", name)
		}
	}
	if c.Confirmation.InitialBackoff.Duration > c.Confirmation.MaxBackoff.Duration {
		return fmt.Errorf("confirmation initial_backoff exceeds max_backoff")
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (s *SignerConfig) normalise() error {
	s.Keystore = strings.TrimSpace(s.Keystore)
	s.PassphraseEnv = strings.TrimSpace(s.PassphraseEnv)
	s.PassphraseFile = strings.TrimSpace(s.PassphraseFile)
	if s.Keystore == "" {
		return nil
	}
	switch {
	case s.PassphraseEnv != "":
		s.Passphrase = os.Getenv(s.PassphraseEnv)
	case s.PassphraseFile != "":
		contents, err := os.ReadFile(s.PassphraseFile)
		if err != nil {
			return fmt.Errorf("read passphrase_file: %w", err)
		}
		s.Passphrase = strings.TrimRight(string(contents), "\r\n")
	}
	return nil
}

// ChainID returns the configured chain id as a big integer.
func (c Config) ChainID() *big.Int {
	return new(big.Int).SetUint64(c.RPC.ChainID)
}

// ContractAddresses converts the configured addresses for the gateway.
func (c Config) ContractAddresses() ledger.Contracts {
	return ledger.Contracts{
		Token:            common.HexToAddress(c.Contracts.Token),
		Vault:            common.HexToAddress(c.Contracts.Vault),
		LoanRegistry:     common.HexToAddress(c.Contracts.LoanRegistry),
		PaymentCollector: common.HexToAddress(c.Contracts.PaymentCollector),
	}
}

// ConfirmPolicy converts the confirmation section for the gateway.
func (c Config) ConfirmPolicy() ledger.ConfirmPolicy {
	return ledger.ConfirmPolicy{
		Timeout:         c.Confirmation.Timeout.Duration,
		InitialInterval: c.Confirmation.InitialBackoff.Duration,
		MaxInterval:     c.Confirmation.MaxBackoff.Duration,
		Blocks:          c.Confirmation.Blocks,
	}
}

// SlogLevel parses the configured log level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return level, fmt.Errorf("logging level: %w", err)
	}
	return level, nil
}
