// Package config loads the wallet configuration from an embedded default,
// an optional YAML file and the environment.
package config

import (
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/blndgs/aawallet/builder"
	"github.com/blndgs/aawallet/consolidation"
	"github.com/blndgs/aawallet/storage"
	"github.com/blndgs/aawallet/submitter"
	"github.com/blndgs/aawallet/units"
)

// EnvPrefix prefixes every environment override, e.g.
// AAWALLET_CHAIN_RPCURL or AAWALLET_SIGNER_PRIVATEKEY.
const EnvPrefix = "AAWALLET"

//go:embed default.yaml
var DefaultConfigYml string

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	JSON  bool   `yaml:"json"`
}

type ChainConfig struct {
	ID             uint64            `yaml:"id" validate:"required,gt=0"`
	RPCURL         string            `yaml:"rpcUrl" envconfig:"RPCURL" validate:"required,url"`
	Headers        map[string]string `yaml:"headers"`
	ReadsPerSecond float64           `yaml:"readsPerSecond" validate:"gte=0"`
	ReadBurst      int               `yaml:"readBurst" validate:"gte=0"`
}

type BundlerConfig struct {
	URL string `yaml:"url" validate:"required,url"`
}

type PaymasterConfig struct {
	Enabled bool                   `yaml:"enabled"`
	URL     string                 `yaml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Context map[string]interface{} `yaml:"context" ignored:"true"`
}

type ContractsConfig struct {
	EntryPoint string `yaml:"entryPoint" envconfig:"ENTRYPOINT" validate:"required,eth_addr"`
	Factory    string `yaml:"factory" validate:"required,eth_addr"`
}

// GasLimits mirrors builder.GasValues with optional integers.
type GasLimits struct {
	CallGasLimit         *uint64 `yaml:"callGasLimit"`
	VerificationGasLimit *uint64 `yaml:"verificationGasLimit"`
	PreVerificationGas   *uint64 `yaml:"preVerificationGas"`
	MaxFeePerGas         *uint64 `yaml:"maxFeePerGas"`
	MaxPriorityFeePerGas *uint64 `yaml:"maxPriorityFeePerGas"`
}

type BoundConfig struct {
	Min *uint64 `yaml:"min"`
	Max *uint64 `yaml:"max"`
}

// GasBoundsConfig overrides individual default bounds.
type GasBoundsConfig struct {
	CallGasLimit         *BoundConfig `yaml:"callGasLimit"`
	VerificationGasLimit *BoundConfig `yaml:"verificationGasLimit"`
	PreVerificationGas   *BoundConfig `yaml:"preVerificationGas"`
	MaxFeePerGas         *BoundConfig `yaml:"maxFeePerGas"`
	MaxPriorityFeePerGas *BoundConfig `yaml:"maxPriorityFeePerGas"`
}

type GasConfig struct {
	Mode          string          `yaml:"mode" validate:"required,gas_mode"`
	PriorityLevel string          `yaml:"priorityLevel" envconfig:"PRIORITYLEVEL" validate:"required,priority_level"`
	CustomLimits  GasLimits       `yaml:"customLimits" ignored:"true"`
	Bounds        GasBoundsConfig `yaml:"bounds" ignored:"true"`
}

type ConsolidationConfig struct {
	// Reserve is the native amount in ether kept in each source account.
	Reserve         string `yaml:"reserve" validate:"required,ether_amount"`
	ScanConcurrency int    `yaml:"scanConcurrency" validate:"gte=0"`
}

type SubmitterConfig struct {
	ReceiptTimeout  time.Duration `yaml:"receiptTimeout" validate:"gte=0"`
	PollInterval    time.Duration `yaml:"pollInterval" validate:"gte=0"`
	MaxPollInterval time.Duration `yaml:"maxPollInterval" validate:"gte=0"`
	BackoffFactor   float64       `yaml:"backoffFactor" validate:"gte=0"`
}

type StorageConfig struct {
	Engine      string `yaml:"engine" validate:"required,store_engine"`
	Path        string `yaml:"path" validate:"required_if=Engine pebble"`
	CacheSizeMB int    `yaml:"cacheSizeMB" validate:"gte=0"`
	RedisAddr   string `yaml:"redisAddr" validate:"required_if=Engine redis"`
	Prefix      string `yaml:"prefix"`
}

type ResolverConfig struct {
	CacheSizeMB int `yaml:"cacheSizeMB" validate:"gte=0"`
}

type AuthConfig struct {
	Method string `yaml:"method"`
}

type APIConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

type SignerConfig struct {
	// PrivateKey is only read from the environment.
	PrivateKey string `yaml:"-" envconfig:"PRIVATEKEY"`
}

type TokenConfig struct {
	Symbol   string `yaml:"symbol" validate:"required"`
	Address  string `yaml:"address" validate:"required,eth_addr"`
	Decimals uint8  `yaml:"decimals" validate:"lte=36"`
}

// Config is the complete wallet configuration.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Chain         ChainConfig         `yaml:"chain"`
	Bundler       BundlerConfig       `yaml:"bundler"`
	Paymaster     PaymasterConfig     `yaml:"paymaster"`
	Contracts     ContractsConfig     `yaml:"contracts"`
	Gas           GasConfig           `yaml:"gas"`
	Consolidation ConsolidationConfig `yaml:"consolidation"`
	Submitter     SubmitterConfig     `yaml:"submitter"`
	Storage       StorageConfig       `yaml:"storage"`
	Resolver      ResolverConfig      `yaml:"resolver"`
	Auth          AuthConfig          `yaml:"auth"`
	API           APIConfig           `yaml:"api"`
	Signer        SignerConfig        `yaml:"-"`
	Tokens        []TokenConfig       `yaml:"tokens" ignored:"true" validate:"dive"`
}

// Load reads the embedded default, then the file at path if set, then the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(DefaultConfigYml), cfg); err != nil {
		return nil, fmt.Errorf("error decoding default config: %w", err)
	}

	if path != "" {
		if err := readConfigFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error reading config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"chainId":    cfg.Chain.ID,
		"entryPoint": cfg.Contracts.EntryPoint,
		"storage":    cfg.Storage.Engine,
		"gasMode":    cfg.Gas.Mode,
		"tokens":     len(cfg.Tokens),
	}).Debug("did init config")

	return cfg, nil
}

func readConfigFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening config file %v: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("error decoding config file %v: %w", path, err)
	}
	return nil
}

// Validate checks the configuration with the registered validators.
func (c *Config) Validate() error {
	v, err := NewValidator()
	if err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ApplyLogging configures the standard logrus logger.
func (c *Config) ApplyLogging() error {
	if c.Logging.Level != "" {
		level, err := logrus.ParseLevel(c.Logging.Level)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
	}
	if c.Logging.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}

func (c *Config) ChainID() *big.Int {
	return new(big.Int).SetUint64(c.Chain.ID)
}

func (c *Config) EntryPoint() common.Address {
	return common.HexToAddress(c.Contracts.EntryPoint)
}

func (c *Config) Factory() common.Address {
	return common.HexToAddress(c.Contracts.Factory)
}

// ReserveWei returns the consolidation reserve in wei.
func (c *Config) ReserveWei() (*big.Int, error) {
	if c.Consolidation.Reserve == "0" {
		return new(big.Int), nil
	}
	return units.ParseEther(c.Consolidation.Reserve)
}

// BuilderGasConfig converts the gas section into the builder's override
// configuration, starting from the default bounds.
func (c *Config) BuilderGasConfig() builder.GasConfig {
	gc := builder.DefaultGasConfig()
	gc.Mode = builder.GasMode(c.Gas.Mode)
	gc.PriorityLevel = builder.PriorityLevel(c.Gas.PriorityLevel)

	custom := c.Gas.CustomLimits
	gc.CustomLimits = builder.GasValues{
		CallGasLimit:         bigOrNil(custom.CallGasLimit),
		VerificationGasLimit: bigOrNil(custom.VerificationGasLimit),
		PreVerificationGas:   bigOrNil(custom.PreVerificationGas),
		MaxFeePerGas:         bigOrNil(custom.MaxFeePerGas),
		MaxPriorityFeePerGas: bigOrNil(custom.MaxPriorityFeePerGas),
	}

	bounds := c.Gas.Bounds
	overrideBound(&gc.Bounds.CallGasLimit, bounds.CallGasLimit)
	overrideBound(&gc.Bounds.VerificationGasLimit, bounds.VerificationGasLimit)
	overrideBound(&gc.Bounds.PreVerificationGas, bounds.PreVerificationGas)
	overrideBound(&gc.Bounds.MaxFeePerGas, bounds.MaxFeePerGas)
	overrideBound(&gc.Bounds.MaxPriorityFeePerGas, bounds.MaxPriorityFeePerGas)
	return gc
}

func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Engine:      storage.Engine(c.Storage.Engine),
		Path:        c.Storage.Path,
		CacheSizeMB: c.Storage.CacheSizeMB,
		RedisAddr:   c.Storage.RedisAddr,
		Prefix:      c.Storage.Prefix,
	}
}

func (c *Config) SubmitterConfig() submitter.Config {
	return submitter.Config{
		ReceiptTimeout:  c.Submitter.ReceiptTimeout,
		PollInterval:    c.Submitter.PollInterval,
		MaxPollInterval: c.Submitter.MaxPollInterval,
		BackoffFactor:   c.Submitter.BackoffFactor,
	}
}

func (c *Config) PlannerConfig() (consolidation.PlannerConfig, error) {
	reserve, err := c.ReserveWei()
	if err != nil {
		return consolidation.PlannerConfig{}, fmt.Errorf("invalid consolidation reserve: %w", err)
	}
	return consolidation.PlannerConfig{
		Reserve:     reserve,
		Concurrency: c.Consolidation.ScanConcurrency,
	}, nil
}

func (c *Config) TokenList() []consolidation.Token {
	tokens := make([]consolidation.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		tokens = append(tokens, consolidation.Token{
			Symbol:   t.Symbol,
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
		})
	}
	return tokens
}

// Token looks up a configured token by symbol or address.
func (c *Config) Token(symbolOrAddress string) (consolidation.Token, bool) {
	for _, t := range c.TokenList() {
		if t.Symbol == symbolOrAddress {
			return t, true
		}
		if common.IsHexAddress(symbolOrAddress) && t.Address == common.HexToAddress(symbolOrAddress) {
			return t, true
		}
	}
	return consolidation.Token{}, false
}

func bigOrNil(v *uint64) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).SetUint64(*v)
}

func overrideBound(dst *builder.Bound, src *BoundConfig) {
	if src == nil {
		return
	}
	if src.Min != nil {
		dst.Min = new(big.Int).SetUint64(*src.Min)
	}
	if src.Max != nil {
		dst.Max = new(big.Int).SetUint64(*src.Max)
	}
}
