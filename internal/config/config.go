// Package config loads YAML configuration with environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Chain       ChainConfig       `yaml:"chain"`
	Contracts   ContractsConfig   `yaml:"contracts"`
	Solver      SolverConfig      `yaml:"solver"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ChainConfig holds blockchain connection settings.
type ChainConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	WSURL   string `yaml:"ws_url"`
	ChainID int64  `yaml:"chain_id"`
}

// ContractsConfig holds the smart contract address book.
type ContractsConfig struct {
	UniversalRouter string `yaml:"universal_router"`
	Permit2         string `yaml:"permit2"`
	V2Factory       string `yaml:"v2_factory"`
	V3Factory       string `yaml:"v3_factory"`
	WETH            string `yaml:"weth"`
}

// SolverConfig holds route discovery and solving settings.
type SolverConfig struct {
	MaxHops         int     `yaml:"max_hops"`
	DefaultSlippage float64 `yaml:"default_slippage"`
	MinLiquidity    float64 `yaml:"min_liquidity"`
}

// PersistenceConfig holds database settings.
type PersistenceConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	cfg.setDefaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if len(data) > 0 {
		// Expand environment variables in YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options. Contract
// addresses default to the Ethereum mainnet deployments.
func (c *Config) setDefaults() {
	c.Chain = ChainConfig{
		ChainID: 1,
	}
	c.Contracts = ContractsConfig{
		UniversalRouter: "0x3fC91A3afd70395Cd496C647d5a6CC9D4B2b7FAD",
		Permit2:         "0x000000000022D473030F116dDEE9F6B43aC78BA3",
		V2Factory:       "0x5C69bEE701ef814a2B6a3EDD4B1652CB9cc5aA6f",
		V3Factory:       "0x1F98431c8aD98523631AE4a59f267346ea31F984",
		WETH:            "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	}
	c.Solver = SolverConfig{
		MaxHops:         3,
		DefaultSlippage: 0.005,
		MinLiquidity:    0,
	}
	c.Persistence = PersistenceConfig{
		SQLitePath: "./data/swapsolver.db",
	}
	c.Metrics = MetricsConfig{
		Enabled: true,
		Port:    8080,
		Path:    "/metrics",
	}
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}

// applyEnvOverrides applies environment variable overrides to configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ETH_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("ETH_WS_URL"); v != "" {
		c.Chain.WSURL = v
	}
	if v := os.Getenv("ETH_CHAIN_ID"); v != "" {
		var id int64
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil && id > 0 {
			c.Chain.ChainID = id
		}
	}

	if v := os.Getenv("SOLVER_MAX_HOPS"); v != "" {
		var hops int
		if _, err := fmt.Sscanf(v, "%d", &hops); err == nil && hops > 0 {
			c.Solver.MaxHops = hops
		}
	}
	if v := os.Getenv("SOLVER_DEFAULT_SLIPPAGE"); v != "" {
		var slippage float64
		if _, err := fmt.Sscanf(v, "%f", &slippage); err == nil && slippage > 0 && slippage < 1 {
			c.Solver.DefaultSlippage = slippage
		}
	}

	if v := os.Getenv("METRICS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Persistence.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// RequireStreaming checks the extra settings the streaming daemon needs; a
// one-shot quote over HTTP RPC alone does not.
func (c *Config) RequireStreaming() error {
	if c.Chain.WSURL == "" {
		return fmt.Errorf("chain.ws_url is required (set ETH_WS_URL env var)")
	}
	if c.Persistence.SQLitePath == "" {
		return fmt.Errorf("persistence.sqlite_path is required")
	}
	return nil
}

// validate checks that all required configuration values are present and valid.
func (c *Config) validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required (set ETH_RPC_URL env var)")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain.chain_id must be positive")
	}
	if c.Contracts.UniversalRouter == "" {
		return fmt.Errorf("contracts.universal_router is required")
	}
	if c.Contracts.Permit2 == "" {
		return fmt.Errorf("contracts.permit2 is required")
	}
	if c.Contracts.WETH == "" {
		return fmt.Errorf("contracts.weth is required")
	}
	if c.Solver.MaxHops <= 0 {
		return fmt.Errorf("solver.max_hops must be positive")
	}
	if c.Solver.DefaultSlippage <= 0 || c.Solver.DefaultSlippage >= 1 {
		return fmt.Errorf("solver.default_slippage must be in (0,1)")
	}
	if c.Solver.MinLiquidity < 0 {
		return fmt.Errorf("solver.min_liquidity must not be negative")
	}
	if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port number")
	}
	return nil
}
