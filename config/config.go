// Copyright 2025 The go-airchainpay-relay Authors
// This file is part of the go-airchainpay-relay library.
//
// The go-airchainpay-relay library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-airchainpay-relay library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-airchainpay-relay library. If not, see <http://www.gnu.org/licenses/>.

// Package config resolves the relay configuration from the environment and an
// optional chains file, validates it, and exposes an atomically swappable
// snapshot to the rest of the process.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/airchainpay/relay/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

const (
	DefaultPort            = 4000
	DefaultRateLimitMax    = 100
	DefaultRateLimitWindow = 60 * time.Second
	DefaultDataDir         = "data"
)

// Variables that must be present when running in production.
var productionRequired = []string{"RPC_URL", "CHAIN_ID", "CONTRACT_ADDRESS", "API_KEY", "JWT_SECRET"}

// ChainConfig describes one relay-served network.
type ChainConfig struct {
	ChainID         uint64 `yaml:"chain_id" json:"chain_id"`
	Name            string `yaml:"name" json:"name"`
	RPCURL          string `yaml:"rpc_url" json:"rpc_url"`
	ContractAddress string `yaml:"contract_address" json:"contract_address"`
	ExplorerURL     string `yaml:"explorer_url" json:"explorer_url"`
	CurrencySymbol  string `yaml:"currency_symbol" json:"currency_symbol"`
	MaxGasLimit     uint64 `yaml:"max_gas_limit,omitempty" json:"max_gas_limit,omitempty"`
}

// Config is one immutable snapshot of the relay configuration. Reload never
// mutates a snapshot in place; it builds a new one and swaps the pointer.
type Config struct {
	Port            int
	Environment     string
	APIKey          string
	JWTSecret       string
	CORSOrigins     []string
	RateLimitMax    int
	RateLimitWindow time.Duration
	RelayerKey      string // hex-encoded private key for contract write calls, optional
	DataDir         string
	DefaultChainID  uint64
	Chains          map[uint64]ChainConfig
}

type chainsFile struct {
	Chains []ChainConfig `yaml:"chains"`
}

// FromEnv builds a configuration snapshot from the process environment.
// Built-in chain defaults are applied first, then the optional CHAINS_FILE,
// then per-chain and generic environment overrides.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:            DefaultPort,
		Environment:     environment(),
		APIKey:          os.Getenv("API_KEY"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		CORSOrigins:     splitOrigins(os.Getenv("CORS_ORIGINS")),
		RateLimitMax:    DefaultRateLimitMax,
		RateLimitWindow: DefaultRateLimitWindow,
		RelayerKey:      strings.TrimPrefix(os.Getenv("RELAYER_PRIVATE_KEY"), "0x"),
		DataDir:         envOr("DATA_DIR", DefaultDataDir),
		Chains:          make(map[uint64]ChainConfig),
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("RATE_LIMIT_MAX"); v != "" {
		max, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_MAX %q: %w", v, err)
		}
		cfg.RateLimitMax = max
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW_MS %q: %w", v, err)
		}
		cfg.RateLimitWindow = time.Duration(ms) * time.Millisecond
	}

	for id, def := range params.DefaultChains {
		cfg.Chains[id] = ChainConfig{
			ChainID:        id,
			Name:           def.Name,
			RPCURL:         def.RPCURL,
			ExplorerURL:    def.ExplorerURL,
			CurrencySymbol: def.CurrencySymbol,
			MaxGasLimit:    def.MaxGasLimit,
		}
	}

	if path := os.Getenv("CHAINS_FILE"); path != "" {
		if err := loadChainsFile(path, cfg.Chains); err != nil {
			return nil, err
		}
	}

	applyChainEnvOverrides(cfg.Chains)

	if err := applyPrimaryChain(cfg); err != nil {
		return nil, err
	}

	if cfg.Environment == EnvProduction {
		if missing := missingProductionVars(); len(missing) > 0 {
			return nil, fmt.Errorf("production requires %s", strings.Join(missing, ", "))
		}
	} else {
		if cfg.APIKey == "" {
			cfg.APIKey = "dev-api-key"
			log.Warn("API_KEY not set, using insecure development key")
		}
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = "insecure-dev-secret"
			log.Warn("JWT_SECRET not set, using insecure development secret")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a snapshot for structural problems. It is called on every
// load and reload; a snapshot that fails validation is never installed.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if c.RateLimitMax < 1 {
		return fmt.Errorf("rate limit max %d must be positive", c.RateLimitMax)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window %s must be positive", c.RateLimitWindow)
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	for id, chain := range c.Chains {
		if chain.ChainID != id {
			return fmt.Errorf("chain %d: id mismatch (%d)", id, chain.ChainID)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("chain %d: rpc_url is empty", id)
		}
		if chain.ContractAddress != "" && !ValidAddress(chain.ContractAddress) {
			return fmt.Errorf("chain %d: invalid contract address %q", id, chain.ContractAddress)
		}
	}
	return nil
}

// ValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func ValidAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// GasLimitFor returns the inbound gas cap for a chain, preferring the
// per-chain override over the built-in table.
func (c *Config) GasLimitFor(chainID uint64) uint64 {
	if chain, ok := c.Chains[chainID]; ok && chain.MaxGasLimit != 0 {
		return chain.MaxGasLimit
	}
	return params.MaxGasLimit(chainID)
}

// ChainIDs returns the configured chain ids in ascending order.
func (c *Config) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.Chains))
	for id := range c.Chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsDevelopment reports whether detailed error messages may be surfaced to
// clients.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func environment() string {
	if v := os.Getenv("RELAY_ENV"); v != "" {
		return v
	}
	// Compatibility with deployments that predate the rename.
	if v := os.Getenv("RUST_ENV"); v != "" {
		return v
	}
	return EnvDevelopment
}

func splitOrigins(s string) []string {
	if s == "" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadChainsFile(path string, chains map[uint64]ChainConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("chains file: %w", err)
	}
	var file chainsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("chains file %s: %w", path, err)
	}
	for _, chain := range file.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chains file %s: entry without chain_id", path)
		}
		merged := chains[chain.ChainID]
		merged.ChainID = chain.ChainID
		if chain.Name != "" {
			merged.Name = chain.Name
		}
		if chain.RPCURL != "" {
			merged.RPCURL = chain.RPCURL
		}
		if chain.ContractAddress != "" {
			merged.ContractAddress = chain.ContractAddress
		}
		if chain.ExplorerURL != "" {
			merged.ExplorerURL = chain.ExplorerURL
		}
		if chain.CurrencySymbol != "" {
			merged.CurrencySymbol = chain.CurrencySymbol
		}
		if chain.MaxGasLimit != 0 {
			merged.MaxGasLimit = chain.MaxGasLimit
		}
		if merged.Name == "" {
			merged.Name = params.ChainName(chain.ChainID)
		}
		chains[chain.ChainID] = merged
	}
	return nil
}

func applyChainEnvOverrides(chains map[uint64]ChainConfig) {
	for id, def := range params.DefaultChains {
		chain := chains[id]
		if v := os.Getenv(def.EnvName + "_RPC_URL"); v != "" {
			chain.RPCURL = v
		}
		if v := os.Getenv(def.EnvName + "_CONTRACT_ADDRESS"); v != "" {
			chain.ContractAddress = v
		}
		chains[id] = chain
	}
}

// applyPrimaryChain folds the generic RPC_URL/CHAIN_ID/CONTRACT_ADDRESS
// variables into the chain table and records the default chain id.
func applyPrimaryChain(cfg *Config) error {
	rawID := os.Getenv("CHAIN_ID")
	if rawID == "" {
		cfg.DefaultChainID = params.BaseSepoliaChainID
		return nil
	}
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid CHAIN_ID %q: %w", rawID, err)
	}
	chain, ok := cfg.Chains[id]
	if !ok {
		chain = ChainConfig{
			ChainID:        id,
			Name:           params.ChainName(id),
			ExplorerURL:    params.ExplorerBase(id),
			CurrencySymbol: "ETH",
		}
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		chain.RPCURL = v
	}
	if v := os.Getenv("CONTRACT_ADDRESS"); v != "" {
		chain.ContractAddress = v
	}
	cfg.Chains[id] = chain
	cfg.DefaultChainID = id
	return nil
}

func missingProductionVars() []string {
	var missing []string
	for _, name := range productionRequired {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
