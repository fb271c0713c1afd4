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

package params

import "fmt"

// Chain ids of the networks the relay ships defaults for.
const (
	CoreTestnetChainID = 1114  // Core blockchain testnet2
	BaseSepoliaChainID = 84532 // Base Sepolia testnet
	HoleskyChainID     = 17000 // Ethereum Holesky testnet
	LiskSepoliaChainID = 4202  // Lisk Sepolia testnet
	SepoliaChainID     = 11155111
)

// Gas limit caps applied to inbound transactions per chain. Transactions
// above the cap for their chain are rejected before they reach the queue.
const (
	DefaultMaxGasLimit     = uint64(1_000_000)
	EthTestnetMaxGasLimit  = uint64(500_000)
	CoreTestnetMaxGasLimit = uint64(2_000_000)
	LiskTestnetMaxGasLimit = uint64(1_500_000)
)

// ChainDefaults describes one built-in network. Deployments override any of
// these through the environment or a chains file; contract addresses are
// always deployment-supplied.
type ChainDefaults struct {
	ChainID        uint64
	Name           string
	EnvName        string // prefix for <ENVNAME>_RPC_URL style variables
	RPCURL         string
	ExplorerURL    string
	CurrencySymbol string
	MaxGasLimit    uint64
}

var (
	CoreTestnetDefaults = ChainDefaults{
		ChainID:        CoreTestnetChainID,
		Name:           "Core Testnet 2",
		EnvName:        "CORE_TESTNET",
		RPCURL:         "https://rpc.test2.btcs.network",
		ExplorerURL:    "https://scan.test2.btcs.network",
		CurrencySymbol: "TCORE2",
		MaxGasLimit:    CoreTestnetMaxGasLimit,
	}

	BaseSepoliaDefaults = ChainDefaults{
		ChainID:        BaseSepoliaChainID,
		Name:           "Base Sepolia",
		EnvName:        "BASE_SEPOLIA",
		RPCURL:         "https://sepolia.base.org",
		ExplorerURL:    "https://sepolia.basescan.org",
		CurrencySymbol: "ETH",
		MaxGasLimit:    EthTestnetMaxGasLimit,
	}

	HoleskyDefaults = ChainDefaults{
		ChainID:        HoleskyChainID,
		Name:           "Ethereum Holesky",
		EnvName:        "HOLESKY",
		RPCURL:         "https://ethereum-holesky-rpc.publicnode.com",
		ExplorerURL:    "https://holesky.etherscan.io",
		CurrencySymbol: "ETH",
		MaxGasLimit:    EthTestnetMaxGasLimit,
	}

	LiskSepoliaDefaults = ChainDefaults{
		ChainID:        LiskSepoliaChainID,
		Name:           "Lisk Sepolia",
		EnvName:        "LISK_SEPOLIA",
		RPCURL:         "https://rpc.sepolia-api.lisk.com",
		ExplorerURL:    "https://sepolia.scroll.io",
		CurrencySymbol: "ETH",
		MaxGasLimit:    LiskTestnetMaxGasLimit,
	}
)

// DefaultChains maps chain id to the built-in defaults, in the order the
// relay advertises them.
var DefaultChains = map[uint64]ChainDefaults{
	CoreTestnetChainID: CoreTestnetDefaults,
	BaseSepoliaChainID: BaseSepoliaDefaults,
	HoleskyChainID:     HoleskyDefaults,
	LiskSepoliaChainID: LiskSepoliaDefaults,
}

// explorerBases maps chain id to the block explorer host used when deriving
// transaction links for API responses.
var explorerBases = map[uint64]string{
	CoreTestnetChainID: "https://scan.test2.btcs.network",
	BaseSepoliaChainID: "https://sepolia.basescan.org",
	HoleskyChainID:     "https://holesky.etherscan.io",
	LiskSepoliaChainID: "https://sepolia.scroll.io",
}

// ExplorerBase returns the block explorer base URL for a chain, or the
// chain-agnostic fallback when the chain has no dedicated explorer entry.
func ExplorerBase(chainID uint64) string {
	if base, ok := explorerBases[chainID]; ok {
		return base
	}
	return "https://blockscan.com"
}

// ExplorerTxURL derives the explorer link for a transaction hash.
func ExplorerTxURL(chainID uint64, txHash string) string {
	return fmt.Sprintf("%s/tx/%s", ExplorerBase(chainID), txHash)
}

// MaxGasLimit returns the inbound gas cap for a chain. Chains without an
// explicit entry fall back to the default cap.
func MaxGasLimit(chainID uint64) uint64 {
	if def, ok := DefaultChains[chainID]; ok && def.MaxGasLimit != 0 {
		return def.MaxGasLimit
	}
	switch chainID {
	case SepoliaChainID:
		return EthTestnetMaxGasLimit
	default:
		return DefaultMaxGasLimit
	}
}

// ChainName returns the human readable name of a built-in chain, or a
// generated "chain-<id>" placeholder for unknown ids.
func ChainName(chainID uint64) string {
	if def, ok := DefaultChains[chainID]; ok {
		return def.Name
	}
	return fmt.Sprintf("chain-%d", chainID)
}
