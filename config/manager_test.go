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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Port:            4000,
		Environment:     EnvDevelopment,
		APIKey:          "key",
		JWTSecret:       "secret",
		CORSOrigins:     []string{"*"},
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
		DataDir:         "data",
		DefaultChainID:  84532,
		Chains: map[uint64]ChainConfig{
			84532: {
				ChainID:        84532,
				Name:           "Base Sepolia",
				RPCURL:         "https://sepolia.base.org",
				CurrencySymbol: "ETH",
			},
		},
	}
}

func TestManagerReload(t *testing.T) {
	mgr, err := NewManager(testConfig())
	require.NoError(t, err)
	require.Equal(t, 4000, mgr.Current().Port)

	next := testConfig()
	next.Port = 4100
	require.NoError(t, mgr.Reload(next))
	require.Equal(t, 4100, mgr.Current().Port)
}

func TestManagerReloadRejectsInvalid(t *testing.T) {
	mgr, err := NewManager(testConfig())
	require.NoError(t, err)

	bad := testConfig()
	bad.Chains = nil
	require.Error(t, mgr.Reload(bad))
	require.Equal(t, 4000, mgr.Current().Port, "previous snapshot must survive a failed reload")
}

func TestNewManagerRejectsInvalid(t *testing.T) {
	bad := testConfig()
	bad.Port = 0
	_, err := NewManager(bad)
	require.Error(t, err)
}
