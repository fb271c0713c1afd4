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

package validator

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/airchainpay/relay/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testChainID = uint64(84532)

var testContract = common.HexToAddress("0xcE2D0A8389FF701F7479A30480e4a07aBc2d81fF")

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Manager {
	t.Helper()
	cfg := &config.Config{
		Port:            4000,
		Environment:     config.EnvDevelopment,
		APIKey:          "dev-api-key",
		JWTSecret:       "insecure-dev-secret",
		CORSOrigins:     []string{"*"},
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
		DefaultChainID:  testChainID,
		Chains: map[uint64]config.ChainConfig{
			testChainID: {
				ChainID:         testChainID,
				Name:            "Base Sepolia",
				RPCURL:          "https://sepolia.base.org",
				ContractAddress: testContract.Hex(),
			},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	mgr, err := config.NewManager(cfg)
	require.NoError(t, err)
	return mgr
}

type txOpts struct {
	chainID *big.Int // nil signs without replay protection
	gas     uint64
	value   *big.Int
	to      *common.Address
}

func buildSignedTx(t *testing.T, opts txOpts) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	if opts.gas == 0 {
		opts.gas = 100_000
	}
	if opts.value == nil {
		opts.value = big.NewInt(1_000_000_000_000_000_000)
	}
	if opts.to == nil {
		opts.to = &testContract
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      opts.gas,
		To:       opts.to,
		Value:    opts.value,
	})

	var signer types.Signer = types.HomesteadSigner{}
	if opts.chainID != nil {
		signer = types.LatestSignerForChainID(opts.chainID)
	}
	signed, err := types.SignTx(tx, signer, key)
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw)
}

func baseChainID() *big.Int {
	return new(big.Int).SetUint64(testChainID)
}

func TestValidateAccepts(t *testing.T) {
	v := New(testConfig(t, nil))

	res := v.Validate(buildSignedTx(t, txOpts{chainID: baseChainID()}), testChainID)
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)
	require.Empty(t, res.Warnings)
	require.NotEmpty(t, res.From)
	require.Equal(t, testChainID, res.ChainID)
}

func TestValidateRejectsBadFormat(t *testing.T) {
	v := New(testConfig(t, nil))

	tests := []struct {
		name string
		raw  string
	}{
		{"missing prefix", "deadbeef"},
		{"odd length", "0x12345"},
		{"not hex", "0x" + strings.Repeat("zz", 40)},
		{"too short", "0x00"},
		{"not rlp", "0x" + strings.Repeat("00", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.raw, testChainID)
			require.False(t, res.Valid)
			require.NotEmpty(t, res.Errors)
		})
	}
}

func TestQuickCheck(t *testing.T) {
	require.NoError(t, QuickCheck("0xdeadbeef"))
	require.Error(t, QuickCheck("deadbeef"))
	require.Error(t, QuickCheck("0x123"))
	require.Error(t, QuickCheck("0x"))
	require.Error(t, QuickCheck("0xzz"))
}

func TestValidateUnsupportedChain(t *testing.T) {
	v := New(testConfig(t, nil))

	res := v.Validate(buildSignedTx(t, txOpts{chainID: baseChainID()}), 999)
	require.False(t, res.Valid)
	require.Contains(t, res.ErrorMessage(), "unsupported chain 999")

	res = v.Validate(buildSignedTx(t, txOpts{chainID: big.NewInt(999)}), testChainID)
	require.False(t, res.Valid)
	require.Contains(t, res.ErrorMessage(), "chain id 999 is not supported")
}

func TestValidateGasCapBoundary(t *testing.T) {
	v := New(testConfig(t, nil))

	// Base Sepolia cap is 500 000: the cap itself passes, one above fails.
	res := v.Validate(buildSignedTx(t, txOpts{chainID: baseChainID(), gas: 500_000}), testChainID)
	require.True(t, res.Valid)

	res = v.Validate(buildSignedTx(t, txOpts{chainID: baseChainID(), gas: 500_001}), testChainID)
	require.False(t, res.Valid)
	require.Contains(t, res.ErrorMessage(), "exceeds chain 84532 cap 500000")
}

func TestValidateContractPin(t *testing.T) {
	v := New(testConfig(t, nil))

	other := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	res := v.Validate(buildSignedTx(t, txOpts{chainID: baseChainID(), to: &other}), testChainID)
	require.False(t, res.Valid)
	require.Contains(t, res.ErrorMessage(), "not the configured contract")

	// Pin comparison ignores address case.
	lower := testConfig(t, func(cfg *config.Config) {
		chain := cfg.Chains[testChainID]
		chain.ContractAddress = strings.ToLower(testContract.Hex())
		cfg.Chains[testChainID] = chain
	})
	res = New(lower).Validate(buildSignedTx(t, txOpts{chainID: baseChainID()}), testChainID)
	require.True(t, res.Valid)
}

func TestValidateAmountBounds(t *testing.T) {
	v := New(testConfig(t, nil))

	wei := func(v *big.Int) txOpts { return txOpts{chainID: baseChainID(), value: v} }
	maxWei := new(big.Int).Exp(big.NewInt(10), big.NewInt(21), nil)

	res := v.Validate(buildSignedTx(t, wei(big.NewInt(0))), testChainID)
	require.False(t, res.Valid)
	require.Contains(t, res.ErrorMessage(), "below 1 wei")

	res = v.Validate(buildSignedTx(t, wei(big.NewInt(1))), testChainID)
	require.True(t, res.Valid)

	res = v.Validate(buildSignedTx(t, wei(maxWei)), testChainID)
	require.True(t, res.Valid)

	over := new(big.Int).Add(maxWei, big.NewInt(1))
	res = v.Validate(buildSignedTx(t, wei(over)), testChainID)
	require.False(t, res.Valid)
	require.Contains(t, res.ErrorMessage(), "exceeds")
}

func TestValidateRateLimit(t *testing.T) {
	v := New(testConfig(t, func(cfg *config.Config) {
		cfg.RateLimitMax = 2
	}))
	raw := buildSignedTx(t, txOpts{chainID: baseChainID()})

	require.True(t, v.Validate(raw, testChainID).Valid)
	require.True(t, v.Validate(raw, testChainID).Valid)

	res := v.Validate(raw, testChainID)
	require.False(t, res.Valid)
	require.True(t, res.RateLimited())
	require.Greater(t, res.RetryAfter, time.Duration(0))
	require.Contains(t, res.ErrorMessage(), "rate limit exceeded")
}

func TestValidateWithoutReplayProtectionWarns(t *testing.T) {
	v := New(testConfig(t, nil))

	res := v.Validate(buildSignedTx(t, txOpts{}), testChainID)
	require.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0], "no chain id")
	require.Equal(t, uint64(0), res.ChainID)
	require.NotEmpty(t, res.From)
}

func TestValidateAggregatesFailures(t *testing.T) {
	v := New(testConfig(t, nil))

	other := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	raw := buildSignedTx(t, txOpts{
		chainID: baseChainID(),
		gas:     600_000,
		to:      &other,
		value:   big.NewInt(0),
	})

	res := v.Validate(raw, testChainID)
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 3)
	msg := res.ErrorMessage()
	require.Contains(t, msg, "gas limit")
	require.Contains(t, msg, "not the configured contract")
	require.Contains(t, msg, "below 1 wei")
}

func TestValidSignatureV(t *testing.T) {
	chainID := big.NewInt(1114)
	eip155 := new(big.Int).Add(new(big.Int).Mul(chainID, big.NewInt(2)), big.NewInt(35))

	require.True(t, validSignatureV(big.NewInt(0), nil))
	require.True(t, validSignatureV(big.NewInt(1), nil))
	require.True(t, validSignatureV(big.NewInt(27), nil))
	require.True(t, validSignatureV(big.NewInt(28), nil))
	require.True(t, validSignatureV(eip155, chainID))
	require.True(t, validSignatureV(new(big.Int).Add(eip155, big.NewInt(1)), chainID))

	require.False(t, validSignatureV(big.NewInt(2), nil))
	require.False(t, validSignatureV(big.NewInt(29), chainID))
	require.False(t, validSignatureV(new(big.Int).Add(eip155, big.NewInt(2)), chainID))
}
