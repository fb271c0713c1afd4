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

// Package validator rejects malformed or policy-violating submissions before
// they touch the queue. All checks run on every submission and every failure
// is aggregated into one result.
package validator

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/airchainpay/relay/config"
	"github.com/airchainpay/relay/resilience"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"
)

const (
	// maxRawHexLength caps the submitted hex string, protecting the decoder
	// from oversized payloads.
	maxRawHexLength = 128_000

	// minRawHexLength is the shortest hex string that can possibly hold a
	// signed transaction.
	minRawHexLength = 66
)

var (
	// minAmountWei and maxAmountWei bound the native value a relayed
	// transaction may carry: [1 wei, 10^21 wei].
	minAmountWei = uint256.NewInt(1)
	maxAmountWei = uint256.MustFromDecimal("1000000000000000000000")
)

var (
	validationFailures = metrics.GetOrRegisterCounter("relay/validation/failures", nil)
	rateLimitHits      = metrics.GetOrRegisterCounter("relay/security/ratelimithits", nil)
)

// Result aggregates every check outcome for one submission.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// From is the recovered sender address when the signature recovers.
	From string `json:"from,omitempty"`

	// ChainID is the chain id encoded in the transaction, zero when the
	// transaction predates replay protection.
	ChainID uint64 `json:"chain_id,omitempty"`

	// RetryAfter is non-zero when the rate limit rejected the submission.
	RetryAfter time.Duration `json:"-"`
}

func (r *Result) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ErrorMessage joins the aggregated failures for the rejection body.
func (r *Result) ErrorMessage() string {
	return strings.Join(r.Errors, "; ")
}

// RateLimited reports whether the rate limit contributed to the rejection.
func (r *Result) RateLimited() bool {
	return r.RetryAfter > 0
}

// Validator applies the submission policy against the current configuration
// snapshot. Safe for concurrent use.
type Validator struct {
	cfg     *config.Manager
	limiter *RateLimiter
	log     log.Logger
}

// New builds a validator bound to a configuration manager so reloads apply
// to subsequent submissions without re-wiring.
func New(cfg *config.Manager) *Validator {
	return &Validator{
		cfg:     cfg,
		limiter: NewRateLimiter(),
		log:     log.New("component", "validator"),
	}
}

// QuickCheck is the cheap syntactic gate ingress applies before spending any
// further work on a submission.
func QuickCheck(signedTxHex string) error {
	if !strings.HasPrefix(signedTxHex, "0x") {
		return resilience.New(resilience.KindValidation, "transaction must be 0x-prefixed hex")
	}
	body := signedTxHex[2:]
	if len(body) == 0 || len(body)%2 != 0 {
		return resilience.New(resilience.KindValidation, "transaction hex must be non-empty and even length")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return resilience.Wrap(resilience.KindValidation, err, "transaction is not valid hex")
	}
	return nil
}

// Validate runs every check against one submission and aggregates the
// failures. A rate-limited result carries a retry-after hint.
func (v *Validator) Validate(signedTxHex string, chainID uint64) *Result {
	cfg := v.cfg.Current()
	res := &Result{Valid: true}

	if allowed, retryAfter := v.limiter.Allow(time.Now(), cfg.RateLimitMax, cfg.RateLimitWindow); !allowed {
		rateLimitHits.Inc(1)
		res.RetryAfter = retryAfter
		res.fail("rate limit exceeded, retry in %s", retryAfter.Round(time.Millisecond))
	}

	if len(signedTxHex) > maxRawHexLength {
		res.fail("transaction hex exceeds %d characters", maxRawHexLength)
	}

	chain, supported := cfg.Chains[chainID]
	if !supported {
		res.fail("unsupported chain %d", chainID)
	}

	tx := decodeSubmission(signedTxHex, res)
	if tx != nil {
		v.checkChainID(tx, chainID, cfg, res)
		v.checkSignature(tx, res)
		v.checkGas(tx, chainID, cfg, res)
		if supported {
			checkContractPin(tx, chain, res)
		}
		checkAmount(tx, res)

		if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
			res.From = from.Hex()
		} else {
			res.warn("sender not recoverable: %v", err)
		}
	}

	if !res.Valid {
		validationFailures.Inc(1)
		v.log.Debug("Submission rejected", "chain", chainID, "errors", len(res.Errors))
	}
	return res
}

// decodeSubmission applies the format check and returns the decoded
// transaction, or nil after recording why decoding is impossible.
func decodeSubmission(signedTxHex string, res *Result) *types.Transaction {
	if !strings.HasPrefix(signedTxHex, "0x") {
		res.fail("transaction must be 0x-prefixed hex")
		return nil
	}
	if len(signedTxHex) < minRawHexLength {
		res.fail("transaction hex too short: %d < %d characters", len(signedTxHex), minRawHexLength)
	}
	body := signedTxHex[2:]
	if len(body)%2 != 0 {
		res.fail("transaction hex must be even length")
		return nil
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		res.fail("transaction is not valid hex: %v", err)
		return nil
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		res.fail("transaction is not decodable: %v", err)
		return nil
	}
	return tx
}

func (v *Validator) checkChainID(tx *types.Transaction, requested uint64, cfg *config.Config, res *Result) {
	txChainID := tx.ChainId()
	if txChainID == nil || txChainID.Sign() == 0 {
		res.warn("transaction carries no chain id; assuming chain %d", requested)
		return
	}
	if !txChainID.IsUint64() {
		res.fail("transaction chain id %s out of range", txChainID)
		return
	}
	id := txChainID.Uint64()
	if _, ok := cfg.Chains[id]; !ok {
		res.fail("transaction chain id %d is not supported", id)
		return
	}
	if id != requested {
		res.warn("transaction chain id %d differs from requested chain %d", id, requested)
	}
	res.ChainID = id
}

func (v *Validator) checkSignature(tx *types.Transaction, res *Result) {
	sigV, sigR, sigS := tx.RawSignatureValues()
	if sigV == nil || sigR == nil || sigS == nil || sigR.Sign() == 0 || sigS.Sign() == 0 {
		res.fail("transaction signature is missing")
		return
	}
	if sigR.BitLen() > 256 || sigS.BitLen() > 256 {
		res.fail("transaction signature components exceed 32 bytes")
	}
	if !validSignatureV(sigV, tx.ChainId()) {
		res.fail("transaction signature v value %s is invalid", sigV)
	}
}

// validSignatureV accepts raw recovery ids {0, 1} (typed transactions),
// Homestead {27, 28}, and the replay-protected form 35 + 2*chainID + {0, 1}.
func validSignatureV(v *big.Int, chainID *big.Int) bool {
	if !v.IsUint64() {
		return false
	}
	switch v.Uint64() {
	case 0, 1, 27, 28:
		return true
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return false
	}
	base := new(big.Int).Add(new(big.Int).Mul(chainID, big.NewInt(2)), big.NewInt(35))
	return v.Cmp(base) == 0 || v.Cmp(new(big.Int).Add(base, big.NewInt(1))) == 0
}

func (v *Validator) checkGas(tx *types.Transaction, chainID uint64, cfg *config.Config, res *Result) {
	if tx.Gas() == 0 {
		res.fail("transaction gas limit is zero")
		return
	}
	if limit := cfg.GasLimitFor(chainID); tx.Gas() > limit {
		res.fail("transaction gas limit %d exceeds chain %d cap %d", tx.Gas(), chainID, limit)
	}
}

func checkContractPin(tx *types.Transaction, chain config.ChainConfig, res *Result) {
	if chain.ContractAddress == "" {
		return
	}
	to := tx.To()
	if to == nil {
		res.fail("transaction must call the payment contract, not create one")
		return
	}
	if !strings.EqualFold(to.Hex(), chain.ContractAddress) {
		res.fail("transaction recipient %s is not the configured contract %s", to.Hex(), chain.ContractAddress)
	}
}

func checkAmount(tx *types.Transaction, res *Result) {
	value, overflow := uint256.FromBig(tx.Value())
	if overflow || value.Gt(maxAmountWei) {
		res.fail("transaction value exceeds %s wei", maxAmountWei)
		return
	}
	if value.Lt(minAmountWei) {
		res.fail("transaction value below 1 wei minimum")
	}
}
