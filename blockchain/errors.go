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

package blockchain

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/airchainpay/relay/resilience"
)

// Provider error fragments that indicate a transient condition worth
// retrying. RPC providers disagree on wording, so matching is substring
// based, the same way they are matched when classifying disconnects.
var retryableFragments = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"broken pipe",
	"too many requests",
	"429",
	"503",
	"temporarily unavailable",
	"service unavailable",
	"eof",
}

// Fragments that prove the transaction itself is unacceptable; retrying the
// same payload can never succeed.
var permanentFragments = []string{
	"nonce too low",
	"insufficient funds",
	"execution reverted",
	"already known",
	"replacement transaction underpriced",
	"invalid sender",
	"exceeds block gas limit",
	"intrinsic gas too low",
}

// classifyRPCError converts a provider error into the relay taxonomy.
func classifyRPCError(err error) *resilience.Error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())

	for _, fragment := range permanentFragments {
		if strings.Contains(msg, fragment) {
			kind := resilience.KindContract
			switch {
			case strings.Contains(fragment, "nonce"):
				kind = resilience.KindNonce
			case strings.Contains(fragment, "gas"):
				kind = resilience.KindGas
			}
			return resilience.Wrap(kind, err, "broadcast rejected").WithRetryable(false)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return resilience.Wrap(resilience.KindNetwork, err, "provider timeout").WithRetryable(true)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.Wrap(resilience.KindTimeout, err, "provider deadline exceeded")
	}

	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return resilience.Wrap(resilience.KindNetwork, err, "provider unavailable").WithRetryable(true)
		}
	}

	return resilience.Wrap(resilience.KindRPC, err, "rpc call failed").WithRetryable(true)
}

// errProviderNotFound builds the error for operations on unconfigured chains.
func errProviderNotFound(chainID uint64) *resilience.Error {
	return resilience.Errorf(resilience.KindProviderNotFound, "no provider for chain %d", chainID)
}

// errNoContract builds the error for contract operations on chains without a
// configured contract address.
func errNoContract(chainID uint64) *resilience.Error {
	return resilience.Errorf(resilience.KindContract, "no contract configured for chain %d", chainID)
}
