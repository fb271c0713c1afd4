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
	"testing"

	"github.com/airchainpay/relay/resilience"
	"github.com/stretchr/testify/require"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o operation failed" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      resilience.Kind
		retryable bool
	}{
		{"nonce too low", errors.New("nonce too low"), resilience.KindNonce, false},
		{"insufficient funds", errors.New("INSUFFICIENT FUNDS for gas * price + value"), resilience.KindContract, false},
		{"intrinsic gas", errors.New("intrinsic gas too low"), resilience.KindGas, false},
		{"block gas limit", errors.New("exceeds block gas limit"), resilience.KindGas, false},
		{"already known", errors.New("already known"), resilience.KindContract, false},
		{"reverted", errors.New("execution reverted: Unauthorized"), resilience.KindContract, false},
		{"underpriced", errors.New("replacement transaction underpriced"), resilience.KindContract, false},
		{"rate limited", errors.New("too many requests, slow down"), resilience.KindNetwork, true},
		{"refused", errors.New("dial tcp: connection refused"), resilience.KindNetwork, true},
		{"net timeout", fakeTimeoutErr{}, resilience.KindNetwork, true},
		{"deadline", context.DeadlineExceeded, resilience.KindTimeout, true},
		{"unknown", errors.New("some provider oddity"), resilience.KindRPC, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyRPCError(tt.err)
			require.NotNil(t, classified)
			require.Equal(t, tt.kind, classified.Kind)
			require.Equal(t, tt.retryable, classified.Retryable)
			require.ErrorIs(t, classified, tt.err)
		})
	}
}

func TestClassifyRPCErrorNil(t *testing.T) {
	require.Nil(t, classifyRPCError(nil))
}

func TestProviderErrors(t *testing.T) {
	err := errProviderNotFound(999)
	require.Equal(t, resilience.KindProviderNotFound, err.Kind)
	require.Contains(t, err.Error(), "999")

	err = errNoContract(1114)
	require.Equal(t, resilience.KindContract, err.Kind)
	require.Contains(t, err.Error(), "1114")
}
