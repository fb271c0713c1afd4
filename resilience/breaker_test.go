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

package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return newCircuitBreaker(PathBlockchainTransaction, PathConfig{
		CBThreshold: threshold,
		CBTimeout:   timeout,
	})
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := testBreaker(3, time.Minute)

	require.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, StateClosed, cb.State())
	require.True(t, cb.Allow())

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := testBreaker(2, 50*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())

	time.Sleep(60 * time.Millisecond)
	require.True(t, cb.Allow(), "cool-down elapsed, probe must be allowed")
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	require.Equal(t, StateClosed, cb.State())
	require.True(t, cb.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(2, 50*time.Millisecond)

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	require.True(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	cb := testBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, StateClosed, cb.State(), "streak must reset after a success")

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
}

func TestBreakerStaleStreakExpires(t *testing.T) {
	cb := testBreaker(2, 40*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	// The previous failure is older than the window, so this one starts a
	// fresh streak instead of opening the breaker.
	cb.RecordFailure()
	require.Equal(t, StateClosed, cb.State())
}

func TestBreakerSnapshot(t *testing.T) {
	cb := testBreaker(5, time.Minute)
	cb.RecordFailure()
	cb.RecordSuccess()

	snap := cb.Snapshot()
	require.Equal(t, PathBlockchainTransaction, snap.Path)
	require.Equal(t, "closed", snap.Status)
	require.Equal(t, 1, snap.SuccessCount)
	require.Equal(t, 5, snap.Threshold)
	require.NotNil(t, snap.LastFailureTime)
	require.NotNil(t, snap.LastSuccessTime)
}
