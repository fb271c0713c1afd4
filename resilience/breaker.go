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
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

// BreakerState is the circuit breaker automaton state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var breakerOpenCounter = metrics.GetOrRegisterCounter("relay/circuitbreaker/opened", nil)

// CircuitBreaker tracks failures on one critical path. Failures are counted
// per streak: a failure more than CBTimeout after the previous one starts a
// new streak. Reads outnumber writes, every critical call checks Allow.
type CircuitBreaker struct {
	mu sync.RWMutex

	path      Path
	threshold int
	timeout   time.Duration

	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastSuccessTime time.Time
}

// BreakerSnapshot is a point-in-time copy of the breaker state for health
// reporting.
type BreakerSnapshot struct {
	Path            Path         `json:"path"`
	Status          string       `json:"status"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	LastFailureTime *time.Time   `json:"last_failure_time,omitempty"`
	LastSuccessTime *time.Time   `json:"last_success_time,omitempty"`
	Threshold       int          `json:"threshold"`
	Timeout         time.Duration `json:"timeout"`
}

func newCircuitBreaker(path Path, cfg PathConfig) *CircuitBreaker {
	return &CircuitBreaker{
		path:      path,
		threshold: cfg.CBThreshold,
		timeout:   cfg.CBTimeout,
		state:     StateClosed,
	}
}

// Allow reports whether a call may proceed, transitioning Open breakers to
// HalfOpen once the cool-down has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	state := cb.state
	last := cb.lastFailureTime
	cb.mu.RUnlock()

	switch state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(last) < cb.timeout {
			return false
		}
		cb.mu.Lock()
		if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.timeout {
			cb.state = StateHalfOpen
		}
		allowed := cb.state != StateOpen
		cb.mu.Unlock()
		return allowed
	default:
		return true
	}
}

// RecordSuccess notes a successful call. A half-open probe success closes
// the breaker and resets the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.lastSuccessTime = time.Now()
	if cb.state == StateHalfOpen || cb.state == StateOpen {
		cb.state = StateClosed
	}
	cb.failureCount = 0
}

// RecordFailure notes a failed call, opening the breaker when the streak
// reaches the threshold or a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	if !cb.lastFailureTime.IsZero() && now.Sub(cb.lastFailureTime) > cb.timeout {
		cb.failureCount = 0 // stale streak
	}
	cb.failureCount++
	cb.lastFailureTime = now

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		breakerOpenCounter.Inc(1)
	case StateClosed:
		if cb.threshold > 0 && cb.failureCount >= cb.threshold {
			cb.state = StateOpen
			breakerOpenCounter.Inc(1)
		}
	}
}

// State returns the current automaton state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Snapshot copies the breaker state for health reporting.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	snap := BreakerSnapshot{
		Path:         cb.path,
		Status:       cb.state.String(),
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		Threshold:    cb.threshold,
		Timeout:      cb.timeout,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		snap.LastFailureTime = &t
	}
	if !cb.lastSuccessTime.IsZero() {
		t := cb.lastSuccessTime
		snap.LastSuccessTime = &t
	}
	return snap
}
