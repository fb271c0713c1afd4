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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var errorRecordCounter = metrics.GetOrRegisterCounter("relay/errors/records", nil)

// AlertSink receives high-severity error notifications. The monitoring
// manager implements it; a nil sink drops notifications.
type AlertSink interface {
	RaiseAlert(name string, severity Severity, message string, metadata map[string]string)
}

// Handler guards critical-path operations with timeouts, circuit breakers
// and panic recovery, and records every classified failure.
type Handler struct {
	mu       sync.RWMutex
	breakers map[Path]*CircuitBreaker
	degraded map[Path]bool
	sink     AlertSink

	records *recordRing
	logger  log.Logger
}

// NewHandler builds a handler with one breaker per critical path.
func NewHandler() *Handler {
	h := &Handler{
		breakers: make(map[Path]*CircuitBreaker),
		degraded: make(map[Path]bool),
		records:  newRecordRing(defaultRingSize),
		logger:   log.New("component", "resilience"),
	}
	for _, path := range CriticalPaths() {
		h.breakers[path] = newCircuitBreaker(path, ConfigFor(path))
	}
	return h
}

// SetAlertSink wires the alert destination. Call before serving traffic.
func (h *Handler) SetAlertSink(sink AlertSink) {
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()
}

// Execute runs op under the path's protection policy: breaker gate, timeout,
// panic recovery, retries per the path strategy. The returned error is
// always a classified *Error when non-nil.
func (h *Handler) Execute(ctx context.Context, path Path, component, operation string, op func(context.Context) error) error {
	return h.execute(ctx, path, component, operation, op, false)
}

// ExecuteOnce is Execute without the path's retry policy: exactly one attempt
// behind the breaker gate. Callers that manage their own retry loop, like the
// transaction processor, use it so attempts are not multiplied.
func (h *Handler) ExecuteOnce(ctx context.Context, path Path, component, operation string, op func(context.Context) error) error {
	return h.execute(ctx, path, component, operation, op, true)
}

func (h *Handler) execute(ctx context.Context, path Path, component, operation string, op func(context.Context) error, once bool) error {
	cfg := ConfigFor(path)

	if !cfg.Critical {
		if err := h.run(ctx, cfg.Timeout, op); err != nil {
			e := AsError(err)
			h.logger.Debug("Non-critical operation failed", "path", path, "op", operation, "err", e)
			return e
		}
		return nil
	}

	cb := h.breaker(path)
	if cb != nil && !cb.Allow() {
		e := Errorf(KindCircuitBreaker, "circuit breaker open for %s", path).WithRetryable(true)
		h.record(component, operation, path, e)
		return e
	}

	attempts := 1
	if !once && cfg.Strategy == StrategyRetry && cfg.MaxRetries > 0 {
		attempts = cfg.MaxRetries
	}

	var lastErr *Error
	for attempt := 0; attempt < attempts; attempt++ {
		err := h.run(ctx, cfg.Timeout, op)
		if err == nil {
			if cb != nil {
				cb.RecordSuccess()
			}
			h.setDegraded(path, false)
			return nil
		}

		lastErr = AsError(err)
		h.record(component, operation, path, lastErr)
		h.recordBreakerFailure(path, cfg, cb)
		if !lastErr.Retryable || attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(cfg.RetryDelay):
		case <-ctx.Done():
			return Wrap(KindTimeout, ctx.Err(), fmt.Sprintf("%s aborted", operation))
		}
	}
	return lastErr
}

// Execute runs an operation returning a value under the handler's policy.
// Methods cannot be generic, hence the package-level form.
func Execute[T any](h *Handler, ctx context.Context, path Path, component, operation string, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := h.Execute(ctx, path, component, operation, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// run enforces the timeout and converts panics into classified errors. The
// operation goroutine writes to a buffered channel, so an operation that
// outlives its deadline finishes in the background with its result dropped.
func (h *Handler) run(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Errorf(KindSystemPanic, "recovered panic: %v", r)
			}
		}()
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return Wrap(KindTimeout, ctx.Err(), "operation timed out")
	}
}

// RecordError classifies and stores an error without running an operation.
// Components use it when the failure happened outside Execute.
func (h *Handler) RecordError(component, operation string, path Path, err error) *Error {
	e := AsError(err)
	if e == nil {
		return nil
	}
	h.record(component, operation, path, e)
	return e
}

// RecordOutcome feeds the terminal result of an externally managed operation
// into the path's breaker and degradation tracking. The transaction processor
// reports each transaction's final disposition here because its retry loop
// lives outside Execute.
func (h *Handler) RecordOutcome(path Path, component, operation string, err error) *Error {
	cb := h.breaker(path)
	if err == nil {
		if cb != nil {
			cb.RecordSuccess()
		}
		h.setDegraded(path, false)
		return nil
	}

	e := AsError(err)
	h.record(component, operation, path, e)
	h.recordBreakerFailure(path, ConfigFor(path), cb)
	return e
}

// recordBreakerFailure counts a failure against the path's breaker and flags
// degradation once a degraded-mode breaker opens.
func (h *Handler) recordBreakerFailure(path Path, cfg PathConfig, cb *CircuitBreaker) {
	if cb == nil {
		return
	}
	cb.RecordFailure()
	if cfg.Strategy == StrategyDegradedMode && cb.State() == StateOpen {
		h.setDegraded(path, true)
	}
}

// Degraded reports whether the path is currently flagged degraded.
func (h *Handler) Degraded(path Path) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.degraded[path]
}

// Breaker exposes the path's circuit breaker for health reporting.
func (h *Handler) Breaker(path Path) *CircuitBreaker {
	return h.breaker(path)
}

// BreakerSnapshots returns every breaker's state for the health surface.
func (h *Handler) BreakerSnapshots() []BreakerSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snaps := make([]BreakerSnapshot, 0, len(h.breakers))
	for _, cb := range h.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	return snaps
}

// RecentErrors returns up to n stored records, newest first.
func (h *Handler) RecentErrors(n int) []Record {
	return h.records.recent(n)
}

// ErrorCounts aggregates stored records by severity.
func (h *Handler) ErrorCounts() map[string]int {
	return h.records.countBySeverity()
}

// TotalErrors returns the number of records ever stored.
func (h *Handler) TotalErrors() uint64 {
	return h.records.count()
}

func (h *Handler) breaker(path Path) *CircuitBreaker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.breakers[path]
}

func (h *Handler) setDegraded(path Path, degraded bool) {
	h.mu.Lock()
	if h.degraded[path] != degraded {
		h.degraded[path] = degraded
		h.logger.Warn("Path degradation changed", "path", path, "degraded", degraded)
	}
	h.mu.Unlock()
}

func (h *Handler) record(component, operation string, path Path, e *Error) {
	rec := newRecord(component, operation, path, e)
	h.records.add(rec)
	errorRecordCounter.Inc(1)

	switch e.Severity {
	case SeverityCritical:
		h.logger.Error("Critical path failure", "path", path, "component", component, "op", operation, "err", e)
	case SeverityHigh:
		h.logger.Error("Operation failed", "path", path, "component", component, "op", operation, "err", e)
	default:
		h.logger.Warn("Operation failed", "path", path, "component", component, "op", operation, "err", e)
	}

	if e.Severity >= SeverityHigh {
		h.mu.RLock()
		sink := h.sink
		h.mu.RUnlock()
		if sink != nil {
			sink.RaiseAlert(string(e.Kind), e.Severity, e.Message, map[string]string{
				"component": component,
				"operation": operation,
				"path":      string(path),
				"record_id": rec.ID,
			})
		}
	}
}
