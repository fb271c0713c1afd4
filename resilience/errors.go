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

// Package resilience classifies relay failures, guards critical paths with
// circuit breakers and timeouts, and keeps a bounded record of recent errors.
package resilience

import (
	"errors"
	"fmt"
	"net/http"
)

// Severity grades an error for alerting and log level selection.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity-%d", int(s))
	}
}

// Kind names one class of failure. Kinds drive the HTTP status mapping, the
// default severity, and whether workers may retry.
type Kind string

const (
	KindValidation Kind = "validation"

	KindNetwork          Kind = "blockchain_network"
	KindRPC              Kind = "blockchain_rpc"
	KindNonce            Kind = "blockchain_nonce"
	KindGas              Kind = "blockchain_gas"
	KindContract         Kind = "blockchain_contract"
	KindProviderNotFound Kind = "provider_not_found"

	KindStorageNotFound   Kind = "storage_not_found"
	KindStorageIO         Kind = "storage_io"
	KindStorageCorruption Kind = "storage_corruption"
	KindStoragePermission Kind = "storage_permission"
	KindStorageFull       Kind = "storage_full"

	KindRateLimit    Kind = "rate_limit_exceeded"
	KindInvalidToken Kind = "invalid_token"
	KindXSS          Kind = "xss_attempt"
	KindSQLInjection Kind = "sql_injection_attempt"
	KindIPBlocked    Kind = "ip_blocked"

	KindAPI            Kind = "api"
	KindConfig         Kind = "config"
	KindAuth           Kind = "auth"
	KindMonitoring     Kind = "monitoring"
	KindRecovery       Kind = "recovery"
	KindCircuitBreaker Kind = "circuit_breaker_open"
	KindTimeout        Kind = "timeout"
	KindSystemPanic    Kind = "system_panic"
	KindGeneric        Kind = "generic"
)

// Error is a classified relay failure. The zero Kind is treated as generic.
type Error struct {
	Kind      Kind
	Severity  Severity
	Message   string
	Retryable bool
	err       error
}

// New creates a classified error with the kind's default severity and
// retryability.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Severity:  defaultSeverity(kind),
		Message:   message,
		Retryable: defaultRetryable(kind),
	}
}

// Errorf creates a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies an underlying error, preserving it for errors.Is/As.
func Wrap(kind Kind, err error, message string) *Error {
	e := New(kind, message)
	e.err = err
	return e
}

// WithSeverity overrides the default severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// WithRetryable overrides the default retry classification.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// HTTPStatus maps the error kind onto the status code returned to clients.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNetwork, KindCircuitBreaker, KindTimeout:
		return http.StatusServiceUnavailable
	case KindStorageNotFound:
		return http.StatusNotFound
	case KindAuth, KindInvalidToken:
		return http.StatusUnauthorized
	case KindXSS, KindSQLInjection, KindIPBlocked:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts the classified error, wrapping unclassified ones as
// generic so callers always get kind and severity.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindGeneric, err, "unclassified error")
}

// IsRetryable reports whether a worker may retry after this error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

func defaultSeverity(kind Kind) Severity {
	switch kind {
	case KindValidation:
		return SeverityMedium
	case KindStorageCorruption, KindStoragePermission:
		return SeverityHigh
	case KindStorageNotFound, KindStorageIO, KindStorageFull:
		return SeverityMedium
	case KindXSS, KindSQLInjection, KindIPBlocked:
		return SeverityCritical
	case KindRateLimit, KindInvalidToken:
		return SeverityHigh
	case KindConfig:
		return SeverityHigh
	case KindSystemPanic:
		return SeverityCritical
	case KindNetwork, KindRPC, KindTimeout:
		return SeverityMedium
	default:
		return SeverityMedium
	}
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindRPC, KindTimeout, KindRateLimit:
		return true
	default:
		return false
	}
}
