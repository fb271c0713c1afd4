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

import "time"

// Path names a class of operations that shares timeout, retry and circuit
// breaker policy.
type Path string

const (
	PathBlockchainTransaction Path = "blockchain_transaction"
	PathAuthentication        Path = "authentication"
	PathDatabaseOperation     Path = "database_operation"
	PathTransactionProcessing Path = "transaction_processing"
	PathHealthCheck           Path = "health_check"
	PathMonitoringMetrics     Path = "monitoring_metrics"
	PathConfigurationReload   Path = "configuration_reload"
	PathBackupOperation       Path = "backup_operation"
	PathSecurityValidation    Path = "security_validation"

	PathGeneralAPI Path = "general_api"
	PathSystem     Path = "system"
	PathNetwork    Path = "network"
	PathValidation Path = "validation"
)

// Strategy selects what the handler does once an operation has failed.
type Strategy int

const (
	// StrategyRetry re-runs the operation up to MaxRetries with RetryDelay
	// pauses before giving up.
	StrategyRetry Strategy = iota
	// StrategyFailFast surfaces the first failure immediately.
	StrategyFailFast
	// StrategyDegradedMode fails fast and flags the path as degraded until
	// the next success.
	StrategyDegradedMode
)

func (s Strategy) String() string {
	switch s {
	case StrategyRetry:
		return "retry"
	case StrategyFailFast:
		return "fail_fast"
	case StrategyDegradedMode:
		return "degraded_mode"
	default:
		return "unknown"
	}
}

// PathConfig carries the protection parameters of one critical path.
type PathConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	CBThreshold int           // failures within CBTimeout that open the breaker
	CBTimeout   time.Duration // open duration before a half-open probe
	Strategy    Strategy
	Critical    bool
}

var pathConfigs = map[Path]PathConfig{
	PathBlockchainTransaction: {
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		RetryDelay:  2 * time.Second,
		CBThreshold: 5,
		CBTimeout:   60 * time.Second,
		Strategy:    StrategyRetry,
		Critical:    true,
	},
	PathAuthentication: {
		Timeout:     10 * time.Second,
		CBThreshold: 10,
		CBTimeout:   300 * time.Second,
		Strategy:    StrategyFailFast,
		Critical:    true,
	},
	PathDatabaseOperation: {
		Timeout:     15 * time.Second,
		MaxRetries:  3,
		RetryDelay:  500 * time.Millisecond,
		CBThreshold: 5,
		CBTimeout:   120 * time.Second,
		Strategy:    StrategyRetry,
		Critical:    true,
	},
	PathTransactionProcessing: {
		Timeout:     60 * time.Second,
		CBThreshold: 3,
		CBTimeout:   180 * time.Second,
		Strategy:    StrategyDegradedMode,
		Critical:    true,
	},
	PathHealthCheck: {
		Timeout:     5 * time.Second,
		CBThreshold: 3,
		CBTimeout:   60 * time.Second,
		Strategy:    StrategyFailFast,
		Critical:    true,
	},
	PathMonitoringMetrics: {
		Timeout:     5 * time.Second,
		CBThreshold: 5,
		CBTimeout:   60 * time.Second,
		Strategy:    StrategyFailFast,
		Critical:    true,
	},
	PathConfigurationReload: {
		Timeout:     10 * time.Second,
		CBThreshold: 3,
		CBTimeout:   60 * time.Second,
		Strategy:    StrategyFailFast,
		Critical:    true,
	},
	PathBackupOperation: {
		Timeout:     120 * time.Second,
		MaxRetries:  2,
		RetryDelay:  5 * time.Second,
		CBThreshold: 3,
		CBTimeout:   300 * time.Second,
		Strategy:    StrategyRetry,
		Critical:    true,
	},
	PathSecurityValidation: {
		Timeout:     5 * time.Second,
		CBThreshold: 10,
		CBTimeout:   60 * time.Second,
		Strategy:    StrategyFailFast,
		Critical:    true,
	},

	PathGeneralAPI: {Timeout: 30 * time.Second, Strategy: StrategyFailFast},
	PathSystem:     {Timeout: 30 * time.Second, Strategy: StrategyFailFast},
	PathNetwork:    {Timeout: 30 * time.Second, Strategy: StrategyFailFast},
	PathValidation: {Timeout: 10 * time.Second, Strategy: StrategyFailFast},
}

// ConfigFor returns the protection parameters for a path. Unknown paths get
// the non-critical general profile.
func ConfigFor(path Path) PathConfig {
	if cfg, ok := pathConfigs[path]; ok {
		return cfg
	}
	return pathConfigs[PathGeneralAPI]
}

// CriticalPaths lists every path that carries a circuit breaker.
func CriticalPaths() []Path {
	paths := make([]Path, 0, len(pathConfigs))
	for path, cfg := range pathConfigs {
		if cfg.Critical {
			paths = append(paths, path)
		}
	}
	return paths
}
