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

package monitor

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/airchainpay/relay/params"
	"github.com/airchainpay/relay/storage"
)

// Component statuses, ordered from best to worst.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// scoreFor maps a status onto the fixed health score scale.
func scoreFor(status string) int {
	switch status {
	case StatusHealthy:
		return 100
	case StatusWarning:
		return 75
	case StatusDegraded:
		return 50
	default:
		return 25
	}
}

// ComponentHealth describes one subsystem on the health surface.
type ComponentHealth struct {
	Status      string                 `json:"status"`
	HealthScore int                    `json:"health_score"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// AlertSummary condenses the alert ring for the detailed health report.
type AlertSummary struct {
	Total      int `json:"total"`
	Unresolved int `json:"unresolved"`
	Critical   int `json:"critical"`
}

// DetailedHealth is the full health report served on /health/detailed.
type DetailedHealth struct {
	Status        string                     `json:"status"`
	HealthScore   int                        `json:"health_score"`
	Timestamp     time.Time                  `json:"timestamp"`
	UptimeSeconds float64                    `json:"uptime_seconds"`
	Version       string                     `json:"version"`
	Components    map[string]ComponentHealth `json:"components"`
	Alerts        AlertSummary               `json:"alerts"`
}

// DetailedHealth aggregates every component and the alert state. The overall
// status is critical while an unresolved critical alert exists, degraded
// while the database, blockchain or configuration component is impaired, and
// warning while any other alert stays unresolved.
func (m *Monitor) DetailedHealth(ctx context.Context) DetailedHealth {
	components := map[string]ComponentHealth{
		"system":        m.systemHealth(),
		"database":      m.databaseHealth(),
		"blockchain":    m.blockchainHealth(ctx),
		"configuration": m.configurationHealth(),
	}
	total, unresolved, critical := m.alertCounts()

	status := StatusHealthy
	switch {
	case critical > 0:
		status = StatusCritical
	case components["database"].Status != StatusHealthy,
		components["blockchain"].Status != StatusHealthy,
		components["configuration"].Status != StatusHealthy:
		status = StatusDegraded
	case unresolved > 0:
		status = StatusWarning
	}

	return DetailedHealth{
		Status:        status,
		HealthScore:   scoreFor(status),
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: m.Uptime().Seconds(),
		Version:       params.VersionWithMeta,
		Components:    components,
		Alerts:        AlertSummary{Total: total, Unresolved: unresolved, Critical: critical},
	}
}

// ComponentHealth reports a single named component.
func (m *Monitor) ComponentHealth(ctx context.Context, name string) (ComponentHealth, error) {
	switch name {
	case "system":
		return m.systemHealth(), nil
	case "database":
		return m.databaseHealth(), nil
	case "blockchain":
		return m.blockchainHealth(ctx), nil
	case "configuration":
		return m.configurationHealth(), nil
	default:
		return ComponentHealth{}, fmt.Errorf("unknown component %q", name)
	}
}

func (m *Monitor) systemHealth() ComponentHealth {
	cpuPercent, memPercent, memUsed := systemUsage()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var issues []string
	if cpuPercent > 90 {
		issues = append(issues, fmt.Sprintf("cpu usage %.1f%%", cpuPercent))
	}
	if memPercent > 90 {
		issues = append(issues, fmt.Sprintf("system memory %.1f%% used", memPercent))
	}
	if ms.Alloc > gib {
		issues = append(issues, fmt.Sprintf("heap allocation %d bytes", ms.Alloc))
	}

	status := StatusHealthy
	switch {
	case len(issues) > 1:
		status = StatusDegraded
	case len(issues) == 1:
		status = StatusWarning
	}

	return ComponentHealth{
		Status:      status,
		HealthScore: scoreFor(status),
		Message:     strings.Join(issues, "; "),
		Details: map[string]interface{}{
			"cpu_percent":       cpuPercent,
			"memory_percent":    memPercent,
			"memory_used_bytes": memUsed,
			"heap_alloc_bytes":  ms.Alloc,
			"goroutines":        runtime.NumGoroutine(),
			"uptime_seconds":    m.Uptime().Seconds(),
		},
	}
}

func (m *Monitor) databaseHealth() ComponentHealth {
	h := m.store.CheckHealth()

	status := StatusHealthy
	message := ""
	switch {
	case h.Error != "":
		status = StatusCritical
		message = h.Error
	case !h.IsHealthy || !h.DataIntegrity:
		status = StatusDegraded
		message = "data integrity violations detected"
	}

	return ComponentHealth{
		Status:      status,
		HealthScore: scoreFor(status),
		Message:     message,
		Details: map[string]interface{}{
			"total_transactions": h.TotalTransactions,
			"pending":            h.Pending,
			"processing":         h.Processing,
			"completed":          h.Completed,
			"failed":             h.Failed,
			"registered_wallets": h.RegisteredWallets,
			"data_integrity":     h.DataIntegrity,
			"lifetime":           m.lifetimeCounters(),
		},
	}
}

// lifetimeCounters reads the persisted counters that survive restarts, unlike
// the in-memory meters which reset with the process. Unreadable counters are
// omitted.
func (m *Monitor) lifetimeCounters() map[string]int64 {
	out := make(map[string]int64)
	for _, name := range []string{storage.MetricReceived, storage.MetricProcessed, storage.MetricFailed} {
		v, err := m.store.GetMetric(name)
		if err != nil {
			m.log.Warn("Persisted counter read failed", "metric", name, "err", err)
			continue
		}
		out[name] = v
	}
	return out
}

func (m *Monitor) blockchainHealth(ctx context.Context) ComponentHealth {
	ns := m.chain.GetNetworkStatus(ctx)

	status := StatusHealthy
	message := ""
	switch ns.OverallStatus {
	case "healthy":
	case "degraded":
		status = StatusDegraded
		message = fmt.Sprintf("%d of %d chains unhealthy", ns.TotalChains-ns.HealthyChains, ns.TotalChains)
	default:
		status = StatusCritical
		message = "no healthy chains"
	}

	return ComponentHealth{
		Status:      status,
		HealthScore: scoreFor(status),
		Message:     message,
		Details: map[string]interface{}{
			"total_chains":   ns.TotalChains,
			"healthy_chains": ns.HealthyChains,
			"chains":         ns.Chains,
		},
	}
}

func (m *Monitor) configurationHealth() ComponentHealth {
	cfg := m.cfg.Current()

	status := StatusHealthy
	message := ""
	if err := cfg.Validate(); err != nil {
		status = StatusCritical
		message = err.Error()
	}

	return ComponentHealth{
		Status:      status,
		HealthScore: scoreFor(status),
		Message:     message,
		Details: map[string]interface{}{
			"environment": cfg.Environment,
			"port":        cfg.Port,
			"chains":      len(cfg.Chains),
		},
	}
}
