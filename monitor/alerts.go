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
	"errors"
	"fmt"
	"time"

	"github.com/airchainpay/relay/resilience"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"
)

// maxAlerts bounds the in-memory alert ring; the oldest entries fall off.
const maxAlerts = 1000

// Alert severities exposed on the JSON surface.
const (
	AlertWarning  = "warning"
	AlertCritical = "critical"
)

// ErrAlertNotFound is returned when resolving an unknown alert id.
var ErrAlertNotFound = errors.New("alert not found")

var alertsRaisedCounter = metrics.GetOrRegisterCounter("relay/alerts/raised", nil)

// Alert is one observability event, raised by a rule or by the resilience
// layer, and resolvable through the admin surface.
type Alert struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// alertRule is one threshold check over the shared metrics.
type alertRule struct {
	name     string
	severity string
	check    func() (bool, string)
}

const gib = 1 << 30

func (m *Monitor) rules() []alertRule {
	return []alertRule{
		{"high_failure_rate", AlertWarning, func() (bool, string) {
			received := txReceivedCounter.Snapshot().Count()
			if received == 0 {
				return false, ""
			}
			ratio := float64(txFailedCounter.Snapshot().Count()) / float64(received)
			return ratio > 0.1, fmt.Sprintf("transaction failure ratio %.2f exceeds 0.10", ratio)
		}},
		{"rpc_errors", AlertCritical, func() (bool, string) {
			n := rpcErrorCounter.Snapshot().Count()
			return n > 100, fmt.Sprintf("%d rpc errors recorded", n)
		}},
		{"auth_failures", AlertWarning, func() (bool, string) {
			n := authFailCounter.Snapshot().Count()
			return n > 50, fmt.Sprintf("%d authentication failures recorded", n)
		}},
		{"memory_usage", AlertWarning, func() (bool, string) {
			used := memoryGauge.Snapshot().Value()
			return used > gib, fmt.Sprintf("heap usage %d bytes exceeds 1 GiB", used)
		}},
		{"slow_responses", AlertWarning, func() (bool, string) {
			avg := m.ResponseAvgMs()
			return avg > 5000, fmt.Sprintf("average response time %.0f ms exceeds 5000 ms", avg)
		}},
		{"rate_limit_hits", AlertWarning, func() (bool, string) {
			n := rateLimitCounter.Snapshot().Count()
			return n > 1000, fmt.Sprintf("%d rate limit rejections recorded", n)
		}},
		{"database_errors", AlertCritical, func() (bool, string) {
			n := dbErrorCounter.Snapshot().Count()
			return n > 50, fmt.Sprintf("%d database errors recorded", n)
		}},
	}
}

// evaluateRules fires an alert on each rule's false-to-true transition.
// Rules over monotonic counters therefore alert once, not on every update.
func (m *Monitor) evaluateRules() {
	for _, rule := range m.rules() {
		firing, message := rule.check()

		m.mu.Lock()
		was := m.ruleState[rule.name]
		m.ruleState[rule.name] = firing
		m.mu.Unlock()

		if firing && !was {
			m.raise(rule.name, rule.severity, message, map[string]string{"rule": rule.name})
		}
	}
}

// RaiseAlert implements resilience.AlertSink: High maps to warning,
// Critical to critical.
func (m *Monitor) RaiseAlert(name string, severity resilience.Severity, message string, metadata map[string]string) {
	level := AlertWarning
	if severity >= resilience.SeverityCritical {
		level = AlertCritical
	}
	m.raise(name, level, message, metadata)
}

func (m *Monitor) raise(name, severity, message string, metadata map[string]string) Alert {
	alert := Alert{
		ID:        uuid.NewString(),
		Name:      name,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	m.mu.Unlock()

	alertsRaisedCounter.Inc(1)
	if severity == AlertCritical {
		m.log.Error("Alert raised", "name", name, "message", message)
	} else {
		m.log.Warn("Alert raised", "name", name, "message", message)
	}
	m.alertFeed.Send(alert)
	return alert
}

// ResolveAlert marks an alert resolved. Resolving twice is a no-op.
func (m *Monitor) ResolveAlert(id string) error {
	m.mu.Lock()
	var resolved *Alert
	known := false
	for i := range m.alerts {
		if m.alerts[i].ID != id {
			continue
		}
		known = true
		if !m.alerts[i].Resolved {
			now := time.Now().UTC()
			m.alerts[i].Resolved = true
			m.alerts[i].ResolvedAt = &now
			cp := m.alerts[i]
			resolved = &cp
		}
		break
	}
	m.mu.Unlock()

	if !known {
		return ErrAlertNotFound
	}
	if resolved != nil {
		m.log.Info("Alert resolved", "name", resolved.Name, "id", id)
		m.alertFeed.Send(*resolved)
	}
	return nil
}

// Alerts lists alerts newest first, optionally including resolved ones.
func (m *Monitor) Alerts(includeResolved bool) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if !includeResolved && m.alerts[i].Resolved {
			continue
		}
		out = append(out, m.alerts[i])
	}
	return out
}

// alertCounts reports totals for health aggregation.
func (m *Monitor) alertCounts() (total, unresolved, critical int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total = len(m.alerts)
	for i := range m.alerts {
		if m.alerts[i].Resolved {
			continue
		}
		unresolved++
		if m.alerts[i].Severity == AlertCritical {
			critical++
		}
	}
	return total, unresolved, critical
}

// SubscribeAlerts delivers every raised or resolved alert to ch until the
// subscription is cancelled or the monitor stops.
func (m *Monitor) SubscribeAlerts(ch chan<- Alert) event.Subscription {
	return m.scope.Track(m.alertFeed.Subscribe(ch))
}
