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
	"testing"

	"github.com/airchainpay/relay/blockchain"
	"github.com/airchainpay/relay/params"
	"github.com/airchainpay/relay/resilience"
	"github.com/airchainpay/relay/storage"
	"github.com/stretchr/testify/require"
)

func TestDetailedHealthHealthy(t *testing.T) {
	m := testMonitor(t, nil, nil)

	h := m.DetailedHealth(context.Background())
	require.Equal(t, StatusHealthy, h.Status)
	require.Equal(t, 100, h.HealthScore)
	require.Equal(t, params.VersionWithMeta, h.Version)
	require.Zero(t, h.Alerts.Unresolved)

	require.Equal(t, StatusHealthy, h.Components["database"].Status)
	require.Equal(t, 100, h.Components["database"].HealthScore)
	require.Equal(t, StatusHealthy, h.Components["blockchain"].Status)
	require.Equal(t, StatusHealthy, h.Components["configuration"].Status)

	// The system component reads live host usage, so only its shape is
	// stable here.
	sys := h.Components["system"]
	require.Contains(t, sys.Details, "cpu_percent")
	require.Contains(t, sys.Details, "goroutines")
	require.Greater(t, sys.HealthScore, 0)
}

func TestDetailedHealthDegradedStorage(t *testing.T) {
	store := &fakeStoreHealth{health: storage.Health{
		IsHealthy:         false,
		DataIntegrity:     false,
		TotalTransactions: 3,
	}}
	m := testMonitor(t, store, nil)

	h := m.DetailedHealth(context.Background())
	require.Equal(t, StatusDegraded, h.Status)
	require.Equal(t, 50, h.HealthScore)

	db := h.Components["database"]
	require.Equal(t, StatusDegraded, db.Status)
	require.Equal(t, "data integrity violations detected", db.Message)
}

func TestDetailedHealthDatabaseError(t *testing.T) {
	store := &fakeStoreHealth{health: storage.Health{Error: "leveldb: closed"}}
	m := testMonitor(t, store, nil)

	h := m.DetailedHealth(context.Background())
	require.Equal(t, StatusDegraded, h.Status)

	db := h.Components["database"]
	require.Equal(t, StatusCritical, db.Status)
	require.Equal(t, 25, db.HealthScore)
	require.Equal(t, "leveldb: closed", db.Message)
}

func TestDatabaseLifetimeCounters(t *testing.T) {
	store := healthyStore()
	store.metrics = map[string]int64{
		storage.MetricReceived:  12,
		storage.MetricProcessed: 9,
		storage.MetricFailed:    3,
	}
	m := testMonitor(t, store, nil)

	db := m.DetailedHealth(context.Background()).Components["database"]
	require.Equal(t, map[string]int64{
		storage.MetricReceived:  12,
		storage.MetricProcessed: 9,
		storage.MetricFailed:    3,
	}, db.Details["lifetime"])
}

func TestDetailedHealthBlockchainDegraded(t *testing.T) {
	chain := &fakeChainHealth{status: blockchain.NetworkStatus{
		OverallStatus: "degraded",
		TotalChains:   2,
		HealthyChains: 1,
	}}
	m := testMonitor(t, nil, chain)

	h := m.DetailedHealth(context.Background())
	require.Equal(t, StatusDegraded, h.Status)

	bc := h.Components["blockchain"]
	require.Equal(t, StatusDegraded, bc.Status)
	require.Equal(t, "1 of 2 chains unhealthy", bc.Message)
}

func TestDetailedHealthBlockchainUnreachable(t *testing.T) {
	chain := &fakeChainHealth{status: blockchain.NetworkStatus{
		OverallStatus: "unhealthy",
		TotalChains:   2,
	}}
	m := testMonitor(t, nil, chain)

	bc := m.DetailedHealth(context.Background()).Components["blockchain"]
	require.Equal(t, StatusCritical, bc.Status)
	require.Equal(t, 25, bc.HealthScore)
}

func TestDetailedHealthCriticalAlert(t *testing.T) {
	m := testMonitor(t, nil, nil)
	m.RaiseAlert("database_errors", resilience.SeverityCritical, "leveldb write failures", nil)

	h := m.DetailedHealth(context.Background())
	require.Equal(t, StatusCritical, h.Status)
	require.Equal(t, 25, h.HealthScore)
	require.Equal(t, 1, h.Alerts.Critical)
	require.Equal(t, 1, h.Alerts.Unresolved)
}

func TestDetailedHealthWarningAlert(t *testing.T) {
	m := testMonitor(t, nil, nil)
	m.RaiseAlert("slow_responses", resilience.SeverityHigh, "average response time high", nil)

	h := m.DetailedHealth(context.Background())
	require.Equal(t, StatusWarning, h.Status)
	require.Equal(t, 75, h.HealthScore)

	// Resolving the alert restores the healthy aggregate.
	require.NoError(t, m.ResolveAlert(m.Alerts(false)[0].ID))
	h = m.DetailedHealth(context.Background())
	require.Equal(t, StatusHealthy, h.Status)
}

func TestConfigurationHealthInvalid(t *testing.T) {
	m := testMonitor(t, nil, nil)

	// Break the live snapshot behind the manager's back; reloads would
	// reject this.
	m.cfg.Current().Chains = nil

	cfgHealth := m.DetailedHealth(context.Background()).Components["configuration"]
	require.Equal(t, StatusCritical, cfgHealth.Status)
	require.Contains(t, cfgHealth.Message, "no chains configured")
}

func TestComponentHealthLookup(t *testing.T) {
	m := testMonitor(t, nil, nil)

	db, err := m.ComponentHealth(context.Background(), "database")
	require.NoError(t, err)
	require.Equal(t, StatusHealthy, db.Status)

	_, err = m.ComponentHealth(context.Background(), "networking")
	require.ErrorContains(t, err, "unknown component")
}
