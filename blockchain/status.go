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
	"sort"
	"sync"
	"time"
)

// probeTimeout bounds each per-chain health probe so one dead endpoint
// cannot stall the whole status sweep.
const probeTimeout = 5 * time.Second

// ChainStatus is the probe result for a single chain.
type ChainStatus struct {
	ChainID        uint64 `json:"chain_id"`
	Name           string `json:"name"`
	IsHealthy      bool   `json:"is_healthy"`
	LatestBlock    uint64 `json:"latest_block,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// NetworkStatus aggregates chain probes into one network-wide view.
type NetworkStatus struct {
	OverallStatus string        `json:"overall_status"`
	IsHealthy     bool          `json:"is_healthy"`
	TotalChains   int           `json:"total_chains"`
	HealthyChains int           `json:"healthy_chains"`
	Chains        []ChainStatus `json:"chains"`
	Timestamp     time.Time     `json:"timestamp"`
}

// ContractStatus is the contract reachability result for a single chain.
type ContractStatus struct {
	ChainID    uint64 `json:"chain_id"`
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	Configured bool   `json:"configured"`
	Deployed   bool   `json:"deployed"`
	Error      string `json:"error,omitempty"`
}

// GetNetworkStatus probes every chain concurrently and reports an overall
// verdict: healthy when all respond, degraded when some do, unhealthy when
// none do.
func (m *Manager) GetNetworkStatus(ctx context.Context) NetworkStatus {
	status := NetworkStatus{
		TotalChains: len(m.clients),
		Chains:      make([]ChainStatus, 0, len(m.clients)),
		Timestamp:   time.Now().UTC(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, cc := range m.clients {
		wg.Add(1)
		go func(cc *chainClient) {
			defer wg.Done()
			probe := m.probeChain(ctx, cc)
			mu.Lock()
			status.Chains = append(status.Chains, probe)
			if probe.IsHealthy {
				status.HealthyChains++
			}
			mu.Unlock()
		}(cc)
	}
	wg.Wait()

	sort.Slice(status.Chains, func(i, j int) bool {
		return status.Chains[i].ChainID < status.Chains[j].ChainID
	})
	switch {
	case status.HealthyChains == status.TotalChains && status.TotalChains > 0:
		status.OverallStatus = "healthy"
		status.IsHealthy = true
	case status.HealthyChains > 0:
		status.OverallStatus = "degraded"
	default:
		status.OverallStatus = "unhealthy"
	}
	return status
}

// CheckChainHealth probes one chain's RPC endpoint.
func (m *Manager) CheckChainHealth(ctx context.Context, chainID uint64) (ChainStatus, bool) {
	cc, ok := m.clients[chainID]
	if !ok {
		return ChainStatus{}, false
	}
	return m.probeChain(ctx, cc), true
}

func (m *Manager) probeChain(ctx context.Context, cc *chainClient) ChainStatus {
	probe := ChainStatus{ChainID: cc.cfg.ChainID, Name: cc.cfg.Name}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	latest, err := cc.client.BlockNumber(ctx)
	probe.ResponseTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		rpcErrorCounter.Inc(1)
		probe.Error = err.Error()
		return probe
	}
	probe.IsHealthy = true
	probe.LatestBlock = latest
	return probe
}

// CheckContracts verifies that each configured contract address actually
// holds code on its chain.
func (m *Manager) CheckContracts(ctx context.Context) []ContractStatus {
	results := make([]ContractStatus, 0, len(m.clients))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, cc := range m.clients {
		wg.Add(1)
		go func(cc *chainClient) {
			defer wg.Done()
			status := m.probeContract(ctx, cc)
			mu.Lock()
			results = append(results, status)
			mu.Unlock()
		}(cc)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].ChainID < results[j].ChainID })
	return results
}

func (m *Manager) probeContract(ctx context.Context, cc *chainClient) ContractStatus {
	status := ContractStatus{
		ChainID:    cc.cfg.ChainID,
		Name:       cc.cfg.Name,
		Configured: cc.hasContract,
	}
	if !cc.hasContract {
		return status
	}
	status.Address = cc.contract.Hex()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	code, err := cc.client.CodeAt(ctx, cc.contract, nil)
	if err != nil {
		rpcErrorCounter.Inc(1)
		status.Error = err.Error()
		return status
	}
	status.Deployed = len(code) > 0
	return status
}
