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

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/airchainpay/relay/blockchain"
	"github.com/airchainpay/relay/params"
	"github.com/airchainpay/relay/resilience"
	"github.com/gorilla/mux"
)

// networkHealthTTL bounds how often transaction submissions may trigger the
// all-chain probe. Within the window every caller sees the cached verdict.
const networkHealthTTL = 10 * time.Second

type netHealthCache struct {
	status blockchain.NetworkStatus
	at     time.Time
}

// networkHealth returns a recent network-wide probe result, refreshing the
// cache when it has gone stale. Concurrent refreshes are allowed; the last
// writer wins.
func (s *Server) networkHealth(ctx context.Context) blockchain.NetworkStatus {
	if c := s.netHealth.Load(); c != nil && time.Since(c.at) < networkHealthTTL {
		return c.status
	}
	status := s.chain.GetNetworkStatus(ctx)
	s.netHealth.Store(&netHealthCache{status: status, at: time.Now()})
	return status
}

// healthResponse is the GET /health shape, kept deliberately cheap for load
// balancer probes.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Message   string    `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   params.VersionWithMeta,
		Message:   "relay is accepting transactions",
	})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.DetailedHealth(r.Context()))
}

func (s *Server) handleHealthComponent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	component, err := s.monitor.ComponentHealth(r.Context(), name)
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, "unknown_component", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, component)
}

// contractsHealth is the GET /health/contracts shape.
type contractsHealth struct {
	Status    string                      `json:"status"`
	Timestamp time.Time                   `json:"timestamp"`
	Contracts []blockchain.ContractStatus `json:"contracts"`
}

// contractsVerdict reduces per-chain contract probes to one word. Chains
// without a configured contract are not counted against it.
func contractsVerdict(contracts []blockchain.ContractStatus) string {
	for _, c := range contracts {
		if c.Configured && (!c.Deployed || c.Error != "") {
			return "degraded"
		}
	}
	return "healthy"
}

func (s *Server) handleHealthContracts(w http.ResponseWriter, r *http.Request) {
	contracts := s.chain.CheckContracts(r.Context())
	if contracts == nil {
		contracts = []blockchain.ContractStatus{}
	}
	writeJSON(w, http.StatusOK, contractsHealth{
		Status:    contractsVerdict(contracts),
		Timestamp: time.Now().UTC(),
		Contracts: contracts,
	})
}

// contractsDetail extends the contract view with the per-chain RPC probes and
// the circuit breaker states, the pieces an operator needs when a chain goes
// quiet.
type contractsDetail struct {
	Status          string                       `json:"status"`
	Timestamp       time.Time                    `json:"timestamp"`
	Network         blockchain.NetworkStatus     `json:"network"`
	Contracts       []blockchain.ContractStatus  `json:"contracts"`
	CircuitBreakers []resilience.BreakerSnapshot `json:"circuit_breakers"`
}

func (s *Server) handleHealthContractsDetailed(w http.ResponseWriter, r *http.Request) {
	network := s.chain.GetNetworkStatus(r.Context())
	contracts := s.chain.CheckContracts(r.Context())
	if contracts == nil {
		contracts = []blockchain.ContractStatus{}
	}

	status := contractsVerdict(contracts)
	if !network.IsHealthy && status == "healthy" {
		status = network.OverallStatus
	}
	writeJSON(w, http.StatusOK, contractsDetail{
		Status:          status,
		Timestamp:       time.Now().UTC(),
		Network:         network,
		Contracts:       contracts,
		CircuitBreakers: s.handler.BreakerSnapshots(),
	})
}
