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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/airchainpay/relay/config"
	"github.com/airchainpay/relay/monitor"
	"github.com/airchainpay/relay/resilience"
	"github.com/airchainpay/relay/storage"
	"github.com/airchainpay/relay/validator"
	"github.com/gorilla/mux"
)

// alertsResponse is the GET /alerts shape.
type alertsResponse struct {
	Alerts []monitor.Alert `json:"alerts"`
	Count  int             `json:"count"`
}

// handleAlerts lists alerts, newest first. Resolved ones are hidden unless
// include_resolved=true.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("include_resolved") == "true"
	alerts := s.monitor.Alerts(includeResolved)
	if alerts == nil {
		alerts = []monitor.Alert{}
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
}

type resolveAlertResponse struct {
	Status  string `json:"status"`
	AlertID string `json:"alert_id"`
}

// handleResolveAlert marks one alert resolved. Resolving an already resolved
// alert is a no-op, not an error.
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.monitor.ResolveAlert(id); err != nil {
		if errors.Is(err, monitor.ErrAlertNotFound) {
			s.writeError(w, r, http.StatusNotFound, "alert_not_found", err.Error())
			return
		}
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveAlertResponse{Status: "resolved", AlertID: id})
}

// walletsResponse is the GET /wallets shape.
type walletsResponse struct {
	Wallets []*storage.Wallet `json:"wallets"`
	Count   int               `json:"count"`
}

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.store.GetRegisteredWallets()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if wallets == nil {
		wallets = []*storage.Wallet{}
	}
	writeJSON(w, http.StatusOK, walletsResponse{Wallets: wallets, Count: len(wallets)})
}

type registerWalletRequest struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key,omitempty"`
}

type registerWalletResponse struct {
	Status  string `json:"status"`
	Address string `json:"address"`
}

// handleRegisterWallet stores one wallet in the registry. Registering an
// already known address overwrites its record.
func (s *Server) handleRegisterWallet(w http.ResponseWriter, r *http.Request) {
	var req registerWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
			"undecodable request body: "+err.Error())
		return
	}
	if !config.ValidAddress(req.Address) {
		s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
			"address must be a 0x-prefixed 20 byte hex string")
		return
	}
	if err := validator.CheckSafeString("public_key", req.PublicKey); err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.store.RegisterWallet(&storage.Wallet{Address: req.Address, PublicKey: req.PublicKey}); err != nil {
		s.handler.RecordError("api", "register_wallet", resilience.PathDatabaseOperation, err)
		s.respondError(w, r, err)
		return
	}
	s.log.Info("Wallet registered", "address", req.Address)
	writeJSON(w, http.StatusOK, registerWalletResponse{Status: "registered", Address: req.Address})
}
