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
	"math"
	"net/http"
	"time"

	"github.com/airchainpay/relay/resilience"
	"github.com/ethereum/go-ethereum/log"
)

// genericMessage replaces diagnostics outside development; the request id in
// the body correlates with the server log line carrying the real cause.
const genericMessage = "request failed"

// errorBody is the error shape shared by every endpoint except the
// submission-specific failures.
type errorBody struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode HTTP response", "err", err)
	}
}

// writeError emits the shared error shape. The diagnostic is logged with the
// request id and only surfaced to the client in development.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	id := requestID(r.Context())
	s.log.Warn("Request failed", "method", r.Method, "path", r.URL.Path,
		"status", status, "kind", kind, "reqid", id, "err", message)

	writeJSON(w, status, errorBody{
		Error:     kind,
		Message:   s.publicMessage(message),
		Timestamp: time.Now().UTC(),
		RequestID: id,
	})
}

// respondError maps a classified error onto its HTTP status and kind. The
// backpressure statuses carry a Retry-After hint.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	e := resilience.AsError(err)
	status := e.HTTPStatus()
	if status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "30")
	}
	s.writeError(w, r, status, string(e.Kind), e.Error())
}

func (s *Server) publicMessage(message string) string {
	if s.cfg.Current().IsDevelopment() {
		return message
	}
	return genericMessage
}

// retryAfterSeconds converts a retry hint to whole seconds, rounding up so
// clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
