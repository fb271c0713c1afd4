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
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/airchainpay/relay/resilience"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// tokenTTL is the lifetime of tokens issued by /auth/token.
const tokenTTL = time.Hour

type authRequest struct {
	APIKey string `json:"api_key"`
}

type authResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken exchanges the configured API key for a short-lived bearer
// token. Key comparison is constant time.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
			"undecodable request body: "+err.Error())
		return
	}

	cfg := s.cfg.Current()
	if cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(cfg.APIKey)) != 1 {
		authFailures.Inc(1)
		s.handler.RecordError("api", "issue_token", resilience.PathAuthentication,
			resilience.New(resilience.KindAuth, "api key rejected"))
		s.writeError(w, r, http.StatusUnauthorized, string(resilience.KindAuth), "api key rejected")
		return
	}

	expiry := time.Now().Add(tokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    "airchainpay-relay",
		Subject:   "relay-admin",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiry),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		s.respondError(w, r, resilience.Wrap(resilience.KindAuth, err, "sign token"))
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, ExpiresAt: expiry.UTC()})
}

// requireAuth guards mutating admin routes behind a bearer token from
// /auth/token. Only HS256 is accepted; expiry is enforced by the claims
// validation.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw string
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimPrefix(auth, "Bearer ")
		}
		if raw == "" {
			authFailures.Inc(1)
			s.writeError(w, r, http.StatusUnauthorized, string(resilience.KindAuth), "missing bearer token")
			return
		}

		var claims jwt.RegisteredClaims
		token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
			return []byte(s.cfg.Current().JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			authFailures.Inc(1)
			s.handler.RecordError("api", "verify_token", resilience.PathAuthentication,
				resilience.Wrap(resilience.KindInvalidToken, err, "bearer token rejected"))
			s.writeError(w, r, http.StatusUnauthorized, string(resilience.KindInvalidToken), "bearer token rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}
