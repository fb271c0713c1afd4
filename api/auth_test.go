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
	"net/http"
	"testing"
	"time"

	"github.com/airchainpay/relay/resilience"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func issueToken(t *testing.T, tr *testRelay) string {
	t.Helper()
	rec := tr.do(t, http.MethodPost, "/auth/token", authRequest{APIKey: "test-api-key"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body authResponse
	decodeBody(t, rec, &body)
	require.NotEmpty(t, body.Token)
	require.True(t, body.ExpiresAt.After(time.Now()))
	return body.Token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAuthTokenIssuance(t *testing.T) {
	tr := newTestRelay(t)

	rec := tr.do(t, http.MethodPost, "/auth/token", authRequest{APIKey: "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var fail errorBody
	decodeBody(t, rec, &fail)
	require.Equal(t, string(resilience.KindAuth), fail.Error)

	issueToken(t, tr)
}

func TestAuthTokenRejectsBadBody(t *testing.T) {
	tr := newTestRelay(t)

	rec := tr.do(t, http.MethodPost, "/auth/token", "not-an-object", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireAuthRejections(t *testing.T) {
	tr := newTestRelay(t)

	// No token at all.
	rec := tr.do(t, http.MethodPost, "/alerts/some-id/resolve", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var fail errorBody
	decodeBody(t, rec, &fail)
	require.Equal(t, string(resilience.KindAuth), fail.Error)

	// Garbage token.
	rec = tr.do(t, http.MethodPost, "/alerts/some-id/resolve", nil, bearer("not.a.token"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	decodeBody(t, rec, &fail)
	require.Equal(t, string(resilience.KindInvalidToken), fail.Error)

	// Token signed with a different secret.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("some-other-secret"))
	require.NoError(t, err)
	rec = tr.do(t, http.MethodPost, "/alerts/some-id/resolve", nil, bearer(forged))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Expired token signed with the right secret.
	stale, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("test-jwt-secret"))
	require.NoError(t, err)
	rec = tr.do(t, http.MethodPost, "/alerts/some-id/resolve", nil, bearer(stale))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAlertLifecycle(t *testing.T) {
	tr := newTestRelay(t)
	token := issueToken(t, tr)

	// Resolving an unknown alert is a 404, even with a valid token.
	rec := tr.do(t, http.MethodPost, "/alerts/no-such-alert/resolve", nil, bearer(token))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var fail errorBody
	decodeBody(t, rec, &fail)
	require.Equal(t, "alert_not_found", fail.Error)

	tr.mon.RaiseAlert("queue_backlog", resilience.SeverityHigh,
		"queue depth above threshold", map[string]string{"depth": "900"})

	rec = tr.do(t, http.MethodGet, "/alerts", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed alertsResponse
	decodeBody(t, rec, &listed)
	require.Equal(t, 1, listed.Count)
	require.Equal(t, "queue_backlog", listed.Alerts[0].Name)
	require.False(t, listed.Alerts[0].Resolved)

	rec = tr.do(t, http.MethodPost, "/alerts/"+listed.Alerts[0].ID+"/resolve", nil, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resolved resolveAlertResponse
	decodeBody(t, rec, &resolved)
	require.Equal(t, "resolved", resolved.Status)
	require.Equal(t, listed.Alerts[0].ID, resolved.AlertID)

	// Resolved alerts drop out of the default listing.
	rec = tr.do(t, http.MethodGet, "/alerts", nil, nil)
	decodeBody(t, rec, &listed)
	require.Zero(t, listed.Count)
	require.NotNil(t, listed.Alerts)

	rec = tr.do(t, http.MethodGet, "/alerts?include_resolved=true", nil, nil)
	decodeBody(t, rec, &listed)
	require.Equal(t, 1, listed.Count)
	require.True(t, listed.Alerts[0].Resolved)
	require.NotNil(t, listed.Alerts[0].ResolvedAt)
}

func TestWalletRegistration(t *testing.T) {
	tr := newTestRelay(t)
	token := issueToken(t, tr)
	address := "0x3aa5ebB10DC797CAC828524e59A333d0A371443c"

	// Registration is gated; listing is not.
	rec := tr.do(t, http.MethodPost, "/wallets/register",
		registerWalletRequest{Address: address}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = tr.do(t, http.MethodPost, "/wallets/register",
		registerWalletRequest{Address: "0x1234"}, bearer(token))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = tr.do(t, http.MethodPost, "/wallets/register",
		registerWalletRequest{Address: address, PublicKey: "<script>alert(1)</script>"}, bearer(token))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = tr.do(t, http.MethodPost, "/wallets/register",
		registerWalletRequest{Address: address, PublicKey: "0x04deadbeef"}, bearer(token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var registered registerWalletResponse
	decodeBody(t, rec, &registered)
	require.Equal(t, "registered", registered.Status)
	require.Equal(t, address, registered.Address)

	rec = tr.do(t, http.MethodGet, "/wallets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed walletsResponse
	decodeBody(t, rec, &listed)
	require.Equal(t, 1, listed.Count)
	require.Equal(t, address, listed.Wallets[0].Address)
	require.Equal(t, "0x04deadbeef", listed.Wallets[0].PublicKey)
	require.False(t, listed.Wallets[0].RegisteredAt.IsZero())
}
