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

package validator

import (
	"regexp"
	"strings"

	"github.com/airchainpay/relay/resilience"
	"github.com/ethereum/go-ethereum/metrics"
)

var securityEvents = metrics.GetOrRegisterCounter("relay/security/events", nil)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidTxHash reports whether s is a 0x-prefixed 32-byte hash.
func ValidTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// Markup fragments that have no business inside payment references, wallet
// labels or user ids.
var xssFragments = []string{
	"<script",
	"</script",
	"javascript:",
	"onerror=",
	"onload=",
	"<iframe",
}

// Query fragments typical of injection probes. Matching is deliberately
// coarse: these fields never legitimately contain query syntax.
var sqlFragments = []string{
	"' or ",
	"'; ",
	"'--",
	"union select",
	"drop table",
	"insert into",
}

// CheckSafeString rejects user-supplied text containing markup or query
// fragments. The field name is included in the error for the client.
func CheckSafeString(field, value string) error {
	lower := strings.ToLower(value)
	for _, fragment := range xssFragments {
		if strings.Contains(lower, fragment) {
			securityEvents.Inc(1)
			return resilience.Errorf(resilience.KindXSS, "%s contains forbidden markup", field)
		}
	}
	for _, fragment := range sqlFragments {
		if strings.Contains(lower, fragment) {
			securityEvents.Inc(1)
			return resilience.Errorf(resilience.KindSQLInjection, "%s contains forbidden sequence", field)
		}
	}
	return nil
}
