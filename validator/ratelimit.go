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
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter over submission timestamps. Unlike
// a token bucket it knows exactly when the oldest hit leaves the window, so a
// rejection carries a precise retry-after hint.
type RateLimiter struct {
	mu   sync.Mutex
	hits []time.Time
}

// NewRateLimiter returns an empty limiter. Window and capacity are supplied
// per call so configuration reloads take effect immediately.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{}
}

// Allow records a hit when the window has capacity. It reports whether the
// call is admitted and, when rejected, how long until the oldest hit expires.
func (l *RateLimiter) Allow(now time.Time, maxRequests int, window time.Duration) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-window)
	evict := 0
	for evict < len(l.hits) && !l.hits[evict].After(cutoff) {
		evict++
	}
	if evict > 0 {
		l.hits = append(l.hits[:0], l.hits[evict:]...)
	}

	if maxRequests > 0 && len(l.hits) >= maxRequests {
		retryAfter := l.hits[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}
	l.hits = append(l.hits, now)
	return true, 0
}

// Len reports the hits currently inside the window as of the last Allow.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}
