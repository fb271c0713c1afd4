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

package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultRingSize bounds the in-memory error history.
const defaultRingSize = 10000

// Record is one classified failure kept for diagnostics.
type Record struct {
	ID        string    `json:"id"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
	Path      Path      `json:"path,omitempty"`
	Kind      Kind      `json:"kind"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newRecord(component, operation string, path Path, e *Error) Record {
	return Record{
		ID:        uuid.New().String(),
		Component: component,
		Operation: operation,
		Path:      path,
		Kind:      e.Kind,
		Severity:  e.Severity,
		Message:   e.Error(),
		Timestamp: time.Now().UTC(),
	}
}

// recordRing keeps the most recent records, evicting oldest first.
type recordRing struct {
	mu    sync.Mutex
	buf   []Record
	next  int
	full  bool
	total uint64
}

func newRecordRing(size int) *recordRing {
	if size <= 0 {
		size = defaultRingSize
	}
	return &recordRing{buf: make([]Record, size)}
}

func (r *recordRing) add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// recent returns up to n records, newest first.
func (r *recordRing) recent(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *recordRing) countBySeverity() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	counts := make(map[string]int)
	for i := 0; i < size; i++ {
		counts[r.buf[i].Severity.String()]++
	}
	return counts
}

func (r *recordRing) count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
