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

package processor

import (
	"time"
)

// Priority orders queued transactions. Higher values dequeue first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// QueuedTransaction is one unit of work for the broadcast pool.
type QueuedTransaction struct {
	ID         string
	ChainID    uint64
	SignedTx   string
	Priority   Priority
	MaxRetries int
	RetryDelay time.Duration
	QueuedAt   time.Time

	// seq breaks ties between items queued in the same instant, preserving
	// arrival order.
	seq uint64
}

// txHeap implements container/heap ordering: priority descending, then
// queued_at ascending, then arrival order.
type txHeap []*QueuedTransaction

func (h txHeap) Len() int { return len(h) }

func (h txHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].QueuedAt.Equal(h[j].QueuedAt) {
		return h[i].QueuedAt.Before(h[j].QueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h txHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *txHeap) Push(x interface{}) {
	*h = append(*h, x.(*QueuedTransaction))
}

func (h *txHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
