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
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airchainpay/relay/resilience"
	"github.com/airchainpay/relay/storage"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	records     map[string]*storage.Transaction
	transitions map[string][]storage.Status
	metrics     map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:     make(map[string]*storage.Transaction),
		transitions: make(map[string][]storage.Status),
		metrics:     make(map[string]int64),
	}
}

func (s *fakeStore) seed(tx *storage.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[tx.ID] = tx
}

func (s *fakeStore) GetTransaction(id string) (*storage.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *fakeStore) UpdateTransactionStatus(id string, status storage.Status, txHash, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	tx.Status = status
	if txHash != "" {
		tx.TxHash = txHash
	}
	tx.Error = errMsg
	s.transitions[id] = append(s.transitions[id], status)
	return nil
}

func (s *fakeStore) TransactionsInStatus(status storage.Status) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, tx := range s.records {
		if tx.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeStore) UpdateMetrics(name string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[name] += delta
	return nil
}

func (s *fakeStore) metricOf(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics[name]
}

func (s *fakeStore) statusOf(id string) storage.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Status
}

func (s *fakeStore) errorOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Error
}

func (s *fakeStore) transitionsOf(id string) []storage.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Status, len(s.transitions[id]))
	copy(out, s.transitions[id])
	return out
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	calls  map[string]int
	active map[string]bool
	fn     func(signedTx string, attempt int) (string, error)
	onDup  func()
}

func newFakeBroadcaster(fn func(signedTx string, attempt int) (string, error)) *fakeBroadcaster {
	return &fakeBroadcaster{
		calls:  make(map[string]int),
		active: make(map[string]bool),
		fn:     fn,
	}
}

func (b *fakeBroadcaster) SendRawTransaction(ctx context.Context, chainID uint64, signedTx string) (string, error) {
	b.mu.Lock()
	if b.active[signedTx] && b.onDup != nil {
		b.onDup()
	}
	b.active[signedTx] = true
	b.calls[signedTx]++
	attempt := b.calls[signedTx]
	b.mu.Unlock()

	hash, err := b.fn(signedTx, attempt)

	b.mu.Lock()
	b.active[signedTx] = false
	b.mu.Unlock()
	return hash, err
}

func (b *fakeBroadcaster) callCount(signedTx string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[signedTx]
}

func testProcessor(t *testing.T, store Store, chain Broadcaster, cfg Config) *Processor {
	t.Helper()
	p := New(store, chain, resilience.NewHandler(), cfg)
	t.Cleanup(p.Stop)
	return p
}

func queuedTx(id string, prio Priority, at time.Time) *QueuedTransaction {
	return &QueuedTransaction{
		ID:       id,
		ChainID:  84532,
		SignedTx: "0x" + id,
		Priority: prio,
		QueuedAt: at,
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	p := testProcessor(t, newFakeStore(), newFakeBroadcaster(nil), Config{})
	base := time.Unix(1700000000, 0)

	require.NoError(t, p.Enqueue(queuedTx("n1", PriorityNormal, base)))
	require.NoError(t, p.Enqueue(queuedTx("h1", PriorityHigh, base.Add(time.Second))))
	require.NoError(t, p.Enqueue(queuedTx("l1", PriorityLow, base.Add(2*time.Second))))
	require.NoError(t, p.Enqueue(queuedTx("n2", PriorityNormal, base.Add(3*time.Second))))

	var order []string
	for item := p.dequeue(); item != nil; item = p.dequeue() {
		order = append(order, item.ID)
	}
	require.Equal(t, []string{"h1", "n1", "n2", "l1"}, order)
}

func TestQueueArrivalOrderBreaksTies(t *testing.T) {
	p := testProcessor(t, newFakeStore(), newFakeBroadcaster(nil), Config{})
	at := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Enqueue(queuedTx(fmt.Sprintf("tx-%d", i), PriorityNormal, at)))
	}
	for i := 0; i < 5; i++ {
		require.Equal(t, fmt.Sprintf("tx-%d", i), p.dequeue().ID)
	}
}

func TestEnqueueCapacity(t *testing.T) {
	p := testProcessor(t, newFakeStore(), newFakeBroadcaster(nil), Config{MaxQueueSize: 2})
	at := time.Now()

	require.NoError(t, p.Enqueue(queuedTx("a", PriorityNormal, at)))
	require.NoError(t, p.Enqueue(queuedTx("b", PriorityNormal, at)))
	require.ErrorIs(t, p.Enqueue(queuedTx("c", PriorityNormal, at)), ErrQueueFull)
	require.Equal(t, 2, p.QueueDepth())
}

func TestEnqueueRejectsWhileDegraded(t *testing.T) {
	handler := resilience.NewHandler()
	p := New(newFakeStore(), newFakeBroadcaster(nil), handler, Config{})
	t.Cleanup(p.Stop)

	// Terminal failures open the processing breaker and flip degraded mode.
	for i := 0; i < 3; i++ {
		handler.RecordOutcome(resilience.PathTransactionProcessing,
			"transaction_processor", "process", resilience.New(resilience.KindNetwork, "broadcast rejected"))
	}
	require.True(t, handler.Degraded(resilience.PathTransactionProcessing))
	require.ErrorIs(t, p.Enqueue(queuedTx("a", PriorityNormal, time.Now())), ErrDegraded)

	// A completed transaction clears degraded mode and ingress resumes.
	handler.RecordOutcome(resilience.PathTransactionProcessing, "transaction_processor", "process", nil)
	require.False(t, handler.Degraded(resilience.PathTransactionProcessing))
	require.NoError(t, p.Enqueue(queuedTx("a", PriorityNormal, time.Now())))
}

func TestDegradedModeAfterTerminalFailures(t *testing.T) {
	store := newFakeStore()
	chain := newFakeBroadcaster(func(signedTx string, attempt int) (string, error) {
		return "", resilience.New(resilience.KindNetwork, "provider unavailable")
	})
	handler := resilience.NewHandler()
	p := New(store, chain, handler, Config{Workers: 1, IdlePoll: 5 * time.Millisecond})
	t.Cleanup(p.Stop)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("tx-%d", i)
		store.seed(&storage.Transaction{ID: id, SignedTx: "0x" + id, ChainID: 84532, Status: storage.StatusPending})
		require.NoError(t, p.Enqueue(&QueuedTransaction{
			ID: id, ChainID: 84532, SignedTx: "0x" + id,
			Priority: PriorityNormal, MaxRetries: 1,
		}))
	}
	p.Start()

	// Three transactions exhausting their retries opens the processing
	// breaker, and ingress starts shedding load.
	require.Eventually(t, func() bool {
		return handler.Degraded(resilience.PathTransactionProcessing)
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, p.Enqueue(queuedTx("late", PriorityNormal, time.Now())), ErrDegraded)
}

func TestProcessCompletesTransaction(t *testing.T) {
	store := newFakeStore()
	store.seed(&storage.Transaction{ID: "tx-1", SignedTx: "0xtx-1", ChainID: 84532, Status: storage.StatusPending})

	chain := newFakeBroadcaster(func(signedTx string, attempt int) (string, error) {
		return "0xhash1", nil
	})
	p := testProcessor(t, store, chain, Config{Workers: 2, IdlePoll: 10 * time.Millisecond})

	require.NoError(t, p.Enqueue(&QueuedTransaction{ID: "tx-1", ChainID: 84532, SignedTx: "0xtx-1", Priority: PriorityNormal}))
	p.Start()

	require.Eventually(t, func() bool {
		return store.statusOf("tx-1") == storage.StatusCompleted &&
			store.metricOf(storage.MetricProcessed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []storage.Status{storage.StatusProcessing, storage.StatusCompleted}, store.transitionsOf("tx-1"))
	require.Equal(t, 1, chain.callCount("0xtx-1"))
	require.Zero(t, store.metricOf(storage.MetricFailed))

	tx, err := store.GetTransaction("tx-1")
	require.NoError(t, err)
	require.Equal(t, "0xhash1", tx.TxHash)
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	store := newFakeStore()
	store.seed(&storage.Transaction{ID: "tx-1", SignedTx: "0xtx-1", ChainID: 84532, Status: storage.StatusPending})

	chain := newFakeBroadcaster(func(signedTx string, attempt int) (string, error) {
		if attempt < 3 {
			return "", resilience.New(resilience.KindNetwork, "provider unavailable")
		}
		return "0xhash1", nil
	})
	p := testProcessor(t, store, chain, Config{Workers: 1, IdlePoll: 10 * time.Millisecond})

	require.NoError(t, p.Enqueue(&QueuedTransaction{
		ID: "tx-1", ChainID: 84532, SignedTx: "0xtx-1",
		Priority: PriorityNormal, MaxRetries: 3, RetryDelay: 5 * time.Millisecond,
	}))
	p.Start()

	require.Eventually(t, func() bool {
		return store.statusOf("tx-1") == storage.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []storage.Status{
		storage.StatusProcessing,
		storage.StatusRetrying,
		storage.StatusProcessing,
		storage.StatusRetrying,
		storage.StatusProcessing,
		storage.StatusCompleted,
	}, store.transitionsOf("tx-1"))
	require.Equal(t, 3, chain.callCount("0xtx-1"))
}

func TestProcessFailsAfterMaxRetries(t *testing.T) {
	store := newFakeStore()
	store.seed(&storage.Transaction{ID: "tx-1", SignedTx: "0xtx-1", ChainID: 84532, Status: storage.StatusPending})

	chain := newFakeBroadcaster(func(signedTx string, attempt int) (string, error) {
		return "", resilience.New(resilience.KindNetwork, "provider unavailable")
	})
	p := testProcessor(t, store, chain, Config{Workers: 1, IdlePoll: 10 * time.Millisecond})

	require.NoError(t, p.Enqueue(&QueuedTransaction{
		ID: "tx-1", ChainID: 84532, SignedTx: "0xtx-1",
		Priority: PriorityNormal, MaxRetries: 2, RetryDelay: 5 * time.Millisecond,
	}))
	p.Start()

	require.Eventually(t, func() bool {
		return store.statusOf("tx-1") == storage.StatusFailed &&
			store.metricOf(storage.MetricFailed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 2, chain.callCount("0xtx-1"))
	require.Contains(t, store.errorOf("tx-1"), "failed after 2 attempts")
	require.Zero(t, store.metricOf(storage.MetricProcessed))
}

func TestProcessNonRetryableFailsImmediately(t *testing.T) {
	store := newFakeStore()
	store.seed(&storage.Transaction{ID: "tx-1", SignedTx: "0xtx-1", ChainID: 84532, Status: storage.StatusPending})

	chain := newFakeBroadcaster(func(signedTx string, attempt int) (string, error) {
		return "", resilience.New(resilience.KindContract, "nonce too low").WithRetryable(false)
	})
	p := testProcessor(t, store, chain, Config{Workers: 1, IdlePoll: 10 * time.Millisecond})

	require.NoError(t, p.Enqueue(&QueuedTransaction{
		ID: "tx-1", ChainID: 84532, SignedTx: "0xtx-1",
		Priority: PriorityNormal, MaxRetries: 3, RetryDelay: 5 * time.Millisecond,
	}))
	p.Start()

	require.Eventually(t, func() bool {
		return store.statusOf("tx-1") == storage.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, chain.callCount("0xtx-1"))
	require.Equal(t, []storage.Status{storage.StatusProcessing, storage.StatusFailed}, store.transitionsOf("tx-1"))
	require.Contains(t, store.errorOf("tx-1"), "failed after 1 attempts")
}

func TestSameIDNeverRunsConcurrently(t *testing.T) {
	store := newFakeStore()
	store.seed(&storage.Transaction{ID: "tx-1", SignedTx: "0xtx-1", ChainID: 84532, Status: storage.StatusPending})

	var overlaps atomic.Int32
	chain := newFakeBroadcaster(func(signedTx string, attempt int) (string, error) {
		time.Sleep(30 * time.Millisecond)
		return "0xhash1", nil
	})
	chain.onDup = func() {
		overlaps.Add(1)
	}

	p := testProcessor(t, store, chain, Config{Workers: 3, IdlePoll: 5 * time.Millisecond})

	// The same id queued twice must be handled strictly one after the other.
	require.NoError(t, p.Enqueue(&QueuedTransaction{ID: "tx-1", ChainID: 84532, SignedTx: "0xtx-1", Priority: PriorityNormal}))
	require.NoError(t, p.Enqueue(&QueuedTransaction{ID: "tx-1", ChainID: 84532, SignedTx: "0xtx-1", Priority: PriorityNormal}))
	p.Start()

	require.Eventually(t, func() bool {
		return chain.callCount("0xtx-1") == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.Zero(t, overlaps.Load())
}

func TestRecoverInterrupted(t *testing.T) {
	store := newFakeStore()
	store.seed(&storage.Transaction{ID: "tx-a", SignedTx: "0xtx-a", ChainID: 84532, Status: storage.StatusProcessing})
	store.seed(&storage.Transaction{ID: "tx-b", SignedTx: "0xtx-b", ChainID: 84532, Status: storage.StatusRetrying})
	store.seed(&storage.Transaction{ID: "tx-c", SignedTx: "0xtx-c", ChainID: 84532, Status: storage.StatusCompleted, TxHash: "0xdone"})

	chain := newFakeBroadcaster(func(signedTx string, attempt int) (string, error) {
		return "0xhash-" + signedTx[2:], nil
	})
	p := testProcessor(t, store, chain, Config{Workers: 2, IdlePoll: 10 * time.Millisecond})
	p.Start()

	require.Eventually(t, func() bool {
		return store.statusOf("tx-a") == storage.StatusCompleted &&
			store.statusOf("tx-b") == storage.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, chain.callCount("0xtx-a"))
	require.Equal(t, 1, chain.callCount("0xtx-b"))
	require.Zero(t, chain.callCount("0xtx-c"))

	untouched, err := store.GetTransaction("tx-c")
	require.NoError(t, err)
	require.Equal(t, storage.StatusCompleted, untouched.Status)
	require.Equal(t, "0xdone", untouched.TxHash)
}

func TestRecoverAbandonsBeyondCapacity(t *testing.T) {
	store := newFakeStore()
	store.seed(&storage.Transaction{ID: "tx-a", SignedTx: "0xtx-a", ChainID: 84532, Status: storage.StatusProcessing})
	store.seed(&storage.Transaction{ID: "tx-b", SignedTx: "0xtx-b", ChainID: 84532, Status: storage.StatusProcessing})

	chain := newFakeBroadcaster(func(signedTx string, attempt int) (string, error) {
		return "0xhash", nil
	})
	p := testProcessor(t, store, chain, Config{Workers: 1, MaxQueueSize: 1, IdlePoll: 10 * time.Millisecond})
	p.Start()

	require.Eventually(t, func() bool {
		return store.statusOf("tx-a") == storage.StatusCompleted &&
			store.statusOf("tx-b") == storage.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	require.Contains(t, store.errorOf("tx-b"), "abandoned by restart")
	require.Zero(t, chain.callCount("0xtx-b"))
}

func TestRetryDelayBackoff(t *testing.T) {
	require.Equal(t, 2*time.Second, retryDelay(2*time.Second, 1, time.Minute))
	require.Equal(t, 4*time.Second, retryDelay(2*time.Second, 2, time.Minute))
	require.Equal(t, 32*time.Second, retryDelay(2*time.Second, 5, time.Minute))
	require.Equal(t, time.Minute, retryDelay(2*time.Second, 10, time.Minute))
	require.Equal(t, time.Minute, retryDelay(5*time.Second, 20, time.Minute))
}

func TestStopHaltsWorkers(t *testing.T) {
	p := New(newFakeStore(), newFakeBroadcaster(func(string, int) (string, error) {
		return "0xhash", nil
	}), resilience.NewHandler(), Config{Workers: 2, IdlePoll: 10 * time.Millisecond})

	p.Start()
	require.True(t, p.Running())
	p.Stop()
	require.False(t, p.Running())

	// Stop twice is safe.
	p.Stop()
}
