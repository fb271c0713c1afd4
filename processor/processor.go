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

// Package processor drains the transaction queue with a bounded worker pool,
// broadcasting through the blockchain manager and driving each record
// through its status lifecycle.
package processor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airchainpay/relay/resilience"
	"github.com/airchainpay/relay/storage"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	// ErrQueueFull rejects an enqueue once the bounded queue is at capacity.
	ErrQueueFull = errors.New("transaction queue is full")

	// ErrDegraded rejects ingress while the processing path breaker is open.
	ErrDegraded = errors.New("transaction processing is degraded")
)

var (
	processedCounter     = metrics.GetOrRegisterCounter("relay/tx/processed", nil)
	failedCounter        = metrics.GetOrRegisterCounter("relay/tx/failed", nil)
	queueRejectedCounter = metrics.GetOrRegisterCounter("relay/queue/rejected", nil)
	queueDepthGauge      = metrics.GetOrRegisterGauge("relay/queue/depth", nil)
)

// Config tunes the worker pool.
type Config struct {
	Workers            int
	MaxQueueSize       int
	RetryCount         int
	RetryDelay         time.Duration
	MaxRetryDelay      time.Duration
	TransactionTimeout time.Duration
	IdlePoll           time.Duration
}

// DefaultConfig returns the production pool settings.
func DefaultConfig() Config {
	return Config{
		Workers:            5,
		MaxQueueSize:       1000,
		RetryCount:         3,
		RetryDelay:         5 * time.Second,
		MaxRetryDelay:      60 * time.Second,
		TransactionTimeout: 5 * time.Minute,
		IdlePoll:           500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.RetryCount <= 0 {
		c.RetryCount = def.RetryCount
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	if c.TransactionTimeout <= 0 {
		c.TransactionTimeout = def.TransactionTimeout
	}
	if c.IdlePoll <= 0 {
		c.IdlePoll = def.IdlePoll
	}
	return c
}

// Broadcaster is the slice of the blockchain manager the pool needs.
type Broadcaster interface {
	SendRawTransaction(ctx context.Context, chainID uint64, signedTxHex string) (string, error)
}

// Store is the slice of the transaction store the pool needs.
type Store interface {
	GetTransaction(id string) (*storage.Transaction, error)
	UpdateTransactionStatus(id string, status storage.Status, txHash, errMsg string) error
	TransactionsInStatus(status storage.Status) ([]string, error)
	UpdateMetrics(name string, delta int64) error
}

// Processor owns the priority queue and the worker pool draining it.
type Processor struct {
	cfg     Config
	store   Store
	chain   Broadcaster
	handler *resilience.Handler
	log     log.Logger

	mu    sync.Mutex
	queue txHeap
	seq   uint64

	// inflight serializes work per transaction id: no two workers ever
	// process the same id concurrently.
	inflight mapset.Set[string]

	running atomic.Bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New builds a stopped processor. Call Start to recover interrupted work and
// launch the workers.
func New(store Store, chain Broadcaster, handler *resilience.Handler, cfg Config) *Processor {
	return &Processor{
		cfg:      cfg.withDefaults(),
		store:    store,
		chain:    chain,
		handler:  handler,
		inflight: mapset.NewSet[string](),
		quit:     make(chan struct{}),
		log:      log.New("component", "processor"),
	}
}

// Start re-enqueues transactions interrupted by the previous shutdown and
// launches the worker pool. Calling Start on a running processor is a no-op.
func (p *Processor) Start() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.recoverInterrupted()
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info("Processor started", "workers", p.cfg.Workers, "max_queue", p.cfg.MaxQueueSize)
}

// Stop drains nothing: workers exit after their current attempt and queued
// items stay in their last recorded status.
func (p *Processor) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.quit)
	p.wg.Wait()
	p.log.Info("Processor stopped", "queued", p.QueueDepth())
}

// Running reports whether the worker pool is live.
func (p *Processor) Running() bool {
	return p.running.Load()
}

// QueueDepth returns the number of transactions waiting in the queue.
func (p *Processor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Enqueue admits a transaction to the queue. It fails synchronously when the
// queue is at capacity or the processing path is degraded.
func (p *Processor) Enqueue(item *QueuedTransaction) error {
	if p.handler.Degraded(resilience.PathTransactionProcessing) {
		queueRejectedCounter.Inc(1)
		return ErrDegraded
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue.Len() >= p.cfg.MaxQueueSize {
		queueRejectedCounter.Inc(1)
		return ErrQueueFull
	}

	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now()
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = p.cfg.RetryCount
	}
	if item.RetryDelay <= 0 {
		item.RetryDelay = p.cfg.RetryDelay
	}
	item.seq = p.seq
	p.seq++

	heap.Push(&p.queue, item)
	queueDepthGauge.Update(int64(p.queue.Len()))
	return nil
}

func (p *Processor) dequeue() *QueuedTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue.Len() == 0 {
		return nil
	}
	item := heap.Pop(&p.queue).(*QueuedTransaction)
	queueDepthGauge.Update(int64(p.queue.Len()))
	return item
}

func (p *Processor) requeue(item *QueuedTransaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	heap.Push(&p.queue, item)
	queueDepthGauge.Update(int64(p.queue.Len()))
}

func (p *Processor) worker(id int) {
	defer p.wg.Done()
	logger := p.log.New("worker", id)

	for p.running.Load() {
		item := p.dequeue()
		if item == nil {
			if !p.idle() {
				return
			}
			continue
		}
		if !p.inflight.Add(item.ID) {
			// Another worker owns this id; try again after it finishes.
			p.requeue(item)
			if !p.idle() {
				return
			}
			continue
		}
		p.process(logger, item)
		p.inflight.Remove(item.ID)
	}
}

// idle waits one poll interval, reporting false on shutdown.
func (p *Processor) idle() bool {
	select {
	case <-p.quit:
		return false
	case <-time.After(p.cfg.IdlePoll):
		return true
	}
}

// process drives one transaction through broadcast and retry until it lands
// in a terminal status.
func (p *Processor) process(logger log.Logger, item *QueuedTransaction) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.TransactionTimeout)
	defer cancel()

	p.updateStatus(item.ID, storage.StatusProcessing, "", "")

	attempts := 0
	var lastErr error
	for attempts < item.MaxRetries {
		if attempts > 0 {
			p.updateStatus(item.ID, storage.StatusProcessing, "", "")
		}
		attempts++

		var hash string
		err := p.handler.ExecuteOnce(ctx, resilience.PathBlockchainTransaction,
			"transaction_processor", "broadcast", func(ctx context.Context) error {
				var sendErr error
				hash, sendErr = p.chain.SendRawTransaction(ctx, item.ChainID, item.SignedTx)
				return sendErr
			})
		if err == nil {
			p.updateStatus(item.ID, storage.StatusCompleted, hash, "")
			p.handler.RecordOutcome(resilience.PathTransactionProcessing, "transaction_processor", "process", nil)
			processedCounter.Inc(1)
			p.countOutcome(storage.MetricProcessed)
			logger.Info("Transaction completed", "id", item.ID, "chain", item.ChainID, "hash", hash, "attempt", attempts)
			return
		}

		lastErr = err
		logger.Warn("Broadcast attempt failed", "id", item.ID, "chain", item.ChainID, "attempt", attempts, "err", err)
		if !resilience.IsRetryable(err) || attempts >= item.MaxRetries {
			break
		}

		p.updateStatus(item.ID, storage.StatusRetrying, "", fmt.Sprintf("attempt %d failed: %v", attempts, err))
		if !p.sleep(ctx, retryDelay(item.RetryDelay, attempts, p.cfg.MaxRetryDelay)) {
			break
		}
	}

	p.updateStatus(item.ID, storage.StatusFailed, "", fmt.Sprintf("failed after %d attempts: %v", attempts, lastErr))
	p.handler.RecordOutcome(resilience.PathTransactionProcessing, "transaction_processor", "process", lastErr)
	failedCounter.Inc(1)
	p.countOutcome(storage.MetricFailed)
	logger.Error("Transaction failed", "id", item.ID, "chain", item.ChainID, "attempts", attempts, "err", lastErr)
}

// sleep waits out a retry delay, reporting false when shutdown or the
// per-transaction deadline interrupts it.
func (p *Processor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-p.quit:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// retryDelay doubles the base delay per attempt, bounded by max.
func retryDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	return delay
}

// countOutcome advances a persisted outcome counter. Failures are logged,
// never fatal to the worker.
func (p *Processor) countOutcome(name string) {
	if err := p.store.UpdateMetrics(name, 1); err != nil {
		p.log.Warn("Persisted counter update failed", "metric", name, "err", err)
	}
}

// updateStatus persists a lifecycle transition through the database critical
// path. Failures are logged, never fatal to the worker.
func (p *Processor) updateStatus(id string, status storage.Status, txHash, errMsg string) {
	err := p.handler.Execute(context.Background(), resilience.PathDatabaseOperation,
		"transaction_processor", "update_status", func(ctx context.Context) error {
			return p.store.UpdateTransactionStatus(id, status, txHash, errMsg)
		})
	if err != nil {
		p.log.Warn("Status update failed", "id", id, "status", status, "err", err)
	}
}

// recoverInterrupted re-enqueues records the previous process left mid-flight.
// Broadcast state at crash time is unknowable: a transaction that actually
// landed resurfaces from the provider as "already known" and is marked failed
// with that diagnostic instead of being broadcast twice.
func (p *Processor) recoverInterrupted() {
	for _, status := range []storage.Status{storage.StatusProcessing, storage.StatusRetrying} {
		ids, err := p.store.TransactionsInStatus(status)
		if err != nil {
			p.log.Warn("Recovery scan failed", "status", status, "err", err)
			continue
		}
		for _, id := range ids {
			tx, err := p.store.GetTransaction(id)
			if err != nil {
				p.log.Warn("Recovery lookup failed", "id", id, "err", err)
				continue
			}
			item := &QueuedTransaction{
				ID:       tx.ID,
				ChainID:  tx.ChainID,
				SignedTx: tx.SignedTx,
				Priority: PriorityHigh,
			}
			if err := p.Enqueue(item); err != nil {
				p.updateStatus(id, storage.StatusFailed, "", "abandoned by restart: "+err.Error())
				continue
			}
			p.log.Info("Re-enqueued interrupted transaction", "id", id, "last_status", status)
		}
	}
}
