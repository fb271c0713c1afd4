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

// Package storage persists transaction records, registered wallets and
// restart-surviving metric deltas in a local leveldb database.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airchainpay/relay/resilience"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes. Sequence keys are zero-padded so lexicographic iteration
// matches insertion order.
const (
	txPrefix     = "tx-"
	txSeqPrefix  = "txseq-"
	txHashPrefix = "txhash-"
	walletPrefix = "wallet-"
	metricPrefix = "metric-"
)

// Names of the persisted counters maintained across restarts. Writers add
// deltas with UpdateMetrics; the monitor reads them back with GetMetric.
const (
	MetricReceived  = "transactions_received"
	MetricProcessed = "transactions_processed"
	MetricFailed    = "transactions_failed"
)

const hashCacheSize = 1024

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrTerminalStatus is returned when an update would move a record out of a
// terminal status.
var ErrTerminalStatus = errors.New("transaction already in terminal status")

var (
	dbOpsCounter    = metrics.GetOrRegisterCounter("relay/db/operations", nil)
	dbErrorsCounter = metrics.GetOrRegisterCounter("relay/db/errors", nil)
	cacheHitMeter   = metrics.GetOrRegisterCounter("relay/cache/hits", nil)
	cacheMissMeter  = metrics.GetOrRegisterCounter("relay/cache/misses", nil)
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusRetrying    Status = "retrying"
	StatusCompleted   Status = "completed"
	StatusQueueFailed Status = "queue_failed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether a record in this status may never transition
// again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusQueueFailed:
		return true
	default:
		return false
	}
}

// Transaction is one persisted submission.
type Transaction struct {
	ID        string    `json:"id"`
	SignedTx  string    `json:"signed_tx"`
	ChainID   uint64    `json:"chain_id"`
	Status    Status    `json:"status"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Error     string    `json:"error,omitempty"`
	From      string    `json:"from,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Wallet is one registered wallet.
type Wallet struct {
	Address      string    `json:"address"`
	PublicKey    string    `json:"public_key,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Health is the storage slice of the aggregate health report.
type Health struct {
	IsHealthy         bool   `json:"is_healthy"`
	TotalTransactions int    `json:"total_transactions"`
	Pending           int    `json:"pending"`
	Processing        int    `json:"processing"`
	Completed         int    `json:"completed"`
	Failed            int    `json:"failed"`
	RegisteredWallets int    `json:"registered_wallets"`
	DataIntegrity     bool   `json:"data_integrity"`
	Error             string `json:"error,omitempty"`
}

// Store wraps the leveldb database. A single mutex serializes writers;
// reads go straight to leveldb, which is safe for concurrent use.
type Store struct {
	db  *leveldb.DB
	log log.Logger

	mu  sync.Mutex // guards seq allocation and read-modify-write updates
	seq uint64

	hashCache *lru.Cache[string, string] // tx hash -> record id
}

// Open opens (and if necessary recovers) the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		log.Warn("Storage corrupted, attempting recovery", "path", path)
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, resilience.Wrap(resilience.KindStorageIO, err, "open storage")
	}

	cache, err := lru.New[string, string](hashCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:        db,
		log:       log.New("component", "storage"),
		hashCache: cache,
	}
	if err := s.initSeq(); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("Storage opened", "path", path, "nextseq", s.seq)
	return s, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSeq resumes the insertion sequence after the highest persisted key.
func (s *Store) initSeq() error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(txSeqPrefix)), nil)
	defer iter.Release()
	if iter.Last() {
		key := strings.TrimPrefix(string(iter.Key()), txSeqPrefix)
		if n, err := strconv.ParseUint(key, 10, 64); err == nil {
			s.seq = n + 1
		}
	}
	return iter.Error()
}

// SaveTransaction persists a new record and its index entries.
func (s *Store) SaveTransaction(tx *Transaction) error {
	if tx.ID == "" {
		return resilience.New(resilience.KindStorageIO, "transaction without id")
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return resilience.Wrap(resilience.KindStorageIO, err, "encode transaction")
	}

	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	batch := new(leveldb.Batch)
	batch.Put(txKey(tx.ID), data)
	batch.Put(seqKey(seq), []byte(tx.ID))
	if tx.TxHash != "" {
		batch.Put(hashKey(tx.TxHash), []byte(tx.ID))
	}
	if err := s.db.Write(batch, nil); err != nil {
		dbErrorsCounter.Inc(1)
		return resilience.Wrap(resilience.KindStorageIO, err, "write transaction")
	}
	dbOpsCounter.Inc(1)
	if tx.TxHash != "" {
		s.hashCache.Add(strings.ToLower(tx.TxHash), tx.ID)
	}
	return nil
}

// GetTransaction loads one record by id.
func (s *Store) GetTransaction(id string) (*Transaction, error) {
	data, err := s.db.Get(txKey(id), nil)
	if err == leveldb.ErrNotFound {
		return nil, resilience.Wrap(resilience.KindStorageNotFound, ErrNotFound, id)
	}
	if err != nil {
		dbErrorsCounter.Inc(1)
		return nil, resilience.Wrap(resilience.KindStorageIO, err, "read transaction")
	}
	dbOpsCounter.Inc(1)
	return decodeTransaction(data)
}

// GetTransactionByHash resolves a broadcast hash to its record, consulting
// the LRU index cache first.
func (s *Store) GetTransactionByHash(txHash string) (*Transaction, error) {
	key := strings.ToLower(txHash)
	if id, ok := s.hashCache.Get(key); ok {
		cacheHitMeter.Inc(1)
		return s.GetTransaction(id)
	}
	cacheMissMeter.Inc(1)

	data, err := s.db.Get(hashKey(txHash), nil)
	if err == leveldb.ErrNotFound {
		return nil, resilience.Wrap(resilience.KindStorageNotFound, ErrNotFound, txHash)
	}
	if err != nil {
		dbErrorsCounter.Inc(1)
		return nil, resilience.Wrap(resilience.KindStorageIO, err, "read hash index")
	}
	id := string(data)
	s.hashCache.Add(key, id)
	return s.GetTransaction(id)
}

// GetTransactions returns up to limit records, newest first.
func (s *Store) GetTransactions(limit int) ([]*Transaction, error) {
	limit = normalizeLimit(limit)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(txSeqPrefix)), nil)
	defer iter.Release()

	txs := make([]*Transaction, 0, limit)
	for ok := iter.Last(); ok && len(txs) < limit; ok = iter.Prev() {
		tx, err := s.GetTransaction(string(iter.Value()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // index entry outlived its record
			}
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, iter.Error()
}

// GetTransactionsByUser returns up to limit records whose sender matches the
// given address, newest first. Matching is case-insensitive.
func (s *Store) GetTransactionsByUser(user string, limit int) ([]*Transaction, error) {
	limit = normalizeLimit(limit)
	user = strings.ToLower(user)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(txSeqPrefix)), nil)
	defer iter.Release()

	txs := make([]*Transaction, 0, limit)
	for ok := iter.Last(); ok && len(txs) < limit; ok = iter.Prev() {
		tx, err := s.GetTransaction(string(iter.Value()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if strings.ToLower(tx.From) == user {
			txs = append(txs, tx)
		}
	}
	return txs, iter.Error()
}

// UpdateTransactionStatus applies a status transition. Terminal records are
// frozen; updating one fails with ErrTerminalStatus.
func (s *Store) UpdateTransactionStatus(id string, status Status, txHash, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.GetTransaction(id)
	if err != nil {
		return err
	}
	if tx.Status.Terminal() {
		return resilience.Wrap(resilience.KindStorageIO, ErrTerminalStatus,
			fmt.Sprintf("%s is %s", id, tx.Status))
	}

	tx.Status = status
	if txHash != "" {
		tx.TxHash = txHash
	}
	tx.Error = errMsg

	data, err := json.Marshal(tx)
	if err != nil {
		return resilience.Wrap(resilience.KindStorageIO, err, "encode transaction")
	}

	batch := new(leveldb.Batch)
	batch.Put(txKey(id), data)
	if txHash != "" {
		batch.Put(hashKey(txHash), []byte(id))
	}
	if err := s.db.Write(batch, nil); err != nil {
		dbErrorsCounter.Inc(1)
		return resilience.Wrap(resilience.KindStorageIO, err, "update transaction")
	}
	dbOpsCounter.Inc(1)
	if txHash != "" {
		s.hashCache.Add(strings.ToLower(txHash), id)
	}
	return nil
}

// TransactionsInStatus returns the ids of records currently in the given
// status, oldest first. Used by restart recovery.
func (s *Store) TransactionsInStatus(status Status) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(txSeqPrefix)), nil)
	defer iter.Release()

	var ids []string
	for iter.Next() {
		tx, err := s.GetTransaction(string(iter.Value()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if tx.Status == status {
			ids = append(ids, tx.ID)
		}
	}
	return ids, iter.Error()
}

// RegisterWallet stores a wallet registration keyed by lowercase address.
func (s *Store) RegisterWallet(w *Wallet) error {
	if w.RegisteredAt.IsZero() {
		w.RegisteredAt = time.Now().UTC()
	}
	data, err := json.Marshal(w)
	if err != nil {
		return resilience.Wrap(resilience.KindStorageIO, err, "encode wallet")
	}
	if err := s.db.Put(walletKey(w.Address), data, nil); err != nil {
		dbErrorsCounter.Inc(1)
		return resilience.Wrap(resilience.KindStorageIO, err, "write wallet")
	}
	dbOpsCounter.Inc(1)
	return nil
}

// GetRegisteredWallets lists every registered wallet.
func (s *Store) GetRegisteredWallets() ([]*Wallet, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(walletPrefix)), nil)
	defer iter.Release()

	var wallets []*Wallet
	for iter.Next() {
		w := new(Wallet)
		if err := json.Unmarshal(iter.Value(), w); err != nil {
			s.log.Warn("Skipping undecodable wallet record", "key", string(iter.Key()), "err", err)
			continue
		}
		wallets = append(wallets, w)
	}
	return wallets, iter.Error()
}

// UpdateMetrics adds delta to a persisted metric counter.
func (s *Store) UpdateMetrics(name string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readMetric(name)
	if err != nil {
		return err
	}
	value := strconv.FormatInt(current+delta, 10)
	if err := s.db.Put(metricKey(name), []byte(value), nil); err != nil {
		dbErrorsCounter.Inc(1)
		return resilience.Wrap(resilience.KindStorageIO, err, "write metric")
	}
	dbOpsCounter.Inc(1)
	return nil
}

// GetMetric reads a persisted metric counter; missing counters read as zero.
func (s *Store) GetMetric(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMetric(name)
}

// CheckHealth scans the store and reports counters plus a data integrity
// flag. Undecodable records clear the flag but do not fail the scan.
func (s *Store) CheckHealth() *Health {
	health := &Health{IsHealthy: true, DataIntegrity: true}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(txPrefix)), nil)
	for iter.Next() {
		health.TotalTransactions++
		tx := new(Transaction)
		if err := json.Unmarshal(iter.Value(), tx); err != nil {
			health.DataIntegrity = false
			continue
		}
		switch tx.Status {
		case StatusPending, StatusRetrying:
			health.Pending++
		case StatusProcessing:
			health.Processing++
		case StatusCompleted:
			health.Completed++
		case StatusFailed, StatusQueueFailed:
			health.Failed++
		}
	}
	err := iter.Error()
	iter.Release()
	if err != nil {
		health.IsHealthy = false
		health.Error = err.Error()
		return health
	}

	wallets, err := s.GetRegisteredWallets()
	if err != nil {
		health.IsHealthy = false
		health.Error = err.Error()
		return health
	}
	health.RegisteredWallets = len(wallets)
	health.IsHealthy = health.DataIntegrity
	return health
}

func (s *Store) readMetric(name string) (int64, error) {
	data, err := s.db.Get(metricKey(name), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		dbErrorsCounter.Inc(1)
		return 0, resilience.Wrap(resilience.KindStorageIO, err, "read metric")
	}
	value, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, resilience.Wrap(resilience.KindStorageCorruption, err, "metric "+name)
	}
	return value, nil
}

func decodeTransaction(data []byte) (*Transaction, error) {
	tx := new(Transaction)
	if err := json.Unmarshal(data, tx); err != nil {
		return nil, resilience.Wrap(resilience.KindStorageCorruption, err, "decode transaction")
	}
	return tx, nil
}

func normalizeLimit(limit int) int {
	const (
		defaultLimit = 100
		maxLimit     = 1000
	)
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func txKey(id string) []byte {
	return []byte(txPrefix + id)
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", txSeqPrefix, seq))
}

func hashKey(hash string) []byte {
	return []byte(txHashPrefix + strings.ToLower(hash))
}

func walletKey(address string) []byte {
	return []byte(walletPrefix + strings.ToLower(address))
}

func metricKey(name string) []byte {
	return []byte(metricPrefix + name)
}
