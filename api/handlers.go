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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/airchainpay/relay/blockchain"
	"github.com/airchainpay/relay/config"
	"github.com/airchainpay/relay/params"
	"github.com/airchainpay/relay/processor"
	"github.com/airchainpay/relay/resilience"
	"github.com/airchainpay/relay/storage"
	"github.com/airchainpay/relay/validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Queue parameters applied to every asynchronous submission.
const (
	submitPriority   = processor.PriorityNormal
	submitMaxRetries = 3
	submitRetryDelay = 2 * time.Second
)

// submitRequest is the body of POST /send_tx and /simple_send_tx. The legacy
// rpc_url field is still accepted from older wallet builds and ignored; the
// chain table decides which endpoint serves a chain id.
type submitRequest struct {
	SignedTx string `json:"signed_tx"`
	ChainID  uint64 `json:"chain_id"`
	RPCURL   string `json:"rpc_url,omitempty"`
}

// queuedResponse confirms an accepted asynchronous submission.
type queuedResponse struct {
	Status        string    `json:"status"`
	TransactionID string    `json:"transaction_id"`
	ChainID       uint64    `json:"chain_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// submitFailure is the rejection shape of the asynchronous submission
// endpoints. Beyond the shared error fields it carries the persisted record
// status and id, so a client can follow up on a submission that was stored
// but refused by the queue.
type submitFailure struct {
	Error         string    `json:"error"`
	Message       string    `json:"message"`
	Status        string    `json:"status,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
}

// simpleResult is the response shape of POST /simple_send_tx, success and
// failure alike.
type simpleResult struct {
	Success          bool   `json:"success"`
	TransactionID    string `json:"transaction_id,omitempty"`
	TransactionHash  string `json:"transaction_hash,omitempty"`
	ChainID          uint64 `json:"chain_id,omitempty"`
	ChainName        string `json:"chain_name,omitempty"`
	BlockExplorerURL string `json:"block_explorer_url,omitempty"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
}

// transactionResponse is one record on the lookup surface.
type transactionResponse struct {
	Success          bool           `json:"success"`
	TransactionID    string         `json:"transaction_id"`
	Status           storage.Status `json:"status"`
	TransactionHash  string         `json:"transaction_hash,omitempty"`
	ChainID          uint64         `json:"chain_id"`
	ChainName        string         `json:"chain_name"`
	Timestamp        time.Time      `json:"timestamp"`
	Message          string         `json:"message"`
	Error            string         `json:"error,omitempty"`
	BlockExplorerURL string         `json:"block_explorer_url,omitempty"`
}

func (s *Server) writeSubmitFailure(w http.ResponseWriter, r *http.Request, httpStatus int, code, message, recordStatus, txID string) {
	id := requestID(r.Context())
	s.log.Warn("Submission rejected", "status", httpStatus, "code", code, "reqid", id, "err", message)
	writeJSON(w, httpStatus, submitFailure{
		Error:         code,
		Message:       s.publicMessage(message),
		Status:        recordStatus,
		TransactionID: txID,
		Timestamp:     time.Now().UTC(),
		RequestID:     id,
	})
}

// countReceived advances the persisted submission counter after a record is
// stored. Reporting only: failures are logged, never surfaced to the client.
func (s *Server) countReceived() {
	if err := s.store.UpdateMetrics(storage.MetricReceived, 1); err != nil {
		s.log.Warn("Persisted counter update failed", "metric", storage.MetricReceived, "err", err)
	}
}

// handleSendTx validates, persists and enqueues one raw signed transaction.
// Serves POST /send_tx and its /api/v1/submit-transaction alias.
func (s *Server) handleSendTx(w http.ResponseWriter, r *http.Request) {
	txReceived.Inc(1)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeSubmitFailure(w, r, http.StatusBadRequest, "invalid_request",
			"undecodable request body: "+err.Error(), "", "")
		return
	}
	cfg := s.cfg.Current()
	chainID := req.ChainID
	if chainID == 0 {
		chainID = cfg.DefaultChainID
	}

	if err := validator.QuickCheck(req.SignedTx); err != nil {
		s.handler.RecordError("transaction_validator", "quick_check", resilience.PathValidation, err)
		s.writeSubmitFailure(w, r, http.StatusBadRequest, "validation_error",
			"Invalid raw transaction: "+resilience.AsError(err).Message, "", "")
		return
	}
	if _, ok := cfg.Chains[chainID]; !ok {
		s.handler.RecordError("transaction_validator", "chain_support", resilience.PathValidation,
			resilience.Errorf(resilience.KindValidation, "chain %d is not supported", chainID))
		s.writeSubmitFailure(w, r, http.StatusBadRequest, "INVALID_CHAIN",
			fmt.Sprintf("chain %d is not supported", chainID), "", "")
		return
	}

	// Submissions are pointless while no chain endpoint answers; a single
	// unhealthy chain does not gate the others.
	if status := s.networkHealth(r.Context()); status.OverallStatus == "unhealthy" {
		w.Header().Set("Retry-After", "30")
		s.writeSubmitFailure(w, r, http.StatusServiceUnavailable, "network_unavailable",
			"no blockchain endpoint reachable, retry later", "", "")
		return
	}

	res := s.checker.Validate(req.SignedTx, chainID)
	if res.RateLimited() {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
		s.writeSubmitFailure(w, r, http.StatusTooManyRequests, "rate_limit_exceeded",
			res.ErrorMessage(), "", "")
		return
	}
	if !res.Valid {
		s.handler.RecordError("transaction_validator", "validate", resilience.PathValidation,
			resilience.New(resilience.KindValidation, res.ErrorMessage()))
		s.writeSubmitFailure(w, r, http.StatusBadRequest, "validation_error",
			"Invalid raw transaction: "+res.ErrorMessage(), "", "")
		return
	}

	tx := &storage.Transaction{
		ID:        uuid.NewString(),
		SignedTx:  req.SignedTx,
		ChainID:   chainID,
		Status:    storage.StatusPending,
		From:      res.From,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.SaveTransaction(tx); err != nil {
		s.handler.RecordError("api", "save_transaction", resilience.PathDatabaseOperation, err)
		s.respondError(w, r, err)
		return
	}
	s.countReceived()

	item := &processor.QueuedTransaction{
		ID:         tx.ID,
		ChainID:    chainID,
		SignedTx:   req.SignedTx,
		Priority:   submitPriority,
		MaxRetries: submitMaxRetries,
		RetryDelay: submitRetryDelay,
		QueuedAt:   time.Now(),
	}
	if err := s.queue.Enqueue(item); err != nil {
		if uerr := s.store.UpdateTransactionStatus(tx.ID, storage.StatusQueueFailed, "", err.Error()); uerr != nil {
			s.log.Error("Failed to record queue rejection", "id", tx.ID, "err", uerr)
		}
		s.handler.RecordError("transaction_processor", "enqueue", resilience.PathTransactionProcessing,
			resilience.Wrap(resilience.KindAPI, err, "submission rejected").WithSeverity(resilience.SeverityHigh))

		code := "queue_full"
		if errors.Is(err, processor.ErrDegraded) {
			code = "service_degraded"
		}
		w.Header().Set("Retry-After", "10")
		s.writeSubmitFailure(w, r, http.StatusServiceUnavailable, code, err.Error(),
			string(storage.StatusQueueFailed), tx.ID)
		return
	}

	writeJSON(w, http.StatusOK, queuedResponse{
		Status:        "queued",
		TransactionID: tx.ID,
		ChainID:       chainID,
		Timestamp:     time.Now().UTC(),
	})
}

func (s *Server) writeSimpleFailure(w http.ResponseWriter, r *http.Request, httpStatus int, txID, message string) {
	id := requestID(r.Context())
	s.log.Warn("Synchronous submission failed", "status", httpStatus, "reqid", id, "err", message)
	writeJSON(w, httpStatus, simpleResult{
		Success:       false,
		TransactionID: txID,
		Status:        "failed",
		Error:         s.publicMessage(message),
	})
}

// handleSimpleSendTx broadcasts synchronously, bypassing the queue. The record
// is still persisted and driven to a terminal status before responding.
func (s *Server) handleSimpleSendTx(w http.ResponseWriter, r *http.Request) {
	txReceived.Inc(1)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeSimpleFailure(w, r, http.StatusBadRequest, "", "undecodable request body: "+err.Error())
		return
	}
	cfg := s.cfg.Current()
	chainID := req.ChainID
	if chainID == 0 {
		chainID = cfg.DefaultChainID
	}

	if err := validator.QuickCheck(req.SignedTx); err != nil {
		s.writeSimpleFailure(w, r, http.StatusBadRequest, "",
			"Invalid raw transaction: "+resilience.AsError(err).Message)
		return
	}
	if _, ok := cfg.Chains[chainID]; !ok {
		s.writeSimpleFailure(w, r, http.StatusBadRequest, "",
			fmt.Sprintf("chain %d is not supported", chainID))
		return
	}

	res := s.checker.Validate(req.SignedTx, chainID)
	if res.RateLimited() {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
		s.writeSimpleFailure(w, r, http.StatusTooManyRequests, "", res.ErrorMessage())
		return
	}
	if !res.Valid {
		s.handler.RecordError("transaction_validator", "validate", resilience.PathValidation,
			resilience.New(resilience.KindValidation, res.ErrorMessage()))
		s.writeSimpleFailure(w, r, http.StatusBadRequest, "",
			"Invalid raw transaction: "+res.ErrorMessage())
		return
	}

	tx := &storage.Transaction{
		ID:        uuid.NewString(),
		SignedTx:  req.SignedTx,
		ChainID:   chainID,
		Status:    storage.StatusPending,
		From:      res.From,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.SaveTransaction(tx); err != nil {
		s.handler.RecordError("api", "save_transaction", resilience.PathDatabaseOperation, err)
		s.respondError(w, r, err)
		return
	}
	s.countReceived()

	var hash string
	err := s.handler.ExecuteOnce(r.Context(), resilience.PathBlockchainTransaction,
		"api", "simple_send", func(ctx context.Context) error {
			var sendErr error
			hash, sendErr = s.chain.SendRawTransaction(ctx, chainID, req.SignedTx)
			return sendErr
		})
	if err != nil {
		if uerr := s.store.UpdateTransactionStatus(tx.ID, storage.StatusFailed, "", err.Error()); uerr != nil {
			s.log.Error("Failed to record broadcast failure", "id", tx.ID, "err", uerr)
		}
		s.writeSimpleFailure(w, r, http.StatusInternalServerError, tx.ID, resilience.AsError(err).Error())
		return
	}

	if uerr := s.store.UpdateTransactionStatus(tx.ID, storage.StatusCompleted, hash, ""); uerr != nil {
		s.log.Error("Failed to record broadcast success", "id", tx.ID, "hash", hash, "err", uerr)
	}
	writeJSON(w, http.StatusOK, simpleResult{
		Success:          true,
		TransactionID:    tx.ID,
		TransactionHash:  hash,
		ChainID:          chainID,
		ChainName:        s.chainName(chainID),
		BlockExplorerURL: s.chain.ExplorerTxURL(chainID, hash),
		Status:           "completed",
	})
}

// chainName resolves the display name of a chain, falling back to the
// built-in table for ids that are not currently served.
func (s *Server) chainName(chainID uint64) string {
	if chain, ok := s.chain.ChainConfig(chainID); ok && chain.Name != "" {
		return chain.Name
	}
	return params.ChainName(chainID)
}

func statusMessage(status storage.Status) string {
	switch status {
	case storage.StatusPending:
		return "Transaction is waiting for a worker"
	case storage.StatusProcessing:
		return "Transaction is being broadcast"
	case storage.StatusRetrying:
		return "Transaction broadcast is being retried"
	case storage.StatusCompleted:
		return "Transaction confirmed on chain"
	case storage.StatusQueueFailed:
		return "Transaction was rejected by the queue"
	case storage.StatusFailed:
		return "Transaction failed"
	default:
		return string(status)
	}
}

func (s *Server) txResponse(tx *storage.Transaction) transactionResponse {
	resp := transactionResponse{
		Success:         true,
		TransactionID:   tx.ID,
		Status:          tx.Status,
		TransactionHash: tx.TxHash,
		ChainID:         tx.ChainID,
		ChainName:       s.chainName(tx.ChainID),
		Timestamp:       tx.Timestamp,
		Message:         statusMessage(tx.Status),
		Error:           tx.Error,
	}
	if tx.TxHash != "" {
		resp.BlockExplorerURL = s.chain.ExplorerTxURL(tx.ChainID, tx.TxHash)
	}
	return resp
}

// handleTransaction serves GET /transaction/{id} and /transaction/{id}/status.
func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tx, err := s.store.GetTransaction(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.txResponse(tx))
}

// handleTransactionByHash serves GET /transaction/hash/{tx_hash}.
func (s *Server) handleTransactionByHash(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["tx_hash"]
	if !validator.ValidTxHash(hash) {
		s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
			fmt.Sprintf("%q is not a transaction hash", hash))
		return
	}
	tx, err := s.store.GetTransactionByHash(hash)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.txResponse(tx))
}

// handleTransactions serves GET /transactions?limit=N, newest first.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.store.GetTransactions(queryInt(r, "limit", 0))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*storage.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// userTransactionsResponse is the GET /transactions/user/{user_id} shape.
type userTransactionsResponse struct {
	Success      bool                   `json:"success"`
	UserID       string                 `json:"user_id"`
	Transactions []*storage.Transaction `json:"transactions"`
	TotalCount   int                    `json:"total_count"`
	Limit        int                    `json:"limit"`
}

// handleTransactionsByUser lists the records whose recovered sender matches
// the given address.
func (s *Server) handleTransactionsByUser(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user_id"]
	if err := validator.CheckSafeString("user_id", user); err != nil {
		s.respondError(w, r, err)
		return
	}

	limit := queryInt(r, "limit", 100)
	txs, err := s.store.GetTransactionsByUser(user, limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*storage.Transaction{}
	}
	writeJSON(w, http.StatusOK, userTransactionsResponse{
		Success:      true,
		UserID:       user,
		Transactions: txs,
		TotalCount:   len(txs),
		Limit:        limit,
	})
}

// paymentsResponse is the GET /contract/payments shape.
type paymentsResponse struct {
	Payments []blockchain.PaymentEvent `json:"payments"`
	Count    int                       `json:"count"`
}

// handleContractPayments queries decoded Payment events with optional block
// and address filters, windowed by limit and offset.
func (s *Server) handleContractPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	chainID := s.cfg.Current().DefaultChainID
	if v := q.Get("chain_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
				fmt.Sprintf("invalid chain_id %q", v))
			return
		}
		chainID = id
	}

	var filter blockchain.EventFilter
	if v := q.Get("from_block"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
				fmt.Sprintf("invalid from_block %q", v))
			return
		}
		filter.FromBlock = new(big.Int).SetUint64(n)
	}
	if v := q.Get("to_block"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
				fmt.Sprintf("invalid to_block %q", v))
			return
		}
		filter.ToBlock = new(big.Int).SetUint64(n)
	}
	if v := q.Get("from_address"); v != "" {
		if !config.ValidAddress(v) {
			s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
				fmt.Sprintf("invalid from_address %q", v))
			return
		}
		addr := common.HexToAddress(v)
		filter.From = &addr
	}
	if v := q.Get("to_address"); v != "" {
		if !config.ValidAddress(v) {
			s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
				fmt.Sprintf("invalid to_address %q", v))
			return
		}
		addr := common.HexToAddress(v)
		filter.To = &addr
	}

	events, err := s.chain.GetContractEvents(r.Context(), chainID, filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)
	if offset >= len(events) {
		events = nil
	} else {
		events = events[offset:]
	}
	if len(events) > limit {
		events = events[:limit]
	}
	if events == nil {
		events = []blockchain.PaymentEvent{}
	}
	writeJSON(w, http.StatusOK, paymentsResponse{Payments: events, Count: len(events)})
}

// chainInfoResponse is one chain descriptor plus the support flag.
type chainInfoResponse struct {
	config.ChainConfig
	IsSupported bool `json:"is_supported"`
}

// handleSupportedChains lists the served chains in ascending id order.
func (s *Server) handleSupportedChains(w http.ResponseWriter, r *http.Request) {
	chains := s.chain.SupportedChains()
	if chains == nil {
		chains = []config.ChainConfig{}
	}
	writeJSON(w, http.StatusOK, chains)
}

// handleChainInfo describes one chain. Unknown chains still get a descriptor
// built from the static tables, flagged unsupported.
func (s *Server) handleChainInfo(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["chain_id"]
	chainID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, string(resilience.KindValidation),
			fmt.Sprintf("invalid chain id %q", raw))
		return
	}

	if chain, ok := s.chain.ChainConfig(chainID); ok {
		writeJSON(w, http.StatusOK, chainInfoResponse{ChainConfig: chain, IsSupported: true})
		return
	}
	writeJSON(w, http.StatusOK, chainInfoResponse{
		ChainConfig: config.ChainConfig{
			ChainID:     chainID,
			Name:        params.ChainName(chainID),
			ExplorerURL: params.ExplorerBase(chainID),
		},
		IsSupported: false,
	})
}

// queryInt reads a non-negative integer query parameter, falling back to def
// on absence or garbage.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
