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

// Package api serves the relay's HTTP surface: transaction submission and
// lookup, chain and contract information, health, metrics, alerts and wallet
// registration.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/airchainpay/relay/blockchain"
	"github.com/airchainpay/relay/config"
	"github.com/airchainpay/relay/monitor"
	"github.com/airchainpay/relay/processor"
	"github.com/airchainpay/relay/resilience"
	"github.com/airchainpay/relay/storage"
	"github.com/airchainpay/relay/validator"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	metricsprom "github.com/ethereum/go-ethereum/metrics/prometheus"
	"github.com/gorilla/mux"
)

var (
	requestsCounter = metrics.GetOrRegisterCounter("relay/http/requests", nil)
	successCounter  = metrics.GetOrRegisterCounter("relay/http/success", nil)
	failureCounter  = metrics.GetOrRegisterCounter("relay/http/failures", nil)
	authFailures    = metrics.GetOrRegisterCounter("relay/auth/failures", nil)
	txReceived      = metrics.GetOrRegisterCounter("relay/tx/received", nil)
)

// Store is the persistence surface the HTTP layer uses.
type Store interface {
	SaveTransaction(tx *storage.Transaction) error
	GetTransaction(id string) (*storage.Transaction, error)
	GetTransactionByHash(txHash string) (*storage.Transaction, error)
	GetTransactions(limit int) ([]*storage.Transaction, error)
	GetTransactionsByUser(user string, limit int) ([]*storage.Transaction, error)
	UpdateTransactionStatus(id string, status storage.Status, txHash, errMsg string) error
	UpdateMetrics(name string, delta int64) error
	RegisterWallet(w *storage.Wallet) error
	GetRegisteredWallets() ([]*storage.Wallet, error)
}

// Chain is the blockchain surface the HTTP layer uses.
type Chain interface {
	SupportedChains() []config.ChainConfig
	ChainConfig(chainID uint64) (config.ChainConfig, bool)
	ExplorerTxURL(chainID uint64, txHash string) string
	SendRawTransaction(ctx context.Context, chainID uint64, signedTxHex string) (string, error)
	GetContractEvents(ctx context.Context, chainID uint64, filter blockchain.EventFilter) ([]blockchain.PaymentEvent, error)
	GetNetworkStatus(ctx context.Context) blockchain.NetworkStatus
	CheckContracts(ctx context.Context) []blockchain.ContractStatus
}

// Queue is the processor surface the HTTP layer uses.
type Queue interface {
	Enqueue(item *processor.QueuedTransaction) error
	Running() bool
	QueueDepth() int
}

// Monitor is the observability surface the HTTP layer uses.
type Monitor interface {
	DetailedHealth(ctx context.Context) monitor.DetailedHealth
	ComponentHealth(ctx context.Context, name string) (monitor.ComponentHealth, error)
	Alerts(includeResolved bool) []monitor.Alert
	ResolveAlert(id string) error
	RecordResponse(d time.Duration)
	ConnectionOpened()
	ConnectionClosed()
	Uptime() time.Duration
}

// Server wires the relay components behind the HTTP routes.
type Server struct {
	cfg     *config.Manager
	store   Store
	chain   Chain
	queue   Queue
	monitor Monitor
	checker *validator.Validator
	handler *resilience.Handler
	log     log.Logger

	netHealth atomic.Pointer[netHealthCache] // last all-chain probe, see networkHealth

	listener net.Listener
	srv      *http.Server
}

// New assembles the HTTP layer. The validator is constructed here so it
// tracks the same configuration manager as everything else.
func New(cfg *config.Manager, store Store, chain Chain, queue Queue, mon Monitor, handler *resilience.Handler) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		chain:   chain,
		queue:   queue,
		monitor: mon,
		checker: validator.New(cfg),
		handler: handler,
		log:     log.New("component", "api"),
	}
}

// Start binds the configured port and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Current().Port))
	if err != nil {
		return resilience.Wrap(resilience.KindConfig, err, "bind http endpoint")
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go s.srv.Serve(ln)
	s.log.Info("HTTP endpoint opened", "url", fmt.Sprintf("http://%v/", ln.Addr()))
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(context.Background())
	s.log.Info("HTTP endpoint closed")
	return err
}

// Router builds the full route table wrapped in the middleware stack.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/detailed", s.handleHealthDetailed).Methods(http.MethodGet)
	r.HandleFunc("/health/component/{name}", s.handleHealthComponent).Methods(http.MethodGet)
	r.HandleFunc("/health/contracts", s.handleHealthContracts).Methods(http.MethodGet)
	r.HandleFunc("/health/contracts/detailed", s.handleHealthContractsDetailed).Methods(http.MethodGet)

	r.HandleFunc("/send_tx", s.handleSendTx).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/submit-transaction", s.handleSendTx).Methods(http.MethodPost)
	r.HandleFunc("/simple_send_tx", s.handleSimpleSendTx).Methods(http.MethodPost)

	// The hash route must precede the id route so "hash" is not read as an id.
	r.HandleFunc("/transaction/hash/{tx_hash}", s.handleTransactionByHash).Methods(http.MethodGet)
	r.HandleFunc("/transaction/{id}", s.handleTransaction).Methods(http.MethodGet)
	r.HandleFunc("/transaction/{id}/status", s.handleTransaction).Methods(http.MethodGet)
	r.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodGet)
	r.HandleFunc("/transactions/user/{user_id}", s.handleTransactionsByUser).Methods(http.MethodGet)

	r.HandleFunc("/contract/payments", s.handleContractPayments).Methods(http.MethodGet)
	r.HandleFunc("/chains/supported", s.handleSupportedChains).Methods(http.MethodGet)
	r.HandleFunc("/chains/{chain_id}/info", s.handleChainInfo).Methods(http.MethodGet)

	r.Handle("/metrics", metricsprom.Handler(metrics.DefaultRegistry)).Methods(http.MethodGet)

	r.HandleFunc("/auth/token", s.handleAuthToken).Methods(http.MethodPost)
	r.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.Handle("/alerts/{id}/resolve", s.requireAuth(http.HandlerFunc(s.handleResolveAlert))).Methods(http.MethodPost)
	r.HandleFunc("/wallets", s.handleWallets).Methods(http.MethodGet)
	r.Handle("/wallets/register", s.requireAuth(http.HandlerFunc(s.handleRegisterWallet))).Methods(http.MethodPost)

	return s.stack(r)
}
