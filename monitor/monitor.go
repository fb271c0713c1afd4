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

// Package monitor samples system gauges, keeps the rolling response-time
// window, evaluates alert rules and aggregates component health.
package monitor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airchainpay/relay/blockchain"
	"github.com/airchainpay/relay/config"
	"github.com/airchainpay/relay/storage"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

const (
	// responseWindowSize is how many samples the rolling response-time
	// average covers. A new sample displaces the oldest.
	responseWindowSize = 1000

	// sampleInterval drives the gauge refresh and rule evaluation loop.
	sampleInterval = 15 * time.Second
)

// Gauges owned by the monitor. Counters live with the components that
// increment them; the monitor reads those through the shared registry.
var (
	uptimeGauge      = metrics.GetOrRegisterGaugeFloat64("relay/system/uptime", nil)
	memoryGauge      = metrics.GetOrRegisterGauge("relay/system/memory", nil)
	cpuGauge         = metrics.GetOrRegisterGaugeFloat64("relay/system/cpu", nil)
	connectionsGauge = metrics.GetOrRegisterGauge("relay/http/connections", nil)
	responseAvgGauge = metrics.GetOrRegisterGaugeFloat64("relay/http/responseavg", nil)
)

// Counters incremented elsewhere and read here for rule evaluation.
// GetOrRegister yields the same instance the owning package increments.
var (
	txReceivedCounter = metrics.GetOrRegisterCounter("relay/tx/received", nil)
	txFailedCounter   = metrics.GetOrRegisterCounter("relay/tx/failed", nil)
	rpcErrorCounter   = metrics.GetOrRegisterCounter("relay/blockchain/rpcerrors", nil)
	authFailCounter   = metrics.GetOrRegisterCounter("relay/auth/failures", nil)
	rateLimitCounter  = metrics.GetOrRegisterCounter("relay/security/ratelimithits", nil)
	dbErrorCounter    = metrics.GetOrRegisterCounter("relay/db/errors", nil)
)

// StoreHealth is the slice of the transaction store the monitor probes.
type StoreHealth interface {
	CheckHealth() *storage.Health
	GetMetric(name string) (int64, error)
}

// ChainHealth is the slice of the blockchain manager the monitor probes.
type ChainHealth interface {
	GetNetworkStatus(ctx context.Context) blockchain.NetworkStatus
}

// Monitor owns the observability state of the relay.
type Monitor struct {
	store StoreHealth
	chain ChainHealth
	cfg   *config.Manager
	log   log.Logger

	startTime time.Time

	mu        sync.RWMutex
	responses *responseRing
	alerts    []Alert
	ruleState map[string]bool

	activeConns atomic.Int64

	alertFeed event.Feed
	scope     event.SubscriptionScope

	quit    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
}

// New builds a monitor over the given collaborators. Start launches the
// sampling loop.
func New(store StoreHealth, chain ChainHealth, cfg *config.Manager) *Monitor {
	return &Monitor{
		store:     store,
		chain:     chain,
		cfg:       cfg,
		log:       log.New("component", "monitor"),
		startTime: time.Now(),
		responses: newResponseRing(responseWindowSize),
		ruleState: make(map[string]bool),
		quit:      make(chan struct{}),
	}
}

// Start launches the periodic gauge sampling and rule evaluation loop.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.sample()
	m.wg.Add(1)
	go m.loop()
	m.log.Info("Monitor started", "interval", sampleInterval)
}

// Stop halts the sampling loop and closes alert subscriptions.
func (m *Monitor) Stop() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}
	close(m.quit)
	m.wg.Wait()
	m.scope.Close()
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample refreshes the system gauges and evaluates the alert rules against
// the refreshed values.
func (m *Monitor) sample() {
	uptimeGauge.Update(time.Since(m.startTime).Seconds())

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	memoryGauge.Update(int64(ms.Alloc))

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuGauge.Update(percents[0])
	}

	responseAvgGauge.Update(m.ResponseAvgMs())
	connectionsGauge.Update(m.activeConns.Load())

	m.evaluateRules()
}

// Uptime reports how long the monitor has been alive.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// RecordResponse feeds one request duration into the rolling window.
func (m *Monitor) RecordResponse(d time.Duration) {
	m.mu.Lock()
	m.responses.add(float64(d.Milliseconds()))
	m.mu.Unlock()

	responseAvgGauge.Update(m.ResponseAvgMs())
	m.evaluateRules()
}

// ResponseAvgMs returns the rolling average over the response window.
func (m *Monitor) ResponseAvgMs() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.responses.avg()
}

// ConnectionOpened tracks one active HTTP connection.
func (m *Monitor) ConnectionOpened() {
	connectionsGauge.Update(m.activeConns.Add(1))
}

// ConnectionClosed releases one active HTTP connection.
func (m *Monitor) ConnectionClosed() {
	connectionsGauge.Update(m.activeConns.Add(-1))
}

// ActiveConnections reports the currently open HTTP connections.
func (m *Monitor) ActiveConnections() int64 {
	return m.activeConns.Load()
}

// Snapshot flattens every relay counter and gauge for the JSON surface.
func (m *Monitor) Snapshot() map[string]interface{} {
	counters := make(map[string]int64)
	gauges := make(map[string]float64)

	metrics.DefaultRegistry.Each(func(name string, metric interface{}) {
		switch v := metric.(type) {
		case *metrics.Counter:
			counters[name] = v.Snapshot().Count()
		case *metrics.Gauge:
			gauges[name] = float64(v.Snapshot().Value())
		case *metrics.GaugeFloat64:
			gauges[name] = v.Snapshot().Value()
		}
	})

	return map[string]interface{}{
		"counters":       counters,
		"gauges":         gauges,
		"uptime_seconds": m.Uptime().Seconds(),
		"timestamp":      time.Now().UTC(),
	}
}

// systemUsage reads the host-level usage numbers for the system component.
func systemUsage() (cpuPercent, memPercent float64, memUsed uint64) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
		memUsed = vm.Used
	}
	return cpuPercent, memPercent, memUsed
}

// responseRing is the fixed-size rolling window behind the response-time
// average.
type responseRing struct {
	buf  []float64
	next int
	full bool
}

func newResponseRing(size int) *responseRing {
	return &responseRing{buf: make([]float64, size)}
}

func (r *responseRing) add(v float64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *responseRing) count() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *responseRing) avg() float64 {
	n := r.count()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += r.buf[i]
	}
	return sum / float64(n)
}
