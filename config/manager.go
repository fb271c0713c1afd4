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

package config

import (
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// Manager hands out the current configuration snapshot. Readers call Current
// on every use and must not cache the result across requests; Reload swaps
// the snapshot atomically so readers are never blocked.
type Manager struct {
	current atomic.Pointer[Config]
}

// NewManager validates the initial snapshot and wraps it.
func NewManager(cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("initial config: %w", err)
	}
	m := new(Manager)
	m.current.Store(cfg)
	return m, nil
}

// Current returns the live snapshot.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Reload validates the replacement snapshot and installs it. The previous
// snapshot stays live when validation fails.
func (m *Manager) Reload(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("reload rejected: %w", err)
	}
	old := m.current.Swap(cfg)
	log.Info("Configuration reloaded", "chains", len(cfg.Chains), "previous", len(old.Chains))
	return nil
}
