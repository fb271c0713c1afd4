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

package blockchain

import (
	"context"
	"math/big"

	"github.com/airchainpay/relay/resilience"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// defaultEventWindow is how many blocks back an unbounded event query
// looks. Providers reject unbounded ranges, so the window is always capped.
const defaultEventWindow = 5000

// PaymentEvent is one decoded Payment log from the payment contract.
type PaymentEvent struct {
	From             string `json:"from"`
	To               string `json:"to"`
	Amount           string `json:"amount"`
	PaymentReference string `json:"payment_reference"`
	IsRelayed        bool   `json:"is_relayed"`
	BlockNumber      uint64 `json:"block_number"`
	TxHash           string `json:"tx_hash"`
	LogIndex         uint   `json:"log_index"`
}

// EventFilter narrows a Payment event query. Nil block bounds default to
// the trailing window ending at the latest block; nil addresses match all.
type EventFilter struct {
	FromBlock *big.Int
	ToBlock   *big.Int
	From      *common.Address
	To        *common.Address
}

// GetContractEvents queries Payment logs for one chain. Logs that do not
// carry the expected topics or data layout are skipped, never fatal.
func (m *Manager) GetContractEvents(ctx context.Context, chainID uint64, filter EventFilter) ([]PaymentEvent, error) {
	cc, ok := m.clients[chainID]
	if !ok {
		return nil, errProviderNotFound(chainID)
	}
	if !cc.hasContract {
		return nil, errNoContract(chainID)
	}
	if !m.eventLimiter.Allow() {
		return nil, resilience.New(resilience.KindRateLimit, "event query rate exceeded").WithRetryable(true)
	}

	fromBlock, toBlock := filter.FromBlock, filter.ToBlock
	if fromBlock == nil {
		latest, err := cc.client.BlockNumber(ctx)
		if err != nil {
			rpcErrorCounter.Inc(1)
			return nil, classifyRPCError(err)
		}
		start := uint64(0)
		if latest > defaultEventWindow {
			start = latest - defaultEventWindow
		}
		fromBlock = new(big.Int).SetUint64(start)
		if toBlock == nil {
			toBlock = new(big.Int).SetUint64(latest)
		}
	}

	query := ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Addresses: []common.Address{cc.contract},
		Topics:    [][]common.Hash{{paymentTopic}, addressTopic(filter.From), addressTopic(filter.To)},
	}
	logs, err := cc.client.FilterLogs(ctx, query)
	if err != nil {
		rpcErrorCounter.Inc(1)
		return nil, classifyRPCError(err)
	}

	events := make([]PaymentEvent, 0, len(logs))
	for _, lg := range logs {
		event, ok := decodePaymentLog(lg)
		if !ok {
			cc.log.Warn("Skipping malformed Payment log", "block", lg.BlockNumber, "index", lg.Index)
			continue
		}
		events = append(events, event)
	}
	contractEventCounter.Inc(int64(len(events)))
	return events, nil
}

// addressTopic turns an optional indexed address into its topic filter
// position. An empty slot matches any value.
func addressTopic(addr *common.Address) []common.Hash {
	if addr == nil {
		return nil
	}
	return []common.Hash{common.BytesToHash(addr.Bytes())}
}

// decodePaymentLog extracts a PaymentEvent from a raw log. It reports false
// for logs missing indexed topics or with undecodable data.
func decodePaymentLog(lg types.Log) (PaymentEvent, bool) {
	if len(lg.Topics) < 3 {
		return PaymentEvent{}, false
	}

	unpacked, err := airchainpayABI.Events["Payment"].Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil || len(unpacked) != 3 {
		return PaymentEvent{}, false
	}
	amount, ok := unpacked[0].(*big.Int)
	if !ok {
		return PaymentEvent{}, false
	}
	reference, ok := unpacked[1].(string)
	if !ok {
		return PaymentEvent{}, false
	}
	isRelayed, ok := unpacked[2].(bool)
	if !ok {
		return PaymentEvent{}, false
	}

	return PaymentEvent{
		From:             common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		To:               common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Amount:           amount.String(),
		PaymentReference: reference,
		IsRelayed:        isRelayed,
		BlockNumber:      lg.BlockNumber,
		TxHash:           lg.TxHash.Hex(),
		LogIndex:         lg.Index,
	}, true
}
