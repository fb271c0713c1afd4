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

// Package blockchain owns one RPC provider per configured chain and the
// contract call surface used for payments, meta-transactions and event
// retrieval.
package blockchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/airchainpay/relay/config"
	"github.com/airchainpay/relay/params"
	"github.com/airchainpay/relay/resilience"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/time/rate"
)

const (
	// receiptPollInterval is how often a broadcast waits between receipt
	// lookups.
	receiptPollInterval = time.Second

	// eventQueriesPerSecond bounds contract log scraping per process so a
	// single client cannot saturate the RPC provider.
	eventQueriesPerSecond = 5
	eventQueryBurst       = 10
)

var (
	broadcastCounter     = metrics.GetOrRegisterCounter("relay/tx/broadcast", nil)
	confirmationCounter  = metrics.GetOrRegisterCounter("relay/blockchain/confirmations", nil)
	timeoutCounter       = metrics.GetOrRegisterCounter("relay/blockchain/timeouts", nil)
	rpcErrorCounter      = metrics.GetOrRegisterCounter("relay/blockchain/rpcerrors", nil)
	gasPriceCounter      = metrics.GetOrRegisterCounter("relay/blockchain/gaspriceupdates", nil)
	contractEventCounter = metrics.GetOrRegisterCounter("relay/blockchain/events", nil)
)

// chainClient pairs one chain's provider with its contract binding.
type chainClient struct {
	cfg         config.ChainConfig
	client      *ethclient.Client
	contract    common.Address
	hasContract bool
	log         log.Logger
}

// Manager owns the per-chain providers. Construction dials every configured
// chain; the provider set is immutable afterwards and safe to share.
type Manager struct {
	clients map[uint64]*chainClient

	relayerKey  *ecdsa.PrivateKey
	relayerAddr common.Address

	eventLimiter *rate.Limiter
	log          log.Logger
}

// NewManager dials every configured chain and parses the optional relayer
// key. An unreachable endpoint is not an error here: HTTP dialing is lazy
// and health probes surface dead endpoints instead.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		clients:      make(map[uint64]*chainClient),
		eventLimiter: rate.NewLimiter(rate.Limit(eventQueriesPerSecond), eventQueryBurst),
		log:          log.New("component", "blockchain"),
	}

	for _, id := range cfg.ChainIDs() {
		chain := cfg.Chains[id]
		client, err := ethclient.Dial(chain.RPCURL)
		if err != nil {
			return nil, resilience.Wrap(resilience.KindConfig, err,
				fmt.Sprintf("dial chain %d at %s", id, chain.RPCURL))
		}
		cc := &chainClient{
			cfg:    chain,
			client: client,
			log:    m.log.New("chain", id),
		}
		if chain.ContractAddress != "" {
			cc.contract = common.HexToAddress(chain.ContractAddress)
			cc.hasContract = true
		}
		m.clients[id] = cc
		cc.log.Info("Chain provider ready", "name", chain.Name, "contract", chain.ContractAddress != "")
	}

	if cfg.RelayerKey != "" {
		key, err := crypto.HexToECDSA(cfg.RelayerKey)
		if err != nil {
			return nil, resilience.Wrap(resilience.KindConfig, err, "parse relayer key")
		}
		m.relayerKey = key
		m.relayerAddr = crypto.PubkeyToAddress(key.PublicKey)
		m.log.Info("Relayer account loaded", "address", m.relayerAddr)
	}
	return m, nil
}

// Close releases every provider connection.
func (m *Manager) Close() {
	for _, cc := range m.clients {
		cc.client.Close()
	}
}

// HasChain reports whether the chain has a configured provider.
func (m *Manager) HasChain(chainID uint64) bool {
	_, ok := m.clients[chainID]
	return ok
}

// ChainConfig returns the configuration of one served chain.
func (m *Manager) ChainConfig(chainID uint64) (config.ChainConfig, bool) {
	cc, ok := m.clients[chainID]
	if !ok {
		return config.ChainConfig{}, false
	}
	return cc.cfg, true
}

// SupportedChains lists served chains in ascending chain id order.
func (m *Manager) SupportedChains() []config.ChainConfig {
	chains := make([]config.ChainConfig, 0, len(m.clients))
	for _, cc := range m.clients {
		chains = append(chains, cc.cfg)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ChainID < chains[j].ChainID })
	return chains
}

// ExplorerTxURL derives the explorer link for a broadcast hash, preferring
// the chain's configured explorer over the built-in table.
func (m *Manager) ExplorerTxURL(chainID uint64, txHash string) string {
	if cc, ok := m.clients[chainID]; ok && cc.cfg.ExplorerURL != "" {
		return fmt.Sprintf("%s/tx/%s", cc.cfg.ExplorerURL, txHash)
	}
	return params.ExplorerTxURL(chainID, txHash)
}

// SendRawTransaction decodes a signed raw transaction, broadcasts it and
// waits for its receipt. It returns the transaction hash on success.
func (m *Manager) SendRawTransaction(ctx context.Context, chainID uint64, signedTxHex string) (string, error) {
	cc, ok := m.clients[chainID]
	if !ok {
		return "", errProviderNotFound(chainID)
	}

	raw, err := hexutil.Decode(signedTxHex)
	if err != nil {
		return "", resilience.Wrap(resilience.KindValidation, err, "invalid raw transaction")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", resilience.Wrap(resilience.KindValidation, err, "undecodable raw transaction")
	}

	if err := cc.client.SendTransaction(ctx, tx); err != nil {
		rpcErrorCounter.Inc(1)
		return "", classifyRPCError(err)
	}
	broadcastCounter.Inc(1)
	cc.log.Info("Transaction broadcast", "hash", tx.Hash(), "nonce", tx.Nonce())

	receipt, err := m.waitForReceipt(ctx, cc, tx.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", resilience.Errorf(resilience.KindContract, "transaction %s reverted", tx.Hash())
	}
	confirmationCounter.Inc(1)
	return tx.Hash().Hex(), nil
}

// waitForReceipt polls until the transaction is mined or the context ends.
func (m *Manager) waitForReceipt(ctx context.Context, cc *chainClient, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := cc.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			rpcErrorCounter.Inc(1)
			return nil, classifyRPCError(err)
		}

		select {
		case <-ctx.Done():
			timeoutCounter.Inc(1)
			return nil, resilience.Wrap(resilience.KindTimeout, ctx.Err(),
				fmt.Sprintf("receipt wait for %s", hash))
		case <-ticker.C:
		}
	}
}

// ExecuteMetaTransaction relays a user-signed native payment through the
// contract. Requires the relayer key.
func (m *Manager) ExecuteMetaTransaction(ctx context.Context, chainID uint64, from, to common.Address, amount *big.Int, paymentRef string, deadline *big.Int, signature []byte) (string, error) {
	data, err := airchainpayABI.Pack("executeMetaTransaction", from, to, amount, paymentRef, deadline, signature)
	if err != nil {
		return "", resilience.Wrap(resilience.KindContract, err, "pack executeMetaTransaction")
	}
	return m.sendContractTx(ctx, chainID, data, nil)
}

// ExecuteTokenMetaTransaction relays a user-signed token payment through the
// contract. Requires the relayer key.
func (m *Manager) ExecuteTokenMetaTransaction(ctx context.Context, chainID uint64, from, token, to common.Address, amount *big.Int, paymentRef string, deadline *big.Int, signature []byte) (string, error) {
	data, err := airchainpayTokenABI.Pack("executeTokenMetaTransaction", from, token, to, amount, paymentRef, deadline, signature)
	if err != nil {
		return "", resilience.Wrap(resilience.KindContract, err, "pack executeTokenMetaTransaction")
	}
	return m.sendContractTx(ctx, chainID, data, nil)
}

// ProcessNativePayment pays a recipient directly from the relayer account.
func (m *Manager) ProcessNativePayment(ctx context.Context, chainID uint64, recipient common.Address, paymentRef string, value *big.Int) (string, error) {
	data, err := airchainpayABI.Pack("pay", recipient, paymentRef)
	if err != nil {
		return "", resilience.Wrap(resilience.KindContract, err, "pack pay")
	}
	return m.sendContractTx(ctx, chainID, data, value)
}

// ProcessTokenPayment transfers supported tokens to a recipient via the
// token contract.
func (m *Manager) ProcessTokenPayment(ctx context.Context, chainID uint64, token common.Address, amount *big.Int, recipient common.Address, paymentRef string) (string, error) {
	data, err := airchainpayTokenABI.Pack("payWithToken", token, amount, recipient, paymentRef)
	if err != nil {
		return "", resilience.Wrap(resilience.KindContract, err, "pack payWithToken")
	}
	return m.sendContractTx(ctx, chainID, data, nil)
}

// sendContractTx signs and broadcasts a contract call from the relayer
// account and waits for the receipt.
func (m *Manager) sendContractTx(ctx context.Context, chainID uint64, data []byte, value *big.Int) (string, error) {
	cc, ok := m.clients[chainID]
	if !ok {
		return "", errProviderNotFound(chainID)
	}
	if !cc.hasContract {
		return "", errNoContract(chainID)
	}
	if m.relayerKey == nil {
		return "", resilience.New(resilience.KindConfig, "relayer key not configured")
	}
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := cc.client.PendingNonceAt(ctx, m.relayerAddr)
	if err != nil {
		rpcErrorCounter.Inc(1)
		return "", classifyRPCError(err)
	}
	gasPrice, err := cc.client.SuggestGasPrice(ctx)
	if err != nil {
		rpcErrorCounter.Inc(1)
		return "", classifyRPCError(err)
	}
	gasPriceCounter.Inc(1)

	gas, err := cc.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  m.relayerAddr,
		To:    &cc.contract,
		Value: value,
		Data:  data,
	})
	if err != nil {
		rpcErrorCounter.Inc(1)
		return "", classifyRPCError(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &cc.contract,
		Value:    value,
		Data:     data,
	})
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	signed, err := types.SignTx(tx, signer, m.relayerKey)
	if err != nil {
		return "", resilience.Wrap(resilience.KindContract, err, "sign contract call")
	}

	if err := cc.client.SendTransaction(ctx, signed); err != nil {
		rpcErrorCounter.Inc(1)
		return "", classifyRPCError(err)
	}
	broadcastCounter.Inc(1)
	cc.log.Info("Contract call broadcast", "hash", signed.Hash(), "gas", gas)

	receipt, err := m.waitForReceipt(ctx, cc, signed.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", resilience.Errorf(resilience.KindContract, "contract call %s reverted", signed.Hash())
	}
	confirmationCounter.Inc(1)
	return signed.Hash().Hex(), nil
}

// GetNonce reads the contract's meta-transaction nonce for an address.
func (m *Manager) GetNonce(ctx context.Context, chainID uint64, address common.Address) (*big.Int, error) {
	out, err := m.call(ctx, chainID, airchainpayABI, "nonces", address)
	if err != nil {
		return nil, err
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, resilience.New(resilience.KindContract, "unexpected nonces result")
	}
	return nonce, nil
}

// GetPaymentTypehash reads the native payment EIP-712 typehash.
func (m *Manager) GetPaymentTypehash(ctx context.Context, chainID uint64) (common.Hash, error) {
	return m.typehash(ctx, chainID, airchainpayABI, "PAYMENT_TYPEHASH")
}

// GetTokenPaymentTypehash reads the token payment EIP-712 typehash.
func (m *Manager) GetTokenPaymentTypehash(ctx context.Context, chainID uint64) (common.Hash, error) {
	return m.typehash(ctx, chainID, airchainpayTokenABI, "TOKEN_PAYMENT_TYPEHASH")
}

func (m *Manager) typehash(ctx context.Context, chainID uint64, parsed abi.ABI, method string) (common.Hash, error) {
	out, err := m.call(ctx, chainID, parsed, method)
	if err != nil {
		return common.Hash{}, err
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, resilience.Errorf(resilience.KindContract, "unexpected %s result", method)
	}
	return common.Hash(raw), nil
}

// EIP712Domain is the EIP-5267 domain descriptor of a bound contract.
type EIP712Domain struct {
	Fields            string   `json:"fields"`
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           uint64   `json:"chain_id"`
	VerifyingContract string   `json:"verifying_contract"`
	Salt              string   `json:"salt"`
	Extensions        []string `json:"extensions"`
}

// GetEIP712Domain reads the signing domain advertised by the contract.
func (m *Manager) GetEIP712Domain(ctx context.Context, chainID uint64) (*EIP712Domain, error) {
	out, err := m.call(ctx, chainID, airchainpayABI, "eip712Domain")
	if err != nil {
		return nil, err
	}
	if len(out) != 7 {
		return nil, resilience.New(resilience.KindContract, "unexpected eip712Domain result")
	}

	fields, _ := out[0].([1]byte)
	name, _ := out[1].(string)
	version, _ := out[2].(string)
	domainChainID, _ := out[3].(*big.Int)
	verifying, _ := out[4].(common.Address)
	salt, _ := out[5].([32]byte)
	extensions, _ := out[6].([]*big.Int)

	domain := &EIP712Domain{
		Fields:            hexutil.Encode(fields[:]),
		Name:              name,
		Version:           version,
		VerifyingContract: verifying.Hex(),
		Salt:              hexutil.Encode(salt[:]),
		Extensions:        make([]string, 0, len(extensions)),
	}
	if domainChainID != nil {
		domain.ChainID = domainChainID.Uint64()
	}
	for _, ext := range extensions {
		domain.Extensions = append(domain.Extensions, ext.String())
	}
	return domain, nil
}

// IsTokenSupported reports whether the token contract accepts a token.
func (m *Manager) IsTokenSupported(ctx context.Context, chainID uint64, token common.Address) (bool, error) {
	out, err := m.call(ctx, chainID, airchainpayTokenABI, "isTokenSupported", token)
	if err != nil {
		return false, err
	}
	supported, ok := out[0].(bool)
	if !ok {
		return false, resilience.New(resilience.KindContract, "unexpected isTokenSupported result")
	}
	return supported, nil
}

// call packs a read-only contract call, executes it and unpacks the result.
func (m *Manager) call(ctx context.Context, chainID uint64, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	cc, ok := m.clients[chainID]
	if !ok {
		return nil, errProviderNotFound(chainID)
	}
	if !cc.hasContract {
		return nil, errNoContract(chainID)
	}

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, resilience.Wrap(resilience.KindContract, err, "pack "+method)
	}
	raw, err := cc.client.CallContract(ctx, ethereum.CallMsg{To: &cc.contract, Data: data}, nil)
	if err != nil {
		rpcErrorCounter.Inc(1)
		return nil, classifyRPCError(err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, resilience.Wrap(resilience.KindContract, err, "unpack "+method)
	}
	if len(out) == 0 {
		return nil, resilience.Errorf(resilience.KindContract, "empty %s result", method)
	}
	return out, nil
}
