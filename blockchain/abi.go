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
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Contract ABIs are fixed at build time. Both contract kinds can live at the
// same address; the relay picks the ABI by operation, not by address.
var (
	//go:embed abi/AirChainPay.json
	airchainpayJSON string

	//go:embed abi/AirChainPayToken.json
	airchainpayTokenJSON string
)

var (
	airchainpayABI      abi.ABI
	airchainpayTokenABI abi.ABI

	// paymentTopic is keccak256("Payment(address,address,uint256,string,bool)"),
	// the topic0 of every payment log emitted by either contract kind.
	paymentTopic common.Hash
)

func init() {
	var err error
	airchainpayABI, err = abi.JSON(strings.NewReader(airchainpayJSON))
	if err != nil {
		panic("invalid AirChainPay ABI: " + err.Error())
	}
	airchainpayTokenABI, err = abi.JSON(strings.NewReader(airchainpayTokenJSON))
	if err != nil {
		panic("invalid AirChainPayToken ABI: " + err.Error())
	}
	paymentTopic = crypto.Keccak256Hash([]byte("Payment(address,address,uint256,string,bool)"))
	if airchainpayABI.Events["Payment"].ID != paymentTopic {
		panic("Payment event signature mismatch")
	}
}
