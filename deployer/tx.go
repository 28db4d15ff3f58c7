package deployer

import (
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Overrides replaces transaction fields computed by BuildTx. A field applies only when it is
// strictly positive: a nil or non-positive GasPrice and a zero GasLimit are ignored.
type Overrides struct {
	GasPrice *big.Int
	GasLimit uint64
}

// hasGasPrice reports whether the gas price override applies.
func (o Overrides) hasGasPrice() bool {
	return o.GasPrice != nil && o.GasPrice.Sign() > 0
}

// hasGasLimit reports whether the gas limit override applies.
func (o Overrides) hasGasLimit() bool {
	return o.GasLimit > 0
}

// DeployTx is an unsigned contract creation transaction.
type DeployTx struct {
	From     common.Address
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	Value    *big.Int
	// Data is the creation bytecode followed by the encoded constructor arguments.
	Data []byte
}

// Clone returns a deep copy of tx.
func (tx *DeployTx) Clone() *DeployTx {
	cpy := &DeployTx{
		From:     tx.From,
		Nonce:    tx.Nonce,
		GasLimit: tx.GasLimit,
		Data:     slices.Clone(tx.Data),
	}
	if tx.GasPrice != nil {
		cpy.GasPrice = new(big.Int).Set(tx.GasPrice)
	}
	if tx.Value != nil {
		cpy.Value = new(big.Int).Set(tx.Value)
	}

	return cpy
}

// Transaction converts tx into a legacy contract creation transaction ready to be signed.
func (tx *DeployTx) Transaction() *types.Transaction {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    tx.Nonce,
		GasPrice: tx.GasPrice,
		Gas:      tx.GasLimit,
		To:       nil,
		Value:    value,
		Data:     tx.Data,
	})
}

// Result describes a successful deployment.
type Result struct {
	Contract    string         `json:"contract" yaml:"contract"`
	Address     common.Address `json:"address" yaml:"address"`
	TxHash      common.Hash    `json:"txHash" yaml:"txHash"`
	BlockNumber uint64         `json:"blockNumber" yaml:"blockNumber"`
	GasUsed     uint64         `json:"gasUsed" yaml:"gasUsed"`
}
