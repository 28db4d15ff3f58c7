package evm

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	chainsel "github.com/smartcontractkit/chain-selectors"
)

// OnchainClient is an EVM chain client.
// For EVM specifically we can use existing geth interface to abstract chain clients.
type OnchainClient interface {
	bind.ContractBackend
	bind.DeployBackend

	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// Chain represents an EVM chain that contracts can be deployed to.
type Chain struct {
	Selector uint64

	Client OnchainClient
	// DeployerKey is the signing identity used to send deployment transactions. The Signer
	// function can be backed by a variety of key storage mechanisms (raw key, KMS etc).
	DeployerKey *bind.TransactOpts
}

// ChainSelector returns the chain selector of the chain
func (c Chain) ChainSelector() uint64 {
	return c.Selector
}

// String returns chain name and selector "<name> (<selector>)"
func (c Chain) String() string {
	return fmt.Sprintf("%s (%d)", c.Name(), c.Selector)
}

// Name returns the name of the chain. Unknown selectors are rendered as the decimal selector.
func (c Chain) Name() string {
	return ChainName(c.Selector)
}

// ChainID returns the EVM chain id that the selector maps to.
func (c Chain) ChainID() (*big.Int, error) {
	return ChainIDFromSelector(c.Selector)
}

// ChainName looks up the human readable name of an EVM chain selector.
func ChainName(selector uint64) string {
	chain, ok := chainsel.ChainBySelector(selector)
	if !ok || chain.Name == "" {
		return strconv.FormatUint(selector, 10)
	}

	return chain.Name
}

// ChainIDFromSelector resolves the EVM chain id of a chain selector.
func ChainIDFromSelector(selector uint64) (*big.Int, error) {
	chainIDStr, err := chainsel.GetChainIDFromSelector(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID from selector %d: %w", selector, err)
	}

	chainID, ok := new(big.Int).SetString(chainIDStr, 10)
	if !ok {
		return nil, fmt.Errorf("failed to convert chain ID %s to big.Int", chainIDStr)
	}

	return chainID, nil
}
