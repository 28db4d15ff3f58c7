// Package provider builds an evm.Chain, the client and signing identity contracts are deployed
// with, either from RPC endpoints or from an in-memory simulated backend.
package provider

import (
	"context"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm"
)

// ChainProvider initializes an evm.Chain. Initialize is idempotent: later calls return the chain
// built by the first successful one.
type ChainProvider interface {
	Initialize(ctx context.Context) (evm.Chain, error)
	Name() string
	ChainSelector() uint64
}

var (
	_ ChainProvider = (*RPCChainProvider)(nil)
	_ ChainProvider = (*SimChainProvider)(nil)
)
