package provider

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm"
)

var _ evm.OnchainClient = (*SimClient)(nil)

// SimClient wraps a simulated backend. It implements evm.OnchainClient and exposes Commit so
// tests can mine the blocks that include deployment transactions.
type SimClient struct {
	mu sync.Mutex

	simulated.Client
	sim *simulated.Backend
}

// NewSimClient creates a new SimClient from a simulated backend.
func NewSimClient(t testing.TB, sim *simulated.Backend) *SimClient {
	t.Helper()

	require.NotNil(t, sim, "simulated backend must not be nil")

	return &SimClient{
		sim:    sim,
		Client: sim.Client(),
	}
}

// Commit mines a block with the pending transactions and returns its hash. Safe to call
// concurrently with the auto miner.
func (b *SimClient) Commit() common.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.sim.Commit()
}
