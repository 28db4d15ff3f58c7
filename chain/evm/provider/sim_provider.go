package provider

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm"
)

var (
	// simChainID is the chain ID of every go-ethereum simulated backend.
	simChainID = params.AllDevChainProtocolChanges.ChainID
	// defaultPrefundWei funds the deployer with 1,000,000 Ether.
	defaultPrefundWei = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(params.Ether))
)

// SimChainProviderConfig holds the configuration to initialize the SimChainProvider.
type SimChainProviderConfig struct {
	// Optional: BlockTime is the interval at which blocks are committed. When zero, blocks are
	// only produced by calling SimClient.Commit.
	BlockTime time.Duration
	// Optional: Signer produces the deployer identity. Defaults to SignerRandom. The identity is
	// always generated for the simulated chain id, 1337.
	Signer SignerGenerator
	// Optional: PrefundWei is the deployer balance at genesis. Defaults to 1,000,000 Ether.
	PrefundWei *big.Int
	// Optional: BlockGasLimit is the gas limit of every block. Defaults to 50,000,000.
	BlockGasLimit uint64
}

// SimChainProvider provides a chain backed by go-ethereum's in-memory simulated backend. It is
// meant for tests: the backend is closed when the test ends.
type SimChainProvider struct {
	t        testing.TB
	selector uint64
	config   SimChainProviderConfig

	chain *evm.Chain
}

// NewSimChainProvider creates a new SimChainProvider. selector only names the chain; the backend
// always runs with chain id 1337.
func NewSimChainProvider(t testing.TB, selector uint64, config SimChainProviderConfig) *SimChainProvider {
	t.Helper()

	return &SimChainProvider{
		t:        t,
		selector: selector,
		config:   config,
	}
}

// Initialize starts the simulated backend with a prefunded deployer account.
func (p *SimChainProvider) Initialize(_ context.Context) (evm.Chain, error) {
	if p.chain != nil {
		return *p.chain, nil
	}

	signer := p.config.Signer
	if signer == nil {
		signer = SignerRandom()
	}

	deployerKey, err := signer.Generate(simChainID)
	require.NoError(p.t, err, "failed to generate deployer key")

	prefund := p.config.PrefundWei
	if prefund == nil {
		prefund = defaultPrefundWei
	}

	gasLimit := p.config.BlockGasLimit
	if gasLimit == 0 {
		gasLimit = 50_000_000
	}

	backend := simulated.NewBackend(
		types.GenesisAlloc{deployerKey.From: {Balance: prefund}},
		simulated.WithBlockGasLimit(gasLimit),
	)
	p.t.Cleanup(func() {
		_ = backend.Close()
	})
	backend.Commit()

	client := NewSimClient(p.t, backend)
	if p.config.BlockTime > 0 {
		startAutoMine(p.t, client, p.config.BlockTime)
	}

	p.chain = &evm.Chain{
		Selector:    p.selector,
		Client:      client,
		DeployerKey: deployerKey,
	}

	return *p.chain, nil
}

// Name returns the name of the SimChainProvider.
func (*SimChainProvider) Name() string {
	return "Simulated EVM Chain Provider"
}

// ChainSelector returns the chain selector of the simulated chain managed by this provider.
func (p *SimChainProvider) ChainSelector() uint64 {
	return p.selector
}

// startAutoMine commits a block every blockTime until the test ends.
func startAutoMine(t testing.TB, client *SimClient, blockTime time.Duration) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.Cleanup(func() {
		cancel()
		<-done
	})

	go func() {
		defer close(done)

		ticker := time.NewTicker(blockTime)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				client.Commit()
			case <-ctx.Done():
				return
			}
		}
	}()
}
