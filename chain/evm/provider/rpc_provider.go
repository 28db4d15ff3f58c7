package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm"
	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm/provider/rpcclient"
	"github.com/smartcontractkit/chainlink-evm-deployer/pkg/logger"
)

// RPCChainProviderConfig holds the configuration to initialize the RPCChainProvider.
type RPCChainProviderConfig struct {
	// Required: Signer produces the deployer identity. Use SignerFromRawKey for a private key or
	// SignerFromKMS for an AWS KMS key.
	Signer SignerGenerator
	// Required: At least one RPC must be provided to connect to the EVM node. Later RPCs are
	// used as backups.
	RPCs []rpcclient.RPC
	// Optional: ClientOpts configure the MultiClient, e.g. rpcclient.WithRetryConfig.
	ClientOpts []func(client *rpcclient.MultiClient)
	// Optional: Logger receives RPC failover warnings. Defaults to a production logger.
	Logger logger.Logger
}

func (c RPCChainProviderConfig) validate() error {
	if c.Signer == nil {
		return errors.New("signer generator is required")
	}
	if len(c.RPCs) == 0 {
		return errors.New("at least one RPC is required")
	}

	return nil
}

// RPCChainProvider provides a chain connected to live EVM nodes over RPC.
type RPCChainProvider struct {
	selector uint64
	config   RPCChainProviderConfig

	chain *evm.Chain
}

// NewRPCChainProvider creates a new RPCChainProvider for the chain selector.
func NewRPCChainProvider(selector uint64, config RPCChainProviderConfig) *RPCChainProvider {
	return &RPCChainProvider{
		selector: selector,
		config:   config,
	}
}

// Initialize resolves the chain id of the selector, generates the deployer identity and dials the
// RPCs.
func (p *RPCChainProvider) Initialize(_ context.Context) (evm.Chain, error) {
	if p.chain != nil {
		return *p.chain, nil
	}

	if err := p.config.validate(); err != nil {
		return evm.Chain{}, fmt.Errorf("failed to validate provider config: %w", err)
	}

	if p.config.Logger == nil {
		lggr, err := logger.New()
		if err != nil {
			return evm.Chain{}, fmt.Errorf("failed to create default logger: %w", err)
		}
		p.config.Logger = lggr
	}

	chainID, err := evm.ChainIDFromSelector(p.selector)
	if err != nil {
		return evm.Chain{}, err
	}

	deployerKey, err := p.config.Signer.Generate(chainID)
	if err != nil {
		return evm.Chain{}, fmt.Errorf("failed to generate deployer key: %w", err)
	}

	client, err := rpcclient.NewMultiClient(p.config.Logger, rpcclient.RPCConfig{
		ChainSelector: p.selector,
		RPCs:          p.config.RPCs,
	}, p.config.ClientOpts...)
	if err != nil {
		return evm.Chain{}, fmt.Errorf("failed to create multi-client: %w", err)
	}

	p.chain = &evm.Chain{
		Selector:    p.selector,
		Client:      client,
		DeployerKey: deployerKey,
	}

	return *p.chain, nil
}

// Name returns the name of the RPCChainProvider.
func (*RPCChainProvider) Name() string {
	return "EVM RPC Chain Provider"
}

// ChainSelector returns the chain selector of the chain managed by this provider.
func (p *RPCChainProvider) ChainSelector() uint64 {
	return p.selector
}
