// Package deploy provides the CLI command that deploys a compiled contract artifact.
package deploy

import (
	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm/provider"
	"github.com/smartcontractkit/chainlink-evm-deployer/config"
	"github.com/smartcontractkit/chainlink-evm-deployer/deployer"
	"github.com/smartcontractkit/chainlink-evm-deployer/pkg/logger"
)

// ConfigLoaderFunc loads the deployer configuration. path may be empty.
type ConfigLoaderFunc func(path string) (*config.Config, error)

// ArtifactLoaderFunc loads a compiled contract artifact.
type ArtifactLoaderFunc func(path string) (deployer.Artifact, error)

// ChainProviderFunc returns the provider of the chain to deploy to.
type ChainProviderFunc func(cfg *config.Config, lggr logger.Logger) (provider.ChainProvider, error)

// defaultConfigLoader reads the file at path, or the environment only when path is empty.
func defaultConfigLoader(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadEnv()
	}

	return config.Load(path)
}

// defaultChainProvider connects to the configured RPCs with the configured signer.
func defaultChainProvider(cfg *config.Config, lggr logger.Logger) (provider.ChainProvider, error) {
	rpcs, err := cfg.RPCs()
	if err != nil {
		return nil, err
	}

	signer, err := cfg.SignerGenerator()
	if err != nil {
		return nil, err
	}

	return provider.NewRPCChainProvider(cfg.Chain.Selector, provider.RPCChainProviderConfig{
		Signer: signer,
		RPCs:   rpcs,
		Logger: lggr,
	}), nil
}

// Deps holds the injectable dependencies for the deploy command.
// All fields are optional; nil values will use production defaults.
type Deps struct {
	// ConfigLoader loads the configuration.
	// Default: config.Load, or config.LoadEnv without --config
	ConfigLoader ConfigLoaderFunc

	// ArtifactLoader loads the contract artifact.
	// Default: deployer.LoadArtifact
	ArtifactLoader ArtifactLoaderFunc

	// ChainProvider builds the chain provider.
	// Default: provider.NewRPCChainProvider
	ChainProvider ChainProviderFunc
}

// applyDefaults fills in nil dependencies with production defaults.
func (d *Deps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = defaultConfigLoader
	}
	if d.ArtifactLoader == nil {
		d.ArtifactLoader = deployer.LoadArtifact
	}
	if d.ChainProvider == nil {
		d.ChainProvider = defaultChainProvider
	}
}
