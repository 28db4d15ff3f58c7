package deploy

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	chainsel "github.com/smartcontractkit/chain-selectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm"
	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm/provider"
	"github.com/smartcontractkit/chainlink-evm-deployer/config"
	"github.com/smartcontractkit/chainlink-evm-deployer/deployer"
	"github.com/smartcontractkit/chainlink-evm-deployer/pkg/logger"
)

const (
	// tokenArtifactJSON is a Hardhat style artifact whose constructor stores its uint256 argument,
	// which totalSupply() returns.
	tokenArtifactJSON = `{
		"contractName": "Token",
		"abi": [
			{"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"initialSupply","type":"uint256"}]},
			{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
		],
		"bytecode": "0x60206024600039600051600055600b6019600039600b6000f360005460005260206000f3",
		"version": "1.0.0"
	}`
)

// writeArtifact writes the token artifact to a temporary file and returns its path.
func writeArtifact(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "Token.json")
	require.NoError(t, os.WriteFile(path, []byte(tokenArtifactJSON), 0o600))

	return path
}

// testConfig returns a valid config for the TEST_1000 chain. The RPC and key are never used
// because tests inject a simulated chain provider.
func testConfig() *config.Config {
	return &config.Config{
		Chain: config.ChainConfig{
			Selector: chainsel.TEST_1000.Selector,
			RPCURL:   "http://localhost:8545",
		},
		Signer: config.SignerConfig{
			DeployerKey: "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291",
		},
		Deploy: config.DeployConfig{
			ConfirmTimeout: time.Minute,
			TickInterval:   10 * time.Millisecond,
		},
		Log: config.LogConfig{Level: "debug"},
	}
}

// simDeps returns Deps which load conf and deploy to an auto mined simulated chain.
func simDeps(t *testing.T, conf *config.Config) (Deps, *provider.SimChainProvider) {
	t.Helper()

	sim := provider.NewSimChainProvider(t, chainsel.TEST_1000.Selector, provider.SimChainProviderConfig{
		BlockTime: 10 * time.Millisecond,
	})

	return Deps{
		ConfigLoader: func(string) (*config.Config, error) { return conf, nil },
		ChainProvider: func(*config.Config, logger.Logger) (provider.ChainProvider, error) {
			return sim, nil
		},
	}, sim
}

// closingClient records whether the command released the chain client.
type closingClient struct {
	evm.OnchainClient
	closed atomic.Bool
}

func (c *closingClient) Close() { c.closed.Store(true) }

// closingProvider hands out the chain of an inner provider with its client wrapped in a
// closingClient.
type closingProvider struct {
	provider.ChainProvider
	client *closingClient
}

func (p *closingProvider) Initialize(ctx context.Context) (evm.Chain, error) {
	chain, err := p.ChainProvider.Initialize(ctx)
	if err != nil {
		return evm.Chain{}, err
	}

	p.client = &closingClient{OnchainClient: chain.Client}
	chain.Client = p.client

	return chain, nil
}

func Test_NewCommand(t *testing.T) {
	t.Parallel()

	_, err := NewCommand(Config{})
	require.ErrorContains(t, err, "missing required fields: Logger")

	cmd, err := NewCommand(Config{Logger: logger.Nop()})
	require.NoError(t, err)

	for _, name := range []string{"config", "artifact", "arg", "gas-price", "gas-limit", "out"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}

	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.ErrorContains(t, cmd.Execute(), `required flag(s) "artifact" not set`)
}

func Test_Deploy_Simulated(t *testing.T) {
	t.Parallel()

	var (
		conf     = testConfig()
		outPath  = filepath.Join(t.TempDir(), "result.yaml")
		levelSet zapcore.Level
	)

	deps, sim := simDeps(t, conf)

	cmd, err := NewCommand(Config{
		Logger:      logger.Test(t),
		SetLogLevel: func(l zapcore.Level) { levelSet = l },
		Deps:        deps,
	})
	require.NoError(t, err)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"-a", writeArtifact(t),
		"--arg", "1000",
		"--gas-price", "5000000000",
		"-o", outPath,
	})
	cmd.SetContext(t.Context())

	require.NoError(t, cmd.Execute())

	assert.Equal(t, zapcore.DebugLevel, levelSet)
	assert.Contains(t, out.String(), "Deploying Token 1.0.0")
	assert.Contains(t, out.String(), "(gas price: 5 gwei)")
	assert.Contains(t, out.String(), "Deployed Token to")
	assert.Contains(t, out.String(), "Wrote result to "+outPath)

	b, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var result struct {
		Contract    string `yaml:"contract"`
		Address     string `yaml:"address"`
		TxHash      string `yaml:"txHash"`
		BlockNumber uint64 `yaml:"blockNumber"`
		GasUsed     uint64 `yaml:"gasUsed"`
	}
	require.NoError(t, yaml.Unmarshal(b, &result))
	assert.Equal(t, "Token", result.Contract)
	assert.Positive(t, result.BlockNumber)
	assert.Positive(t, result.GasUsed)
	require.True(t, common.IsHexAddress(result.Address))

	// The deployed contract stores the constructor argument.
	chain, err := sim.Initialize(t.Context())
	require.NoError(t, err)

	artifact, err := deployer.ParseArtifact("Token", []byte(tokenArtifactJSON))
	require.NoError(t, err)
	data, err := artifact.ABI.Pack("totalSupply")
	require.NoError(t, err)

	addr := common.HexToAddress(result.Address)
	ret, err := chain.Client.CallContract(t.Context(), ethereum.CallMsg{To: &addr, Data: data}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, big.NewInt(1000).Cmp(new(big.Int).SetBytes(ret)))

	tx, _, err := chain.Client.(ethereum.TransactionReader).TransactionByHash(t.Context(), common.HexToHash(result.TxHash))
	require.NoError(t, err)
	assert.Equal(t, 0, big.NewInt(5_000_000_000).Cmp(tx.GasPrice()))
}

func Test_Deploy_ClosesChainClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name: "after a deployment",
			args: []string{"--arg", "1000"},
		},
		{
			name:    "after a failed deployment",
			args:    []string{"--arg", "1000", "--gas-limit", "1"},
			wantErr: "failed to deploy Token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deps, sim := simDeps(t, testConfig())
			closing := &closingProvider{ChainProvider: sim}
			deps.ChainProvider = func(*config.Config, logger.Logger) (provider.ChainProvider, error) {
				return closing, nil
			}

			cmd, err := NewCommand(Config{Logger: logger.Test(t), Deps: deps})
			require.NoError(t, err)

			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(append([]string{"-a", writeArtifact(t)}, tt.args...))
			cmd.SetContext(t.Context())

			err = cmd.Execute()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			require.NotNil(t, closing.client)
			assert.True(t, closing.client.closed.Load())
		})
	}
}

func Test_Deploy_Errors(t *testing.T) {
	t.Parallel()

	artifactPath := writeArtifact(t)

	tests := []struct {
		name    string
		deps    func(t *testing.T) Deps
		args    []string
		wantErr string
	}{
		{
			name: "config loader fails",
			deps: func(t *testing.T) Deps {
				t.Helper()

				return Deps{ConfigLoader: func(string) (*config.Config, error) { return nil, assert.AnError }}
			},
			args:    []string{"-a", artifactPath, "--arg", "1"},
			wantErr: "failed to load config",
		},
		{
			name: "invalid config",
			deps: func(t *testing.T) Deps {
				t.Helper()

				return Deps{ConfigLoader: func(string) (*config.Config, error) { return &config.Config{}, nil }}
			},
			args:    []string{"-a", artifactPath, "--arg", "1"},
			wantErr: "invalid config",
		},
		{
			name: "invalid gas price flag",
			deps: func(t *testing.T) Deps {
				t.Helper()
				d, _ := simDeps(t, testConfig())

				return d
			},
			args:    []string{"-a", artifactPath, "--arg", "1", "--gas-price", "fast"},
			wantErr: `deploy.gas_price "fast" is not a decimal integer`,
		},
		{
			name: "missing artifact",
			deps: func(t *testing.T) Deps {
				t.Helper()
				d, _ := simDeps(t, testConfig())

				return d
			},
			args:    []string{"-a", filepath.Join(t.TempDir(), "missing.json")},
			wantErr: "failed to load artifact",
		},
		{
			name: "wrong argument count",
			deps: func(t *testing.T) Deps {
				t.Helper()
				d, _ := simDeps(t, testConfig())

				return d
			},
			args:    []string{"-a", artifactPath},
			wantErr: "Token constructor takes 1 arguments, got 0",
		},
		{
			name: "chain provider fails",
			deps: func(t *testing.T) Deps {
				t.Helper()

				return Deps{
					ConfigLoader: func(string) (*config.Config, error) { return testConfig(), nil },
					ChainProvider: func(*config.Config, logger.Logger) (provider.ChainProvider, error) {
						return nil, assert.AnError
					},
				}
			},
			args:    []string{"-a", artifactPath, "--arg", "1"},
			wantErr: "failed to create chain provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd, err := NewCommand(Config{Logger: logger.Test(t), Deps: tt.deps(t)})
			require.NoError(t, err)

			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)

			require.ErrorContains(t, cmd.Execute(), tt.wantErr)
		})
	}
}

func Test_Deploy_ArgEncodingError(t *testing.T) {
	t.Parallel()

	deps, _ := simDeps(t, testConfig())
	cmd, err := NewCommand(Config{Logger: logger.Test(t), Deps: deps})
	require.NoError(t, err)

	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-a", writeArtifact(t), "--arg", "not-a-number"})

	err = cmd.Execute()
	require.ErrorIs(t, err, deployer.ErrEncoding)
}

func Test_applyFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		give         deployFlags
		wantGasPrice string
		wantGasLimit uint64
	}{
		{
			name:         "no flags keep config",
			give:         deployFlags{},
			wantGasPrice: "7",
			wantGasLimit: 100000,
		},
		{
			name:         "gas price flag",
			give:         deployFlags{gasPrice: "9"},
			wantGasPrice: "9",
			wantGasLimit: 100000,
		},
		{
			name:         "explicit zero gas limit clears the config value",
			give:         deployFlags{gasLimit: 0, gasLimitSet: true},
			wantGasPrice: "7",
			wantGasLimit: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conf := &config.Config{Deploy: config.DeployConfig{GasPrice: "7", GasLimit: 100000}}
			applyFlags(conf, tt.give)

			assert.Equal(t, tt.wantGasPrice, conf.Deploy.GasPrice)
			assert.Equal(t, tt.wantGasLimit, conf.Deploy.GasLimit)
		})
	}
}

func Test_gasPriceGwei(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "suggested", gasPriceGwei(nil))
	assert.Equal(t, "suggested", gasPriceGwei(big.NewInt(0)))
	assert.Equal(t, "5 gwei", gasPriceGwei(big.NewInt(5_000_000_000)))
	assert.Equal(t, "1.5 gwei", gasPriceGwei(big.NewInt(1_500_000_000)))
}
