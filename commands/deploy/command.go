package deploy

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/smartcontractkit/chainlink-evm-deployer/commands/flags"
	"github.com/smartcontractkit/chainlink-evm-deployer/commands/text"
	"github.com/smartcontractkit/chainlink-evm-deployer/config"
	"github.com/smartcontractkit/chainlink-evm-deployer/deployer"
	"github.com/smartcontractkit/chainlink-evm-deployer/pkg/logger"
)

var (
	deployShort = "Deploy a compiled contract"

	deployLong = text.LongDesc(`
		Deploys a compiled contract artifact to the configured chain and prints the deployed address.

		The artifact may be a Foundry, Hardhat or solc combined JSON file. Constructor arguments are
		given in order with repeated --arg flags. --gas-price and --gas-limit override the config and
		values of 0 keep the suggested gas price and the estimated gas limit.
	`)

	deployExample = text.Examples(`
		# Deploy a token with an initial supply of 1000
		deployer deploy -c deployer.yaml -a out/Token.sol/Token.json --arg 1000

		# Fix the gas price and write the result to a file
		deployer deploy -c deployer.yaml -a Token.json --arg 1000 --gas-price 5000000000 -o result.yaml
	`)
)

// Config holds the configuration for the deploy command.
type Config struct {
	// Logger is the logger to use for command output. Required.
	Logger logger.Logger

	// SetLogLevel is called with the configured log.level once the config is loaded. Optional.
	SetLogLevel func(zapcore.Level)

	// Deps holds optional dependencies that can be overridden.
	// If fields are nil, production defaults are used.
	Deps Deps
}

// Validate checks that all required configuration fields are set.
func (c Config) Validate() error {
	if c.Logger == nil {
		return errors.New("deploy.Config: missing required fields: Logger")
	}

	return nil
}

// deps returns the Deps with defaults applied.
func (c *Config) deps() *Deps {
	c.Deps.applyDefaults()

	return &c.Deps
}

type deployFlags struct {
	configPath   string
	artifactPath string
	args         []string
	gasPrice     string
	gasLimit     uint64
	gasLimitSet  bool
	outPath      string
}

// NewCommand creates the deploy command.
func NewCommand(cfg Config) (*cobra.Command, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.deps()

	cmd := &cobra.Command{
		Use:     "deploy",
		Short:   deployShort,
		Long:    deployLong,
		Example: deployExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := deployFlags{
				configPath:   flags.MustString(cmd.Flags().GetString("config")),
				artifactPath: flags.MustString(cmd.Flags().GetString("artifact")),
				args:         flags.MustStringArray(cmd.Flags().GetStringArray("arg")),
				gasPrice:     flags.MustString(cmd.Flags().GetString("gas-price")),
				gasLimit:     flags.MustUint64(cmd.Flags().GetUint64("gas-limit")),
				gasLimitSet:  cmd.Flags().Changed("gas-limit"),
				outPath:      flags.MustString(cmd.Flags().GetString("out")),
			}

			return runDeploy(cmd, cfg, f)
		},
	}

	flags.Config(cmd)
	flags.Output(cmd, "")

	cmd.Flags().StringP("artifact", "a", "", "Path to the contract artifact JSON (required)")
	cmd.Flags().StringArray("arg", nil, "Constructor argument, repeat in constructor order")
	cmd.Flags().String("gas-price", "", "Gas price in wei, overrides deploy.gas_price")
	cmd.Flags().Uint64("gas-limit", 0, "Gas limit, overrides deploy.gas_limit")
	_ = cmd.MarkFlagRequired("artifact")

	return cmd, nil
}

// runDeploy executes the deploy command logic.
func runDeploy(cmd *cobra.Command, cfg Config, f deployFlags) error {
	deps := cfg.deps()
	ctx := cmd.Context()

	conf, err := deps.ConfigLoader(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(conf, f)

	if err = conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.SetLogLevel != nil {
		lvl, lerr := conf.LogLevel()
		if lerr != nil {
			return lerr
		}
		cfg.SetLogLevel(lvl)
	}

	overrides, err := conf.Overrides()
	if err != nil {
		return err
	}

	artifact, err := deps.ArtifactLoader(f.artifactPath)
	if err != nil {
		return fmt.Errorf("failed to load artifact: %w", err)
	}

	args, err := deployer.ParseArgs(artifact, f.args)
	if err != nil {
		return err
	}

	chainProvider, err := deps.ChainProvider(conf, cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create chain provider: %w", err)
	}

	chain, err := chainProvider.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize %s: %w", chainProvider.Name(), err)
	}
	if closer, ok := chain.Client.(interface{ Close() }); ok {
		defer closer.Close()
	}

	d, err := deployer.NewFromChain(chain,
		deployer.WithLogger(cfg.Logger),
		deployer.WithOverrides(overrides),
		deployer.WithConfirmTimeout(conf.Deploy.ConfirmTimeout),
		deployer.WithTickInterval(conf.Deploy.TickInterval),
	)
	if err != nil {
		return err
	}

	cmd.Printf("Deploying %s to %s from %s (gas price: %s)\n",
		artifact, chain, d.From().Hex(), gasPriceGwei(overrides.GasPrice),
	)

	result, err := d.Deploy(ctx, artifact, args...)
	if err != nil {
		return fmt.Errorf("failed to deploy %s to %s: %w", artifact, chain, err)
	}

	cmd.Printf("Deployed %s to %s at %s (tx %s, block %d)\n",
		result.Contract, chain, result.Address.Hex(), result.TxHash.Hex(), result.BlockNumber,
	)

	if f.outPath != "" {
		if err = writeResult(f.outPath, result); err != nil {
			return err
		}
		cmd.Printf("Wrote result to %s\n", f.outPath)
	}

	return nil
}

// applyFlags overrides config values with the flags given on the command line.
func applyFlags(conf *config.Config, f deployFlags) {
	if f.gasPrice != "" {
		conf.Deploy.GasPrice = f.gasPrice
	}
	if f.gasLimitSet {
		conf.Deploy.GasLimit = f.gasLimit
	}
}

// writeResult writes the deployment result as YAML.
func writeResult(path string, result *deployer.Result) error {
	b, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err = os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("failed to write result to %s: %w", path, err)
	}

	return nil
}

// gasPriceGwei formats a wei amount in gwei for display.
func gasPriceGwei(wei *big.Int) string {
	if wei == nil || wei.Sign() <= 0 {
		return "suggested"
	}

	return new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e9)).Text('f', -1) + " gwei"
}
