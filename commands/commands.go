// Package commands assembles the deployer CLI.
package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-evm-deployer/commands/deploy"
	"github.com/smartcontractkit/chainlink-evm-deployer/commands/text"
	"github.com/smartcontractkit/chainlink-evm-deployer/pkg/logger"
)

var rootLong = text.LongDesc(`
	Deploys compiled EVM contracts: builds the creation transaction, signs it with a raw key or an
	AWS KMS key, submits it over one or more RPCs and waits for the receipt.
`)

// Config holds the configuration of the root command.
type Config struct {
	// Logger is the logger to use for command output. Required.
	Logger logger.Logger

	// SetLogLevel changes the level of Logger once the config is loaded. Optional.
	SetLogLevel func(zapcore.Level)

	// Deploy holds optional dependencies of the deploy command.
	Deploy deploy.Deps
}

// NewRootCommand returns the deployer root command with all subcommands.
func NewRootCommand(cfg Config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:           "deployer",
		Short:         "Deploy EVM contracts",
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	deployCmd, err := deploy.NewCommand(deploy.Config{
		Logger:      cfg.Logger,
		SetLogLevel: cfg.SetLogLevel,
		Deps:        cfg.Deploy,
	})
	if err != nil {
		return nil, err
	}
	cmd.AddCommand(deployCmd)

	return cmd, nil
}
