package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-evm-deployer/commands"
	"github.com/smartcontractkit/chainlink-evm-deployer/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	lvl := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	lggr := logger.NewConsole(os.Stderr, lvl)
	defer func() { _ = lggr.Sync() }()

	root, err := commands.NewRootCommand(commands.Config{
		Logger:      lggr,
		SetLogLevel: lvl.SetLevel,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return root.ExecuteContext(ctx)
}
