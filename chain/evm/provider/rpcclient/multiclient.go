// Package rpcclient provides an EVM client which fails over between several RPC endpoints of the
// same chain.
package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	chainsel "github.com/smartcontractkit/chain-selectors"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm"
	"github.com/smartcontractkit/chainlink-evm-deployer/pkg/logger"
)

const (
	// Default retry configuration for RPC calls
	RPCDefaultRetryAttempts = 1
	RPCDefaultRetryDelay    = 1000 * time.Millisecond
	RPCDefaultRetryTimeout  = 10 * time.Second

	// Default retry configuration for dialing RPC endpoints
	RPCDefaultDialRetryAttempts = 1
	RPCDefaultDialRetryDelay    = 1000 * time.Millisecond
	RPCDefaultDialTimeout       = 10 * time.Second

	// Default timeout for health checks
	RPCDefaultHealthCheckTimeout = 2 * time.Second
)

// RetryConfig controls how often a call is retried against one endpoint before moving on to the
// next one. Attempts and DialAttempts of 0 are treated as 1.
type RetryConfig struct {
	Attempts     uint
	Delay        time.Duration
	Timeout      time.Duration
	DialAttempts uint
	DialDelay    time.Duration
	DialTimeout  time.Duration
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:     RPCDefaultRetryAttempts,
		Delay:        RPCDefaultRetryDelay,
		Timeout:      RPCDefaultRetryTimeout,
		DialAttempts: RPCDefaultDialRetryAttempts,
		DialDelay:    RPCDefaultDialRetryDelay,
		DialTimeout:  RPCDefaultDialTimeout,
	}
}

// WithRetryConfig replaces the default retry configuration.
func WithRetryConfig(cfg RetryConfig) func(*MultiClient) {
	return func(mc *MultiClient) {
		mc.RetryConfig = cfg
	}
}

var _ evm.OnchainClient = (*MultiClient)(nil)

// MultiClient is an evm.OnchainClient backed by a primary endpoint and ordered backups. Calls
// used by deployments are retried on the current endpoint and then on each backup; the first
// endpoint to succeed becomes the primary. Methods not overridden here go to the primary only.
type MultiClient struct {
	*ethclient.Client
	Backups     []*ethclient.Client
	RetryConfig RetryConfig

	lggr      logger.Logger
	chainName string
	mu        sync.RWMutex
}

// NewMultiClient dials every RPC of rpcsCfg, keeping those which pass a health check. It fails
// only when no endpoint is usable.
func NewMultiClient(lggr logger.Logger, rpcsCfg RPCConfig, opts ...func(client *MultiClient)) (*MultiClient, error) {
	if err := rpcsCfg.validate(); err != nil {
		return nil, err
	}

	chain, exists := chainsel.ChainBySelector(rpcsCfg.ChainSelector)
	if !exists {
		return nil, fmt.Errorf("chain with selector %d not found", rpcsCfg.ChainSelector)
	}

	mc := &MultiClient{
		RetryConfig: defaultRetryConfig(),
		lggr:        lggr.Named("multiclient"),
		chainName:   chain.Name,
	}
	for _, opt := range opts {
		opt(mc)
	}

	clients := make([]*ethclient.Client, 0, len(rpcsCfg.RPCs))
	for i, r := range rpcsCfg.RPCs {
		client, err := mc.dialWithRetry(r)
		if err != nil {
			mc.lggr.Warnw("Failed to dial RPC, trying the next one",
				"index", i, "rpc", r.Name, "chain", chain.Name, "err", err,
			)

			continue
		}

		if err = mc.healthCheck(context.Background(), client); err != nil {
			mc.lggr.Warnw("RPC health check failed, trying the next one",
				"index", i, "rpc", r.Name, "chain", chain.Name, "err", err,
			)
			client.Close()

			continue
		}

		clients = append(clients, client)
	}

	if len(clients) == 0 {
		return nil, errors.New("no valid RPC clients created")
	}

	mc.Client = clients[0]
	mc.Backups = clients[1:]

	return mc, nil
}

// ChainName returns the name of the chain the client is connected to.
func (mc *MultiClient) ChainName() string {
	return mc.chainName
}

// Close closes the connections to every endpoint.
func (mc *MultiClient) Close() {
	for _, c := range mc.clients() {
		c.Close()
	}
}

func (mc *MultiClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return mc.retryWithBackups(ctx, "SendTransaction", func(ctx context.Context, c *ethclient.Client) error {
		return c.SendTransaction(ctx, tx)
	})
}

func (mc *MultiClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return call(ctx, mc, "TransactionReceipt", func(ctx context.Context, c *ethclient.Client) (*types.Receipt, error) {
		return c.TransactionReceipt(ctx, txHash)
	})
}

func (mc *MultiClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, mc, "CallContract", func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.CallContract(ctx, msg, blockNumber)
	})
}

func (mc *MultiClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, mc, "CodeAt", func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.CodeAt(ctx, account, blockNumber)
	})
}

func (mc *MultiClient) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return call(ctx, mc, "PendingCodeAt", func(ctx context.Context, c *ethclient.Client) ([]byte, error) {
		return c.PendingCodeAt(ctx, account)
	})
}

func (mc *MultiClient) NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error) {
	return call(ctx, mc, "NonceAt", func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.NonceAt(ctx, account, block)
	})
}

func (mc *MultiClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, mc, "PendingNonceAt", func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.PendingNonceAt(ctx, account)
	})
}

func (mc *MultiClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return call(ctx, mc, "HeaderByNumber", func(ctx context.Context, c *ethclient.Client) (*types.Header, error) {
		return c.HeaderByNumber(ctx, number)
	})
}

func (mc *MultiClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(ctx, mc, "SuggestGasPrice", func(ctx context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.SuggestGasPrice(ctx)
	})
}

func (mc *MultiClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return call(ctx, mc, "SuggestGasTipCap", func(ctx context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.SuggestGasTipCap(ctx)
	})
}

func (mc *MultiClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return call(ctx, mc, "EstimateGas", func(ctx context.Context, c *ethclient.Client) (uint64, error) {
		return c.EstimateGas(ctx, msg)
	})
}

func (mc *MultiClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return call(ctx, mc, "BalanceAt", func(ctx context.Context, c *ethclient.Client) (*big.Int, error) {
		return c.BalanceAt(ctx, account, blockNumber)
	})
}

// call runs fn through retryWithBackups and returns its result.
func call[T any](
	ctx context.Context, mc *MultiClient, opName string, fn func(context.Context, *ethclient.Client) (T, error),
) (T, error) {
	var result T
	err := mc.retryWithBackups(ctx, opName, func(ctx context.Context, c *ethclient.Client) error {
		var err error
		result, err = fn(ctx, c)

		return err
	})

	return result, err
}

// retryWithBackups runs op against each endpoint in turn, retrying per RetryConfig, until it
// succeeds. Errors which another endpoint would answer the same way (not found, reverts, a done
// context) are returned immediately.
func (mc *MultiClient) retryWithBackups(
	ctx context.Context, opName string, op func(context.Context, *ethclient.Client) error,
) error {
	var (
		lastErr error
		traceID = uuid.New().String()
	)

	for rpcIndex, client := range mc.clients() {
		retryCount := 0
		err := retry.Do(func() error {
			timeoutCtx, cancel := ensureTimeout(ctx, mc.RetryConfig.Timeout)
			defer cancel()

			return op(timeoutCtx, client)
		},
			retry.Context(ctx),
			retry.Attempts(atLeastOne(mc.RetryConfig.Attempts)),
			retry.Delay(mc.RetryConfig.Delay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool { return !isPermanent(ctx, err) }),
			retry.OnRetry(func(n uint, err error) {
				retryCount++
				mc.lggr.Warnw("RPC call failed, retrying",
					"traceID", traceID, "chain", mc.chainName, "op", opName,
					"index", rpcIndex, "attempt", n+1, "err", maybeDataErr(err),
				)
			}),
		)
		if err == nil {
			if retryCount > 0 {
				mc.lggr.Infow("RPC call succeeded after retries",
					"traceID", traceID, "chain", mc.chainName, "op", opName,
					"index", rpcIndex, "retries", retryCount,
				)
			}
			mc.reorderRPCs(rpcIndex)

			return nil
		}

		if isPermanent(ctx, err) {
			return err
		}

		lastErr = err
		mc.lggr.Warnw("RPC call failed, trying next client",
			"traceID", traceID, "chain", mc.chainName, "op", opName,
			"index", rpcIndex, "err", maybeDataErr(err),
		)
	}

	return errors.Join(lastErr, fmt.Errorf("all backup clients failed for chain %q", mc.chainName))
}

// isPermanent reports whether err would be returned by every endpoint: the caller gave up, the
// object does not exist, or the node returned revert data.
func isPermanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, ethereum.NotFound) {
		return true
	}

	var dataErr rpc.DataError

	return errors.As(err, &dataErr) && dataErr.ErrorData() != nil
}

func (mc *MultiClient) dialWithRetry(r RPC) (*ethclient.Client, error) {
	endpoint, err := r.ToEndpoint()
	if err != nil {
		return nil, err
	}

	traceID := uuid.New().String()
	var client *ethclient.Client
	err = retry.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), mc.RetryConfig.DialTimeout)
		defer cancel()

		mc.lggr.Debugw("Dialing RPC", "traceID", traceID, "chain", mc.chainName, "rpc", r.Name)

		var derr error
		client, derr = ethclient.DialContext(ctx, endpoint)

		return derr
	},
		retry.Attempts(atLeastOne(mc.RetryConfig.DialAttempts)),
		retry.Delay(mc.RetryConfig.DialDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			mc.lggr.Warnw("Dialing RPC failed, retrying",
				"traceID", traceID, "chain", mc.chainName, "rpc", r.Name, "attempt", n+1, "err", err,
			)
		}),
	)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("failed to dial RPC %s for chain %s after retries", r.Name, mc.chainName))
	}

	return client, nil
}

// healthCheck calls eth_blockNumber on client.
func (mc *MultiClient) healthCheck(ctx context.Context, client *ethclient.Client) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, RPCDefaultHealthCheckTimeout)
	defer cancel()

	if _, err := client.BlockNumber(timeoutCtx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

// ensureTimeout keeps the deadline of parent when it has one and applies timeout otherwise.
func ensureTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := parent.Deadline(); hasDeadline {
		return context.WithCancel(parent)
	}

	return context.WithTimeout(parent, timeout)
}

// reorderRPCs promotes the client at rpcIndex (0 being the primary) to primary. Backups which
// were tried before it move to the end, followed by the old primary.
func (mc *MultiClient) reorderRPCs(rpcIndex int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if rpcIndex < 1 || rpcIndex > len(mc.Backups) {
		return
	}

	promoted := mc.Backups[rpcIndex-1]

	reordered := make([]*ethclient.Client, 0, len(mc.Backups))
	reordered = append(reordered, mc.Backups[rpcIndex:]...)
	reordered = append(reordered, mc.Backups[:rpcIndex-1]...)
	reordered = append(reordered, mc.Client)

	mc.Backups = reordered
	mc.Client = promoted
}

func (mc *MultiClient) clients() []*ethclient.Client {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return append([]*ethclient.Client{mc.Client}, mc.Backups...)
}

func maybeDataErr(err error) error {
	var d rpc.DataError
	if errors.As(err, &d) {
		return fmt.Errorf("%s: %v", d.Error(), d.ErrorData())
	}

	return err
}

func atLeastOne(n uint) uint {
	if n == 0 {
		return 1
	}

	return n
}
