package deployer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm"
	"github.com/smartcontractkit/chainlink-evm-deployer/pkg/logger"
)

const (
	// DefaultConfirmTimeout bounds how long Deploy waits for the transaction to be included.
	DefaultConfirmTimeout = 5 * time.Minute
	// DefaultTickInterval is how often the receipt is polled while waiting for inclusion.
	DefaultTickInterval = time.Second
)

// Client is the chain client used by the Deployer. Any evm.OnchainClient satisfies it.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Client = (evm.OnchainClient)(nil)

// Deployer deploys contracts from a single signing identity through a single client. It is
// immutable after construction and safe for concurrent use; nonce arbitration between
// concurrent deployments is left to the client and the identity.
type Deployer struct {
	identity *bind.TransactOpts
	client   Client

	overrides      Overrides
	steps          Steps
	lggr           logger.Logger
	confirmTimeout time.Duration
	tickInterval   time.Duration
	chainSelector  uint64
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithOverrides sets the gas price and gas limit overrides applied to every deployment.
func WithOverrides(o Overrides) Option {
	return func(d *Deployer) {
		if o.GasPrice != nil {
			o.GasPrice = new(big.Int).Set(o.GasPrice)
		}
		d.overrides = o
	}
}

// WithLogger sets the logger which receives deployment progress.
func WithLogger(lggr logger.Logger) Option {
	return func(d *Deployer) {
		d.lggr = lggr
	}
}

// WithSteps replaces some of the deployment stages. Nil stages keep their default.
func WithSteps(s Steps) Option {
	return func(d *Deployer) {
		d.steps = s
	}
}

// WithConfirmTimeout sets how long to wait for the deploy transaction to be included.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(d *Deployer) {
		d.confirmTimeout = timeout
	}
}

// WithTickInterval sets how often the receipt is polled while waiting for inclusion.
func WithTickInterval(tick time.Duration) Option {
	return func(d *Deployer) {
		d.tickInterval = tick
	}
}

// WithChainSelector names the target chain in log lines.
func WithChainSelector(selector uint64) Option {
	return func(d *Deployer) {
		d.chainSelector = selector
	}
}

// New returns a Deployer signing with identity and talking to the network through client.
// The identity is checked before anything else; no client call is made by New.
func New(identity *bind.TransactOpts, client Client, opts ...Option) (*Deployer, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("client is required")
	}

	d := &Deployer{
		identity:       identity,
		client:         client,
		lggr:           logger.Nop(),
		confirmTimeout: DefaultConfirmTimeout,
		tickInterval:   DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.confirmTimeout <= 0 {
		return nil, fmt.Errorf("confirm timeout must be positive, got %s", d.confirmTimeout)
	}
	if d.tickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %s", d.tickInterval)
	}

	d.lggr = d.lggr.Named("deployer")
	d.steps = d.steps.withDefaults()

	return d, nil
}

// NewFromChain returns a Deployer for the deployer key and client of chain.
func NewFromChain(chain evm.Chain, opts ...Option) (*Deployer, error) {
	return New(chain.DeployerKey, chain.Client, append([]Option{WithChainSelector(chain.Selector)}, opts...)...)
}

func validateIdentity(identity *bind.TransactOpts) error {
	switch {
	case identity == nil:
		return fmt.Errorf("%w: identity is nil", ErrInvalidIdentity)
	case identity.Signer == nil:
		return fmt.Errorf("%w: identity has no signer", ErrInvalidIdentity)
	case identity.From == (common.Address{}):
		return fmt.Errorf("%w: identity has no from address", ErrInvalidIdentity)
	}

	return nil
}

// From returns the address deployments are sent from.
func (d *Deployer) From() common.Address {
	return d.identity.From
}

// Identity returns the signing identity. Custom stages must not modify it.
func (d *Deployer) Identity() *bind.TransactOpts {
	return d.identity
}

// Client returns the chain client.
func (d *Deployer) Client() Client {
	return d.client
}

// Overrides returns a copy of the configured overrides.
func (d *Deployer) Overrides() Overrides {
	o := d.overrides
	if o.GasPrice != nil {
		o.GasPrice = new(big.Int).Set(o.GasPrice)
	}

	return o
}

// Logger returns the deployer logger, for use by custom stages.
func (d *Deployer) Logger() logger.Logger {
	return d.lggr
}

func (d *Deployer) chainName() string {
	if d.chainSelector == 0 {
		return ""
	}

	return evm.ChainName(d.chainSelector)
}

// Deploy deploys artifact with the given constructor arguments and returns the deployed address
// once the deployment is included and validated. Exactly one transaction is submitted; errors are
// returned as they occur and nothing is retried.
func (d *Deployer) Deploy(ctx context.Context, artifact Artifact, args ...any) (*Result, error) {
	s := d.steps

	if err := s.PreValidate(ctx, d, artifact, args); err != nil {
		return nil, err
	}

	built, err := s.BuildTx(ctx, d, artifact, args)
	if err != nil {
		return nil, err
	}

	final, err := s.ApplyOverrides(ctx, d, built)
	if err != nil {
		return nil, err
	}

	tx, err := s.Submit(ctx, d, final)
	if err != nil {
		d.lggr.Errorw("Failed to submit deploy transaction", "contract", artifact.Name, "err", err)
		return nil, err
	}

	if err = s.AwaitInclusion(ctx, d, tx); err != nil {
		d.lggr.Errorw("Deploy transaction not included", "contract", artifact.Name, "txHash", tx.Hash().Hex(), "err", err)
		return nil, err
	}

	receipt, err := s.FetchReceipt(ctx, d, tx)
	if err != nil {
		return nil, err
	}

	if err = s.PostValidate(ctx, d, tx, receipt); err != nil {
		return nil, err
	}

	return s.ProduceResult(ctx, d, artifact, receipt)
}
