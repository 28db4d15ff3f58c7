package deployer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm"
)

type (
	// PreValidateFunc inspects the artifact and arguments before anything is built.
	PreValidateFunc func(ctx context.Context, d *Deployer, artifact Artifact, args []any) error
	// BuildTxFunc encodes the constructor call and resolves the transaction defaults.
	BuildTxFunc func(ctx context.Context, d *Deployer, artifact Artifact, args []any) (*DeployTx, error)
	// ApplyOverridesFunc applies the deployer overrides to a built transaction.
	ApplyOverridesFunc func(ctx context.Context, d *Deployer, tx *DeployTx) (*DeployTx, error)
	// SubmitFunc signs and sends the transaction.
	SubmitFunc func(ctx context.Context, d *Deployer, tx *DeployTx) (*types.Transaction, error)
	// AwaitInclusionFunc blocks until the transaction is included in a block.
	AwaitInclusionFunc func(ctx context.Context, d *Deployer, tx *types.Transaction) error
	// FetchReceiptFunc returns the receipt of an included transaction.
	FetchReceiptFunc func(ctx context.Context, d *Deployer, tx *types.Transaction) (*types.Receipt, error)
	// PostValidateFunc checks that the receipt describes a successful deployment.
	PostValidateFunc func(ctx context.Context, d *Deployer, tx *types.Transaction, receipt *types.Receipt) error
	// ProduceResultFunc turns a validated receipt into the deployment result.
	ProduceResultFunc func(ctx context.Context, d *Deployer, artifact Artifact, receipt *types.Receipt) (*Result, error)
)

// Steps are the stages of a deployment, run in field order. A nil field runs the default
// implementation, so a variant only sets the stages it wants to replace.
type Steps struct {
	PreValidate    PreValidateFunc
	BuildTx        BuildTxFunc
	ApplyOverrides ApplyOverridesFunc
	Submit         SubmitFunc
	AwaitInclusion AwaitInclusionFunc
	FetchReceipt   FetchReceiptFunc
	PostValidate   PostValidateFunc
	ProduceResult  ProduceResultFunc
}

// withDefaults returns a copy of s where every nil stage is replaced by its default.
func (s Steps) withDefaults() Steps {
	if s.PreValidate == nil {
		s.PreValidate = DefaultPreValidate
	}
	if s.BuildTx == nil {
		s.BuildTx = DefaultBuildTx
	}
	if s.ApplyOverrides == nil {
		s.ApplyOverrides = DefaultApplyOverrides
	}
	if s.Submit == nil {
		s.Submit = DefaultSubmit
	}
	if s.AwaitInclusion == nil {
		s.AwaitInclusion = DefaultAwaitInclusion
	}
	if s.FetchReceipt == nil {
		s.FetchReceipt = DefaultFetchReceipt
	}
	if s.PostValidate == nil {
		s.PostValidate = DefaultPostValidate
	}
	if s.ProduceResult == nil {
		s.ProduceResult = DefaultProduceResult
	}

	return s
}

// DefaultPreValidate logs what is about to be deployed. It performs no checks: the bytecode and
// argument types are checked by BuildTx when they are encoded.
func DefaultPreValidate(_ context.Context, d *Deployer, artifact Artifact, args []any) error {
	d.lggr.Infow("Deploying contract",
		"contract", artifact.Name,
		"version", versionString(artifact),
		"args", args,
		"chain", d.chainName(),
	)

	return nil
}

// DefaultBuildTx encodes the constructor arguments and fills in nonce, gas price and gas limit.
// Values set on the identity take precedence over the ones queried from the client.
func DefaultBuildTx(ctx context.Context, d *Deployer, artifact Artifact, args []any) (*DeployTx, error) {
	if len(artifact.Bytecode) == 0 {
		return nil, fmt.Errorf("%w: %s has no bytecode", ErrEncoding, artifact.Name)
	}

	data, err := artifact.DeployData(args...)
	if err != nil {
		return nil, err
	}

	opts := d.identity
	tx := &DeployTx{
		From:     opts.From,
		GasLimit: opts.GasLimit,
		Value:    new(big.Int),
		Data:     data,
	}
	if opts.Value != nil {
		tx.Value.Set(opts.Value)
	}

	if opts.Nonce != nil {
		tx.Nonce = opts.Nonce.Uint64()
	} else {
		tx.Nonce, err = d.client.PendingNonceAt(ctx, opts.From)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get nonce for %s: %w", ErrBuildTx, opts.From.Hex(), err)
		}
	}

	if opts.GasPrice != nil {
		tx.GasPrice = new(big.Int).Set(opts.GasPrice)
	} else {
		tx.GasPrice, err = d.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to suggest gas price: %w", ErrBuildTx, err)
		}
	}

	if tx.GasLimit == 0 {
		tx.GasLimit, err = d.client.EstimateGas(ctx, ethereum.CallMsg{
			From:     tx.From,
			GasPrice: tx.GasPrice,
			Value:    tx.Value,
			Data:     tx.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to estimate gas: %w", ErrBuildTx, err)
		}
	}

	d.lggr.Debugw("Built deploy transaction",
		"contract", artifact.Name,
		"nonce", tx.Nonce,
		"gasPrice", tx.GasPrice,
		"gasLimit", tx.GasLimit,
	)

	return tx, nil
}

// DefaultApplyOverrides replaces the gas price and then the gas limit when the corresponding
// override is set. The input is never modified: a copy is returned when something changes, and
// the same transaction otherwise.
func DefaultApplyOverrides(_ context.Context, d *Deployer, tx *DeployTx) (*DeployTx, error) {
	o := d.overrides
	if !o.hasGasPrice() && !o.hasGasLimit() {
		return tx, nil
	}

	out := tx.Clone()
	if o.hasGasPrice() {
		out.GasPrice = new(big.Int).Set(o.GasPrice)
	}
	if o.hasGasLimit() {
		out.GasLimit = o.GasLimit
	}

	d.lggr.Debugw("Applied overrides", "gasPrice", out.GasPrice, "gasLimit", out.GasLimit)

	return out, nil
}

// DefaultSubmit signs the transaction with the identity and sends it to the network.
func DefaultSubmit(ctx context.Context, d *Deployer, tx *DeployTx) (*types.Transaction, error) {
	signed, err := d.identity.Signer(d.identity.From, tx.Transaction())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to sign transaction: %w", ErrSubmission, err)
	}

	if err = d.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	d.lggr.Infow("Submitted deploy transaction", "txHash", signed.Hash().Hex(), "nonce", signed.Nonce())

	return signed, nil
}

// DefaultAwaitInclusion polls for the receipt every tick interval until the confirm timeout
// elapses.
func DefaultAwaitInclusion(ctx context.Context, d *Deployer, tx *types.Transaction) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, d.confirmTimeout)
	defer cancel()

	if _, err := evm.WaitMinedWithInterval(ctxTimeout, d.tickInterval, d.client, tx.Hash()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: tx %s after %s: %w", ErrTimeout, tx.Hash().Hex(), d.confirmTimeout, err)
		}

		return fmt.Errorf("failed to wait for tx %s: %w", tx.Hash().Hex(), err)
	}

	return nil
}

// DefaultFetchReceipt queries the receipt of the included transaction.
func DefaultFetchReceipt(ctx context.Context, d *Deployer, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := d.client.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get receipt for tx %s: %w", ErrSubmission, tx.Hash().Hex(), err)
	}

	return receipt, nil
}

// DefaultPostValidate fails when the receipt reports a reverted transaction, including the revert
// reason when the node can replay it, or when no code exists at the contract address.
func DefaultPostValidate(ctx context.Context, d *Deployer, tx *types.Transaction, receipt *types.Receipt) error {
	if receipt.Status == types.ReceiptStatusFailed {
		reason, err := evm.ErrorReasonFromTx(ctx, d.client, d.identity.From, tx, receipt)
		if err != nil {
			d.lggr.Debugw("Failed to get revert reason", "txHash", tx.Hash().Hex(), "err", err)
			reason = ""
		}

		d.lggr.Errorw("Deployment reverted", "txHash", tx.Hash().Hex(), "reason", reason)

		return &RevertError{TxHash: tx.Hash(), Reason: reason}
	}

	code, err := d.client.CodeAt(ctx, receipt.ContractAddress, nil)
	if err != nil {
		return fmt.Errorf("failed to get code at %s: %w", receipt.ContractAddress.Hex(), err)
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCode, receipt.ContractAddress.Hex())
	}

	return nil
}

// DefaultProduceResult logs the deployed address and returns the result.
func DefaultProduceResult(_ context.Context, d *Deployer, artifact Artifact, receipt *types.Receipt) (*Result, error) {
	res := &Result{
		Contract: artifact.Name,
		Address:  receipt.ContractAddress,
		TxHash:   receipt.TxHash,
		GasUsed:  receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}

	d.lggr.Infow("Contract deployed",
		"contract", artifact.Name,
		"address", res.Address.Hex(),
		"txHash", res.TxHash.Hex(),
		"block", res.BlockNumber,
	)

	return res, nil
}

func versionString(a Artifact) string {
	if a.Version == nil {
		return ""
	}

	return a.Version.String()
}
