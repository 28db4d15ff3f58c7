package deployer

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidIdentity is returned by New when the signing identity cannot sign transactions.
	ErrInvalidIdentity = errors.New("invalid signing identity")
	// ErrEncoding is returned when the constructor arguments do not match the ABI.
	ErrEncoding = errors.New("constructor arguments do not match the ABI")
	// ErrBuildTx is returned when the client could not provide the transaction defaults
	// (nonce, gas price, gas estimate).
	ErrBuildTx = errors.New("failed to build deploy transaction")
	// ErrSubmission is returned when the transaction could not be signed or was rejected by
	// the network.
	ErrSubmission = errors.New("failed to submit deploy transaction")
	// ErrTimeout is returned when the transaction was not included before the confirm timeout.
	ErrTimeout = errors.New("timed out waiting for deploy transaction")
	// ErrDeploymentReverted is returned when the deployment receipt reports a failure.
	ErrDeploymentReverted = errors.New("deployment reverted")
	// ErrNoCode is returned when a successful receipt points at an address without code.
	ErrNoCode = errors.New("no contract code after deployment")
)

// RevertError describes a deployment whose receipt reported a failed status.
type RevertError struct {
	TxHash common.Hash
	// Reason is the decoded revert data, if the node could provide it.
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("deployment reverted: tx %s", e.TxHash.Hex())
	}

	return fmt.Sprintf("deployment reverted: tx %s: %s", e.TxHash.Hex(), e.Reason)
}

// Unwrap allows errors.Is(err, ErrDeploymentReverted).
func (e *RevertError) Unwrap() error {
	return ErrDeploymentReverted
}
