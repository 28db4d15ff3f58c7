package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptFetcher is the subset of bind.DeployBackend needed to poll for receipts.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ContractCaller is an interface that defines the CallContract method. This is copied from the
// go-ethereum package method to limit the scope of dependencies provided to the functions.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// WaitMinedWithInterval polls for the receipt of txHash every tick until it is available or ctx
// is done. It allows getting receipts faster for networks with instant blocks, which the one
// second interval hardcoded in bind.WaitMined does not.
//
// Lookup errors other than ethereum.NotFound do not stop the polling, but the last one is wrapped
// into the error returned when ctx is done.
func WaitMinedWithInterval(
	ctx context.Context, tick time.Duration, b ReceiptFetcher, txHash common.Hash,
) (*types.Receipt, error) {
	queryTicker := time.NewTicker(tick)
	defer queryTicker.Stop()

	var lastErr error
	for {
		receipt, err := b.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("%w (last receipt error: %w)", ctx.Err(), lastErr)
			}

			return nil, ctx.Err()
		case <-queryTicker.C:
		}
	}
}

// ErrorReasonFromTx retrieves the revert reason of a mined transaction by replaying it with
// CallContract at the receipt's block. If the call reverts, it attempts to extract the error
// data from the returned error.
func ErrorReasonFromTx(
	ctx context.Context,
	caller ContractCaller,
	from common.Address,
	tx *types.Transaction,
	receipt *types.Receipt,
) (string, error) {
	call := ethereum.CallMsg{
		From:     from,
		To:       tx.To(),
		Data:     tx.Data(),
		Value:    tx.Value(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
	}

	if _, err := caller.CallContract(ctx, call, receipt.BlockNumber); err != nil {
		reason, perr := getJSONErrorData(err)

		// If the reason exists and we had no issues parsing it, we return it
		if perr == nil && reason != "" {
			return reason, nil
		}

		// Otherwise fall back to the original error from CallContract
		return err.Error(), nil
	}

	return "", fmt.Errorf("tx %s reverted with no reason", tx.Hash().Hex())
}

// getJSONErrorData extracts the error data from a JSON Error.
func getJSONErrorData(err error) (string, error) {
	if err == nil {
		return "", errors.New("cannot parse nil error")
	}

	// Matches the structure of the JSON error, which is a private type in go-ethereum.
	//
	// https://github.com/ethereum/go-ethereum/blob/0983cd789ee1905aedaed96f72793e5af8466f34/rpc/json.go#L140
	type jsonError interface {
		Error() string
		ErrorCode() int
		ErrorData() any
	}

	var jerr jsonError
	ok := errors.As(err, &jerr)
	if !ok {
		return "", fmt.Errorf("error must be of type jsonError: %w", err)
	}

	if jerr.ErrorData() == nil {
		if strings.Contains(jerr.Error(), "missing trie node") {
			return "", errors.New("missing trie node, likely due to not using an archive node")
		}

		return "", nil
	}

	data := fmt.Sprintf("%s", jerr.ErrorData())
	if data == "" && strings.Contains(jerr.Error(), "missing trie node") {
		return "", errors.New("missing trie node, likely due to not using an archive node")
	}

	return data, nil
}
