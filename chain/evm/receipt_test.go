package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callerFunc adapts a function to the ContractCaller interface.
type callerFunc func(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

func (f callerFunc) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f(ctx, call, blockNumber)
}

// receiptFetcherFunc adapts a function to the ReceiptFetcher interface.
type receiptFetcherFunc func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

func (f receiptFetcherFunc) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return f(ctx, txHash)
}

// receiptAfter returns a ReceiptFetcher which reports ethereum.NotFound for the first n calls.
type receiptAfter struct {
	n     int32
	calls atomic.Int32
}

func (r *receiptAfter) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r.calls.Add(1) <= r.n {
		return nil, ethereum.NotFound
	}

	return &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful}, nil
}

func Test_WaitMinedWithInterval(t *testing.T) {
	t.Parallel()

	hash := common.HexToHash("0x01")

	t.Run("returns receipt once available", func(t *testing.T) {
		t.Parallel()

		fetcher := &receiptAfter{n: 2}
		got, err := WaitMinedWithInterval(t.Context(), time.Millisecond, fetcher, hash)
		require.NoError(t, err)
		assert.Equal(t, hash, got.TxHash)
		assert.Equal(t, int32(3), fetcher.calls.Load())
	})

	t.Run("gives up when the context expires", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()

		_, err := WaitMinedWithInterval(ctx, time.Millisecond, &receiptAfter{n: 1 << 30}, hash)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.NotContains(t, err.Error(), "last receipt error")
	})

	t.Run("reports the last lookup error when the context expires", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()

		authErr := errors.New("401 Unauthorized")
		var calls atomic.Int32
		fetcher := receiptFetcherFunc(func(context.Context, common.Hash) (*types.Receipt, error) {
			if calls.Add(1)%2 == 0 {
				return nil, ethereum.NotFound
			}

			return nil, authErr
		})

		_, err := WaitMinedWithInterval(ctx, time.Millisecond, fetcher, hash)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.ErrorIs(t, err, authErr)
		assert.Greater(t, calls.Load(), int32(1), "lookup errors must not stop the polling")
	})
}

func Test_ErrorReasonFromTx(t *testing.T) {
	t.Parallel()

	tx := types.NewContractCreation(1, big.NewInt(0), 100000, big.NewInt(1), []byte{0xde, 0xad})

	tests := []struct {
		name       string
		giveCaller ContractCaller
		wantReason string
		wantErr    string
	}{
		{
			name: "no transaction error",
			giveCaller: callerFunc(func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
				return []byte{}, nil
			}),
			wantErr: "reverted with no reason",
		},
		{
			name: "transaction error with reason",
			giveCaller: callerFunc(func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
				return nil, &jsonError{Code: 3, Message: "execution reverted", Data: "0x08c379a0"}
			}),
			wantReason: "0x08c379a0",
		},
		{
			name: "non json error falls back to the message",
			giveCaller: callerFunc(func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
				return nil, errors.New("execution reverted")
			}),
			wantReason: "execution reverted",
		},
		{
			name: "replays the deployment as a creation call",
			giveCaller: callerFunc(func(_ context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
				if call.To != nil || block.Int64() != 7 {
					return nil, nil
				}

				return nil, errors.New("creation replayed")
			}),
			wantReason: "creation replayed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ErrorReasonFromTx(
				t.Context(), tt.giveCaller, common.HexToAddress("0x123"), tx,
				&types.Receipt{BlockNumber: big.NewInt(7)},
			)

			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantReason, got)
			}
		})
	}
}

func Test_getJSONErrorData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    error
		want    string
		wantErr string
	}{
		{
			name: "valid error",
			give: &jsonError{
				Code:    100,
				Message: "execution reverted",
				Data:    "0x12345678",
			},
			want: "0x12345678",
		},
		{
			name:    "nil error",
			give:    nil,
			wantErr: "cannot parse nil error",
		},
		{
			name:    "invalid error type",
			give:    errors.New("invalid"),
			wantErr: "error must be of type jsonError",
		},
		{
			name: "trie error",
			give: &jsonError{
				Code:    -32000,
				Message: "missing trie node",
				Data:    []byte{},
			},
			wantErr: "missing trie node",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := getJSONErrorData(tt.give)

			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// jsonError mirrors the private rpc.jsonError type of go-ethereum.
type jsonError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (err *jsonError) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("json-rpc error %d", err.Code)
	}

	return err.Message
}

func (err *jsonError) ErrorCode() int {
	return err.Code
}

func (err *jsonError) ErrorData() any {
	return err.Data
}
