package deployer

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeClient is an in-memory Client. Every method call is counted; SendTransaction records the
// transaction and TransactionReceipt answers with receipt once pendingPolls lookups have missed.
type fakeClient struct {
	mu sync.Mutex

	nonce       uint64
	gasPrice    *big.Int
	gasEstimate uint64
	code        []byte

	// incrementNonce makes every PendingNonceAt call return the next nonce, like a node tracking
	// pending transactions.
	incrementNonce bool

	// receipt is returned for the sent transaction, with TxHash filled in. A nil receipt is never
	// found.
	receipt      *types.Receipt
	pendingPolls int

	// callErr is returned by CallContract, used to replay reverted transactions.
	callErr error

	nonceErr    error
	gasPriceErr error
	estimateErr error
	sendErr     error
	receiptErr  error
	codeErr     error

	calls   map[string]int
	sent    []*types.Transaction
	lookups int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		nonce:       7,
		gasPrice:    big.NewInt(20_000_000_000),
		gasEstimate: 210_000,
		code:        []byte{0x60, 0x00},
		receipt: &types.Receipt{
			Status:          types.ReceiptStatusSuccessful,
			ContractAddress: common.HexToAddress("0xABC0000000000000000000000000000000000001"),
			BlockNumber:     big.NewInt(42),
			GasUsed:         120_000,
		},
		calls: make(map[string]int),
	}
}

func (c *fakeClient) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
}

func (c *fakeClient) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, v := range c.calls {
		n += v
	}

	return n
}

func (c *fakeClient) callCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls[method]
}

func (c *fakeClient) sentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*types.Transaction(nil), c.sent...)
}

func (c *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.record("PendingNonceAt")

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce := c.nonce
	if c.incrementNonce {
		c.nonce++
	}

	return nonce, c.nonceErr
}

func (c *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.record("SuggestGasPrice")
	if c.gasPriceErr != nil {
		return nil, c.gasPriceErr
	}

	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	c.record("EstimateGas")
	return c.gasEstimate, c.estimateErr
}

func (c *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.record("SendTransaction")
	if c.sendErr != nil {
		return c.sendErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)

	return nil
}

func (c *fakeClient) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.record("TransactionReceipt")
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lookups++
	if c.receipt == nil || c.lookups <= c.pendingPolls {
		return nil, ethereum.NotFound
	}

	r := *c.receipt
	r.TxHash = txHash

	return &r, nil
}

func (c *fakeClient) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	c.record("CodeAt")
	return c.code, c.codeErr
}

func (c *fakeClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	c.record("CallContract")
	return nil, c.callErr
}
