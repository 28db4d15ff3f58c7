package deployer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
)

const (
	// tokenABI declares constructor(uint256) and a totalSupply() view.
	tokenABI = `[
		{"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"initialSupply","type":"uint256"}]},
		{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`

	// tokenBytecode stores the first constructor argument in slot 0. The deployed code returns
	// slot 0 for any call, which makes totalSupply() return the constructor argument.
	tokenBytecode = "0x60206024600039600051600055600b6019600039600b6000f360005460005260206000f3"

	// revertBytecode reverts in the constructor.
	revertBytecode = "0x60006000fd"
)

// testChainID is the chain id of the go-ethereum simulated backend.
var testChainID = params.AllDevChainProtocolChanges.ChainID

// newTokenArtifact returns the Token test artifact.
func newTokenArtifact(t *testing.T) Artifact {
	t.Helper()

	a, err := NewArtifact("Token", tokenABI, tokenBytecode)
	require.NoError(t, err)

	return a
}

// newRevertArtifact returns an artifact with the Token ABI whose constructor always reverts.
func newRevertArtifact(t *testing.T) Artifact {
	t.Helper()

	a, err := NewArtifact("Reverter", tokenABI, revertBytecode)
	require.NoError(t, err)

	return a
}

// newTestIdentity returns a signing identity backed by a freshly generated key.
func newTestIdentity(t *testing.T) *bind.TransactOpts {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	opts, err := bind.NewKeyedTransactorWithChainID(key, testChainID)
	require.NoError(t, err)

	return opts
}

func bigInt(v int64) *big.Int {
	return big.NewInt(v)
}
