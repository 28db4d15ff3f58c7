package provider

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignerGenerator produces the signing identity used to deploy contracts.
type SignerGenerator interface {
	Generate(chainID *big.Int) (*bind.TransactOpts, error)
}

var (
	_ SignerGenerator = (*rawKeySigner)(nil)
	_ SignerGenerator = (*randomSigner)(nil)
	_ SignerGenerator = (*kmsSignerGenerator)(nil)
)

// SignerOption configures the identities produced by a SignerGenerator.
type SignerOption func(*signerOptions)

type signerOptions struct {
	gasLimit uint64
}

// WithGasLimit fixes the gas limit on the generated identity, which disables gas estimation for
// every deployment signed with it.
func WithGasLimit(gasLimit uint64) SignerOption {
	return func(o *signerOptions) {
		o.gasLimit = gasLimit
	}
}

func applySignerOptions(opts []SignerOption) signerOptions {
	var o signerOptions
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// SignerFromRawKey returns a SignerGenerator for a hex encoded secp256k1 private key. A 0x prefix
// is accepted.
func SignerFromRawKey(privKey string, opts ...SignerOption) SignerGenerator {
	return &rawKeySigner{
		privKey: strings.TrimPrefix(privKey, "0x"),
		opts:    applySignerOptions(opts),
	}
}

type rawKeySigner struct {
	privKey string
	opts    signerOptions
}

func (g *rawKeySigner) key() (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(g.privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key to ECDSA: %w", err)
	}

	return key, nil
}

// Generate parses the private key and returns the identity for chainID.
func (g *rawKeySigner) Generate(chainID *big.Int) (*bind.TransactOpts, error) {
	key, err := g.key()
	if err != nil {
		return nil, err
	}

	return newKeyedIdentity(key, chainID, g.opts)
}

// SignerRandom returns a SignerGenerator backed by a random key. The key is generated on first
// use and reused afterwards, so every generated identity has the same address.
func SignerRandom(opts ...SignerOption) SignerGenerator {
	return &randomSigner{opts: applySignerOptions(opts)}
}

type randomSigner struct {
	opts signerOptions

	mu      sync.Mutex
	privKey *ecdsa.PrivateKey
}

func (g *randomSigner) key() (*ecdsa.PrivateKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.privKey == nil {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate random private key: %w", err)
		}
		g.privKey = key
	}

	return g.privKey, nil
}

// Generate returns the identity of the random key for chainID.
func (g *randomSigner) Generate(chainID *big.Int) (*bind.TransactOpts, error) {
	key, err := g.key()
	if err != nil {
		return nil, err
	}

	return newKeyedIdentity(key, chainID, g.opts)
}

// SignerFromKMS returns a SignerGenerator backed by an AWS KMS key. awsProfile may be empty to
// resolve AWS credentials from the environment.
func SignerFromKMS(keyID, keyRegion, awsProfile string, opts ...SignerOption) (SignerGenerator, error) {
	signer, err := NewKMSSigner(keyID, keyRegion, awsProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS signer: %w", err)
	}

	return SignerFromKMSSigner(signer, opts...), nil
}

// SignerFromKMSSigner returns a SignerGenerator for an existing KMSSigner.
func SignerFromKMSSigner(signer *KMSSigner, opts ...SignerOption) SignerGenerator {
	return &kmsSignerGenerator{
		signer: signer,
		opts:   applySignerOptions(opts),
	}
}

type kmsSignerGenerator struct {
	signer *KMSSigner
	opts   signerOptions
}

// Generate fetches the KMS public key and returns an identity which signs through KMS.
func (g *kmsSignerGenerator) Generate(chainID *big.Int) (*bind.TransactOpts, error) {
	identity, err := g.signer.GetTransactOpts(context.Background(), chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transact opts from KMS signer: %w", err)
	}
	identity.GasLimit = g.opts.gasLimit

	return identity, nil
}

func newKeyedIdentity(key *ecdsa.PrivateKey, chainID *big.Int, opts signerOptions) (*bind.TransactOpts, error) {
	identity, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}
	identity.GasLimit = opts.gasLimit

	return identity, nil
}
