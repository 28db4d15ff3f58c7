package provider

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	kmslib "github.com/aws/aws-sdk-go/service/kms"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/internal/kms"
)

// KMSSigner signs deployment transactions with an AWS KMS secp256k1 key. The private key never
// leaves KMS: transaction hashes are sent to KMS and the DER signatures it returns are converted
// into recoverable EVM signatures.
type KMSSigner struct {
	client   kms.Client
	kmsKeyID string

	mu sync.Mutex
	// ecdsaPublicKey caches the public key once fetched from KMS.
	ecdsaPublicKey *ecdsa.PublicKey
}

// NewKMSSigner creates a KMSSigner for the given key. awsProfile may be empty to resolve AWS
// credentials from the environment.
func NewKMSSigner(keyID, keyRegion, awsProfile string) (*KMSSigner, error) {
	client, err := kms.NewClient(kms.ClientConfig{
		KeyID:      keyID,
		KeyRegion:  keyRegion,
		AWSProfile: awsProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KMS Client: %w", err)
	}

	return &KMSSigner{
		client:   client,
		kmsKeyID: keyID,
	}, nil
}

// GetECDSAPublicKey returns the public key of the KMS key, fetching it on first use.
func (s *KMSSigner) GetECDSAPublicKey() (*ecdsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ecdsaPublicKey != nil {
		return s.ecdsaPublicKey, nil
	}

	out, err := s.client.GetPublicKey(&kmslib.GetPublicKeyInput{
		KeyId: aws.String(s.kmsKeyID),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot get public key from KMS for KeyId=%s: %w", s.kmsKeyID, err)
	}

	var spki kms.SPKI
	if _, err = asn1.Unmarshal(out.PublicKey, &spki); err != nil {
		return nil, fmt.Errorf("cannot parse asn1 public key for KeyId=%s: %w", s.kmsKeyID, err)
	}

	pubKey, err := crypto.UnmarshalPubkey(spki.SubjectPublicKey.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cannot unmarshal public key bytes: %w", err)
	}
	s.ecdsaPublicKey = pubKey

	return pubKey, nil
}

// GetAddress returns the EVM address of the KMS key.
func (s *KMSSigner) GetAddress() (common.Address, error) {
	pubKey, err := s.GetECDSAPublicKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// GetTransactOpts returns a signing identity whose Signer signs through KMS.
func (s *KMSSigner) GetTransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	if chainID == nil {
		return nil, errors.New("chainID is required")
	}

	addr, err := s.GetAddress()
	if err != nil {
		return nil, err
	}

	return &bind.TransactOpts{
		From:    addr,
		Signer:  s.signerFunc(chainID),
		Context: ctx,
	}, nil
}

// signerFunc returns a bind.SignerFn which signs transactions for chainID with the KMS key.
func (s *KMSSigner) signerFunc(chainID *big.Int) bind.SignerFn {
	signer := types.LatestSignerForChainID(chainID)

	return func(address common.Address, tx *types.Transaction) (*types.Transaction, error) {
		pubKey, err := s.GetECDSAPublicKey()
		if err != nil {
			return nil, err
		}

		if address != crypto.PubkeyToAddress(*pubKey) {
			return nil, bind.ErrNotAuthorized
		}

		sig, err := s.sign(signer.Hash(tx).Bytes(), crypto.FromECDSAPub(pubKey))
		if err != nil {
			return nil, err
		}

		return tx.WithSignature(signer, sig)
	}
}

// sign asks KMS to sign digest and converts the result into an EVM signature recoverable to
// pubKeyBytes.
func (s *KMSSigner) sign(digest, pubKeyBytes []byte) ([]byte, error) {
	out, err := s.client.Sign(&kmslib.SignInput{
		KeyId:            aws.String(s.kmsKeyID),
		SigningAlgorithm: aws.String(kmslib.SigningAlgorithmSpecEcdsaSha256),
		MessageType:      aws.String(kmslib.MessageTypeDigest),
		Message:          digest,
	})
	if err != nil {
		return nil, fmt.Errorf("call to kms.Sign() failed: %w", err)
	}

	sig, err := kmsToEVMSig(out.Signature, pubKeyBytes, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to convert KMS signature to Ethereum signature: %w", err)
	}

	return sig, nil
}

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// kmsToEVMSig converts a DER encoded KMS signature into a 65 byte EVM signature. S is
// normalized to the lower half of the curve order (EIP-2) and the recovery id is found by
// trial recovery against the expected public key.
//
// See https://aws.amazon.com/blogs/database/part2-use-aws-kms-to-securely-manage-ethereum-accounts/
func kmsToEVMSig(kmsSig, pubKeyBytes, hash []byte) ([]byte, error) {
	var sig kms.ECDSASig
	if _, err := asn1.Unmarshal(kmsSig, &sig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal KMS signature: %w", err)
	}

	sBytes := sig.S.Bytes
	if sInt := new(big.Int).SetBytes(sBytes); sInt.Cmp(secp256k1HalfN) > 0 {
		sBytes = new(big.Int).Sub(secp256k1N, sInt).Bytes()
	}

	return recoverEVMSignature(pubKeyBytes, hash, sig.R.Bytes, sBytes)
}

// recoverEVMSignature builds [R || S || V] and returns it for the recovery id V in {0, 1} whose
// recovered public key equals expectedPublicKey.
func recoverEVMSignature(expectedPublicKey, hash, r, s []byte) ([]byte, error) {
	rs := append(padTo32Bytes(r), padTo32Bytes(s)...)

	for v := byte(0); v <= 1; v++ {
		sig := append(bytes.Clone(rs), v)

		recovered, err := crypto.Ecrecover(hash, sig)
		if err != nil {
			return nil, fmt.Errorf("failed to recover signature with v=%d: %w", v, err)
		}

		if bytes.Equal(recovered, expectedPublicKey) {
			return sig, nil
		}
	}

	return nil, errors.New("cannot reconstruct public key from sig")
}

// padTo32Bytes strips leading zeros from buffer and left pads it to 32 bytes.
func padTo32Bytes(buffer []byte) []byte {
	return common.LeftPadBytes(bytes.TrimLeft(buffer, "\x00"), 32)
}
