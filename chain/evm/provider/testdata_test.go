package provider

import (
	"crypto/ecdsa"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	chain_selectors "github.com/smartcontractkit/chain-selectors"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/internal/kms"
)

// Defines standard variables for a test chain.
var (
	testChainSelector = chain_selectors.TEST_1000.Selector
	testChainID       = chain_selectors.TEST_1000.EvmChainID
	testChainIDBig    = new(big.Int).SetUint64(testChainID)
)

// testPrivKeyHex is a throwaway secp256k1 key. Its address is testPrivKeyAddr.
const (
	testPrivKeyHex  = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	testPrivKeyAddr = "0x71562b71999873DB5b286dF957af199Ec94617F7"
)

// Variables used for testing the KMS signer.
var (
	testAWSProfile     = "default"
	testKMSKeyID       = "1234567-1234-1234-1234-123456789012"
	testKMSKeyRegion   = "ap-southeast-1"
	testKMSKeyIDAWSStr = aws.String(testKMSKeyID)
	// testKMSPublicKeyHex is a DER encoded SubjectPublicKeyInfo as returned by KMS GetPublicKey.
	testKMSPublicKeyHex = "3056301006072a8648ce3d020106052b8104000a034200043f20652b1dd7e8d448a1c9068247fae8940b70599df714a3947106c2411a7f1442ef26f3bb4ac7c5721177ea4a5c855317a25a4a01ae2d10f623c9f42de5d171"
)

var (
	oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

func testKMSPublicKey(t *testing.T) []byte {
	t.Helper()

	b, err := hex.DecodeString(testKMSPublicKeyHex)
	require.NoError(t, err)

	return b
}

func testECDSAPublicKey(t *testing.T) *ecdsa.PublicKey {
	t.Helper()

	var spki kms.SPKI
	_, err := asn1.Unmarshal(testKMSPublicKey(t), &spki)
	require.NoError(t, err)

	pubKey, err := crypto.UnmarshalPubkey(spki.SubjectPublicKey.Bytes)
	require.NoError(t, err)

	return pubKey
}

// localKMSKey stands in for a KMS key: it produces the DER encodings KMS returns for
// GetPublicKey and Sign, using a locally generated private key.
type localKMSKey struct {
	key *ecdsa.PrivateKey
}

func newLocalKMSKey(t *testing.T) *localKMSKey {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &localKMSKey{key: key}
}

func (k *localKMSKey) address() common.Address {
	return crypto.PubkeyToAddress(k.key.PublicKey)
}

// spki returns the DER SubjectPublicKeyInfo of the key.
func (k *localKMSKey) spki(t *testing.T) []byte {
	t.Helper()

	pub := crypto.FromECDSAPub(&k.key.PublicKey)
	der, err := asn1.Marshal(kms.SPKI{
		AlgorithmIdentifier: kms.AlgorithmIdentifier{
			Algorithm:  oidECPublicKey,
			Parameters: oidSecp256k1,
		},
		SubjectPublicKey: asn1.BitString{Bytes: pub, BitLength: len(pub) * 8},
	})
	require.NoError(t, err)

	return der
}

// derSig signs digest and returns the DER encoded (R, S) pair. With highS the S value is moved
// to the upper half of the curve order, which KMS is free to return.
func (k *localKMSKey) derSig(t *testing.T, digest []byte, highS bool) []byte {
	t.Helper()

	sig, err := crypto.Sign(digest, k.key)
	require.NoError(t, err)

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if highS {
		s = new(big.Int).Sub(crypto.S256().Params().N, s)
	}

	der, err := asn1.Marshal(struct {
		R, S *big.Int
	}{r, s})
	require.NoError(t, err)

	return der
}
