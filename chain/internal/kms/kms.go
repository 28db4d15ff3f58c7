// Package kms wraps the AWS KMS API used to sign deployment transactions with a key that never
// leaves KMS.
package kms

import (
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	kmslib "github.com/aws/aws-sdk-go/service/kms"
)

// Client is the subset of the AWS KMS API needed to sign with an asymmetric secp256k1 key.
// *kms.KMS satisfies it.
type Client interface {
	GetPublicKey(input *kmslib.GetPublicKeyInput) (*kmslib.GetPublicKeyOutput, error)
	Sign(input *kmslib.SignInput) (*kmslib.SignOutput, error)
}

var _ Client = (*kmslib.KMS)(nil)

// ClientConfig identifies the KMS key and how to authenticate against AWS.
type ClientConfig struct {
	// KeyID is the ID or ARN of the ECC_SECG_P256K1 key.
	KeyID string
	// KeyRegion is the AWS region the key lives in.
	KeyRegion string
	// AWSProfile is an optional named profile from the shared AWS config. When empty, credentials
	// are resolved from the environment.
	AWSProfile string
}

func (c ClientConfig) validate() error {
	if c.KeyID == "" {
		return errors.New("KMS key ID is required")
	}
	if c.KeyRegion == "" {
		return errors.New("KMS key region is required")
	}

	return nil
}

// NewClient returns a KMS client for the region in config. No AWS call is made until the client
// is used.
func NewClient(config ClientConfig) (Client, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid KMS config: %w", err)
	}

	awsConfig := aws.Config{
		Region:                        aws.String(config.KeyRegion),
		CredentialsChainVerboseErrors: aws.Bool(true),
	}

	var (
		sess *session.Session
		err  error
	)
	if config.AWSProfile != "" {
		sess, err = session.NewSessionWithOptions(session.Options{
			Config:            awsConfig,
			Profile:           config.AWSProfile,
			SharedConfigState: session.SharedConfigEnable,
		})
	} else {
		sess, err = session.NewSession(&awsConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return kmslib.New(sess), nil
}

// SPKI is the ASN.1 SubjectPublicKeyInfo structure returned by KMS GetPublicKey.
type SPKI struct {
	AlgorithmIdentifier AlgorithmIdentifier
	SubjectPublicKey    asn1.BitString
}

// AlgorithmIdentifier identifies the key algorithm and curve of an SPKI.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

// ECDSASig is the ASN.1 DER ECDSA signature returned by KMS Sign.
type ECDSASig struct {
	R asn1.RawValue
	S asn1.RawValue
}
