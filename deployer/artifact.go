package deployer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is the compiled description of a contract to deploy. It is produced by the build
// step (solc, Foundry, Hardhat) and is never mutated by the deployer.
type Artifact struct {
	// Name is a human readable contract name used in logs and results.
	Name string
	// ABI is the parsed contract ABI. Only the constructor is used for deployment.
	ABI abi.ABI
	// Bytecode is the contract creation code.
	Bytecode []byte
	// Version is optional metadata describing the contract version.
	Version *semver.Version
}

// NewArtifact builds an Artifact from a JSON ABI and hex encoded creation bytecode.
func NewArtifact(name, abiJSON, bytecodeHex string) (Artifact, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to parse ABI for %s: %w", name, err)
	}

	bytecode, err := decodeBytecode(bytecodeHex)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to decode bytecode for %s: %w", name, err)
	}

	return Artifact{
		Name:     name,
		ABI:      parsed,
		Bytecode: bytecode,
	}, nil
}

// String returns "<name> <version>" or just the name when no version is known.
func (a Artifact) String() string {
	if a.Version == nil {
		return a.Name
	}

	return fmt.Sprintf("%s %s", a.Name, a.Version.String())
}

// DeployData returns the creation code followed by the ABI encoded constructor arguments.
func (a Artifact) DeployData(args ...any) ([]byte, error) {
	input, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoding, a.Name, err)
	}

	return append(slices.Clone(a.Bytecode), input...), nil
}

// rawArtifact covers the artifact layouts emitted by the common toolchains:
//
//	Foundry: {"abi": [...], "bytecode": {"object": "0x..."}}
//	Hardhat: {"contractName": "Token", "abi": [...], "bytecode": "0x..."}
//	solc:    {"abi": [...], "bin": "..."}
type rawArtifact struct {
	ContractName string          `json:"contractName"`
	Version      string          `json:"version"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
	Bin          string          `json:"bin"`
}

// LoadArtifact reads a compiled contract artifact from a JSON file. When the file does not name
// the contract, the file name without extension is used.
func LoadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to read artifact: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return ParseArtifact(name, data)
}

// ParseArtifact parses a compiled contract artifact. defaultName is used when the artifact does
// not carry a contract name.
func ParseArtifact(defaultName string, data []byte) (Artifact, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return Artifact{}, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}

	name := raw.ContractName
	if name == "" {
		name = defaultName
	}

	if len(raw.ABI) == 0 || bytes.Equal(raw.ABI, []byte("null")) {
		return Artifact{}, fmt.Errorf("artifact %s has no abi", name)
	}

	bytecodeHex, err := raw.bytecodeHex()
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact %s: %w", name, err)
	}

	artifact, err := NewArtifact(name, string(raw.ABI), bytecodeHex)
	if err != nil {
		return Artifact{}, err
	}

	if raw.Version != "" {
		v, err := semver.NewVersion(raw.Version)
		if err != nil {
			return Artifact{}, fmt.Errorf("artifact %s has invalid version %q: %w", name, raw.Version, err)
		}
		artifact.Version = v
	}

	return artifact, nil
}

func (r rawArtifact) bytecodeHex() (string, error) {
	if len(r.Bytecode) > 0 && !bytes.Equal(r.Bytecode, []byte("null")) {
		var s string
		if err := json.Unmarshal(r.Bytecode, &s); err == nil {
			return s, nil
		}

		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(r.Bytecode, &obj); err != nil {
			return "", fmt.Errorf("unsupported bytecode format: %w", err)
		}
		if obj.Object != "" {
			return obj.Object, nil
		}
	}

	if r.Bin != "" {
		return r.Bin, nil
	}

	return "", errors.New("no bytecode found")
}

func decodeBytecode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}

	return hexutil.Decode(s)
}

// ParseArgs converts string arguments into Go values matching the constructor inputs of the
// artifact, in order. It is used by the CLI where arguments arrive as text.
func ParseArgs(artifact Artifact, args []string) ([]any, error) {
	inputs := artifact.ABI.Constructor.Inputs
	if len(args) != len(inputs) {
		return nil, fmt.Errorf("%w: %s constructor takes %d arguments, got %d",
			ErrEncoding, artifact.Name, len(inputs), len(args),
		)
	}

	values := make([]any, 0, len(args))
	for i, input := range inputs {
		v, err := parseArg(input.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d (%s %s): %w",
				ErrEncoding, i, input.Type.String(), input.Name, err,
			)
		}

		values = append(values, v)
	}

	return values, nil
}

func parseArg(t abi.Type, s string) (any, error) {
	switch t.T {
	case abi.IntTy, abi.UintTy:
		return parseInteger(t, s)
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}

		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))

		return arr.Interface(), nil
	default:
		return nil, fmt.Errorf("unsupported argument type %s", t.String())
	}
}

func parseInteger(t abi.Type, s string) (any, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}

	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s for unsigned type", s)
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("value %s overflows %s", s, t.String())
		}
	} else if n.BitLen() > t.Size-1 && !isMinSigned(n, t.Size) {
		return nil, fmt.Errorf("value %s overflows %s", s, t.String())
	}

	goType := t.GetType()
	if goType == reflect.TypeOf(&big.Int{}) {
		return n, nil
	}

	v := reflect.New(goType).Elem()
	if t.T == abi.UintTy {
		v.SetUint(n.Uint64())
	} else {
		v.SetInt(n.Int64())
	}

	return v.Interface(), nil
}

// isMinSigned reports whether n is exactly -2^(size-1), the one value whose bit length equals
// the type size.
func isMinSigned(n *big.Int, size int) bool {
	minVal := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(size-1)))

	return n.Cmp(minVal) == 0
}
