// Package config loads the deployer configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm"
	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm/provider"
	"github.com/smartcontractkit/chainlink-evm-deployer/chain/evm/provider/rpcclient"
	"github.com/smartcontractkit/chainlink-evm-deployer/deployer"
)

// RPCConfig is a single RPC endpoint of the chain.
type RPCConfig struct {
	Name               string `mapstructure:"name" yaml:"name"`
	HTTPURL            string `mapstructure:"http_url" yaml:"http_url"`
	WSURL              string `mapstructure:"ws_url" yaml:"ws_url"`
	PreferredURLScheme string `mapstructure:"preferred_url_scheme" yaml:"preferred_url_scheme"` // One of "http", "ws" or empty
}

// ChainConfig identifies the chain to deploy to and how to reach it.
type ChainConfig struct {
	Selector uint64      `mapstructure:"selector" yaml:"selector"` // The chain-selectors selector of the chain
	RPCs     []RPCConfig `mapstructure:"rpcs" yaml:"rpcs"`         // Ordered RPCs, later entries are backups
	RPCURL   string      `mapstructure:"rpc_url" yaml:"rpc_url"`   // A single HTTP(S) or WS(S) URL, appended after RPCs
}

// KMSConfig is the configuration for the AWS KMS deployer key.
//
// WARNING: This data type contains sensitive fields and should not be logged.
type KMSConfig struct {
	KeyID      string `mapstructure:"key_id" yaml:"key_id"`           // Secret: AWS KMS Key ID
	KeyRegion  string `mapstructure:"key_region" yaml:"key_region"`   // Secret: AWS KMS Key Region (e.g. us-west-1)
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"` // Optional named AWS profile
}

// SignerConfig selects the deployer identity. Exactly one of DeployerKey and KMS.KeyID must be
// set.
//
// WARNING: This data type contains sensitive fields and should not be logged or set in file
// configuration.
type SignerConfig struct {
	DeployerKey string    `mapstructure:"deployer_key" yaml:"deployer_key"` // Secret: Hex private key of the deployer account. Prefer KMS keys.
	KMS         KMSConfig `mapstructure:"kms" yaml:"kms"`
}

// DeployConfig holds the deployment overrides and timings.
type DeployConfig struct {
	GasPrice       string        `mapstructure:"gas_price" yaml:"gas_price"` // Decimal wei. Empty or <= 0 keeps the suggested price
	GasLimit       uint64        `mapstructure:"gas_limit" yaml:"gas_limit"` // 0 keeps the estimated limit
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	TickInterval   time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // A zap level: debug, info, warn, error
}

// Config wraps the entire configuration of the deployer.
type Config struct {
	Chain  ChainConfig  `mapstructure:"chain" yaml:"chain"`
	Signer SignerConfig `mapstructure:"signer" yaml:"signer"`
	Deploy DeployConfig `mapstructure:"deploy" yaml:"deploy"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// Load loads the config from the file path, falling back to env vars if the file does not exist.
// If the file exists, any env vars that are set will override the values loaded from the file.
func Load(filePath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filePath)

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
		}
	}

	return unmarshal(v)
}

// LoadEnv loads the config from the environment variables only.
func LoadEnv() (*Config, error) {
	v := newViper()

	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("deploy.confirm_timeout", deployer.DefaultConfirmTimeout)
	v.SetDefault("deploy.tick_interval", deployer.DefaultTickInterval)
	v.SetDefault("log.level", "info")

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

var (
	// envBindings maps a config key to the environment variables that can provide its value. The
	// first name is preferred, later ones are legacy names kept for compatibility. Viper uses the
	// first one that is set.
	envBindings = map[string][]string{
		"chain.selector":         {"DEPLOYER_CHAIN_SELECTOR"},
		"chain.rpc_url":          {"DEPLOYER_RPC_URL"},
		"signer.deployer_key":    {"DEPLOYER_KEY", "TEST_WALLET_KEY"},
		"signer.kms.key_id":      {"DEPLOYER_KMS_KEY_ID", "KMS_DEPLOYER_KEY_ID"},
		"signer.kms.key_region":  {"DEPLOYER_KMS_KEY_REGION", "KMS_DEPLOYER_KEY_REGION"},
		"signer.kms.aws_profile": {"DEPLOYER_AWS_PROFILE"},
		"deploy.gas_price":       {"DEPLOYER_GAS_PRICE"},
		"deploy.gas_limit":       {"DEPLOYER_GAS_LIMIT"},
		"deploy.confirm_timeout": {"DEPLOYER_CONFIRM_TIMEOUT"},
		"deploy.tick_interval":   {"DEPLOYER_TICK_INTERVAL"},
		"log.level":              {"DEPLOYER_LOG_LEVEL"},
	}
)

// bindEnvs binds the environment variables to the viper instance.
func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(slices.Clone(envs), 0, key)

		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the config is complete enough to deploy: a chain selector, at least one RPC,
// exactly one signer source and well formed overrides.
func (c *Config) Validate() error {
	var errs []error

	if c.Chain.Selector == 0 {
		errs = append(errs, errors.New("chain.selector is required"))
	} else if _, err := evm.ChainIDFromSelector(c.Chain.Selector); err != nil {
		errs = append(errs, fmt.Errorf("chain.selector: %w", err))
	}
	if _, err := c.RPCs(); err != nil {
		errs = append(errs, err)
	}

	hasKey := c.Signer.DeployerKey != ""
	hasKMS := c.Signer.KMS.KeyID != ""
	switch {
	case hasKey && hasKMS:
		errs = append(errs, errors.New("only one of signer.deployer_key and signer.kms.key_id may be set"))
	case !hasKey && !hasKMS:
		errs = append(errs, errors.New("one of signer.deployer_key or signer.kms.key_id is required"))
	case hasKMS && c.Signer.KMS.KeyRegion == "":
		errs = append(errs, errors.New("signer.kms.key_region is required with signer.kms.key_id"))
	}

	if _, err := c.Overrides(); err != nil {
		errs = append(errs, err)
	}
	if c.Deploy.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("deploy.confirm_timeout must be positive"))
	}
	if c.Deploy.TickInterval <= 0 {
		errs = append(errs, errors.New("deploy.tick_interval must be positive"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// RPCs converts the configured endpoints into MultiClient RPCs. chain.rpc_url is appended last.
func (c *Config) RPCs() ([]rpcclient.RPC, error) {
	rpcs := make([]rpcclient.RPC, 0, len(c.Chain.RPCs)+1)
	for i, r := range c.Chain.RPCs {
		scheme, err := rpcclient.URLSchemePreferenceFromString(r.PreferredURLScheme)
		if err != nil {
			return nil, fmt.Errorf("chain.rpcs[%d]: %w", i, err)
		}
		if r.HTTPURL == "" && r.WSURL == "" {
			return nil, fmt.Errorf("chain.rpcs[%d]: one of http_url or ws_url is required", i)
		}

		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rpc-%d", i)
		}

		rpcs = append(rpcs, rpcclient.RPC{
			Name:               name,
			HTTPURL:            r.HTTPURL,
			WSURL:              r.WSURL,
			PreferredURLScheme: scheme,
		})
	}

	if c.Chain.RPCURL != "" {
		rpcs = append(rpcs, rpcFromURL(c.Chain.RPCURL))
	}

	if len(rpcs) == 0 {
		return nil, errors.New("at least one of chain.rpcs or chain.rpc_url is required")
	}

	return rpcs, nil
}

func rpcFromURL(url string) rpcclient.RPC {
	r := rpcclient.RPC{Name: "rpc_url"}
	if isWSURL(url) {
		r.WSURL = url
		r.PreferredURLScheme = rpcclient.URLSchemePreferenceWS
	} else {
		r.HTTPURL = url
		r.PreferredURLScheme = rpcclient.URLSchemePreferenceHTTP
	}

	return r
}

func isWSURL(url string) bool {
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}

// Overrides returns the gas overrides of the deploy section.
func (c *Config) Overrides() (deployer.Overrides, error) {
	overrides := deployer.Overrides{GasLimit: c.Deploy.GasLimit}

	if c.Deploy.GasPrice != "" {
		gasPrice, ok := new(big.Int).SetString(c.Deploy.GasPrice, 10)
		if !ok {
			return deployer.Overrides{}, fmt.Errorf("deploy.gas_price %q is not a decimal integer", c.Deploy.GasPrice)
		}
		overrides.GasPrice = gasPrice
	}

	return overrides, nil
}

// SignerGenerator returns the signer source selected by the signer section. A gas limit override
// is applied by the deployer, not the signer.
func (c *Config) SignerGenerator() (provider.SignerGenerator, error) {
	switch {
	case c.Signer.DeployerKey != "" && c.Signer.KMS.KeyID != "":
		return nil, errors.New("only one of signer.deployer_key and signer.kms.key_id may be set")
	case c.Signer.DeployerKey != "":
		return provider.SignerFromRawKey(c.Signer.DeployerKey), nil
	case c.Signer.KMS.KeyID != "":
		return provider.SignerFromKMS(c.Signer.KMS.KeyID, c.Signer.KMS.KeyRegion, c.Signer.KMS.AWSProfile)
	default:
		return nil, errors.New("no signer configured")
	}
}

// LogLevel parses log.level. An empty level is info.
func (c *Config) LogLevel() (zapcore.Level, error) {
	if c.Log.Level == "" {
		return zapcore.InfoLevel, nil
	}

	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log.level: %w", err)
	}

	return lvl, nil
}
