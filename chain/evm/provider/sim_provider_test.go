package provider

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SimChainProvider_Initialize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		giveConfig     SimChainProviderConfig
		wantBalance    *big.Int
		wantMinedBlock bool
	}{
		{
			name:        "default config",
			giveConfig:  SimChainProviderConfig{},
			wantBalance: defaultPrefundWei,
		},
		{
			name: "custom signer and prefund",
			giveConfig: SimChainProviderConfig{
				Signer:     SignerFromRawKey(testPrivKeyHex),
				PrefundWei: big.NewInt(1_000_000_000),
			},
			wantBalance: big.NewInt(1_000_000_000),
		},
		{
			name: "automated block mining",
			giveConfig: SimChainProviderConfig{
				BlockTime: 10 * time.Millisecond,
			},
			wantBalance:    defaultPrefundWei,
			wantMinedBlock: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewSimChainProvider(t, testChainSelector, tt.giveConfig)

			got, err := p.Initialize(t.Context())
			require.NoError(t, err)

			assert.Equal(t, testChainSelector, got.Selector)
			require.NotNil(t, got.DeployerKey)
			require.NotNil(t, got.Client)

			balance, err := got.Client.BalanceAt(t.Context(), got.DeployerKey.From, nil)
			require.NoError(t, err)
			assert.Equal(t, 0, tt.wantBalance.Cmp(balance))

			tx := types.NewTx(&types.LegacyTx{GasPrice: big.NewInt(1), Gas: 100_000, Data: []byte{0x00}})
			signed, err := got.DeployerKey.Signer(got.DeployerKey.From, tx)
			require.NoError(t, err)
			sender, err := types.Sender(types.LatestSignerForChainID(simChainID), signed)
			require.NoError(t, err)
			assert.Equal(t, got.DeployerKey.From, sender)

			if tt.wantMinedBlock {
				require.Eventually(t, func() bool {
					header, herr := got.Client.HeaderByNumber(t.Context(), nil)
					return herr == nil && header.Number.Uint64() > 1
				}, 5*time.Second, 10*time.Millisecond)
			}

			again, err := p.Initialize(t.Context())
			require.NoError(t, err)
			assert.Same(t, got.DeployerKey, again.DeployerKey)
		})
	}
}

func Test_SimChainProvider_Name(t *testing.T) {
	t.Parallel()

	p := NewSimChainProvider(t, testChainSelector, SimChainProviderConfig{})
	assert.Equal(t, "Simulated EVM Chain Provider", p.Name())
	assert.Equal(t, testChainSelector, p.ChainSelector())
}
