package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/p2pbuy/pkg/config"
	"github.com/betbot/p2pbuy/pkg/sdk/api"
)

const (
	testMnemonic = "test test test test test test test test test test test junk"
	testKey      = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddr     = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestFromConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.WalletConfig
		wantErr bool
	}{
		{"private key", config.WalletConfig{PrivateKey: testKey}, false},
		{"private key without prefix", config.WalletConfig{PrivateKey: testKey[2:]}, false},
		{"mnemonic default path", config.WalletConfig{Mnemonic: testMnemonic}, false},
		{"mnemonic explicit path", config.WalletConfig{Mnemonic: testMnemonic, DerivationPath: "m/44'/60'/0'/0/0"}, false},
		{"nothing", config.WalletConfig{}, true},
		{"bad key", config.WalletConfig{PrivateKey: "0x1234"}, true},
		{"bad mnemonic", config.WalletConfig{Mnemonic: "not a real phrase"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := FromConfig(tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(testAddr), w.Address())
		})
	}
}

func TestSignHashRecovers(t *testing.T) {
	w, err := FromPrivateKey(testKey)
	require.NoError(t, err)

	hash := crypto.Keccak256([]byte("receipt"))
	sig, err := w.SignHash(hash)
	require.NoError(t, err)
	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), crypto.PubkeyToAddress(*pub))

	_, err = w.SignHash([]byte("short"))
	assert.Error(t, err)
}

func TestWalletSignsRelayAuth(t *testing.T) {
	w, err := FromMnemonic(testMnemonic, "")
	require.NoError(t, err)

	var _ api.Signer = w
	auth := api.RelayAuth{
		ChainID:  8453,
		Escrow:   common.HexToAddress("0x00000000000000000000000000000000000000e5"),
		OrderID:  "42",
		Buyer:    w.Address(),
		Fiat:     19900,
		Deadline: 1_800_000_000,
	}
	sig, err := api.SignCreateTrade(w, auth)
	require.NoError(t, err)
	got, err := api.RecoverCreateTradeSigner(auth, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), got)
}
