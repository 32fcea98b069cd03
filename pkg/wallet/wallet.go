package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/betbot/p2pbuy/pkg/config"
)

// Wallet 本地签名钥匙（买家中继授权、卖家链上交易共用）
type Wallet struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// FromPrivateKey 十六进制私钥，可带 0x
func FromPrivateKey(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Wallet{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// FromMnemonic BIP-39 助记词 + 派生路径
func FromMnemonic(mnemonic, derivationPath string) (*Wallet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	derivationPath = strings.TrimSpace(derivationPath)
	if mnemonic == "" {
		return nil, fmt.Errorf("mnemonic is required")
	}
	if derivationPath == "" {
		derivationPath = config.DefaultDerivationPath
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation_path: %w", err)
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("derive failed: %w", err)
	}
	key, err := w.PrivateKey(acct)
	if err != nil {
		return nil, fmt.Errorf("private key failed: %w", err)
	}
	return &Wallet{key: key, addr: acct.Address}, nil
}

// FromConfig 私钥优先，其次助记词
func FromConfig(cfg config.WalletConfig) (*Wallet, error) {
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		return FromPrivateKey(cfg.PrivateKey)
	}
	if strings.TrimSpace(cfg.Mnemonic) != "" {
		return FromMnemonic(cfg.Mnemonic, cfg.DerivationPath)
	}
	return nil, fmt.Errorf("wallet not configured: set P2P_PRIVATE_KEY or P2P_MNEMONIC")
}

func (w *Wallet) Address() common.Address { return w.addr }

// PrivateKey 链上交易签名用
func (w *Wallet) PrivateKey() *ecdsa.PrivateKey { return w.key }

// SignHash 对 32 字节摘要签名，返回 65 字节 r||s||v（v 为 0/1）
func (w *Wallet) SignHash(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	return crypto.Sign(hash, w.key)
}
