package api

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Relay authorization domain
const (
	RelayDomainName    = "P2PEscrowRelay"
	RelayDomainVersion = "1"
)

// Signer signs 32-byte digests with the buyer's key.
type Signer interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}

// RelayAuth carries the parameters the buyer authorizes the relay to submit.
type RelayAuth struct {
	ChainID  int64
	Escrow   common.Address
	OrderID  string
	Buyer    common.Address
	Fiat     int64
	Deadline int64
}

// CreateTradeTypedDataHash creates the EIP-712 typed data hash for a relayed create-trade.
func CreateTradeTypedDataHash(a RelayAuth) ([]byte, error) {
	domain := apitypes.TypedDataDomain{
		Name:              RelayDomainName,
		Version:           RelayDomainVersion,
		ChainId:           math.NewHexOrDecimal256(a.ChainID),
		VerifyingContract: a.Escrow.Hex(),
	}

	types := apitypes.Types{
		"EIP712Domain": []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"CreateTrade": []apitypes.Type{
			{Name: "orderId", Type: "string"},
			{Name: "buyer", Type: "address"},
			{Name: "fiatAmount", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}

	message := apitypes.TypedDataMessage{
		"orderId":    a.OrderID,
		"buyer":      a.Buyer.Hex(),
		"fiatAmount": big.NewInt(a.Fiat).String(),
		"deadline":   big.NewInt(a.Deadline).String(),
	}

	typedData := apitypes.TypedData{
		Types:       types,
		PrimaryType: "CreateTrade",
		Domain:      domain,
		Message:     message,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" + domainSeparator + messageHash)
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, messageHash...)
	return crypto.Keccak256(rawData), nil
}

// SignCreateTrade signs the relay authorization and returns a 0x-prefixed r+s+v signature.
func SignCreateTrade(signer Signer, a RelayAuth) (string, error) {
	hash, err := CreateTradeTypedDataHash(a)
	if err != nil {
		return "", err
	}
	sig, err := signer.SignHash(hash)
	if err != nil {
		return "", err
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("unexpected signature length %d", len(sig))
	}
	out := make([]byte, len(sig))
	copy(out, sig)
	// Ethereum v
	if out[64] < 27 {
		out[64] += 27
	}
	return "0x" + hex.EncodeToString(out), nil
}

// RecoverCreateTradeSigner returns the address that produced sig for a.
func RecoverCreateTradeSigner(a RelayAuth, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("unexpected signature length %d", len(raw))
	}
	if raw[64] >= 27 {
		raw[64] -= 27
	}
	hash, err := CreateTradeTypedDataHash(a)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash, raw)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
