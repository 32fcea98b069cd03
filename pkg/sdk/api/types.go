package api

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/betbot/p2pbuy/internal/domain"
)

// OrderDTO is the backend's order record.
type OrderDTO struct {
	OrderID          string `json:"order_id"`
	Seller           string `json:"seller"`
	Token            string `json:"token"`
	TokenSymbol      string `json:"token_symbol"`
	TokenDecimals    uint8  `json:"token_decimals"`
	TotalAmount      string `json:"total_amount"`
	RemainingAmount  string `json:"remaining_amount"`
	ExchangeRate     int64  `json:"exchange_rate"`
	Rail             string `json:"rail"`
	AccountID        string `json:"account_id"`
	AccountName      string `json:"account_name"`
	IsPublic         bool   `json:"is_public"`
	PrivateCode      string `json:"private_code,omitempty"`
	CreatedTimestamp int64  `json:"created_timestamp"`
}

// TradeDTO is the backend's trade record. Optional fields are null until they happen.
type TradeDTO struct {
	TradeID           string  `json:"trade_id"`
	OrderID           string  `json:"order_id"`
	Buyer             string  `json:"buyer"`
	TokenAmount       string  `json:"token_amount"`
	FiatAmount        int64   `json:"fiat_amount"`
	Status            int     `json:"status"`
	CreatedTimestamp  int64   `json:"created_timestamp"`
	ExpiresAt         int64   `json:"expires_at"`
	EscrowTxHash      *string `json:"escrow_tx_hash"`
	SettlementTxHash  *string `json:"settlement_tx_hash"`
	ReceiptUploadedAt *int64  `json:"receipt_uploaded_at"`
	ProofGeneratedAt  *int64  `json:"proof_generated_at"`
	SettlementError   *string `json:"settlement_error"`
}

// CreateTradeRequest is the relay request body.
type CreateTradeRequest struct {
	OrderID      string `json:"order_id"`
	BuyerAddress string `json:"buyer_address"`
	FiatAmount   int64  `json:"fiat_amount"`
	Deadline     int64  `json:"deadline,omitempty"`
	Signature    string `json:"signature,omitempty"`
}

// CreateTradeResponse is the relay response. Error carries the revert reason when the relay rejects.
type CreateTradeResponse struct {
	TradeID string `json:"trade_id"`
	TxHash  string `json:"tx_hash"`
	Error   string `json:"error,omitempty"`
}

// ValidationResult is the fast receipt validation outcome.
type ValidationResult struct {
	IsValid           bool   `json:"is_valid"`
	ValidationCode    string `json:"validation_code,omitempty"`
	ValidationDetails string `json:"validation_details,omitempty"`
}

// VisibilityRequest toggles an order between public and private.
type VisibilityRequest struct {
	IsPublic    bool   `json:"is_public"`
	PrivateCode string `json:"private_code,omitempty"`
}

// Receipt is one uploaded payment receipt document.
type Receipt struct {
	FileName    string
	ContentType string
	Data        []byte
}

func parseAmount(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func unixPtr(ts *int64) *time.Time {
	if ts == nil || *ts <= 0 {
		return nil
	}
	t := time.Unix(*ts, 0)
	return &t
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// ToDomain converts the wire record.
func (o OrderDTO) ToDomain() (domain.Order, error) {
	total, err := parseAmount("total_amount", o.TotalAmount)
	if err != nil {
		return domain.Order{}, err
	}
	remaining, err := parseAmount("remaining_amount", o.RemainingAmount)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ID:              o.OrderID,
		Seller:          o.Seller,
		Token:           o.Token,
		TokenSymbol:     strings.ToUpper(o.TokenSymbol),
		TokenDecimals:   o.TokenDecimals,
		TotalAmount:     total,
		RemainingAmount: remaining,
		ExchangeRate:    o.ExchangeRate,
		Rail:            domain.PaymentRail(strings.ToLower(o.Rail)),
		AccountID:       o.AccountID,
		AccountName:     o.AccountName,
		IsPublic:        o.IsPublic,
		PrivateCode:     o.PrivateCode,
		CreatedAt:       time.Unix(o.CreatedTimestamp, 0),
	}, nil
}

// ToDomain converts the wire record.
func (t TradeDTO) ToDomain() (*domain.Trade, error) {
	amount, err := parseAmount("token_amount", t.TokenAmount)
	if err != nil {
		return nil, err
	}
	return &domain.Trade{
		ID:                t.TradeID,
		OrderID:           t.OrderID,
		Buyer:             t.Buyer,
		TokenAmount:       amount,
		FiatAmount:        t.FiatAmount,
		Status:            domain.TradeStatus(t.Status),
		CreatedAt:         time.Unix(t.CreatedTimestamp, 0),
		ExpiresAt:         time.Unix(t.ExpiresAt, 0),
		EscrowTxHash:      nonEmpty(t.EscrowTxHash),
		SettlementTxHash:  nonEmpty(t.SettlementTxHash),
		ReceiptUploadedAt: unixPtr(t.ReceiptUploadedAt),
		ProofGeneratedAt:  unixPtr(t.ProofGeneratedAt),
		SettlementError:   nonEmpty(t.SettlementError),
	}, nil
}

// TradeToDTO is the inverse of TradeDTO.ToDomain, used by the mock backend and the local API.
func TradeToDTO(t *domain.Trade) TradeDTO {
	dto := TradeDTO{
		TradeID:          t.ID,
		OrderID:          t.OrderID,
		Buyer:            t.Buyer,
		FiatAmount:       t.FiatAmount,
		Status:           int(t.Status),
		CreatedTimestamp: t.CreatedAt.Unix(),
		ExpiresAt:        t.ExpiresAt.Unix(),
		EscrowTxHash:     t.EscrowTxHash,
		SettlementTxHash: t.SettlementTxHash,
		SettlementError:  t.SettlementError,
	}
	if t.TokenAmount != nil {
		dto.TokenAmount = t.TokenAmount.String()
	}
	if t.ReceiptUploadedAt != nil {
		v := t.ReceiptUploadedAt.Unix()
		dto.ReceiptUploadedAt = &v
	}
	if t.ProofGeneratedAt != nil {
		v := t.ProofGeneratedAt.Unix()
		dto.ProofGeneratedAt = &v
	}
	return dto
}
