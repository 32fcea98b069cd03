package api

import (
	"context"
	"sync"

	"github.com/betbot/p2pbuy/internal/domain"
)

// MockBackend is an in-memory backend for testing
type MockBackend struct {
	mu sync.RWMutex

	// Response data
	Orders         []domain.Order
	PrivateOrders  map[string]domain.Order
	CreateResponse *CreateTradeResponse
	Trades         map[string]*domain.Trade
	Validation     *ValidationResult

	// TradeFunc scripts GetTrade per call (1-based); overrides Trades when set
	TradeFunc func(tradeID string, call int) (*domain.Trade, error)

	// Captured requests
	LastCreate  *CreateTradeRequest
	LastReceipt *Receipt
	Visibility  map[string]VisibilityRequest

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error
}

// NewMockBackend creates a new mock backend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		PrivateOrders: make(map[string]domain.Order),
		Trades:        make(map[string]*domain.Trade),
		Visibility:    make(map[string]VisibilityRequest),
		Calls:         make(map[string]int),
		ErrorOnNext:   make(map[string]error),
	}
}

func (m *MockBackend) trackCall(name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	n := m.Calls[name]
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return n, err
	}
	return n, nil
}

// CallCount returns how many times name was called
func (m *MockBackend) CallCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[name]
}

// FailNext injects an error for the next call to name
func (m *MockBackend) FailNext(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorOnNext[name] = err
}

// SetTrade replaces the stored trade record
func (m *MockBackend) SetTrade(t *domain.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trades[t.ID] = t.Clone()
}

func (m *MockBackend) ListOrders(ctx context.Context) ([]domain.Order, error) {
	if _, err := m.trackCall("ListOrders"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, len(m.Orders))
	copy(out, m.Orders)
	return out, nil
}

func (m *MockBackend) GetOrderByPrivateCode(ctx context.Context, code string) (*domain.Order, error) {
	if _, err := m.trackCall("GetOrderByPrivateCode"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.PrivateOrders[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *MockBackend) SetOrderVisibility(ctx context.Context, orderID string, req VisibilityRequest) error {
	if _, err := m.trackCall("SetOrderVisibility"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Visibility[orderID] = req
	return nil
}

func (m *MockBackend) CreateTrade(ctx context.Context, req CreateTradeRequest) (*CreateTradeResponse, error) {
	if _, err := m.trackCall("CreateTrade"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := req
	m.LastCreate = &r
	if m.CreateResponse != nil {
		if m.CreateResponse.Error != "" {
			return nil, &RelayError{Reason: m.CreateResponse.Error}
		}
		resp := *m.CreateResponse
		return &resp, nil
	}
	return &CreateTradeResponse{TradeID: "mock-trade-id", TxHash: "0xmock"}, nil
}

func (m *MockBackend) GetTrade(ctx context.Context, tradeID string) (*domain.Trade, error) {
	n, err := m.trackCall("GetTrade")
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	fn := m.TradeFunc
	t, ok := m.Trades[tradeID]
	m.mu.RUnlock()
	if fn != nil {
		return fn(tradeID, n)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MockBackend) ValidateReceipt(ctx context.Context, tradeID string, receipt Receipt) (*ValidationResult, error) {
	if _, err := m.trackCall("ValidateReceipt"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := receipt
	m.LastReceipt = &r
	if m.Validation != nil {
		v := *m.Validation
		return &v, nil
	}
	return &ValidationResult{IsValid: true}, nil
}
