package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockClient is an in-memory Client used for tests and --mock-mode dry-run,
// following internal/binance/futures_mock_client.go's shape.
type MockClient struct {
	mu sync.Mutex

	Spec     InstrumentSpec
	Price    float64
	Candles  []float64
	Balance  float64
	Position PositionInfo

	// LastOrder records the most recently submitted order for assertions.
	LastOrder OrderResult

	// FailNextOrder, when true, makes the next PlaceMarketOrder/ClosePosition
	// return an error instead of succeeding (one-shot).
	FailNextOrder bool
}

var _ Client = (*MockClient)(nil)

// NewMockClient builds a MockClient with sane DOGE-USDT-SWAP defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Spec: InstrumentSpec{
			Symbol:       "DOGE-USDT-SWAP",
			ContractFace: 10,
			LotSize:      1,
			MinSize:      1,
		},
		Price:    0.12,
		Balance:  1000,
		Position: PositionInfo{Side: SideFlat},
	}
}

func (m *MockClient) GetInstrument(ctx context.Context, symbol string) (InstrumentSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Spec, nil
}

func (m *MockClient) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Ticker{Price: m.Price}, nil
}

func (m *MockClient) GetCandles(ctx context.Context, symbol string, limit int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Candles) == 0 {
		return nil, fmt.Errorf("exchange: mock has no candle data loaded")
	}
	if limit > len(m.Candles) {
		limit = len(m.Candles)
	}
	return m.Candles[len(m.Candles)-limit:], nil
}

func (m *MockClient) GetPositions(ctx context.Context, symbol string) (PositionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Position, nil
}

func (m *MockClient) GetAccountBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance, nil
}

func (m *MockClient) SetLeverage(ctx context.Context, symbol string, leverage int, modes []MarginMode) (MarginMode, error) {
	if len(modes) == 0 {
		return "", fmt.Errorf("%w: no modes offered", ErrMarginModeRejected)
	}
	return modes[0], nil
}

func (m *MockClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, contracts float64, reduceOnly bool) (OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNextOrder {
		m.FailNextOrder = false
		return OrderResult{}, fmt.Errorf("exchange: mock order rejected")
	}

	if !reduceOnly {
		m.Position = PositionInfo{Side: side, Contracts: contracts}
	} else {
		m.Position.Contracts -= contracts
		if m.Position.Contracts <= 0 {
			m.Position = PositionInfo{Side: SideFlat}
		}
	}

	result := OrderResult{
		OrderID:     uuid.NewString(),
		FilledPrice: m.Price,
		FilledQty:   contracts,
	}
	m.LastOrder = result
	return result, nil
}

func (m *MockClient) ClosePosition(ctx context.Context, symbol string, fraction float64) (OrderResult, error) {
	m.mu.Lock()
	pos := m.Position
	m.mu.Unlock()

	if pos.Side == SideFlat {
		return OrderResult{}, fmt.Errorf("exchange: mock has no position to close")
	}
	closeSide := SideShort
	if pos.Side == SideShort {
		closeSide = SideLong
	}
	return m.PlaceMarketOrder(ctx, symbol, closeSide, pos.Contracts*fraction, true)
}
