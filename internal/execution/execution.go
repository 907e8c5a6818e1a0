package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderRequest struct {
	Scope    string
	Symbol   string
	Side     Side
	Quantity decimal.Decimal
	// Price is the reference price; paper fills execute at it.
	Price  decimal.Decimal
	Reason string
}

type Order struct {
	ID        string          `json:"id"`
	Scope     string          `json:"scope"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

var ErrOrderNotFound = errors.New("order not found")

// Backend is the exchange-facing contract used only by gated workers.
type Backend interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// PaperBackend fills every order immediately at the request price and keeps
// them in memory.
type PaperBackend struct {
	Logger  *zap.Logger
	FeeRate decimal.Decimal

	mu     sync.Mutex
	orders map[string]*Order
}

func NewPaperBackend(feeRate decimal.Decimal, logger *zap.Logger) *PaperBackend {
	return &PaperBackend{Logger: logger, FeeRate: feeRate, orders: map[string]*Order{}}
}

func (b *PaperBackend) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}
	if !req.Quantity.IsPositive() || !req.Price.IsPositive() {
		return nil, fmt.Errorf("quantity and price must be positive")
	}
	o := &Order{
		ID:        uuid.NewString(),
		Scope:     req.Scope,
		Symbol:    strings.ToUpper(req.Symbol),
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Fee:       req.Quantity.Mul(req.Price).Mul(b.FeeRate).Round(8),
		Status:    "filled",
		CreatedAt: time.Now().UTC(),
	}
	b.mu.Lock()
	if b.orders == nil {
		b.orders = map[string]*Order{}
	}
	b.orders[o.ID] = o
	b.mu.Unlock()
	if b.Logger != nil {
		b.Logger.Info("paper order filled",
			zap.String("order_id", o.ID),
			zap.String("scope", o.Scope),
			zap.String("symbol", o.Symbol),
			zap.String("side", string(o.Side)),
			zap.String("qty", o.Quantity.String()),
			zap.String("price", o.Price.String()),
			zap.String("reason", req.Reason),
		)
	}
	out := *o
	return &out, nil
}

func (b *PaperBackend) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status == "filled" {
		return fmt.Errorf("order %s already filled", orderID)
	}
	o.Status = "cancelled"
	return nil
}

func (b *PaperBackend) Orders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	return out
}
