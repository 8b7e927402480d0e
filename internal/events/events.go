package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys published on the topic exchange.
const (
	RKOrderPlaced        = "order.placed"
	RKOrderStatusChanged = "order.status_changed"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// PublisherFunc adapts a plain function to Publisher.
type PublisherFunc func(ctx context.Context, routingKey string, payload any) error

func (f PublisherFunc) Publish(ctx context.Context, routingKey string, payload any) error {
	return f(ctx, routingKey, payload)
}

// Noop discards every event. It is used when RABBIT_URL is empty.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

type OrderPlacedPayload struct {
	OrderID     int64             `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	UserID      int64             `json:"user_id"`
	Total       decimal.Decimal   `json:"total"`
	Items       []OrderPlacedItem `json:"items"`
	PlacedAt    time.Time         `json:"placed_at"`
}

type OrderPlacedItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderStatusChangedPayload struct {
	OrderID   int64     `json:"order_id"`
	UserID    int64     `json:"user_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedBy int64     `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}
