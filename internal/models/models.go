package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"phone,omitempty"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int       `json:"version"`
}

type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category,omitempty"`
	Image         string          `json:"image,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Sizes         string          `json:"sizes,omitempty"`
	Colors        string          `json:"colors,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// CartItem is a cart row joined with the live product it points at.
type CartItem struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	ProductID    int64           `json:"product_id"`
	Quantity     int             `json:"quantity"`
	Size         string          `json:"size,omitempty"`
	Color        string          `json:"color,omitempty"`
	ProductName  string          `json:"product_name"`
	ProductPrice decimal.Decimal `json:"product_price"`
	ProductImage string          `json:"product_image,omitempty"`
	ProductStock int             `json:"product_stock"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CartLine is what checkout reads from the cart: one row per
// (product, size, color) with the product price and stock at read time.
type CartLine struct {
	CartItemID  int64           `json:"cart_item_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Size        string          `json:"size,omitempty"`
	Color       string          `json:"color,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Stock       int             `json:"stock"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type ShippingAddress struct {
	Street     string `json:"street" validate:"required"`
	House      string `json:"house" validate:"required"`
	Locality   string `json:"locality" validate:"required"`
	District   string `json:"district" validate:"required"`
	Region     string `json:"region" validate:"required"`
	Country    string `json:"country" validate:"required"`
	PostalCode string `json:"postal_code,omitempty"`
}

type Order struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"user_id"`
	OrderNumber        string          `json:"order_number"`
	Status             OrderStatus     `json:"status"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	ShippingAddress    string          `json:"shipping_address"`
	ShippingCity       string          `json:"shipping_city"`
	ShippingPostalCode string          `json:"shipping_postal_code,omitempty"`
	ShippingCountry    string          `json:"shipping_country"`
	IdempotencyKey     string          `json:"-"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Version            int             `json:"version"`
	Items              []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID           int64           `json:"id"`
	OrderID      int64           `json:"order_id"`
	ProductID    int64           `json:"product_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Size         string          `json:"size,omitempty"`
	Color        string          `json:"color,omitempty"`
	ProductName  string          `json:"product_name,omitempty"`
	ProductImage string          `json:"product_image,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type SiteInfo struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ContactEmail string    `json:"contact_email"`
	Phone        string    `json:"phone"`
	Address      string    `json:"address"`
	LogoURL      string    `json:"logo_url"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AnalyticsEvent struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	UserID    *int64          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type StatusCount struct {
	Status OrderStatus `json:"status"`
	Count  int64       `json:"count"`
}

type ProductSales struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type AnalyticsSummary struct {
	OrdersByStatus []StatusCount    `json:"orders_by_status"`
	Revenue        decimal.Decimal  `json:"revenue"`
	TopProducts    []ProductSales   `json:"top_products"`
	EventsByType   map[string]int64 `json:"events_by_type"`
}
