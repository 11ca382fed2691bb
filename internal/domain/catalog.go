// Package domain holds the value types shared by every handler: the
// catalog records, the cart/checkout session shapes, and the closed
// intent/entity union the analyzer produces.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is one node in the (forest-shaped) product category tree.
type Category struct {
	ID       int64
	Name     string
	ParentID *int64
}

// Product is a catalog entry, immutable from the core's perspective.
type Product struct {
	SKU         string
	Name        string
	Description string
	Brand       string
	Price       decimal.Decimal
	CategoryID  int64
	CategoryName string
	Specs       map[string]string
	ImageURLs   []string
}

// Client is a buyer identified by email. Created lazily on first
// successful checkout; reused on every later checkout with the same
// email.
type Client struct {
	ID      string // business key, e.g. CUST0007
	Name    string
	Email   string
	Phone   string
	Address string
	Company string
}

// Order is append-only once committed, aside from PDFURL being filled
// in later by the invoice dispatcher.
type Order struct {
	ID             string // business key, e.g. ORD00042
	ClientID       string
	ChatID         int64
	CustomerName   string
	CustomerEmail  string
	ShippingAddr   string
	TotalAmount    decimal.Decimal
	Status         string
	InvoicePDFURL  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderItem is one product line on an order, with the unit price
// captured at checkout time rather than looked up live.
type OrderItem struct {
	OrderID   string
	SKU       string
	Quantity  int
	UnitPrice decimal.Decimal
}

// OrderWithItems is the eager-loaded shape the invoice dispatcher reads:
// the order row plus every item with its product name.
type OrderWithItems struct {
	Order Order
	Items []OrderItemWithProduct
}

// OrderItemWithProduct joins an order line to the product name, so the
// invoice renderer never needs a second round trip.
type OrderItemWithProduct struct {
	OrderItem
	ProductName string
}
