package repo

import (
	"context"
	"io/fs"

	"macroferro-bot/internal/domain"
)

// Store is the CatalogStore contract: relational persistence for
// products, categories, clients, orders, and order_items, plus the
// checkout commit and invoice-failure bookkeeping need.
type Store interface {
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Catalog reads. The core never mutates products/categories;
	// administrative writes are out of scope.
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	ListProductsByCategory(ctx context.Context, categoryID int64, limit int) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	FindCategoryByName(ctx context.Context, query string) (*domain.Category, error)

	// Clients.
	GetClientByEmail(ctx context.Context, email string) (*domain.Client, error)

	// Checkout commit: resolves-or-creates the client, allocates the
	// next order id, inserts the order and its items, all in one
	// transaction. Returns the committed order.
	CommitCheckout(ctx context.Context, draft CheckoutCommit) (*domain.Order, error)

	// Invoice dispatch.
	GetOrderWithItems(ctx context.Context, orderID string) (*domain.OrderWithItems, error)
	SetOrderInvoiceURL(ctx context.Context, orderID, url string) error
	RecordInvoiceDispatchFailure(ctx context.Context, orderID string, attempts int, lastErr string) error
}

// CheckoutCommit is the input to the atomic checkout-commit procedure
// ExistingClientID, when non-empty, skips client creation
// and is used as-is (the returning-customer fast path).
type CheckoutCommit struct {
	ExistingClientID string
	ClientName       string
	ClientEmail      string
	ClientPhone      string
	ClientAddress    string
	ClientCompany    string
	ChatID           int64
	Items            []domain.CartItem
}
