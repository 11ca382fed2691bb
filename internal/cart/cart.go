// Package cart implements CartHandler: add/update/remove/view/clear
// against the per-chat cart held in SessionStore.
package cart

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"macroferro-bot/internal/apperr"
	"macroferro-bot/internal/domain"
)

// maxFormattedLines caps how many lines the view formatter renders
// before summarizing the rest as an overflow count.
const maxFormattedLines = 20

// Resolver resolves a sku-or-position reference to a concrete SKU, the
// same resolution rule ProductHandler uses.
type Resolver interface {
	Resolve(ctx context.Context, chatID int64, entities domain.Entities) (string, error)
}

// Catalog is the subset of CatalogStore this handler needs: the current
// price at add time.
type Catalog interface {
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
}

// Sessions is the subset of SessionStore this handler needs.
type Sessions interface {
	GetCart(ctx context.Context, chatID int64) (domain.Cart, error)
	SetCart(ctx context.Context, chatID int64, cart domain.Cart) error
	ClearCart(ctx context.Context, chatID int64) error
}

// Handler is CartHandler.
type Handler struct {
	resolver Resolver
	catalog  Catalog
	sessions Sessions
}

// New builds a Handler over its collaborators.
func New(resolver Resolver, catalog Catalog, sessions Sessions) *Handler {
	return &Handler{resolver: resolver, catalog: catalog, sessions: sessions}
}

// Add resolves the reference, validates the product exists, and either
// inserts a new line or adds to an existing one's quantity.
func (h *Handler) Add(ctx context.Context, chatID int64, entities domain.Entities) (domain.Cart, error) {
	sku, err := h.resolver.Resolve(ctx, chatID, entities)
	if err != nil {
		return domain.Cart{}, err
	}
	product, err := h.catalog.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Cart{}, err
	}
	if product == nil {
		return domain.Cart{}, apperr.NotFoundf("no product with SKU %s", sku)
	}

	qty := entities.Quantity
	if qty <= 0 {
		qty = 1
	}

	c, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return domain.Cart{}, err
	}
	if existing, ok := c.Items[sku]; ok {
		existing.Quantity += qty
		existing.UnitPrice = product.Price
		c.Items[sku] = existing
	} else {
		c.Items[sku] = domain.CartItem{SKU: sku, Quantity: qty, UnitPrice: product.Price}
	}

	if err := h.sessions.SetCart(ctx, chatID, c); err != nil {
		return domain.Cart{}, err
	}
	return c, nil
}

// Update sets a line's quantity to exactly qty, or removes it if
// qty == 0.
func (h *Handler) Update(ctx context.Context, chatID int64, entities domain.Entities) (domain.Cart, error) {
	sku, err := h.resolver.Resolve(ctx, chatID, entities)
	if err != nil {
		return domain.Cart{}, err
	}
	if entities.Quantity == 0 {
		return h.removeSKU(ctx, chatID, sku)
	}

	c, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return domain.Cart{}, err
	}
	existing, ok := c.Items[sku]
	if !ok {
		product, err := h.catalog.GetProductBySKU(ctx, sku)
		if err != nil {
			return domain.Cart{}, err
		}
		if product == nil {
			return domain.Cart{}, apperr.NotFoundf("no product with SKU %s", sku)
		}
		existing = domain.CartItem{SKU: sku, UnitPrice: product.Price}
	}
	existing.Quantity = entities.Quantity
	c.Items[sku] = existing

	if err := h.sessions.SetCart(ctx, chatID, c); err != nil {
		return domain.Cart{}, err
	}
	return c, nil
}

// Remove deletes a line; it is a no-op if the line is absent.
func (h *Handler) Remove(ctx context.Context, chatID int64, entities domain.Entities) (domain.Cart, error) {
	sku, err := h.resolver.Resolve(ctx, chatID, entities)
	if err != nil {
		return domain.Cart{}, err
	}
	return h.removeSKU(ctx, chatID, sku)
}

func (h *Handler) removeSKU(ctx context.Context, chatID int64, sku string) (domain.Cart, error) {
	c, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return domain.Cart{}, err
	}
	delete(c.Items, sku)
	if err := h.sessions.SetCart(ctx, chatID, c); err != nil {
		return domain.Cart{}, err
	}
	return c, nil
}

// View returns the current cart unmodified, for the formatter to render.
func (h *Handler) View(ctx context.Context, chatID int64) (domain.Cart, error) {
	return h.sessions.GetCart(ctx, chatID)
}

// FormatCurrentView reads the cart and renders it with product names
// resolved from the catalog.
func (h *Handler) FormatCurrentView(ctx context.Context, chatID int64) (string, error) {
	c, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return "", err
	}
	names := make(map[string]string, len(c.Items))
	for sku := range c.Items {
		p, err := h.catalog.GetProductBySKU(ctx, sku)
		if err != nil {
			return "", err
		}
		if p != nil {
			names[sku] = p.Name
		}
	}
	return FormatView(c, names), nil
}

// Clear empties the cart.
func (h *Handler) Clear(ctx context.Context, chatID int64) error {
	return h.sessions.ClearCart(ctx, chatID)
}

// FormatView renders a cart's lines and total, truncating past
// maxFormattedLines.
func FormatView(c domain.Cart, productNames map[string]string) string {
	if len(c.Items) == 0 {
		return "Your cart is empty."
	}

	skus := make([]string, 0, len(c.Items))
	for sku := range c.Items {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	var b strings.Builder
	b.WriteString("Your cart:\n")
	shown := skus
	overflow := 0
	if len(shown) > maxFormattedLines {
		overflow = len(shown) - maxFormattedLines
		shown = shown[:maxFormattedLines]
	}
	for _, sku := range shown {
		item := c.Items[sku]
		name := productNames[sku]
		if name == "" {
			name = sku
		}
		subtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		fmt.Fprintf(&b, "- %s (%s): %d x %s = %s\n", name, sku, item.Quantity, item.UnitPrice.StringFixed(2), subtotal.StringFixed(2))
	}
	if overflow > 0 {
		fmt.Fprintf(&b, "...and %d more\n", overflow)
	}
	fmt.Fprintf(&b, "\nTotal: %s", c.Total().StringFixed(2))
	return b.String()
}
