// Package product implements ProductHandler: resolving a customer's
// search or reference into catalog records, and answering technical
// questions grounded in a single product's data sheet.
package product

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"macroferro-bot/internal/apperr"
	"macroferro-bot/internal/domain"
	"macroferro-bot/internal/vectorindex"
)

// kShown is the number of results actually rendered to the customer;
// the full match list (up to vectorindex.DefaultTopK, or fallbackTopK on
// the related fallback) is persisted as recent_products so a later
// "the second one" can still resolve.
const (
	kShown            = 3
	fallbackTopK      = 5
	fallbackThreshold = 0.45
)

// Embedder turns free text into the vector VectorIndex searches on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the subset of VectorIndex this handler calls.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]vectorindex.Match, error)
}

// Catalog is the subset of CatalogStore this handler calls.
type Catalog interface {
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	ListProductsByCategory(ctx context.Context, categoryID int64, limit int) ([]domain.Product, error)
	FindCategoryByName(ctx context.Context, query string) (*domain.Category, error)
}

// Sessions is the subset of SessionStore this handler calls.
type Sessions interface {
	SetRecentProducts(ctx context.Context, chatID int64, skus []string) error
	GetRecentProducts(ctx context.Context, chatID int64) ([]string, error)
}

// Answerer grounds a free-form answer in supplied text.
type Answerer interface {
	AnswerGrounded(ctx context.Context, groundingText, question string) (string, error)
}

// Handler is ProductHandler.
type Handler struct {
	embedder Embedder
	index    VectorSearcher
	catalog  Catalog
	sessions Sessions
	llm      Answerer
	logger   *slog.Logger
}

// New builds a Handler over its collaborators.
func New(embedder Embedder, index VectorSearcher, catalog Catalog, sessions Sessions, llm Answerer, logger *slog.Logger) *Handler {
	return &Handler{
		embedder: embedder,
		index:    index,
		catalog:  catalog,
		sessions: sessions,
		llm:      llm,
		logger:   logger.With("component", "product_handler"),
	}
}

// ListedProduct is one entry of a ShownList, carrying its 1-based
// display position alongside the catalog record.
type ListedProduct struct {
	Position int
	Product  domain.Product
}

// ShownList is what ProductHandler.search/related_fallback return: the
// products actually rendered, plus a message when there is nothing to
// show.
type ShownList struct {
	Products []ListedProduct
	Message  string
}

// Search runs the catalog search, plus a category short-circuit: a
// query that names a category lists that category's products directly
// instead of falling through to vector search.
func (h *Handler) Search(ctx context.Context, chatID int64, keywords string) (ShownList, error) {
	category, err := h.catalog.FindCategoryByName(ctx, keywords)
	if err != nil {
		return ShownList{}, err
	}
	if category != nil {
		return h.searchByCategory(ctx, chatID, *category)
	}

	list, err := h.search(ctx, chatID, keywords, vectorindex.DefaultTopK, vectorindex.DefaultScoreThreshold)
	if err != nil {
		return ShownList{}, err
	}
	if len(list.Products) == 0 {
		return h.RelatedFallback(ctx, chatID, keywords)
	}
	return list, nil
}

// RelatedFallback re-runs the search with a lowered threshold
// (fallbackThreshold) and fallbackTopK results. Search calls it when its
// own vector search comes back empty.
func (h *Handler) RelatedFallback(ctx context.Context, chatID int64, keywords string) (ShownList, error) {
	list, err := h.search(ctx, chatID, keywords, fallbackTopK, fallbackThreshold)
	if err != nil {
		return ShownList{}, err
	}
	if len(list.Products) == 0 {
		return ShownList{Message: "I couldn't find a match. Try rephrasing, or naming a category directly."}, nil
	}
	return list, nil
}

func (h *Handler) search(ctx context.Context, chatID int64, keywords string, topK int, threshold float32) (ShownList, error) {
	vector, err := h.embedder.Embed(ctx, keywords)
	if err != nil {
		return ShownList{}, err
	}
	matches, err := h.index.Search(ctx, vector, topK, threshold)
	if err != nil {
		return ShownList{}, err
	}
	if len(matches) == 0 {
		return ShownList{}, nil
	}

	skus := make([]string, 0, len(matches))
	products := make([]domain.Product, 0, len(matches))
	for _, m := range matches {
		p, err := h.catalog.GetProductBySKU(ctx, m.SKU)
		if err != nil {
			return ShownList{}, err
		}
		if p == nil {
			// Eventual-consistency gap between the vector index and the
			// relational catalog; skip rather than fail the whole search.
			continue
		}
		skus = append(skus, p.SKU)
		products = append(products, *p)
	}
	if len(products) == 0 {
		return ShownList{}, nil
	}

	if err := h.sessions.SetRecentProducts(ctx, chatID, skus); err != nil {
		return ShownList{}, err
	}

	shown := products
	if len(shown) > kShown {
		shown = shown[:kShown]
	}
	listed := make([]ListedProduct, len(shown))
	for i, p := range shown {
		listed[i] = ListedProduct{Position: i + 1, Product: p}
	}
	return ShownList{Products: listed}, nil
}

func (h *Handler) searchByCategory(ctx context.Context, chatID int64, category domain.Category) (ShownList, error) {
	products, err := h.catalog.ListProductsByCategory(ctx, category.ID, fallbackTopK)
	if err != nil {
		return ShownList{}, err
	}
	if len(products) == 0 {
		return ShownList{Message: fmt.Sprintf("No products in %s right now, but we're always adding more.", category.Name)}, nil
	}

	skus := make([]string, len(products))
	for i, p := range products {
		skus[i] = p.SKU
	}
	if err := h.sessions.SetRecentProducts(ctx, chatID, skus); err != nil {
		return ShownList{}, err
	}

	shown := products
	if len(shown) > kShown {
		shown = shown[:kShown]
	}
	listed := make([]ListedProduct, len(shown))
	for i, p := range shown {
		listed[i] = ListedProduct{Position: i + 1, Product: p}
	}
	return ShownList{Products: listed}, nil
}

// Resolve turns an entity's sku-or-position reference into a concrete
// SKU, reading the position back against the chat's recent listing.
func (h *Handler) Resolve(ctx context.Context, chatID int64, entities domain.Entities) (string, error) {
	if entities.SKU != "" {
		return entities.SKU, nil
	}
	if entities.Position <= 0 {
		return "", apperr.NotFoundf("no product referenced")
	}
	recent, err := h.sessions.GetRecentProducts(ctx, chatID)
	if err != nil {
		return "", err
	}
	if entities.Position > len(recent) {
		return "", apperr.NotFoundf("I don't see item %d in the last list", entities.Position)
	}
	return recent[entities.Position-1], nil
}

// Detail resolves a reference and returns the full product record. It
// does not touch recent_products: a detail view is not itself a
// listing, so a later positional reference still resolves against
// whatever listing was shown before it.
func (h *Handler) Detail(ctx context.Context, chatID int64, entities domain.Entities) (*domain.Product, error) {
	sku, err := h.Resolve(ctx, chatID, entities)
	if err != nil {
		return nil, err
	}
	product, err := h.catalog.GetProductBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, apperr.NotFoundf("no product with SKU %s", sku)
	}
	return product, nil
}

// AnswerTechnical resolves a reference and asks LLMClient to answer,
// grounded only in that product's description and specs.
func (h *Handler) AnswerTechnical(ctx context.Context, chatID int64, entities domain.Entities, question string) (string, error) {
	sku, err := h.Resolve(ctx, chatID, entities)
	if err != nil {
		return "", err
	}
	product, err := h.catalog.GetProductBySKU(ctx, sku)
	if err != nil {
		return "", err
	}
	if product == nil {
		return "", apperr.NotFoundf("no product with SKU %s", sku)
	}

	grounding := formatGrounding(*product)
	answer, err := h.llm.AnswerGrounded(ctx, grounding, question)
	if err != nil {
		h.logger.Warn("technical question answering failed", "sku", sku, "error", err)
		return "I can't confirm from the datasheet, please contact sales.", nil
	}
	return answer, nil
}

func formatGrounding(p domain.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nBrand: %s\nDescription: %s\n", p.Name, p.Brand, p.Description)
	if len(p.Specs) > 0 {
		b.WriteString("Specs:\n")
		for k, v := range p.Specs {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}
	return b.String()
}
