package product

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macroferro-bot/internal/domain"
	"macroferro-bot/internal/logging"
	"macroferro-bot/internal/vectorindex"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

type fakeIndex struct {
	matches []vectorindex.Match
	err     error
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]vectorindex.Match, error) {
	return f.matches, f.err
}

type fakeCatalog struct {
	products   map[string]domain.Product
	categories map[string]domain.Category
	byCategory map[int64][]domain.Product
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:   map[string]domain.Product{},
		categories: map[string]domain.Category{},
		byCategory: map[int64][]domain.Product{},
	}
}

func (f *fakeCatalog) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	p, ok := f.products[sku]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeCatalog) ListProductsByCategory(ctx context.Context, categoryID int64, limit int) ([]domain.Product, error) {
	return f.byCategory[categoryID], nil
}

func (f *fakeCatalog) FindCategoryByName(ctx context.Context, query string) (*domain.Category, error) {
	c, ok := f.categories[query]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

type fakeSessions struct {
	recent map[int64][]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{recent: map[int64][]string{}}
}

func (f *fakeSessions) SetRecentProducts(ctx context.Context, chatID int64, skus []string) error {
	f.recent[chatID] = skus
	return nil
}

func (f *fakeSessions) GetRecentProducts(ctx context.Context, chatID int64) ([]string, error) {
	return f.recent[chatID], nil
}

type fakeAnswerer struct {
	answer string
	err    error
}

func (f *fakeAnswerer) AnswerGrounded(ctx context.Context, groundingText, question string) (string, error) {
	return f.answer, f.err
}

func newTestHandler(embedder Embedder, index VectorSearcher, catalog Catalog, sessions Sessions, answerer Answerer) *Handler {
	return New(embedder, index, catalog, sessions, answerer, logging.NewLogger("error", "text"))
}

func TestSearchShortCircuitsOnCategoryMatch(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.categories["drills"] = domain.Category{ID: 7, Name: "Drills"}
	catalog.byCategory[7] = []domain.Product{
		{SKU: "SKU1", Name: "Drill A", Price: decimal.NewFromInt(10)},
		{SKU: "SKU2", Name: "Drill B", Price: decimal.NewFromInt(20)},
	}
	sessions := newFakeSessions()
	h := newTestHandler(&fakeEmbedder{}, &fakeIndex{}, catalog, sessions, &fakeAnswerer{})

	result, err := h.Search(context.Background(), 1, "drills")
	require.NoError(t, err)
	require.Len(t, result.Products, 2)
	assert.Equal(t, "SKU1", result.Products[0].Product.SKU)
	assert.Equal(t, []string{"SKU1", "SKU2"}, sessions.recent[1])
}

func TestSearchFallsBackToRelatedWhenVectorSearchIsEmpty(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.products["SKU9"] = domain.Product{SKU: "SKU9", Name: "Wrench", Price: decimal.NewFromInt(5)}
	sessions := newFakeSessions()

	callCount := 0
	index := &countingIndex{onSearch: func(topK int, threshold float32) []vectorindex.Match {
		callCount++
		if callCount == 1 {
			return nil
		}
		return []vectorindex.Match{{SKU: "SKU9", Score: 0.5}}
	}}
	h := newTestHandler(&fakeEmbedder{vector: []float32{0.1}}, index, catalog, sessions, &fakeAnswerer{})

	result, err := h.Search(context.Background(), 1, "wrench")
	require.NoError(t, err)
	require.Len(t, result.Products, 1)
	assert.Equal(t, "SKU9", result.Products[0].Product.SKU)
	assert.Equal(t, 2, callCount)
}

type countingIndex struct {
	onSearch func(topK int, threshold float32) []vectorindex.Match
}

func (c *countingIndex) Search(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]vectorindex.Match, error) {
	return c.onSearch(topK, scoreThreshold), nil
}

func TestRelatedFallbackReturnsMessageWhenStillEmpty(t *testing.T) {
	catalog := newFakeCatalog()
	sessions := newFakeSessions()
	h := newTestHandler(&fakeEmbedder{vector: []float32{0.1}}, &fakeIndex{}, catalog, sessions, &fakeAnswerer{})

	result, err := h.RelatedFallback(context.Background(), 1, "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, result.Products)
	assert.NotEmpty(t, result.Message)
}

func TestResolvePrefersSKUOverPosition(t *testing.T) {
	h := newTestHandler(&fakeEmbedder{}, &fakeIndex{}, newFakeCatalog(), newFakeSessions(), &fakeAnswerer{})
	sku, err := h.Resolve(context.Background(), 1, domain.Entities{SKU: "SKU5", Position: 2})
	require.NoError(t, err)
	assert.Equal(t, "SKU5", sku)
}

func TestResolveByPositionReadsRecentListing(t *testing.T) {
	sessions := newFakeSessions()
	sessions.recent[1] = []string{"SKU1", "SKU2", "SKU3"}
	h := newTestHandler(&fakeEmbedder{}, &fakeIndex{}, newFakeCatalog(), sessions, &fakeAnswerer{})

	sku, err := h.Resolve(context.Background(), 1, domain.Entities{Position: 2})
	require.NoError(t, err)
	assert.Equal(t, "SKU2", sku)
}

func TestResolveRejectsPositionPastTheListing(t *testing.T) {
	sessions := newFakeSessions()
	sessions.recent[1] = []string{"SKU1"}
	h := newTestHandler(&fakeEmbedder{}, &fakeIndex{}, newFakeCatalog(), sessions, &fakeAnswerer{})

	_, err := h.Resolve(context.Background(), 1, domain.Entities{Position: 5})
	require.Error(t, err)
}

func TestResolveRejectsNoReferenceAtAll(t *testing.T) {
	h := newTestHandler(&fakeEmbedder{}, &fakeIndex{}, newFakeCatalog(), newFakeSessions(), &fakeAnswerer{})
	_, err := h.Resolve(context.Background(), 1, domain.Entities{})
	require.Error(t, err)
}

func TestDetailLeavesRecentProductsUnchanged(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.products["SKU1"] = domain.Product{SKU: "SKU1", Name: "Drill", Price: decimal.NewFromInt(10)}
	sessions := newFakeSessions()
	sessions.recent[1] = []string{"SKU1", "SKU2", "SKU3"}
	h := newTestHandler(&fakeEmbedder{}, &fakeIndex{}, catalog, sessions, &fakeAnswerer{})

	product, err := h.Detail(context.Background(), 1, domain.Entities{SKU: "SKU1"})
	require.NoError(t, err)
	assert.Equal(t, "Drill", product.Name)
	assert.Equal(t, []string{"SKU1", "SKU2", "SKU3"}, sessions.recent[1])
}

func TestDetailReturnsNotFoundForUnknownSKU(t *testing.T) {
	h := newTestHandler(&fakeEmbedder{}, &fakeIndex{}, newFakeCatalog(), newFakeSessions(), &fakeAnswerer{})
	_, err := h.Detail(context.Background(), 1, domain.Entities{SKU: "GHOST"})
	require.Error(t, err)
}

func TestAnswerTechnicalGroundsOnResolvedProduct(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.products["SKU1"] = domain.Product{SKU: "SKU1", Name: "Drill", Description: "cordless", Specs: map[string]string{"voltage": "18V"}}
	h := newTestHandler(&fakeEmbedder{}, &fakeIndex{}, catalog, newFakeSessions(), &fakeAnswerer{answer: "Yes, 18V"})

	answer, err := h.AnswerTechnical(context.Background(), 1, domain.Entities{SKU: "SKU1"}, "what voltage?")
	require.NoError(t, err)
	assert.Equal(t, "Yes, 18V", answer)
}

func TestAnswerTechnicalFallsBackOnLLMError(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.products["SKU1"] = domain.Product{SKU: "SKU1", Name: "Drill"}
	h := newTestHandler(&fakeEmbedder{}, &fakeIndex{}, catalog, newFakeSessions(), &fakeAnswerer{err: assert.AnError})

	answer, err := h.AnswerTechnical(context.Background(), 1, domain.Entities{SKU: "SKU1"}, "what voltage?")
	require.NoError(t, err)
	assert.Contains(t, answer, "contact sales")
}
