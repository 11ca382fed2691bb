package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"macroferro-bot/internal/domain"
)

// GetProductBySKU returns a single product, or nil if it does not
// exist. Callers treat "exists in the vector index but missing here" as
// an eventual-consistency gap against the vector index, not an error.
func (r *PostgresStore) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	const q = `
SELECT p.sku, p.name, p.description, p.brand, p.price, p.category_id, c.name, p.spec_json
FROM products p
LEFT JOIN categories c ON c.id = p.category_id
WHERE p.sku = $1;
`
	row := r.pool.QueryRow(ctx, q, sku)
	var p domain.Product
	var specJSON []byte
	var categoryName *string
	if err := row.Scan(&p.SKU, &p.Name, &p.Description, &p.Brand, &p.Price, &p.CategoryID, &categoryName, &specJSON); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product by sku: %w", err)
	}
	if categoryName != nil {
		p.CategoryName = *categoryName
	}
	if len(specJSON) > 0 {
		if err := json.Unmarshal(specJSON, &p.Specs); err != nil {
			return nil, fmt.Errorf("unmarshal product specs: %w", err)
		}
	}
	images, err := r.listProductImages(ctx, sku)
	if err != nil {
		return nil, err
	}
	p.ImageURLs = images
	return &p, nil
}

func (r *PostgresStore) listProductImages(ctx context.Context, sku string) ([]string, error) {
	const q = `
SELECT i.url
FROM product_images pi
JOIN images i ON i.id = pi.image_id
WHERE pi.product_sku = $1
ORDER BY pi.position ASC;
`
	rows, err := r.pool.Query(ctx, q, sku)
	if err != nil {
		return nil, fmt.Errorf("list product images: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan product image: %w", err)
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// ListProductsByCategory supports the category short-circuit in
// ProductHandler.search.
func (r *PostgresStore) ListProductsByCategory(ctx context.Context, categoryID int64, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT p.sku, p.name, p.description, p.brand, p.price, p.category_id, c.name, p.spec_json
FROM products p
LEFT JOIN categories c ON c.id = p.category_id
WHERE p.category_id = $1
ORDER BY p.name ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, categoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("list products by category: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		var specJSON []byte
		var categoryName *string
		if err := rows.Scan(&p.SKU, &p.Name, &p.Description, &p.Brand, &p.Price, &p.CategoryID, &categoryName, &specJSON); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if categoryName != nil {
			p.CategoryName = *categoryName
		}
		if len(specJSON) > 0 {
			_ = json.Unmarshal(specJSON, &p.Specs)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ListCategories returns the full category forest, flattened.
func (r *PostgresStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	const q = `SELECT id, name, parent_id FROM categories ORDER BY name ASC;`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// FindCategoryByName does a case-insensitive substring match, either
// direction, matching the original's simple disambiguation heuristic
// (spec supplement: category short-circuit).
func (r *PostgresStore) FindCategoryByName(ctx context.Context, query string) (*domain.Category, error) {
	categories, err := r.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	for _, c := range categories {
		name := strings.ToLower(c.Name)
		if strings.Contains(q, name) || strings.Contains(name, q) {
			cc := c
			return &cc, nil
		}
	}
	return nil, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
