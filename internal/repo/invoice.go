package repo

import (
	"context"
	"fmt"

	"macroferro-bot/internal/domain"
)

// GetOrderWithItems loads an order and its items with their product
// names in two queries: one for the order row, then one for its items
// joined to products. It does not load them in a single query.
func (r *PostgresStore) GetOrderWithItems(ctx context.Context, orderID string) (*domain.OrderWithItems, error) {
	const orderQ = `
SELECT id, client_id, chat_id, customer_name, customer_email, shipping_address, total_amount, status,
       COALESCE(invoice_pdf_url, ''), created_at, updated_at
FROM orders
WHERE id = $1;
`
	var ord domain.Order
	row := r.pool.QueryRow(ctx, orderQ, orderID)
	if err := row.Scan(&ord.ID, &ord.ClientID, &ord.ChatID, &ord.CustomerName, &ord.CustomerEmail,
		&ord.ShippingAddr, &ord.TotalAmount, &ord.Status, &ord.InvoicePDFURL, &ord.CreatedAt, &ord.UpdatedAt); err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	const itemsQ = `
SELECT oi.order_id, oi.sku, oi.quantity, oi.unit_price, p.name
FROM order_items oi
LEFT JOIN products p ON p.sku = oi.sku
WHERE oi.order_id = $1
ORDER BY oi.sku ASC;
`
	rows, err := r.pool.Query(ctx, itemsQ, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItemWithProduct
	for rows.Next() {
		var it domain.OrderItemWithProduct
		var productName *string
		if err := rows.Scan(&it.OrderID, &it.SKU, &it.Quantity, &it.UnitPrice, &productName); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if productName != nil {
			it.ProductName = *productName
		} else {
			it.ProductName = it.SKU
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.OrderWithItems{Order: ord, Items: items}, nil
}

// SetOrderInvoiceURL records the PDF location once available. This is
// the one permitted mutation on an otherwise append-only order row.
func (r *PostgresStore) SetOrderInvoiceURL(ctx context.Context, orderID, url string) error {
	const q = `UPDATE orders SET invoice_pdf_url = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, orderID, url)
	if err != nil {
		return fmt.Errorf("set order invoice url: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %s", orderID)
	}
	return nil
}

// RecordInvoiceDispatchFailure upserts the audit row for a final,
// exhausted dispatch failure. Order status is never touched.
func (r *PostgresStore) RecordInvoiceDispatchFailure(ctx context.Context, orderID string, attempts int, lastErr string) error {
	const q = `
INSERT INTO invoice_dispatch_failures (order_id, attempts, last_error)
VALUES ($1, $2, $3)
ON CONFLICT (order_id) DO UPDATE SET attempts = EXCLUDED.attempts, last_error = EXCLUDED.last_error;
`
	if _, err := r.pool.Exec(ctx, q, orderID, attempts, lastErr); err != nil {
		return fmt.Errorf("record invoice dispatch failure: %w", err)
	}
	return nil
}
