package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"macroferro-bot/internal/apperr"
	"macroferro-bot/internal/domain"
)

// CommitCheckout implements the atomic checkout-commit procedure:
// resolve-or-create the client, allocate the next order id, insert the
// order and its items, all within one transaction. If the order-items
// insert fails, no Order row exists for the attempt (the whole
// transaction rolls back).
func (r *PostgresStore) CommitCheckout(ctx context.Context, commit CheckoutCommit) (*domain.Order, error) {
	if len(commit.Items) == 0 {
		return nil, apperr.Invariant("checkout commit with empty cart", nil)
	}

	var order domain.Order
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		client, err := getOrCreateClient(ctx, tx, commit)
		if err != nil {
			return err
		}

		total := decimal.Zero
		for _, item := range commit.Items {
			total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		const insertOrder = `
INSERT INTO orders (id, client_id, chat_id, customer_name, customer_email, shipping_address, total_amount, status)
VALUES ('ORD' || LPAD(nextval('orders_id_seq')::text, 5, '0'), $1, $2, $3, $4, $5, $6, 'pending')
RETURNING id, client_id, chat_id, customer_name, customer_email, shipping_address, total_amount, status, created_at, updated_at;
`
		row := tx.QueryRow(ctx, insertOrder, client.ID, commit.ChatID, client.Name, client.Email, client.Address, total)
		if err := row.Scan(&order.ID, &order.ClientID, &order.ChatID, &order.CustomerName, &order.CustomerEmail,
			&order.ShippingAddr, &order.TotalAmount, &order.Status, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		const insertItem = `
INSERT INTO order_items (order_id, sku, quantity, unit_price)
VALUES ($1, $2, $3, $4);
`
		for _, item := range commit.Items {
			if _, err := tx.Exec(ctx, insertItem, order.ID, item.SKU, item.Quantity, item.UnitPrice); err != nil {
				return fmt.Errorf("insert order item %s: %w", item.SKU, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Transient("commit checkout", err)
	}
	return &order, nil
}
