package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"macroferro-bot/internal/domain"
)

// GetClientByEmail is the returning-customer lookup ("email
// is the identity for lookups".
func (r *PostgresStore) GetClientByEmail(ctx context.Context, email string) (*domain.Client, error) {
	const q = `
SELECT id, name, email, phone, address, company
FROM clients
WHERE email = $1;
`
	row := r.pool.QueryRow(ctx, q, email)
	var c domain.Client
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Company); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get client by email: %w", err)
	}
	return &c, nil
}

// getOrCreateClient resolves a client by email inside an existing
// transaction, creating a fresh one with the next sequential CUSTnnnn
// id if none exists. The ON CONFLICT clause makes the create idempotent
// on email, so two concurrent first-time checkouts
// with the same email must not produce two clients" invariant (§7
// Conflict: re-read and reuse on unique-constraint violation).
func getOrCreateClient(ctx context.Context, tx pgx.Tx, commit CheckoutCommit) (*domain.Client, error) {
	if commit.ExistingClientID != "" {
		const q = `SELECT id, name, email, phone, address, company FROM clients WHERE id = $1;`
		var c domain.Client
		if err := tx.QueryRow(ctx, q, commit.ExistingClientID).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Company); err != nil {
			return nil, fmt.Errorf("load existing client: %w", err)
		}
		return &c, nil
	}

	const insert = `
INSERT INTO clients (id, name, email, phone, address, company)
VALUES ('CUST' || LPAD(nextval('clients_id_seq')::text, 4, '0'), $1, $2, $3, $4, $5)
ON CONFLICT (email) DO UPDATE SET email = clients.email
RETURNING id, name, email, phone, address, company;
`
	var c domain.Client
	err := tx.QueryRow(ctx, insert, commit.ClientName, commit.ClientEmail, commit.ClientPhone, commit.ClientAddress, commit.ClientCompany).
		Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.Company)
	if err != nil {
		return nil, fmt.Errorf("get or create client: %w", err)
	}
	return &c, nil
}
