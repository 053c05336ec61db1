// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "upvote-platform/pkg/errors"
)

const billingSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	owner_id TEXT PRIMARY KEY,
	balance  DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS payments (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	amount       DOUBLE PRECISION NOT NULL,
	currency     TEXT NOT NULL DEFAULT '',
	method       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	provider_ref TEXT NOT NULL DEFAULT '',
	checkout_url TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ,
	last_update  TIMESTAMPTZ NOT NULL,
	payload      BYTEA
);
CREATE INDEX IF NOT EXISTS payments_provider_ref_idx ON payments (provider_ref);
CREATE INDEX IF NOT EXISTS payments_owner_idx ON payments (owner_id, created_at);
CREATE INDEX IF NOT EXISTS payments_status_idx ON payments (status);
`

const paymentColumns = `id, owner_id, amount, currency, method, status, provider_ref, checkout_url,
	created_at, completed_at, cancelled_at, last_update, payload`

// StorePg Postgres 实现；与订单账本共用连接池
type StorePg struct {
	pool *pgxpool.Pool
}

// NewStorePg 确保 accounts 与 payments 表存在
func NewStorePg(ctx context.Context, pool *pgxpool.Pool) (*StorePg, error) {
	if _, err := pool.Exec(ctx, billingSchema); err != nil {
		return nil, err
	}
	return &StorePg{pool: pool}, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p       Payment
		status  string
		payload []byte
	)
	err := row.Scan(&p.ID, &p.OwnerID, &p.Amount, &p.Currency, &p.Method, &status, &p.ProviderRef, &p.CheckoutURL,
		&p.CreatedAt, &p.CompletedAt, &p.CancelledAt, &p.LastUpdate, &payload)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	p.Payload = payload
	return &p, nil
}

func (s *StorePg) CreatePayment(ctx context.Context, p *Payment) error {
	prepareNew(p, time.Now().UTC())
	_, err := s.pool.Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.OwnerID, p.Amount, p.Currency, p.Method, string(p.Status), p.ProviderRef, p.CheckoutURL,
		p.CreatedAt, p.CompletedAt, p.CancelledAt, p.LastUpdate, []byte(p.Payload))
	return err
}

func (s *StorePg) one(ctx context.Context, where string, arg string) (*Payment, error) {
	p, err := scanPayment(s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *StorePg) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return s.one(ctx, `id = $1`, id)
}

func (s *StorePg) GetByProviderRef(ctx context.Context, ref string) (*Payment, error) {
	if ref == "" {
		return nil, nil
	}
	return s.one(ctx, `provider_ref = $1 LIMIT 1`, ref)
}

func (s *StorePg) ListPayments(ctx context.Context, ownerID string) ([]*Payment, error) {
	return s.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

func (s *StorePg) ListByStatus(ctx context.Context, status Status) ([]*Payment, error) {
	return s.query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status = $1 ORDER BY created_at DESC`, string(status))
}

func (s *StorePg) query(ctx context.Context, sql string, args ...interface{}) ([]*Payment, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApplyStatus 行锁读取支付记录，状态仍为 from 时同事务更新支付与账户
func (s *StorePg) ApplyStatus(ctx context.Context, id string, from, to Status, payload []byte, delta float64) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.Status != from {
		return false, nil
	}
	applyStatus(p, to, payload, time.Now().UTC())
	if _, err := tx.Exec(ctx, `UPDATE payments SET status = $2, completed_at = $3, cancelled_at = $4, last_update = $5, payload = $6
		WHERE id = $1`, id, string(p.Status), p.CompletedAt, p.CancelledAt, p.LastUpdate, []byte(p.Payload)); err != nil {
		return false, err
	}
	if delta != 0 {
		if err := credit(ctx, tx, p.OwnerID, delta); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func credit(ctx context.Context, tx pgx.Tx, ownerID string, amount float64) error {
	_, err := tx.Exec(ctx, `INSERT INTO accounts (owner_id, balance) VALUES ($1, ROUND($2::numeric, 6))
		ON CONFLICT (owner_id) DO UPDATE SET balance = ROUND((accounts.balance + EXCLUDED.balance)::numeric, 6)`,
		ownerID, amount)
	return err
}

func (s *StorePg) Balance(ctx context.Context, ownerID string) (float64, error) {
	var balance float64
	err := s.pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE owner_id = $1`, ownerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// Debit 条件更新，余额不足时不修改
func (s *StorePg) Debit(ctx context.Context, ownerID string, amount float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET balance = ROUND((balance - $2)::numeric, 6)
		WHERE owner_id = $1 AND balance >= $2`, ownerID, Round(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrInsufficientFunds
	}
	return nil
}

func (s *StorePg) Credit(ctx context.Context, ownerID string, amount float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := credit(ctx, tx, ownerID, Round(amount)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
