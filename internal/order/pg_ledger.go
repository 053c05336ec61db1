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

package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"upvote-platform/pkg/metrics"
)

const ordersSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	target_reference TEXT NOT NULL,
	quantity         INTEGER NOT NULL,
	rate             INTEGER NOT NULL,
	cost             DOUBLE PRECISION NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	cancelled_at     TIMESTAMPTZ,
	paused_at        TIMESTAMPTZ,
	dispatched_at    TIMESTAMPTZ,
	last_update      TIMESTAMPTZ NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	done             INTEGER NOT NULL DEFAULT 0,
	progress         DOUBLE PRECISION NOT NULL DEFAULT 0,
	auto_order_id    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status);
CREATE INDEX IF NOT EXISTS orders_owner_idx ON orders (owner_id, created_at);
`

const orderColumns = `id, owner_id, target_reference, quantity, rate, cost, status, created_at,
	started_at, completed_at, cancelled_at, paused_at, dispatched_at, last_update,
	error_message, done, progress, auto_order_id`

// LedgerPg Postgres 实现：orders 表，商务服务多实例共享
type LedgerPg struct {
	pool *pgxpool.Pool
}

// NewLedgerPg 在已有连接池上确保 orders 表存在
func NewLedgerPg(ctx context.Context, pool *pgxpool.Pool) (*LedgerPg, error) {
	if _, err := pool.Exec(ctx, ordersSchema); err != nil {
		return nil, err
	}
	return &LedgerPg{pool: pool}, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.OwnerID, &o.TargetReference, &o.Quantity, &o.Rate, &o.Cost, &status, &o.CreatedAt,
		&o.StartedAt, &o.CompletedAt, &o.CancelledAt, &o.PausedAt, &o.DispatchedAt, &o.LastUpdate,
		&o.ErrorMessage, &o.Done, &o.Progress, &o.AutoOrderID)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	return &o, nil
}

func (s *LedgerPg) Create(ctx context.Context, o *Order) (string, error) {
	prepareNew(o, time.Now().UTC())
	_, err := s.pool.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		o.ID, o.OwnerID, o.TargetReference, o.Quantity, o.Rate, o.Cost, string(o.Status), o.CreatedAt,
		o.StartedAt, o.CompletedAt, o.CancelledAt, o.PausedAt, o.DispatchedAt, o.LastUpdate,
		o.ErrorMessage, o.Done, o.Progress, o.AutoOrderID)
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// Transition 行锁读取 → 校验迁移 → 写回，单事务完成
func (s *LedgerPg) Transition(ctx context.Context, id string, to Status, u Update) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !CanTransition(o.Status, to) {
		return false, nil
	}
	apply(o, to, u, time.Now().UTC())
	_, err = tx.Exec(ctx, `UPDATE orders SET status = $2, started_at = $3, completed_at = $4, cancelled_at = $5,
		paused_at = $6, dispatched_at = $7, last_update = $8, error_message = $9, done = $10, progress = $11
		WHERE id = $1`,
		id, string(o.Status), o.StartedAt, o.CompletedAt, o.CancelledAt,
		o.PausedAt, o.DispatchedAt, o.LastUpdate, o.ErrorMessage, o.Done, o.Progress)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	metrics.OrderTransitionTotal.WithLabelValues(string(to)).Inc()
	return true, nil
}

func (s *LedgerPg) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (s *LedgerPg) ListActive(ctx context.Context) ([]*Order, error) {
	return s.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = ANY($1) ORDER BY created_at`,
		[]string{string(StatusPending), string(StatusInProgress), string(StatusProcessing)})
}

func (s *LedgerPg) ListByStatus(ctx context.Context, status Status) ([]*Order, error) {
	return s.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at`, string(status))
}

func (s *LedgerPg) ListByOwner(ctx context.Context, ownerID string) ([]*Order, error) {
	return s.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 ORDER BY created_at`, ownerID)
}

func (s *LedgerPg) query(ctx context.Context, sql string, args ...interface{}) ([]*Order, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
