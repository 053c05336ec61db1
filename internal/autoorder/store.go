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

package autoorder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreMem 内存实现
type StoreMem struct {
	mu   sync.Mutex
	byID map[string]*AutoOrder
}

// NewStoreMem 创建内存存储
func NewStoreMem() *StoreMem {
	return &StoreMem{byID: make(map[string]*AutoOrder)}
}

func (s *StoreMem) Create(ctx context.Context, a *AutoOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a.Clone()
	return nil
}

func (s *StoreMem) Get(ctx context.Context, id string) (*AutoOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id].Clone(), nil
}

func (s *StoreMem) ListByOwner(ctx context.Context, ownerID string) ([]*AutoOrder, error) {
	return s.list(func(a *AutoOrder) bool { return a.OwnerID == ownerID }), nil
}

func (s *StoreMem) ListDue(ctx context.Context, now time.Time) ([]*AutoOrder, error) {
	return s.list(func(a *AutoOrder) bool { return a.Status == StatusActive && !a.NextRunAt.After(now) }), nil
}

func (s *StoreMem) list(match func(*AutoOrder) bool) []*AutoOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AutoOrder
	for _, a := range s.byID {
		if match(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *StoreMem) Save(ctx context.Context, a *AutoOrder, expect Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[a.ID]
	if !ok || cur.Status != expect {
		return false, nil
	}
	s.byID[a.ID] = a.Clone()
	return true, nil
}

func (s *StoreMem) Advance(ctx context.Context, id string, expectNext, next time.Time, lastRun *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok || cur.Status != StatusActive || !cur.NextRunAt.Equal(expectNext) {
		return false, nil
	}
	cur.NextRunAt = next
	cur.LastRunAt = nil
	if lastRun != nil {
		t := *lastRun
		cur.LastRunAt = &t
	}
	return true, nil
}

const autoOrdersSchema = `
CREATE TABLE IF NOT EXISTS auto_orders (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	target_reference TEXT NOT NULL,
	quantity         INTEGER NOT NULL,
	rate             INTEGER NOT NULL,
	frequency        TEXT NOT NULL,
	status           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	last_run_at      TIMESTAMPTZ,
	next_run_at      TIMESTAMPTZ NOT NULL,
	paused_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS auto_orders_due_idx ON auto_orders (status, next_run_at);
`

const autoOrderColumns = `id, owner_id, target_reference, quantity, rate, frequency, status,
	created_at, last_run_at, next_run_at, paused_at`

// StorePg Postgres 实现
type StorePg struct {
	pool *pgxpool.Pool
}

// NewStorePg 确保 auto_orders 表存在
func NewStorePg(ctx context.Context, pool *pgxpool.Pool) (*StorePg, error) {
	if _, err := pool.Exec(ctx, autoOrdersSchema); err != nil {
		return nil, err
	}
	return &StorePg{pool: pool}, nil
}

func scanAutoOrder(row pgx.Row) (*AutoOrder, error) {
	var (
		a         AutoOrder
		frequency string
		status    string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.TargetReference, &a.Quantity, &a.Rate, &frequency, &status,
		&a.CreatedAt, &a.LastRunAt, &a.NextRunAt, &a.PausedAt); err != nil {
		return nil, err
	}
	a.Frequency = Frequency(frequency)
	a.Status = Status(status)
	return &a, nil
}

func (s *StorePg) Create(ctx context.Context, a *AutoOrder) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO auto_orders (`+autoOrderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.OwnerID, a.TargetReference, a.Quantity, a.Rate, string(a.Frequency), string(a.Status),
		a.CreatedAt, a.LastRunAt, a.NextRunAt, a.PausedAt)
	return err
}

func (s *StorePg) Get(ctx context.Context, id string) (*AutoOrder, error) {
	a, err := scanAutoOrder(s.pool.QueryRow(ctx, `SELECT `+autoOrderColumns+` FROM auto_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *StorePg) ListByOwner(ctx context.Context, ownerID string) ([]*AutoOrder, error) {
	return s.query(ctx, `SELECT `+autoOrderColumns+` FROM auto_orders WHERE owner_id = $1 ORDER BY created_at`, ownerID)
}

func (s *StorePg) ListDue(ctx context.Context, now time.Time) ([]*AutoOrder, error) {
	return s.query(ctx, `SELECT `+autoOrderColumns+` FROM auto_orders WHERE status = $1 AND next_run_at <= $2 ORDER BY next_run_at`,
		string(StatusActive), now)
}

func (s *StorePg) query(ctx context.Context, sql string, args ...interface{}) ([]*AutoOrder, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AutoOrder
	for rows.Next() {
		a, err := scanAutoOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Save 条件更新：WHERE status = expect
func (s *StorePg) Save(ctx context.Context, a *AutoOrder, expect Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE auto_orders SET status = $2, last_run_at = $3, next_run_at = $4, paused_at = $5
		WHERE id = $1 AND status = $6`,
		a.ID, string(a.Status), a.LastRunAt, a.NextRunAt, a.PausedAt, string(expect))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Advance 条件更新：WHERE status = active AND next_run_at = expectNext
func (s *StorePg) Advance(ctx context.Context, id string, expectNext, next time.Time, lastRun *time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE auto_orders SET next_run_at = $2, last_run_at = $3
		WHERE id = $1 AND status = $4 AND next_run_at = $5`,
		id, next, lastRun, string(StatusActive), expectNext)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
