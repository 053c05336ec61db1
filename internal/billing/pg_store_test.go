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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upvote-platform/internal/storage/postgres"
	pkgerrors "upvote-platform/pkg/errors"
)

func newTestStorePg(t *testing.T) *StorePg {
	dsn := os.Getenv("TEST_LEDGER_DSN")
	if dsn == "" {
		t.Skip("TEST_LEDGER_DSN not set, skipping Postgres billing tests")
	}
	ctx := context.Background()
	pool, err := postgres.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	store, err := NewStorePg(ctx, pool)
	require.NoError(t, err)
	_, _ = pool.Exec(ctx, `DELETE FROM payments`)
	_, _ = pool.Exec(ctx, `DELETE FROM accounts`)
	return store
}

func TestStorePg_ApplyStatusIsCompareAndSet(t *testing.T) {
	store := newTestStorePg(t)
	ctx := context.Background()

	p := &Payment{OwnerID: "u1", Amount: 12.5, ProviderRef: "prov-1", Payload: []byte(`{"raw":true}`)}
	require.NoError(t, store.CreatePayment(ctx, p))

	got, err := store.GetByProviderRef(ctx, "prov-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)

	ok, err := store.ApplyStatus(ctx, p.ID, StatusPending, StatusCompleted, []byte(`{"status":"paid"}`), 12.5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ApplyStatus(ctx, p.ID, StatusPending, StatusCompleted, []byte(`{"status":"paid"}`), 12.5)
	require.NoError(t, err)
	assert.False(t, ok)

	balance, err := store.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, balance)

	got, _ = store.GetPayment(ctx, p.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, `{"status":"paid"}`, string(got.Payload))
}

func TestStorePg_Wallet(t *testing.T) {
	store := newTestStorePg(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Debit(ctx, "u9", 1), pkgerrors.ErrInsufficientFunds)
	require.NoError(t, store.Credit(ctx, "u9", 10))
	require.NoError(t, store.Debit(ctx, "u9", 0.8))
	balance, err := store.Balance(ctx, "u9")
	require.NoError(t, err)
	assert.InDelta(t, 9.2, balance, 1e-9)
}
