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
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "upvote-platform/pkg/errors"
)

const testSecret = "webhook-secret"

type fakeInvoicer struct {
	mu   sync.Mutex
	reqs []InvoiceRequest
	err  error
}

func (f *fakeInvoicer) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.reqs = append(f.reqs, req)
	return &Invoice{UUID: "prov-" + req.OrderID, OrderID: req.OrderID, URL: "https://pay.test/" + req.OrderID}, nil
}

func newTestService(t *testing.T) (*Service, *StoreMem, *fakeInvoicer) {
	t.Helper()
	store := NewStoreMem()
	inv := &fakeInvoicer{}
	svc := NewService(store, NewVerifier(testSecret), inv, Config{CallbackURL: "https://api.test/api/payments/webhook"}, nil)
	return svc, store, inv
}

func signed(t *testing.T, wh Webhook) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(wh)
	require.NoError(t, err)
	return body, NewVerifier(testSecret).Sign(body)
}

func TestCreatePayment(t *testing.T) {
	svc, store, inv := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreatePayment(ctx, "u1", 10, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "prov-"+p.ID, p.ProviderRef)
	assert.Equal(t, "crypto", p.Method)
	require.Len(t, inv.reqs, 1)
	assert.Equal(t, "10.00", inv.reqs[0].Amount)
	assert.Equal(t, p.ID, inv.reqs[0].OrderID)

	stored, err := store.GetByProviderRef(ctx, p.ProviderRef)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, p.ID, stored.ID)

	_, err = svc.CreatePayment(ctx, "u1", 0, "")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArg)

	inv.err = errors.New("provider down")
	_, err = svc.CreatePayment(ctx, "u1", 5, "")
	assert.Error(t, err)
	all, _ := svc.ListPayments(ctx, "u1")
	assert.Len(t, all, 1)
}

func TestWebhook_DoubleDeliveryCreditsOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreatePayment(ctx, "u1", 10, "")
	require.NoError(t, err)

	body, sign := signed(t, Webhook{UUID: p.ProviderRef, OrderID: p.ID, Status: "paid", Amount: "10.00"})
	out, err := svc.HandleWebhook(ctx, body, sign)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	out, err = svc.HandleWebhook(ctx, body, sign)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	// paid_over 同样映射为 completed，不再入账
	body2, sign2 := signed(t, Webhook{UUID: p.ProviderRef, Status: "paid_over"})
	out, err = svc.HandleWebhook(ctx, body2, sign2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, balance)

	payments, _ := svc.ListPayments(ctx, "u1")
	require.Len(t, payments, 1)
	assert.Equal(t, StatusCompleted, payments[0].Status)
	require.NotNil(t, payments[0].CompletedAt)
	assert.JSONEq(t, string(body), string(payments[0].Payload))
}

func TestWebhook_StoredPayloadDropsSignature(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreatePayment(ctx, "u1", 5, "")
	require.NoError(t, err)

	base := []byte(`{"uuid":"` + p.ProviderRef + `","status":"paid"}`)
	sign := NewVerifier(testSecret).Sign(base)
	body := []byte(`{"uuid":"` + p.ProviderRef + `","status":"paid","sign":"` + sign + `"}`)
	out, err := svc.HandleWebhook(ctx, body, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	stored, err := store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(stored.Payload), sign)
	assert.JSONEq(t, string(base), string(stored.Payload))
}

func TestWebhook_ConcurrentDeliveryCreditsOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreatePayment(ctx, "u1", 25, "")
	require.NoError(t, err)
	body, sign := signed(t, Webhook{UUID: p.ProviderRef, Status: "paid"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.HandleWebhook(ctx, body, sign)
		}()
	}
	wg.Wait()

	balance, _ := svc.Balance(ctx, "u1")
	assert.Equal(t, 25.0, balance)
}

func TestWebhook_RefundDebitsOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreatePayment(ctx, "u1", 10, "")
	require.NoError(t, err)

	for _, st := range []string{"process", "paid", "refund_process", "refund_paid", "paid"} {
		body, sign := signed(t, Webhook{UUID: p.ProviderRef, Status: st})
		_, err := svc.HandleWebhook(ctx, body, sign)
		require.NoError(t, err, st)
	}
	balance, _ := svc.Balance(ctx, "u1")
	assert.Equal(t, 0.0, balance)
	payments, _ := svc.ListPayments(ctx, "u1")
	assert.Equal(t, StatusRefunded, payments[0].Status)
}

func TestWebhook_RejectsBadSignatureBeforeParsing(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.HandleWebhook(context.Background(), []byte("not even json"), "deadbeef")
	assert.ErrorIs(t, err, pkgerrors.ErrWebhookAuth)

	body, _ := signed(t, Webhook{UUID: "x", Status: "paid"})
	_, err = svc.HandleWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, pkgerrors.ErrWebhookAuth)
}

func TestWebhook_UnknownPayment(t *testing.T) {
	svc, _, _ := newTestService(t)
	body, sign := signed(t, Webhook{UUID: "ghost", Status: "paid"})
	_, err := svc.HandleWebhook(context.Background(), body, sign)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestWebhook_FallsBackToOrderID(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePayment(ctx, &Payment{ID: "local-1", OwnerID: "u2", Amount: 3}))

	body, sign := signed(t, Webhook{UUID: "unknown-uuid", OrderID: "local-1", Status: "paid"})
	out, err := svc.HandleWebhook(ctx, body, sign)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	balance, _ := store.Balance(ctx, "u2")
	assert.Equal(t, 3.0, balance)
}

func TestWebhook_AnyStatusSequenceCreditsAtMostOnce(t *testing.T) {
	providerStatuses := make([]interface{}, 0, len(providerStatus)+1)
	for s := range providerStatus {
		providerStatuses = append(providerStatuses, s)
	}
	providerStatuses = append(providerStatuses, "unheard_of")

	properties := gopter.NewProperties(nil)
	properties.Property("balance equals amount only while completed", prop.ForAll(
		func(seq []string) bool {
			svc, _, _ := newTestService(t)
			ctx := context.Background()
			p, err := svc.CreatePayment(ctx, "u1", 7.5, "")
			if err != nil {
				return false
			}
			for _, st := range seq {
				body, sign := signed(t, Webhook{UUID: p.ProviderRef, Status: st})
				if _, err := svc.HandleWebhook(ctx, body, sign); err != nil {
					return false
				}
			}
			balance, _ := svc.Balance(ctx, "u1")
			payments, _ := svc.ListPayments(ctx, "u1")
			if payments[0].Status == StatusCompleted {
				return balance == 7.5
			}
			return balance == 0
		},
		gen.SliceOf(gen.OneConstOf(providerStatuses...)),
	))
	properties.TestingRun(t)
}

func TestSweepStale(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now().UTC()
	store.now = func() time.Time { return base.Add(-2 * time.Hour) }
	require.NoError(t, store.CreatePayment(ctx, &Payment{ID: "old", OwnerID: "u1", Amount: 5}))
	require.NoError(t, store.CreatePayment(ctx, &Payment{ID: "old-paid", OwnerID: "u1", Amount: 5, Status: StatusCompleted}))
	store.now = func() time.Time { return base }
	require.NoError(t, store.CreatePayment(ctx, &Payment{ID: "fresh", OwnerID: "u1", Amount: 5}))

	n, err := svc.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, _ := store.GetPayment(ctx, "old")
	assert.Equal(t, StatusFailed, old.Status)
	assert.Contains(t, string(old.Payload), pkgerrors.ReasonPaymentTimeout)
	fresh, _ := store.GetPayment(ctx, "fresh")
	assert.Equal(t, StatusPending, fresh.Status)
	paid, _ := store.GetPayment(ctx, "old-paid")
	assert.Equal(t, StatusCompleted, paid.Status)

	balance, _ := store.Balance(ctx, "u1")
	assert.Equal(t, 0.0, balance)
}

func TestStoreMem_Wallet(t *testing.T) {
	store := NewStoreMem()
	ctx := context.Background()
	assert.ErrorIs(t, store.Debit(ctx, "u1", 1), pkgerrors.ErrInsufficientFunds)
	require.NoError(t, store.Credit(ctx, "u1", 10))
	require.NoError(t, store.Debit(ctx, "u1", 0.8))
	balance, _ := store.Balance(ctx, "u1")
	assert.Equal(t, 9.2, balance)
	assert.ErrorIs(t, store.Debit(ctx, "u1", 9.3), pkgerrors.ErrInsufficientFunds)
}
