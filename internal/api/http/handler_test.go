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
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upvote-platform/internal/api/http/middleware"
	"upvote-platform/internal/autoorder"
	"upvote-platform/internal/billing"
	"upvote-platform/internal/execution"
	"upvote-platform/internal/order"
	"upvote-platform/internal/reconcile"
	"upvote-platform/internal/settings"
	"upvote-platform/pkg/config"
)

const testSecret = "merchant-secret"

type stubInvoicer struct{}

func (stubInvoicer) CreateInvoice(ctx context.Context, req billing.InvoiceRequest) (*billing.Invoice, error) {
	return &billing.Invoice{UUID: "prov-" + req.OrderID, OrderID: req.OrderID, URL: "https://pay.test/" + req.OrderID}, nil
}

type stubSource struct{ views map[string]*execution.SessionView }

func (s stubSource) Status(ctx context.Context, id string) (*execution.SessionView, error) {
	if v, ok := s.views[id]; ok {
		return v, nil
	}
	return nil, execution.ErrSessionNotFound
}

type testEnv struct {
	h      *server.Hertz
	ledger *order.LedgerMem
	wallet *billing.StoreMem
	source stubSource
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ledger := order.NewLedgerMem()
	wallet := billing.NewStoreMem()
	limits := settings.Static(settings.DefaultLimits())
	orders := order.NewService(ledger, order.NewQueue(16), limits, wallet, 0.008, nil)
	source := stubSource{views: map[string]*execution.SessionView{}}

	handler := NewHandler(orders, limits, nil)
	handler.SetReconciler(reconcile.NewReconciler(ledger, source, nil, 0, nil))
	handler.SetAutoOrders(autoorder.NewService(autoorder.NewStoreMem(), orders, limits, 0, nil))
	handler.SetBilling(billing.NewService(wallet, billing.NewVerifier(testSecret), stubInvoicer{}, billing.Config{}, nil))

	router := NewRouter(handler, middleware.NewMiddleware(config.APIConfig{}))
	return &testEnv{h: router.Build(":0"), ledger: ledger, wallet: wallet, source: source}
}

func noBody() *ut.Body {
	return &ut.Body{Body: bytes.NewReader(nil), Len: 0}
}

func jsonBody(t *testing.T, v interface{}) *ut.Body {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return &ut.Body{Body: bytes.NewReader(b), Len: len(b)}
}

func as(owner string) ut.Header {
	return ut.Header{Key: middleware.HeaderUserID, Value: owner}
}

var jsonType = ut.Header{Key: "Content-Type", Value: "application/json"}

func decode(t *testing.T, body []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body, v), string(body))
}

func (e *testEnv) createOrder(t *testing.T, owner string, quantity int) (int, *order.Order) {
	t.Helper()
	w := ut.PerformRequest(e.h.Engine, "POST", "/api/orders",
		jsonBody(t, map[string]interface{}{"target_reference": "https://forum.test/p/1", "quantity": quantity, "rate": 5}),
		jsonType, as(owner))
	resp := w.Result()
	if resp.StatusCode() != 201 {
		return resp.StatusCode(), nil
	}
	var o order.Order
	decode(t, resp.Body(), &o)
	return resp.StatusCode(), &o
}

func TestHandler_CreateAndListOrders(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.wallet.Credit(context.Background(), "u1", 10))

	code, o := env.createOrder(t, "u1", 100)
	require.Equal(t, 201, code)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, "u1", o.OwnerID)
	assert.InDelta(t, 0.8, o.Cost, 1e-9)

	w := ut.PerformRequest(env.h.Engine, "GET", "/api/orders", noBody(), as("u1"))
	var list struct {
		Orders []order.Order `json:"orders"`
		Total  int           `json:"total"`
	}
	decode(t, w.Result().Body(), &list)
	assert.Equal(t, 1, list.Total)

	w = ut.PerformRequest(env.h.Engine, "GET", "/api/orders", noBody(), as("u2"))
	decode(t, w.Result().Body(), &list)
	assert.Equal(t, 0, list.Total)

	w = ut.PerformRequest(env.h.Engine, "GET", "/api/orders/"+o.ID, noBody(), as("u2"))
	assert.Equal(t, 404, w.Result().StatusCode())
}

func TestHandler_CreateOrderErrors(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.createOrder(t, "u1", 100)
	assert.Equal(t, 402, code)

	require.NoError(t, env.wallet.Credit(context.Background(), "u1", 10))
	code, _ = env.createOrder(t, "u1", 0)
	assert.Equal(t, 400, code)

	w := ut.PerformRequest(env.h.Engine, "POST", "/api/orders", &ut.Body{Body: bytes.NewReader([]byte("{")), Len: 1}, jsonType, as("u1"))
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestHandler_GetOrderReconciles(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.wallet.Credit(context.Background(), "u1", 10))
	_, o := env.createOrder(t, "u1", 100)

	ok, err := env.ledger.Transition(context.Background(), o.ID, order.StatusProcessing, order.Update{})
	require.NoError(t, err)
	require.True(t, ok)
	env.source.views[o.ID] = &execution.SessionView{OrderID: o.ID, Status: "running", Done: 40, Progress: 40}

	w := ut.PerformRequest(env.h.Engine, "GET", "/api/orders/"+o.ID, noBody(), as("u1"))
	require.Equal(t, 200, w.Result().StatusCode())
	var got order.Order
	decode(t, w.Result().Body(), &got)
	assert.Equal(t, order.StatusProcessing, got.Status)
	assert.Equal(t, 40, got.Done)

	env.source.views[o.ID] = &execution.SessionView{OrderID: o.ID, Status: "completed", Done: 100, Progress: 100}
	w = ut.PerformRequest(env.h.Engine, "GET", "/api/orders/"+o.ID, noBody(), as("u1"))
	decode(t, w.Result().Body(), &got)
	assert.Equal(t, order.StatusCompleted, got.Status)
}

func TestHandler_CancelAndRetry(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.wallet.Credit(context.Background(), "u1", 10))
	_, o := env.createOrder(t, "u1", 100)

	w := ut.PerformRequest(env.h.Engine, "POST", "/api/orders/"+o.ID+"/retry", noBody(), as("u1"))
	assert.Equal(t, 409, w.Result().StatusCode())

	w = ut.PerformRequest(env.h.Engine, "DELETE", "/api/orders/"+o.ID, noBody(), as("u1"))
	require.Equal(t, 200, w.Result().StatusCode())
	var got order.Order
	decode(t, w.Result().Body(), &got)
	assert.Equal(t, order.StatusCancelled, got.Status)

	w = ut.PerformRequest(env.h.Engine, "DELETE", "/api/orders/"+o.ID, noBody(), as("u1"))
	assert.Equal(t, 409, w.Result().StatusCode())
}

func TestHandler_AutoOrders(t *testing.T) {
	env := newTestEnv(t)
	w := ut.PerformRequest(env.h.Engine, "POST", "/api/auto-orders",
		jsonBody(t, map[string]interface{}{"target_reference": "https://forum.test/p/2", "quantity": 10, "rate": 2, "frequency": "daily"}),
		jsonType, as("u1"))
	require.Equal(t, 201, w.Result().StatusCode(), string(w.Result().Body()))
	var a autoorder.AutoOrder
	decode(t, w.Result().Body(), &a)
	assert.Equal(t, autoorder.StatusActive, a.Status)

	w = ut.PerformRequest(env.h.Engine, "POST", "/api/auto-orders/"+a.ID+"/pause", noBody(), as("u1"))
	require.Equal(t, 200, w.Result().StatusCode())
	decode(t, w.Result().Body(), &a)
	assert.Equal(t, autoorder.StatusPaused, a.Status)

	w = ut.PerformRequest(env.h.Engine, "POST", "/api/auto-orders/"+a.ID+"/pause", noBody(), as("u1"))
	assert.GreaterOrEqual(t, w.Result().StatusCode(), 400)

	w = ut.PerformRequest(env.h.Engine, "POST", "/api/auto-orders",
		jsonBody(t, map[string]interface{}{"target_reference": "https://forum.test/p/2", "quantity": 10, "rate": 2, "frequency": "hourly"}),
		jsonType, as("u1"))
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestHandler_PaymentWebhookCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	w := ut.PerformRequest(env.h.Engine, "POST", "/api/payments", jsonBody(t, map[string]interface{}{"amount": 25}), jsonType, as("u1"))
	require.Equal(t, 201, w.Result().StatusCode(), string(w.Result().Body()))
	var p billing.Payment
	decode(t, w.Result().Body(), &p)

	body, err := json.Marshal(billing.Webhook{UUID: p.ProviderRef, OrderID: p.ID, Status: "paid", Amount: "25.00"})
	require.NoError(t, err)
	sign := billing.NewVerifier(testSecret).Sign(body)
	for i := 0; i < 2; i++ {
		w = ut.PerformRequest(env.h.Engine, "POST", "/api/payments/webhook",
			&ut.Body{Body: bytes.NewReader(body), Len: len(body)}, jsonType, ut.Header{Key: "sign", Value: sign})
		require.Equal(t, 200, w.Result().StatusCode())
	}

	w = ut.PerformRequest(env.h.Engine, "GET", "/api/balance", noBody(), as("u1"))
	var bal struct {
		Balance float64 `json:"balance"`
	}
	decode(t, w.Result().Body(), &bal)
	assert.InDelta(t, 25, bal.Balance, 1e-9)
}

func TestHandler_PaymentWebhookBadSignature(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"uuid":"x","status":"paid"}`)
	w := ut.PerformRequest(env.h.Engine, "POST", "/api/payments/webhook",
		&ut.Body{Body: bytes.NewReader(body), Len: len(body)}, jsonType, ut.Header{Key: "sign", Value: "deadbeef"})
	assert.Equal(t, 401, w.Result().StatusCode())
}
