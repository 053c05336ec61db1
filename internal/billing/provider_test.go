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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_CreateInvoiceSignsBody(t *testing.T) {
	verifier := NewVerifier("api-key")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment", r.URL.Path)
		assert.Equal(t, "merchant-1", r.Header.Get("userId"))
		body, _ := io.ReadAll(r.Body)
		assert.True(t, verifier.Verify(body, r.Header.Get("sign")))

		var req InvoiceRequest
		require.NoError(t, json.Unmarshal(body, &req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":0,"result":{"uuid":"prov-9","order_id":"` + req.OrderID + `","amount":"` + req.Amount + `","url":"https://pay.test/prov-9"}}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "merchant-1", verifier, 0)
	inv, err := p.CreateInvoice(context.Background(), InvoiceRequest{Amount: "5.00", Currency: "USD", OrderID: "pay-1"})
	require.NoError(t, err)
	assert.Equal(t, "prov-9", inv.UUID)
	assert.Equal(t, "pay-1", inv.OrderID)
	assert.Equal(t, "https://pay.test/prov-9", inv.URL)
}

func TestProvider_RejectedInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"state":1,"message":"amount too small"}`))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "m", NewVerifier("k"), 0)
	_, err := p.CreateInvoice(context.Background(), InvoiceRequest{Amount: "0.01", Currency: "USD", OrderID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount too small")
}

func TestProvider_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "m", NewVerifier("k"), 0)
	_, err := p.CreateInvoice(context.Background(), InvoiceRequest{Amount: "1.00", OrderID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
