package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upvote-platform/internal/order"
	pkgerrors "upvote-platform/pkg/errors"
)

func newExecServer(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_StatusNotFoundVsTransient(t *testing.T) {
	c := newExecServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/known":
			writeJSON(w, 200, SessionView{OrderID: "known", Status: SessionRunning, Done: 4, Progress: 40})
		case "/orders/boom":
			writeJSON(w, 500, ErrorBody{Error: "db locked"})
		default:
			writeJSON(w, 404, ErrorBody{Error: "Order not found"})
		}
	})
	ctx := context.Background()

	v, err := c.Status(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, SessionRunning, v.Status)
	assert.Equal(t, 4, v.Done)

	_, err = c.Status(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.False(t, pkgerrors.IsTransient(err))

	_, err = c.Status(ctx, "boom")
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestClient_UnreachableIsTransient(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Status(context.Background(), "x")
	assert.True(t, pkgerrors.IsTransient(err))
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestRemoteAdapter_Dispatch(t *testing.T) {
	var got DispatchRequest
	c := newExecServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		switch got.OrderID {
		case "ok":
			writeJSON(w, 200, AcceptResponse{Success: true, Status: SessionPending, OrderID: "ok"})
		case "dup":
			writeJSON(w, 409, ErrorBody{Error: "Order already running"})
		case "bad":
			writeJSON(w, 400, ErrorBody{Error: "quantity must be between 1 and 1000"})
		default:
			writeJSON(w, 502, ErrorBody{Error: "upstream"})
		}
	})
	a := NewRemoteAdapter(c)
	ctx := context.Background()

	res := a.Dispatch(ctx, &order.Order{ID: "ok", TargetReference: "https://x.test", Quantity: 5, Rate: 1})
	assert.Equal(t, order.StatusProcessing, res.Status)
	assert.Equal(t, DispatchRequest{OrderID: "ok", TargetReference: "https://x.test", Quantity: 5, Rate: 1}, got)

	assert.Equal(t, order.StatusProcessing, a.Dispatch(ctx, &order.Order{ID: "dup"}).Status)

	res = a.Dispatch(ctx, &order.Order{ID: "bad"})
	assert.Equal(t, order.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "quantity must be between")

	assert.Equal(t, order.StatusFailed, a.Dispatch(ctx, &order.Order{ID: "other"}).Status)
}

func TestClient_CancelAndHealth(t *testing.T) {
	c := newExecServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/orders/done":
			writeJSON(w, 400, ErrorBody{Error: "Cannot cancel completed order"})
		case r.Method == http.MethodDelete && r.URL.Path == "/orders/live":
			writeJSON(w, 200, map[string]string{"message": "cancelled"})
		case r.URL.Path == "/health":
			writeJSON(w, 200, HealthView{Status: "healthy", ActiveOrders: 2, TotalProcessed: 9})
		default:
			writeJSON(w, 404, ErrorBody{Error: "Order not found"})
		}
	})
	ctx := context.Background()
	assert.NoError(t, c.Cancel(ctx, "live"))
	assert.NoError(t, c.Cancel(ctx, "done"))
	assert.ErrorIs(t, c.Cancel(ctx, "ghost"), ErrSessionNotFound)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.ActiveOrders)
}
