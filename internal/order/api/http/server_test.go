package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"restaurant-ops/internal/domain/models"
	"restaurant-ops/internal/order/adapter/lock"
	"restaurant-ops/internal/order/app/core"
	"restaurant-ops/internal/xpkg/config"
	"restaurant-ops/internal/xpkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.LockWait = 50 * time.Millisecond
	cfg.Effects.RetryDelay = 10 * time.Millisecond
	cfg.Seed = &config.Seed{
		Tables:    []config.SeedTable{{ID: "t5", StoreID: "s1", Label: "Table 5", Capacity: 4}},
		Inventory: []config.SeedStock{{StoreID: "s1", ProductID: "burger", Quantity: 10}},
	}
	return cfg
}

func newTestServer(t *testing.T, rdb *redis.Client) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	params := &core.OrderParams{Storage: core.StorageMemory, Lock: core.LockLocal, Effects: core.EffectsLocal, Instance: "test"}
	s := NewServer(ctx, ctx, testConfig(), params, logger.Nop())
	require.NoError(t, s.initialize())
	s.rdb = rdb
	require.NoError(t, s.Configure())
	s.startBackground()
	t.Cleanup(func() {
		s.rdb = nil
		_ = s.Stop(context.Background())
		cancel()
	})
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const dineInBody = `{"store_id":"s1","channel":"dine_in","table_id":"t5","customer_name":"Five",
	"items":[{"product_id":"burger","name":"Burger","quantity":2,"unit_price":"12.50"}],"actor":{"role":"waiter","name":"ana"}}`

func createOrder(t *testing.T, h http.Handler) models.Order {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/orders", dineInBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	return order
}

func TestServer_OrderFlow(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	order := createOrder(t, h)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, "25.00", order.Total.StringFixed(2))

	rec := do(t, h, http.MethodPost, "/orders/"+order.ID+"/transitions", `{"target_status":"confirmed"}`, "X-Actor", "waiter:ana")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res models.TransitionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.StatusConfirmed, res.NewStatus)
	assert.Equal(t, 2, res.Version)

	rec = do(t, h, http.MethodGet, "/stores/s1/tables", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tables []models.Table
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tables))
	require.Len(t, tables, 1)
	assert.Equal(t, models.TableOccupied, tables[0].Status)

	rec = do(t, h, http.MethodGet, "/stores/s1/orders?status=confirmed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var active []models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.Equal(t, order.ID, active[0].ID)

	rec = do(t, h, http.MethodGet, "/orders/"+order.ID+"/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.AuditRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.NotEmpty(t, history)

	rec = do(t, h, http.MethodGet, "/stores/s1/late-orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order_ids":[]`)
}

func TestServer_ErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	order := createOrder(t, h)

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{name: "unknown order", method: http.MethodGet, path: "/orders/missing", wantCode: http.StatusNotFound},
		{name: "skipping a status", method: http.MethodPost, path: "/orders/" + order.ID + "/transitions", body: `{"target_status":"ready","actor":{"role":"kitchen"}}`, wantCode: http.StatusConflict},
		{name: "missing actor", method: http.MethodPost, path: "/orders/" + order.ID + "/transitions", body: `{"target_status":"confirmed"}`, wantCode: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, path: "/orders", body: `{"store_id":`, wantCode: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/orders", body: `{"shop":"s1"}`, wantCode: http.StatusBadRequest},
		{name: "dine in without table", method: http.MethodPost, path: "/orders", body: `{"store_id":"s1","channel":"dine_in","items":[{"product_id":"a","name":"A","quantity":1,"unit_price":"1"}]}`, wantCode: http.StatusBadRequest},
		{name: "bad status filter", method: http.MethodGet, path: "/stores/s1/orders?status=eaten", wantCode: http.StatusBadRequest},
		{name: "driver on dine in order", method: http.MethodPost, path: "/orders/" + order.ID + "/delivery/assign", body: `{"driver_id":"d1","actor":{"role":"manager"}}`, wantCode: http.StatusNotFound},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			rec := do(t, h, testCase.method, testCase.path, testCase.body)
			assert.Equal(t, testCase.wantCode, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestServer_BusyOrderReturnsRetryAfter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	s := newTestServer(t, rdb)
	h := s.Handler()
	order := createOrder(t, h)

	other := lock.NewRedis(rdb, time.Minute, logger.Nop())
	release, err := other.Acquire(context.Background(), "order:"+order.ID, time.Second)
	require.NoError(t, err)
	defer release()

	rec := do(t, h, http.MethodPost, "/orders/"+order.ID+"/transitions", `{"target_status":"confirmed"}`, "X-Actor", "waiter:ana")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestServer_HealthAndRequestID(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", "", "X-Request-ID", "req-42")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_StreamDeliversStoreEvents(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stores/s1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the subscription a moment to register with the hub
	require.Eventually(t, func() bool { return s.hub.Subscribers("s1") == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/orders", "application/json", bytes.NewBufferString(dineInBody))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, models.EventOrderCreated, ev.Kind)
	assert.Equal(t, "s1", ev.StoreID)
}
