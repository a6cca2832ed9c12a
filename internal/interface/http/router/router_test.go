package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xiebiao/stockledger/internal/application/ledger"
	"github.com/xiebiao/stockledger/internal/application/lowstock"
	"github.com/xiebiao/stockledger/internal/infrastructure/persistence/memory"
	"github.com/xiebiao/stockledger/internal/interface/http/dto"
	"github.com/xiebiao/stockledger/internal/interface/http/handler"
	"github.com/xiebiao/stockledger/internal/interface/http/middleware"
	"github.com/xiebiao/stockledger/pkg/clock"
	apperrors "github.com/xiebiao/stockledger/pkg/errors"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listData struct {
	List  json.RawMessage `json:"list"`
	Total int             `json:"total"`
}

type testServer struct {
	engine *gin.Engine
	clock  *clock.Manual
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.NewStore()
	c := clock.NewManual(time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	policy := lowstock.NewPolicy(3, nil)

	m := ledger.NewManager(ledger.Repositories{
		Stocks:       store.Stocks(),
		Movements:    store.Movements(),
		Reservations: store.Reservations(),
		Ledger:       store.Ledger(),
	}, nil, policy, ledger.WithClock(c), ledger.WithLogger(logger))

	engine := New(Options{Mode: gin.TestMode}, logger,
		handler.NewStockHandler(m, lowstock.NewMonitor(store.Stocks(), policy)),
		handler.NewReservationHandler(m))
	return &testServer{engine: engine, clock: c}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestStockEndpoints(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/stocks", map[string]interface{}{"sku": "SKU-1", "on_hand": 10})
	require.Equal(t, http.StatusOK, code, env.Message)
	stock := decode[dto.StockResponse](t, env.Data)
	assert.Equal(t, 10, stock.Available)

	code, env = s.do(t, http.MethodPost, "/api/v1/stocks", map[string]interface{}{"sku": "SKU-1", "on_hand": 1})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperrors.ErrCodeSKUExists, env.Code)

	code, env = s.do(t, http.MethodPatch, "/api/v1/stocks/SKU-1", map[string]interface{}{"delta": -4})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, 6, decode[dto.UpdateStockResponse](t, env.Data).OnHand)

	code, env = s.do(t, http.MethodPatch, "/api/v1/stocks/SKU-1", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, apperrors.ErrCodeBindError, env.Code)

	code, env = s.do(t, http.MethodGet, "/api/v1/stocks/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, apperrors.ErrCodeSKUNotFound, env.Code)

	code, env = s.do(t, http.MethodGet, "/api/v1/stocks/SKU-1/low?threshold=6", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[dto.LowStockResponse](t, env.Data).Low)

	code, env = s.do(t, http.MethodGet, "/api/v1/low-stock", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Zero(t, decode[listData](t, env.Data).Total)

	code, env = s.do(t, http.MethodGet, "/api/v1/stocks/SKU-1/movements?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	moves := decode[listData](t, env.Data)
	assert.Equal(t, 1, moves.Total)

	code, env = s.do(t, http.MethodGet, "/api/v1/stocks/SKU-1/movements", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, 1, decode[listData](t, env.Data).Total, "no limit falls back to the default page")

	for _, limit := range []string{"0", "501"} {
		code, env = s.do(t, http.MethodGet, "/api/v1/stocks/SKU-1/movements?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, code, "limit=%s", limit)
		assert.Equal(t, apperrors.ErrCodeInvalidParams, env.Code, "limit=%s", limit)
	}
}

func TestReservationLifecycle(t *testing.T) {
	s := newTestServer(t)
	_, _ = s.do(t, http.MethodPost, "/api/v1/stocks", map[string]interface{}{"sku": "SKU-1", "on_hand": 5})

	code, env := s.do(t, http.MethodPost, "/api/v1/reservations", map[string]interface{}{"sku": "SKU-1", "quantity": 3})
	require.Equal(t, http.StatusOK, code, env.Message)
	res := decode[dto.ReservationResponse](t, env.Data)
	assert.Equal(t, "PENDING", res.Status)
	assert.Equal(t, 15*time.Minute, res.ExpiresAt.Sub(res.CreatedAt))

	code, env = s.do(t, http.MethodPost, "/api/v1/reservations", map[string]interface{}{"sku": "SKU-1", "quantity": 3})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperrors.ErrCodeInsufficientStock, env.Code)

	code, env = s.do(t, http.MethodPost, "/api/v1/reservations", map[string]interface{}{"sku": "SKU-1", "quantity": -1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, apperrors.ErrCodeInvalidQuantity, env.Code)

	code, env = s.do(t, http.MethodPost, "/api/v1/reservations/"+res.ID+"/commit", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, "COMMITTED", decode[dto.ReservationResponse](t, env.Data).Status)

	code, _ = s.do(t, http.MethodPost, "/api/v1/reservations/"+res.ID+"/commit", nil)
	assert.Equal(t, http.StatusOK, code, "commit is idempotent")

	code, env = s.do(t, http.MethodPost, "/api/v1/reservations/"+res.ID+"/release", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperrors.ErrCodeCannotReleaseCommitted, env.Code)

	code, env = s.do(t, http.MethodGet, "/api/v1/stocks/SKU-1/reconcile", nil)
	require.Equal(t, http.StatusOK, code)
	report := decode[dto.ReconcileResponse](t, env.Data)
	assert.True(t, report.Consistent)
	assert.Equal(t, 2, report.OnHand)

	code, env = s.do(t, http.MethodGet, "/api/v1/reservations/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, apperrors.ErrCodeReservationNotFound, env.Code)
}

func TestReservationExpiresAtDeadline(t *testing.T) {
	s := newTestServer(t)
	_, _ = s.do(t, http.MethodPost, "/api/v1/stocks", map[string]interface{}{"sku": "SKU-1", "on_hand": 5})

	_, env := s.do(t, http.MethodPost, "/api/v1/reservations", map[string]interface{}{"sku": "SKU-1", "quantity": 2, "ttl_seconds": 60})
	res := decode[dto.ReservationResponse](t, env.Data)

	s.clock.Advance(time.Minute)

	code, env := s.do(t, http.MethodPost, "/api/v1/reservations/"+res.ID+"/commit", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperrors.ErrCodeReservationExpired, env.Code)

	code, env = s.do(t, http.MethodPost, "/api/v1/reservations/"+res.ID+"/release", nil)
	require.Equal(t, http.StatusOK, code, "release of an expired reservation is a no-op")
	assert.Equal(t, "EXPIRED", decode[dto.ReservationResponse](t, env.Data).Status)
}

func TestReserveBatchIsAllOrNothing(t *testing.T) {
	s := newTestServer(t)
	_, _ = s.do(t, http.MethodPost, "/api/v1/stocks", map[string]interface{}{"sku": "A", "on_hand": 5})
	_, _ = s.do(t, http.MethodPost, "/api/v1/stocks", map[string]interface{}{"sku": "B", "on_hand": 1})

	code, env := s.do(t, http.MethodPost, "/api/v1/reservations/batch", map[string]interface{}{
		"lines": []map[string]interface{}{{"sku": "A", "quantity": 2}, {"sku": "B", "quantity": 2}},
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperrors.ErrCodeInsufficientStock, env.Code)

	_, env = s.do(t, http.MethodGet, "/api/v1/stocks/A", nil)
	assert.Equal(t, 5, decode[dto.StockResponse](t, env.Data).Available)

	code, env = s.do(t, http.MethodPost, "/api/v1/reservations/batch", map[string]interface{}{
		"lines": []map[string]interface{}{{"sku": "A", "quantity": 2}, {"sku": "B", "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, 2, decode[listData](t, env.Data).Total)

	code, _ = s.do(t, http.MethodPost, "/api/v1/reservations/batch", map[string]interface{}{"lines": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReserveRejectsOversizedTTL(t *testing.T) {
	s := newTestServer(t)
	_, _ = s.do(t, http.MethodPost, "/api/v1/stocks", map[string]interface{}{"sku": "SKU-1", "on_hand": 5})

	for _, ttl := range []int64{-1, 86401, 1 << 40} {
		code, env := s.do(t, http.MethodPost, "/api/v1/reservations", map[string]interface{}{"sku": "SKU-1", "quantity": 1, "ttl_seconds": ttl})
		assert.Equal(t, http.StatusBadRequest, code, "ttl_seconds=%d", ttl)
		assert.Equal(t, apperrors.ErrCodeBindError, env.Code, "ttl_seconds=%d", ttl)
	}

	code, env := s.do(t, http.MethodPost, "/api/v1/reservations", map[string]interface{}{"sku": "SKU-1", "quantity": 1, "ttl_seconds": 86400})
	require.Equal(t, http.StatusOK, code, env.Message)
	res := decode[dto.ReservationResponse](t, env.Data)
	assert.Equal(t, 24*time.Hour, res.ExpiresAt.Sub(res.CreatedAt))

	_, env = s.do(t, http.MethodGet, "/api/v1/stocks/SKU-1", nil)
	assert.Equal(t, 4, decode[dto.StockResponse](t, env.Data).Available)
}
