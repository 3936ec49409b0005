package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/r-umemoto/crossbot/pkg/domain/ledger"
	"github.com/r-umemoto/crossbot/pkg/domain/market"
	"github.com/r-umemoto/crossbot/pkg/metrics"
	"github.com/r-umemoto/crossbot/pkg/usecase"
)

type MockPortfolio struct {
	mock.Mock
}

func (m *MockPortfolio) Status(ctx context.Context) (usecase.Status, error) {
	args := m.Called(ctx)
	return args.Get(0).(usecase.Status), args.Error(1)
}

func (m *MockPortfolio) Trades(ctx context.Context, limit int) ([]ledger.Trade, error) {
	args := m.Called(ctx, limit)
	trades, _ := args.Get(0).([]ledger.Trade)
	return trades, args.Error(1)
}

func serve(h *Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	h.SetupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := serve(NewHandler(new(MockPortfolio), nil, nil, nil), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeaderKey))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, ServiceName, body["service"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	rec := serve(NewHandler(new(MockPortfolio), nil, nil, nil), http.MethodGet, "/health",
		http.Header{RequestIDHeaderKey: {"req-123"}})
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeaderKey))

	// header names are case-insensitive on the wire
	rec = serve(NewHandler(new(MockPortfolio), nil, nil, nil), http.MethodGet, "/health",
		http.Header{"x-request-id": {"req-456"}})
	assert.Equal(t, "req-456", rec.Header().Get(RequestIDHeaderKey))
}

func TestGetStatus(t *testing.T) {
	p := new(MockPortfolio)
	p.On("Status", mock.Anything).Return(usecase.Status{
		Mode:       "dry",
		QuoteAsset: "USDC",
		Free:       950,
		Open: []usecase.OpenPosition{{
			ID:        1,
			Key:       market.Key{Symbol: "BTCUSDC", Exchange: "MEXC", Interval: "1m"},
			BaseQty:   0.5,
			MarkPrice: 110,
			Value:     55,
		}},
		Equity: 1005,
	}, nil)

	rec := serve(NewHandler(p, nil, nil, nil), http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body usecase.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1005.0, body.Equity)
	require.Len(t, body.Open, 1)
	assert.Equal(t, "BTCUSDC", body.Open[0].Key.Symbol)
}

func TestGetStatusError(t *testing.T) {
	p := new(MockPortfolio)
	p.On("Status", mock.Anything).Return(usecase.Status{}, errors.New("db locked"))

	rec := serve(NewHandler(p, nil, nil, nil), http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db locked")
}

func TestGetTrades(t *testing.T) {
	p := new(MockPortfolio)
	p.On("Trades", mock.Anything, DefaultTradesLimit).Return([]ledger.Trade{{ID: 2}, {ID: 1}}, nil)
	p.On("Trades", mock.Anything, 500).Return([]ledger.Trade{}, nil)
	h := NewHandler(p, nil, nil, nil)

	rec := serve(h, http.MethodGet, "/trades", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Trades []ledger.Trade `json:"trades"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, uint64(2), body.Trades[0].ID)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/trades?limit=500", nil).Code)
	p.AssertExpectations(t)
}

func TestGetTradesRejectsBadLimit(t *testing.T) {
	p := new(MockPortfolio)
	h := NewHandler(p, nil, nil, nil)

	for _, q := range []string{"0", "501", "-1", "abc"} {
		rec := serve(h, http.MethodGet, "/trades?limit="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	p.AssertNotCalled(t, "Trades", mock.Anything, mock.Anything)
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.ObserveSignal("HOLD", "no_entry")

	rec := serve(NewHandler(new(MockPortfolio), m.Handler(), nil, nil), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `crossbot_signals_total{action="HOLD",reason="no_entry"} 1`)

	rec = serve(NewHandler(new(MockPortfolio), nil, nil, nil), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	rec := serve(NewHandler(new(MockPortfolio), nil, nil, nil), http.MethodOptions, "/status", nil)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
