package opsserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/atlas-quant/strategy-pipeline/internal/metrics"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	s := New(Config{Host: "127.0.0.1", Port: 0}, st, metrics.New(), zap.NewNop())
	return s, st
}

func TestHandleHealthReportsOK(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleStatusCountsEveryStatus(t *testing.T) {
	s, st := testServer(t)
	strat := &types.Strategy{
		ID: uuid.NewString(), Name: "counted", Category: types.CategoryMomentum,
		BarInterval: types.Interval1h, SourceText: "body", BaseCodeHash: "hash",
		Parameters: map[string]float64{"period": 14}, Status: types.StatusLive,
		Symbols: []string{"BTC-USD"},
	}
	require.NoError(t, st.Strategies.Insert(context.Background(), strat))

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.LiveCount)
	assert.Equal(t, 1, resp.Counts[types.StatusLive])
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	s, _ := testServer(t)
	require.NoError(t, s.Stop(context.Background()))
}
