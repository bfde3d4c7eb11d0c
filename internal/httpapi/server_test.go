package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesys/regime/internal/config"
	"github.com/tradesys/regime/internal/regime"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)

	factoryCfg := cfg.Detector
	factoryCfg.Active = regime.TypeRules
	factoryCfg.ModelDir = t.TempDir()

	return NewServer(cfg.Server, regime.NewFactory(factoryCfg), nil)
}

func postPredict(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandlePredict_OK(t *testing.T) {
	s := testServer(t)

	rec := postPredict(t, s, map[string]any{
		"features": map[string]float64{
			"return_5d":          0.03,
			"volatility_20d":     0.15,
			"trend_strength_14d": 28,
			"volume_ratio":       1.1,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var pred regime.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	assert.Equal(t, regime.TrendingUp, pred.Label)
	assert.Equal(t, 0.8, pred.Confidence)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandlePredict_MissingFeature(t *testing.T) {
	s := testServer(t)

	rec := postPredict(t, s, map[string]any{
		"features": map[string]float64{"return_5d": 0.03},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing feature")
}

func TestHandlePredict_MalformedBody(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/predict", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePredict_UnfittedModel(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)

	factoryCfg := cfg.Detector
	factoryCfg.Active = regime.TypeHMM
	factoryCfg.ModelDir = t.TempDir()
	s := NewServer(cfg.Server, regime.NewFactory(factoryCfg), nil)

	rec := postPredict(t, s, map[string]any{
		"features": map[string]float64{
			"return_5d":          0.03,
			"volatility_20d":     0.15,
			"trend_strength_14d": 28,
			"volume_ratio":       1.1,
		},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleModel(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/model", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["is_fitted"])
	assert.Equal(t, "rules", resp["type"])
	assert.Contains(t, resp["model_id"], "rules-")
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
