package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFeatureCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	body := "date,return_5d,volatility_20d,trend_strength_14d,volume_ratio\n" +
		"2025-01-01,0.03,0.15,28,1.1\n" +
		"2025-01-02,-0.01,0.12,18,0.9\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	obs, err := readFeatureCSV(path, []string{"return_5d", "volatility_20d", "trend_strength_14d", "volume_ratio"})
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, []float64{0.03, 0.15, 28, 1.1}, obs[0])
	assert.Equal(t, []float64{-0.01, 0.12, 18, 0.9}, obs[1])
}

func TestReadFeatureCSV_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte("return_5d\n0.03\n"), 0o644))

	_, err := readFeatureCSV(path, []string{"return_5d", "volatility_20d"})
	assert.ErrorContains(t, err, "missing required column")
}

func TestParseFeatureFlags(t *testing.T) {
	vector, err := parseFeatureFlags(
		"return_5d=0.03, volatility_20d=0.15,trend_strength_14d=28,volume_ratio=1.1",
		[]string{"return_5d", "volatility_20d", "trend_strength_14d", "volume_ratio"},
	)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.03, 0.15, 28, 1.1}, vector)
}

func TestParseFeatureFlags_Missing(t *testing.T) {
	_, err := parseFeatureFlags("return_5d=0.03", []string{"return_5d", "volatility_20d"})
	assert.ErrorContains(t, err, "missing feature")
}

func TestParseFeatureFlags_Malformed(t *testing.T) {
	_, err := parseFeatureFlags("return_5d", []string{"return_5d"})
	assert.ErrorContains(t, err, "malformed")
}
