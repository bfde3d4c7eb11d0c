package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesys/regime/internal/regime"
)

func testPrediction(t *testing.T) *regime.Prediction {
	t.Helper()
	detector := regime.NewRuleBasedDetector(regime.DefaultThresholds())
	pred, err := detector.Predict([]float64{0.03, 0.15, 28, 1.1})
	require.NoError(t, err)
	return pred
}

func TestKey_SensitiveToModelAndFeatures(t *testing.T) {
	a := Key("hmm-x", []float64{1, 2, 3, 4})
	b := Key("hmm-y", []float64{1, 2, 3, 4})
	c := Key("hmm-x", []float64{1, 2, 3, 5})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, Key("hmm-x", []float64{1, 2, 3, 4}))
}

func TestPredictionCache_PutAndGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, time.Minute)

	pred := testPrediction(t)
	vector := []float64{0.03, 0.15, 28, 1.1}
	key := Key(pred.ModelID, vector)

	data, err := json.Marshal(pred)
	require.NoError(t, err)

	mock.ExpectSet(key, data, time.Minute).SetVal("OK")
	c.Put(context.Background(), vector, pred)

	mock.ExpectGet(key).SetVal(string(data))
	got, ok := c.Get(context.Background(), pred.ModelID, vector)
	require.True(t, ok)
	assert.Equal(t, pred.Label, got.Label)
	assert.Equal(t, pred.Confidence, got.Confidence)
	assert.Equal(t, pred.ModelID, got.ModelID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPredictionCache_Miss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, time.Minute)

	vector := []float64{0.03, 0.15, 28, 1.1}
	mock.ExpectGet(Key("m", vector)).RedisNil()

	_, ok := c.Get(context.Background(), "m", vector)
	assert.False(t, ok)
}

func TestPredictionCache_CorruptEntryIsMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, time.Minute)

	vector := []float64{0.03, 0.15, 28, 1.1}
	mock.ExpectGet(Key("m", vector)).SetVal("{not json")

	_, ok := c.Get(context.Background(), "m", vector)
	assert.False(t, ok)
}

func TestPredictionCache_BreakerOpensOnRepeatedFailures(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, time.Minute)

	vector := []float64{0.03, 0.15, 28, 1.1}
	for i := 0; i < 5; i++ {
		mock.ExpectGet(Key("m", vector)).SetErr(errors.New("connection refused"))
	}

	// Five consecutive failures trip the breaker; later calls degrade to
	// misses without touching Redis.
	for i := 0; i < 8; i++ {
		_, ok := c.Get(context.Background(), "m", vector)
		assert.False(t, ok)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}
