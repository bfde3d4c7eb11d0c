// Package cache provides a time-bounded prediction cache keyed by input
// features and model identity. It sits outside the detector core, which
// stays safe to call redundantly when the cache misses or degrades.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tradesys/regime/internal/regime"
)

// PredictionCache stores recent predictions in Redis. All Redis traffic
// runs through a circuit breaker: a flapping cache degrades to
// pass-through rather than adding latency to every predict call.
type PredictionCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
}

// New wraps a Redis client with the given entry lifetime.
func New(client *redis.Client, ttl time.Duration) *PredictionCache {
	settings := gobreaker.Settings{
		Name:    "prediction-cache",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("prediction cache breaker state change")
		},
	}
	return &PredictionCache{
		client:  client,
		ttl:     ttl,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Key derives the cache key from the model identity and the full feature
// vector, so differently configured models never share entries.
func Key(modelID string, features []float64) string {
	var b strings.Builder
	b.WriteString(modelID)
	for _, v := range features {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "regime:pred:" + hex.EncodeToString(sum[:16])
}

// Get returns a cached prediction, or (nil, false) on miss or cache
// degradation.
func (c *PredictionCache) Get(ctx context.Context, modelID string, features []float64) (*regime.Prediction, bool) {
	key := Key(modelID, features)

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Get(ctx, key).Result()
	})
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("prediction cache get failed")
		}
		return nil, false
	}

	var pred regime.Prediction
	if err := json.Unmarshal([]byte(res.(string)), &pred); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("prediction cache entry corrupt")
		return nil, false
	}
	return &pred, true
}

// Put stores a prediction for the configured TTL. Failures are logged and
// swallowed; the cache is best-effort.
func (c *PredictionCache) Put(ctx context.Context, features []float64, pred *regime.Prediction) {
	data, err := json.Marshal(pred)
	if err != nil {
		log.Debug().Err(err).Msg("marshaling prediction for cache failed")
		return
	}
	key := Key(pred.ModelID, features)

	if _, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key, data, c.ttl).Err()
	}); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("prediction cache put failed")
	}
}

// Close releases the underlying Redis connection.
func (c *PredictionCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("closing cache client: %w", err)
	}
	return nil
}
