package provider

import (
	"context"
	"fmt"

	"github.com/cheahjs/img-router/internal/metrics"
	"github.com/rs/zerolog"
)

// Pool is an ordered list of interchangeable endpoints.
type Pool struct {
	Name      string
	Endpoints []string
}

// RunPool tries each endpoint in order and returns the first success. No
// endpoint is contacted after one succeeds. When all fail, the last
// endpoint's error is returned.
func RunPool[T any](ctx context.Context, pool Pool, attempt func(ctx context.Context, endpoint string) (T, error)) (T, error) {
	var zero T
	if len(pool.Endpoints) == 0 {
		return zero, fmt.Errorf("endpoint pool %s is empty", pool.Name)
	}
	logger := zerolog.Ctx(ctx)

	var lastErr error
	for i, endpoint := range pool.Endpoints {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := attempt(ctx, endpoint)
		if err == nil {
			if i > 0 {
				logger.Info().Str("pool", pool.Name).Str("endpoint", endpoint).Int("candidate", i+1).Msg("Pool endpoint succeeded after failover")
			}
			return v, nil
		}
		metrics.PoolFailoversTotal.WithLabelValues(pool.Name).Inc()
		logger.Warn().Err(err).Str("pool", pool.Name).Str("endpoint", endpoint).Int("candidate", i+1).Int("candidates", len(pool.Endpoints)).Msg("Pool endpoint failed")
		lastErr = err
	}
	return zero, lastErr
}
