package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPoolFailsOverInOrder(t *testing.T) {
	pool := Pool{Name: "test", Endpoints: []string{"one", "two", "three"}}
	var tried []string

	got, err := RunPool(context.Background(), pool, func(_ context.Context, endpoint string) (string, error) {
		tried = append(tried, endpoint)
		if endpoint != "three" {
			return "", errors.New(endpoint + " failed")
		}
		return "result from three", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "result from three", got)
	assert.Equal(t, []string{"one", "two", "three"}, tried)
}

func TestRunPoolStopsAtFirstSuccess(t *testing.T) {
	pool := Pool{Name: "test", Endpoints: []string{"one", "two", "three"}}
	calls := 0

	got, err := RunPool(context.Background(), pool, func(_ context.Context, endpoint string) (string, error) {
		calls++
		return endpoint, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "one", got)
	assert.Equal(t, 1, calls)
}

func TestRunPoolSurfacesLastError(t *testing.T) {
	pool := Pool{Name: "test", Endpoints: []string{"one", "two", "three"}}
	errs := map[string]error{
		"one":   errors.New("first"),
		"two":   errors.New("second"),
		"three": errors.New("third"),
	}

	_, err := RunPool(context.Background(), pool, func(_ context.Context, endpoint string) (int, error) {
		return 0, errs[endpoint]
	})

	assert.Equal(t, errs["three"], err)
}

func TestRunPoolEmptyAndCancelled(t *testing.T) {
	_, err := RunPool(context.Background(), Pool{Name: "empty"}, func(context.Context, string) (int, error) {
		t.Fatal("attempt must not run")
		return 0, nil
	})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err = RunPool(ctx, Pool{Name: "test", Endpoints: []string{"one", "two"}}, func(context.Context, string) (int, error) {
		calls++
		cancel()
		return 0, errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
