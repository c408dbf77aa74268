//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCatalogCacheSharedInvalidation(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	first := NewRedisCatalogCache(client, zap.NewNop(), time.Minute)
	second := NewRedisCatalogCache(client, zap.NewNop(), time.Minute)

	first.Set(ctx, catalogdomain.Catalog{Settings: catalogdomain.SystemSettings{ConversionRate: 40, Version: 7}})
	got, ok := second.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, float64(40), got.Settings.ConversionRate)

	second.Invalidate(ctx)
	_, ok = first.Get(ctx)
	assert.False(t, ok)
}
