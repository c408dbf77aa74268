package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"go.uber.org/zap"
)

const (
	catalogKey        = "pixelcredit:catalog:snapshot"
	defaultCatalogTTL = 5 * time.Minute
)

// NewCatalogCache picks redis when a client is available so invalidation reaches every instance.
func NewCatalogCache(client *redis.Client, log *zap.Logger) catalogdomain.Cache {
	if client != nil {
		return NewRedisCatalogCache(client, log, defaultCatalogTTL)
	}
	return NewMemoryCatalogCache(defaultCatalogTTL)
}

type memoryCatalogCache struct {
	items Cache[string, catalogdomain.Catalog]
	ttl   time.Duration
}

func NewMemoryCatalogCache(ttl time.Duration) catalogdomain.Cache {
	return &memoryCatalogCache{items: NewTTLCache[string, catalogdomain.Catalog](), ttl: ttl}
}

func (c *memoryCatalogCache) Get(ctx context.Context) (catalogdomain.Catalog, bool) {
	return c.items.Get(catalogKey)
}

func (c *memoryCatalogCache) Set(ctx context.Context, catalog catalogdomain.Catalog) {
	c.items.Set(catalogKey, catalog, c.ttl)
}

func (c *memoryCatalogCache) Invalidate(ctx context.Context) {
	c.items.Delete(catalogKey)
}

type redisCatalogCache struct {
	client *redis.Client
	log    *zap.Logger
	ttl    time.Duration
}

func NewRedisCatalogCache(client *redis.Client, log *zap.Logger, ttl time.Duration) catalogdomain.Cache {
	return &redisCatalogCache{client: client, log: log.Named("cache.catalog"), ttl: ttl}
}

// Get treats any redis failure as a miss so pricing falls through to the database.
func (c *redisCatalogCache) Get(ctx context.Context) (catalogdomain.Catalog, bool) {
	raw, err := c.client.Get(ctx, catalogKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("catalog cache read failed", zap.Error(err))
		}
		return catalogdomain.Catalog{}, false
	}
	var catalog catalogdomain.Catalog
	if err := json.Unmarshal(raw, &catalog); err != nil {
		c.log.Warn("catalog cache decode failed", zap.Error(err))
		return catalogdomain.Catalog{}, false
	}
	return catalog, true
}

func (c *redisCatalogCache) Set(ctx context.Context, catalog catalogdomain.Catalog) {
	raw, err := json.Marshal(catalog)
	if err != nil {
		c.log.Warn("catalog cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, catalogKey, raw, c.ttl).Err(); err != nil {
		c.log.Warn("catalog cache write failed", zap.Error(err))
	}
}

func (c *redisCatalogCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, catalogKey).Err(); err != nil {
		c.log.Warn("catalog cache invalidate failed", zap.Error(err))
	}
}
