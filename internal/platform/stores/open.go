package stores

import (
	"context"
	"fmt"

	"admin-dashboard/internal/config"
	"admin-dashboard/internal/infrastructure/dynamodb"
	"admin-dashboard/internal/infrastructure/storage"
	"admin-dashboard/internal/ports"
)

// Open builds the persistent store selected by cfg.Cache.Store. The returned
// close func releases connections held by the store.
func Open(ctx context.Context, cfg *config.Config) (ports.KVStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.StoreKind {
	case config.StoreFile:
		f, err := storage.OpenFile(cfg.Cache.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return f, noop, nil
	case config.StoreRedis:
		client, err := storage.DialRedis(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return storage.NewRedis(client, "dashboard:", cfg.Cache.EntryTTL), client.Close, nil
	case config.StoreDynamoDB:
		client, err := dynamodb.NewClient(ctx, cfg.Cache.DynamoDB.Region)
		if err != nil {
			return nil, nil, fmt.Errorf("init dynamodb client: %w", err)
		}
		return dynamodb.NewKVStore(client, cfg.Cache.DynamoDB.Table, cfg.Cache.EntryTTL), noop, nil
	case config.StoreMemory, "":
		return storage.NewMemory(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store kind %q", cfg.StoreKind)
	}
}
