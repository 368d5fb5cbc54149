package config

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/voxlogica-project/voxlogica-core/store"
	"github.com/voxlogica-project/voxlogica-core/store/bbolt"
	"github.com/voxlogica-project/voxlogica-core/store/mongo"
	"github.com/voxlogica-project/voxlogica-core/store/redis"
)

// OpenBackend constructs the store.Backend named by cfg.Backend,
// connecting to mongo/redis if needed. It returns (nil, nil) for
// BackendNone, which callers pass straight through to store.New without
// a store.WithBackend option. The returned closer (possibly nil) should
// be called on shutdown to release the underlying connection.
func OpenBackend(ctx context.Context, cfg Config) (store.Backend, func(context.Context) error, error) {
	switch cfg.Backend {
	case BackendNone, "":
		return nil, nil, nil

	case BackendBbolt:
		if cfg.StorePath == "" {
			return nil, nil, fmt.Errorf("config: bbolt backend requires store_path/CORE_STORE_PATH")
		}
		b, err := bbolt.Open(cfg.StorePath)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open bbolt backend: %w", err)
		}
		return b, func(context.Context) error { return b.Close() }, nil

	case BackendMongo:
		uri := cfg.MongoURI
		if uri == "" {
			return nil, nil, fmt.Errorf("config: mongo backend requires mongo_uri")
		}
		client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
		if err != nil {
			return nil, nil, fmt.Errorf("config: connect mongo: %w", err)
		}
		b, err := mongo.New(mongo.Options{Client: client, Database: cfg.MongoDatabase})
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("config: create mongo backend: %w", err)
		}
		return b, func(ctx context.Context) error { return client.Disconnect(ctx) }, nil

	case BackendRedis:
		addr := cfg.RedisAddr
		if addr == "" {
			return nil, nil, fmt.Errorf("config: redis backend requires redis_addr")
		}
		rdb := goredis.NewClient(&goredis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("config: connect redis: %w", err)
		}
		b := redis.New(rdb)
		return b, func(context.Context) error { return rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
}
