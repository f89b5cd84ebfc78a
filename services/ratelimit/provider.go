package ratelimit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thoka/discourse-login-helper/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(NewLimiter),
)

type StoreParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	DB        *gorm.DB `optional:"true"`
}

func ProvideStore(p StoreParams) (Store, error) {
	store, err := NewStore(p.Config, p.DB)
	if err != nil {
		return nil, err
	}

	if closer, ok := store.(io.Closer); ok {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return closer.Close()
			},
		})
	}

	return store, nil
}

func NewStore(cfg *config.Config, db *gorm.DB) (Store, error) {
	switch cfg.RateLimit.Store {
	case "database":
		if db == nil {
			return nil, fmt.Errorf("rate limit store %q requires a database", cfg.RateLimit.Store)
		}
		return NewDatabaseStore(db), nil
	case "redis":
		client, err := NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &closingRedisStore{RedisStore: NewRedisStore(client, "login-helper:"), client: client}, nil
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit store: %s", cfg.RateLimit.Store)
	}
}

func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

type closingRedisStore struct {
	*RedisStore
	client *redis.Client
}

func (s *closingRedisStore) Close() error {
	return s.client.Close()
}
