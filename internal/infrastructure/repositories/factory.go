package repositories

import (
	"context"

	"relaycast/internal/core/ports"
	"relaycast/internal/infrastructure/repositories/memory"
	redisrepo "relaycast/internal/infrastructure/repositories/redis"
	"relaycast/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RegistryFactory creates the registry backend, falling back to memory when
// Redis is enabled but unreachable.
type RegistryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRegistryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RegistryFactory, error) {
	factory := &RegistryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory registry", "error", err)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis registry")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory registry")
	}

	return factory, nil
}

// CreateRegistry returns the configured registry backend.
func (f *RegistryFactory) CreateRegistry() ports.Registry {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisRegistry(f.redisClient)
	}
	return memory.NewMemoryRegistry()
}

// Close closes the Redis connection if one is held.
func (f *RegistryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck pings Redis when it is the active backend.
func (f *RegistryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
