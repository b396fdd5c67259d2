package app

import (
	"kumascript/internal/common/logging"
	"kumascript/internal/redis"
)

func (app *App) initializeRedis() error {
	if app.Config.RedisAddress == "" {
		app.Logger.Info("Redis: Not configured (in-memory cache, no distributed locks)")
		return nil
	}

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDBInt(),
		PoolSize: app.Config.RedisPoolSizeInt(),
	})
	if err != nil {
		if app.Config.CacheType == "memory" && !app.Config.DistributedLocks {
			// Nothing depends on Redis, keep going without it
			app.Logger.Warn("Redis initialization failed, continuing without Redis", logging.Err(err))
			return nil
		}
		return err
	}

	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.Field{Key: "address", Value: app.Config.RedisAddress})
	return nil
}
