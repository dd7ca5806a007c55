package redis

import (
	"github.com/stormcast/stormcast-backend/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendRedis, func(cfg kv.Config) (kv.Store, error) {
		return New(cfg.RedisURL)
	})
}
