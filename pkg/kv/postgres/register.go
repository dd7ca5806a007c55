package postgres

import (
	"context"
	"time"

	"github.com/stormcast/stormcast-backend/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendPostgres, func(cfg kv.Config) (kv.Store, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return New(ctx, Options{
			DSN:           cfg.PostgresDSN,
			SweepInterval: cfg.JanitorInterval,
		})
	})
}
