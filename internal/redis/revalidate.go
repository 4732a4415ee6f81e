package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Revalidator marks named views stale after a successful mutation so UI
// caches can refresh. Fire-and-forget: failures are logged, never returned,
// and never roll back the mutation that triggered them.
type Revalidator interface {
	Invalidate(ctx context.Context, views ...string)
}

const revalidateChannel = "revalidate"

type redisRevalidator struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisRevalidator(client *redis.Client, log zerolog.Logger) Revalidator {
	return &redisRevalidator{client: client, log: log}
}

func (r *redisRevalidator) Invalidate(ctx context.Context, views ...string) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	for _, view := range views {
		if err := r.client.Publish(pubCtx, revalidateChannel, view).Err(); err != nil {
			r.log.Warn().Err(err).Str("view", view).Msg("revalidation publish failed")
		}
	}
}

// NopRevalidator is used by tests and offline tools.
type NopRevalidator struct{}

func (NopRevalidator) Invalidate(context.Context, ...string) {}
