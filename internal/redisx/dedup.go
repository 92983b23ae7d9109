package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup records processed event ids so a redelivered message is skipped.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.Service, id) }

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.RDB, d.key(id))
}

// Mark stores the marker; it reports false when another worker already did.
func (d *Dedup) Mark(ctx context.Context, id string) (bool, error) {
	return d.RDB.SetNX(ctx, d.key(id), 1, TTLDedup).Result()
}
