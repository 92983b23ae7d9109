package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-payments/internal/orders"
	"github.com/redis/go-redis/v9"
)

// StatusCache is the read-through cache behind the order status endpoint.
// Entries are dropped on every committed transition.
type StatusCache struct{ RDB redis.Cmdable }

var _ orders.StatusCache = (*StatusCache)(nil)

func (c *StatusCache) Get(ctx context.Context, number string) (orders.CachedStatus, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.CachedStatus{}, false, nil
	}
	if err != nil {
		return orders.CachedStatus{}, false, err
	}
	var cs orders.CachedStatus
	if err := json.Unmarshal(b, &cs); err != nil || !cs.Status.Valid() {
		// entry rusak, anggap miss
		return orders.CachedStatus{}, false, nil
	}
	return cs, true, nil
}

func (c *StatusCache) Set(ctx context.Context, number string, s orders.CachedStatus) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, number), b, TTLStatusCache).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, number string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, number)).Err()
}
