package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"callsignal/pkg/utils"

	"github.com/redis/go-redis/v9"
)

var ErrCapReached = errors.New("admission: connection cap reached")

// ConnLimiter caps concurrent connections per client address.
type ConnLimiter interface {
	Acquire(ctx context.Context, addr string) error
	Release(ctx context.Context, addr string) error
}

func connKey(addr string) string { return "ws:conn:" + addr }

// RedisCap shares the cap across server instances. The TTL bounds slots
// leaked by a crashed instance.
type RedisCap struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisCap(rdb *redis.Client, limit int, ttl time.Duration) *RedisCap {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCap{rdb: rdb, limit: limit, ttl: ttl}
}

func (c *RedisCap) Acquire(ctx context.Context, addr string) error {
	ok, err := utils.AcquireSlot(ctx, c.rdb, connKey(addr), c.limit, c.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCapReached
	}
	return nil
}

func (c *RedisCap) Release(ctx context.Context, addr string) error {
	return utils.ReleaseSlot(ctx, c.rdb, connKey(addr))
}

// MemoryCap is the single-instance variant used when Redis is not configured.
type MemoryCap struct {
	mu    sync.Mutex
	limit int
	held  map[string]int
}

func NewMemoryCap(limit int) *MemoryCap {
	return &MemoryCap{limit: limit, held: map[string]int{}}
}

func (c *MemoryCap) Acquire(_ context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && c.held[addr] >= c.limit {
		return ErrCapReached
	}
	c.held[addr]++
	return nil
}

func (c *MemoryCap) Release(_ context.Context, addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[addr] <= 1 {
		delete(c.held, addr)
		return nil
	}
	c.held[addr]--
	return nil
}
