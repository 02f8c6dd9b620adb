package feed

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"incident-map/internal/logger"
)

// Cache：事件源响应体缓存
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, b []byte, ttl time.Duration)
}

// 文档注释：进程内 LRU（未配置 Redis 时使用）
// 约束：条目按写入时的 ttl 过期；容量满时淘汰最久未用。
type LRU struct {
	mu   sync.Mutex
	cap  int
	lst  *list.List
	dict map[string]*list.Element
}

type kv struct {
	k   string
	v   []byte
	exp time.Time
}

func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 16
	}
	return &LRU{cap: capacity, lst: list.New(), dict: make(map[string]*list.Element)}
}

func (c *LRU) Get(_ context.Context, k string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.dict[k]
	if !ok {
		return nil, false
	}
	it := e.Value.(kv)
	if time.Now().Before(it.exp) {
		c.lst.MoveToFront(e)
		return it.v, true
	}
	c.lst.Remove(e)
	delete(c.dict, k)
	return nil, false
}

func (c *LRU) Set(_ context.Context, k string, v []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := kv{k: k, v: v, exp: time.Now().Add(ttl)}
	if e, ok := c.dict[k]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(kv).k)
		c.lst.Remove(back)
	}
}

// RedisCache：跨进程共享的事件源缓存
type RedisCache struct {
	rc     *redis.Client
	prefix string
}

func NewRedisCache(rc *redis.Client) *RedisCache {
	return &RedisCache{rc: rc, prefix: "incidentmap:feed:"}
}

// 约束：Redis 错误按未命中处理，只记 debug 日志
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rc.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Component("feed").Debug("feed_cache_get_error", "key", key, "err", err)
		}
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, b []byte, ttl time.Duration) {
	if err := c.rc.Set(ctx, c.prefix+key, b, ttl).Err(); err != nil {
		logger.Component("feed").Debug("feed_cache_set_error", "key", key, "err", err)
	}
}
