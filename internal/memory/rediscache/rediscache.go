// Package rediscache is an optional read-through layer in front of a
// memory.Store: it caches session bindings so hot-path lookups on every
// inbound message skip the primary store. It also provides a
// heartbeat_interval publish/subscribe pair; nothing in this tree calls
// it, so a HEARTBEAT_INTERVAL change reaches the heartbeat loop only
// through the in-process heartbeat.IntervalSignal.
package rediscache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"omega/internal/memory"
)

// Config mirrors the [memory.redis] TOML table.
type Config struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// Cache wraps a memory.Store, serving session lookups from Redis first and
// publishing heartbeat interval changes on a well-known channel. The
// wrapped Store is embedded so *Cache itself satisfies memory.Store via
// method promotion — every method besides the three session ones below
// passes straight through unmodified — letting cmd/omega drop a *Cache in
// wherever a memory.Store is expected instead of needing a second
// pass-through wrapper type.
type Cache struct {
	memory.Store
	client redis.UniversalClient
	ttl    time.Duration
}

// New builds a Cache in front of store when cfg.Enabled; returns (nil, nil)
// when disabled so callers fall back to store directly.
func New(cfg Config, store memory.Store) (*Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Cache{Store: store, client: client, ttl: 24 * time.Hour}, nil
}

// Close shuts down the Redis client and the wrapped store, overriding the
// promoted memory.Store.Close so both resources actually get released.
func (c *Cache) Close() error {
	redisErr := c.client.Close()
	storeErr := c.Store.Close()
	if storeErr != nil {
		return storeErr
	}
	return redisErr
}

func sessionKey(key memory.SessionKey) string {
	return "omega:session:" + key.Channel + ":" + key.SenderID + ":" + key.Project
}

// GetSession checks Redis first, falling back to and repopulating from the
// primary store on a cache miss.
func (c *Cache) GetSession(ctx context.Context, key memory.SessionKey) (string, bool, error) {
	v, err := c.client.Get(ctx, sessionKey(key)).Result()
	if err == nil {
		return v, true, nil
	}
	if err != redis.Nil {
		return "", false, err
	}

	id, ok, err := c.Store.GetSession(ctx, key)
	if err != nil || !ok {
		return id, ok, err
	}
	c.client.Set(ctx, sessionKey(key), id, c.ttl)
	return id, true, nil
}

// SetSession writes through to the primary store, then refreshes the cache.
func (c *Cache) SetSession(ctx context.Context, key memory.SessionKey, providerSessionID string) error {
	if err := c.Store.SetSession(ctx, key, providerSessionID); err != nil {
		return err
	}
	return c.client.Set(ctx, sessionKey(key), providerSessionID, c.ttl).Err()
}

// ClearSession evicts the cached binding and deletes it from the store.
func (c *Cache) ClearSession(ctx context.Context, key memory.SessionKey) error {
	c.client.Del(ctx, sessionKey(key))
	return c.Store.ClearSession(ctx, key)
}

const heartbeatIntervalChannel = "omega:heartbeat_interval"

// IntervalChange is published whenever a HEARTBEAT_INTERVAL marker changes
// the polling cadence, so a running heartbeat loop can re-read its ticker
// without waiting for the next scheduled tick.
type IntervalChange struct {
	SenderID string `json:"sender_id"`
	Minutes  int    `json:"minutes"`
}

// PublishIntervalChange notifies subscribers of a new heartbeat interval.
func (c *Cache) PublishIntervalChange(ctx context.Context, change IntervalChange) error {
	b, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, heartbeatIntervalChannel, b).Err()
}

// SubscribeIntervalChanges returns a channel of interval updates and an
// unsubscribe func. The returned channel is closed when unsubscribe runs.
func (c *Cache) SubscribeIntervalChanges(ctx context.Context) (<-chan IntervalChange, func()) {
	sub := c.client.Subscribe(ctx, heartbeatIntervalChannel)
	out := make(chan IntervalChange)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for msg := range ch {
			var change IntervalChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { sub.Close() }
}
