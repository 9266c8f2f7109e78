package mpesa

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenExpirySkew — запас, с которым токен считается просроченным раньше срока.
const tokenExpirySkew = 30 * time.Second

type tokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// tokenCache хранит токен доступа шлюза. Одновременные обновления
// схлопываются в один запрос.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
	fetch tokenFetcher
	now   func() time.Time
}

func newTokenCache(fetch tokenFetcher, now func() time.Time) *tokenCache {
	return &tokenCache{fetch: fetch, now: now}
}

func (c *tokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, true
	}
	return "", false
}

// Get возвращает действующий токен, при необходимости обновляя его.
func (c *tokenCache) Get(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		if token, ok := c.cached(); ok {
			return token, nil
		}

		// Запрос разделяется ожидающими вызовами, поэтому отмена первого из них не должна его прерывать.
		token, ttl, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}

		ttl -= tokenExpirySkew
		if ttl < 0 {
			ttl = 0
		}

		c.mu.Lock()
		c.token = token
		c.expiresAt = c.now().Add(ttl)
		c.mu.Unlock()

		return token, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Invalidate сбрасывает закешированный токен.
func (c *tokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
