package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter shared by every process using the same
// Redis. It caps calls to paid extraction providers.
type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, key, window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(limit) {
		return false, nil
	}

	return true, nil
}

// ProviderWindowKey names the counter of the window that contains now.
func ProviderWindowKey(provider string, window time.Duration, now time.Time) string {
	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return fmt.Sprintf("rate_limit:extract:%s:%d", provider, now.UnixMilli()/ms)
}
