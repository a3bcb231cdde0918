package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr      string
	Password  string
	KeyPrefix string
}

// ValkeyClient holds short-lived advisory locks in Valkey/Redis so that
// several API replicas serialize writes to the same slot.
type ValkeyClient struct {
	client    *redis.Client
	keyPrefix string
}

// compare-and-delete: only the holder's token may release the lock
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func NewValkeyClient(cfg Config) (*ValkeyClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	return NewValkeyClientFrom(rdb, cfg.KeyPrefix), nil
}

// NewValkeyClientFrom wraps an existing client.
func NewValkeyClientFrom(rdb *redis.Client, keyPrefix string) *ValkeyClient {
	if keyPrefix == "" {
		keyPrefix = "pinabook:lock:"
	}
	return &ValkeyClient{client: rdb, keyPrefix: keyPrefix}
}

// TryLock sets key to token if it is unset. The lock expires after ttl so a
// crashed holder cannot wedge the slot.
func (v *ValkeyClient) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := v.client.SetNX(ctx, v.keyPrefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire error: %w", err)
	}
	return ok, nil
}

func (v *ValkeyClient) Unlock(ctx context.Context, key, token string) error {
	err := unlockScript.Run(ctx, v.client, []string{v.keyPrefix + key}, token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lock release error: %w", err)
	}
	return nil
}

func (v *ValkeyClient) Ping(ctx context.Context) error {
	return v.client.Ping(ctx).Err()
}

func (v *ValkeyClient) Close() error {
	return v.client.Close()
}
