package nonce

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// RedisStore keeps each counter as a decimal string
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (uint64, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value uint64) error {
	return s.client.Set(ctx, key, strconv.FormatUint(value, 10), 0).Err()
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, old, new uint64) (bool, error) {
	n, err := casScript.Run(ctx, s.client, []string{key},
		strconv.FormatUint(old, 10), strconv.FormatUint(new, 10)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
