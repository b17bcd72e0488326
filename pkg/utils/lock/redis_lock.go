package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the lock expired or belongs to someone else
var ErrNotHeld = errors.New("lock not held")

// DistributedLock 定义分布式锁接口
type DistributedLock interface {
	// Acquire 尝试获取锁, 成功时返回持有者令牌
	// key: 锁的唯一标识
	// ttl: 锁的过期时间, 防止持有者崩溃后死锁
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)

	// Release 仅当令牌匹配时释放锁
	Release(ctx context.Context, key, token string) error
}

// 先比对 value 再删除, 避免误删已过期后被他人重新获取的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 基于 Redis SET NX PX 的实现
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLock) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{"lock:" + key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Obtain 在 ctx 结束前按 retry 间隔重试获取锁
func Obtain(ctx context.Context, l DistributedLock, key string, ttl, retry time.Duration) (string, error) {
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		token, ok, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
