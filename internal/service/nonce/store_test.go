package nonce

import (
	"context"
	"path/filepath"
	"testing"

	"relay-core/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRedisStore(t *testing.T) *RedisStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func newSQLStore(t *testing.T) *SQLStore {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "nonce.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))
	return NewSQLStore(db)
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory":   func(t *testing.T) Store { return NewMemoryStore() },
		"redis":    func(t *testing.T) Store { return newRedisStore(t) },
		"postgres": func(t *testing.T) Store { return newSQLStore(t) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			key := "nonce:0xabc:1"

			_, ok, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			// 不存在的键 CAS 失败
			swapped, err := s.CompareAndSwap(ctx, key, 0, 1)
			require.NoError(t, err)
			assert.False(t, swapped)

			require.NoError(t, s.Put(ctx, key, 7))
			n, ok, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, uint64(7), n)

			require.NoError(t, s.Put(ctx, key, 8))
			n, _, _ = s.Get(ctx, key)
			assert.Equal(t, uint64(8), n)

			swapped, err = s.CompareAndSwap(ctx, key, 7, 100)
			require.NoError(t, err)
			assert.False(t, swapped, "stale old value must not swap")

			swapped, err = s.CompareAndSwap(ctx, key, 8, 9)
			require.NoError(t, err)
			assert.True(t, swapped)
			n, _, _ = s.Get(ctx, key)
			assert.Equal(t, uint64(9), n)
		})
	}
}

func TestKey(t *testing.T) {
	addr := common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	assert.Equal(t, "nonce:0xabcdef0000000000000000000000000000000001:8453", Key(addr, 8453))
}
