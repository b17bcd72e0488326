// Package nonce hands out sequence numbers for the signing identity on each chain.
package nonce

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists the next nonce per key. Implementations must make
// CompareAndSwap atomic; Get and Put need not be.
type Store interface {
	// Get 返回 (值, 是否存在, error)
	Get(ctx context.Context, key string) (uint64, bool, error)
	Put(ctx context.Context, key string, value uint64) error
	// CompareAndSwap 仅当当前值等于 old 时写入 new
	CompareAndSwap(ctx context.Context, key string, old, new uint64) (bool, error)
}

// Key 生成存储键: nonce:<小写地址>:<链 id>
func Key(addr common.Address, chainID uint64) string {
	return fmt.Sprintf("nonce:%s:%d", strings.ToLower(addr.Hex()), chainID)
}
