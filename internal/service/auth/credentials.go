// Package auth checks caller API key / secret pairs.
package auth

import (
	"crypto/subtle"

	"relay-core/pkg/errno"

	"lukechampine.com/blake3"
)

// Credentials 是启动时加载的只读凭证表, 只保存 secret 的 blake3 摘要
type Credentials struct {
	digests map[string][32]byte
}

func NewCredentials(secrets map[string]string) *Credentials {
	c := &Credentials{digests: make(map[string][32]byte, len(secrets))}
	for key, secret := range secrets {
		c.digests[key] = blake3.Sum256([]byte(secret))
	}
	return c
}

// Verify 返回 ErrAuthRequired (缺少 key 或 secret) 或 ErrAuthInvalid (不匹配).
// 摘要长度固定, 比较耗时与 secret 的匹配前缀无关.
func (c *Credentials) Verify(key, secret string) error {
	if key == "" || secret == "" {
		return errno.ErrAuthRequired
	}
	got := blake3.Sum256([]byte(secret))
	want, ok := c.digests[key]
	if !ok {
		// 未知 key 也做一次比较, 保持耗时一致
		var zero [32]byte
		subtle.ConstantTimeCompare(got[:], zero[:])
		return errno.ErrAuthInvalid
	}
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return errno.ErrAuthInvalid
	}
	return nil
}

// Len reports how many keys are loaded
func (c *Credentials) Len() int {
	return len(c.digests)
}
