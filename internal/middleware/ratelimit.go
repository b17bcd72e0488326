package middleware

import (
	"sync"

	"golang.org/x/time/rate"
)

type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// KeyLimiter 按 API key 限流. key 来自启动时的凭证表, 数量有限, 不需要清理.
// 零值 RequestsPerMinute 表示不限流.
type KeyLimiter struct {
	cfg RateLimit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewKeyLimiter(cfg RateLimit) *KeyLimiter {
	return &KeyLimiter{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (l *KeyLimiter) Enabled() bool {
	return l != nil && l.cfg.RequestsPerMinute > 0
}

// Allow 消耗一个令牌; 未启用时总是放行
func (l *KeyLimiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.obtain(key).Allow()
}

func (l *KeyLimiter) obtain(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	burst := l.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(l.cfg.RequestsPerMinute/60.0), burst)
	l.limiters[key] = lim
	return lim
}
