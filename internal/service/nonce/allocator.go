package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relay-core/pkg/errno"
	"relay-core/pkg/utils/lock"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Mode selects how reservations are coordinated
type Mode string

const (
	// ModeSerialized 按 (地址, 链) 串行分配, 并在释放锁之前写回 value+1
	ModeSerialized Mode = "serialized"
	// ModeAdvisory 只读不写回, 并发请求可能拿到相同的 nonce, 由节点拒绝重复
	ModeAdvisory Mode = "advisory"
)

// Source tells where a reserved nonce came from
type Source string

const (
	SourceStore Source = "store"
	SourceChain Source = "chain"
)

// ChainReader is satisfied by chain.Client
type ChainReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type Options struct {
	Mode Mode
	// Locker 可选; 多实例部署时提供跨进程互斥
	Locker  lock.DistributedLock
	LockTTL time.Duration
	// Timeout 限制一次 Reserve 的总耗时 (含等锁)
	Timeout time.Duration
	Logger  *zap.Logger
}

// Allocator resolves the next nonce for a (signing address, chain) pair
type Allocator struct {
	store   Store
	mode    Mode
	locker  lock.DistributedLock
	lockTTL time.Duration
	timeout time.Duration
	log     *zap.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func NewAllocator(store Store, opts Options) (*Allocator, error) {
	switch opts.Mode {
	case "":
		opts.Mode = ModeSerialized
	case ModeSerialized, ModeAdvisory:
	default:
		return nil, fmt.Errorf("unknown nonce mode %q", opts.Mode)
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if _, local := store.(*MemoryStore); opts.Mode == ModeSerialized && opts.Locker == nil && !local {
		// 共享存储但没有分布式锁: 串行化只在本进程内成立
		opts.Logger.Warn("serialized nonce mode without a distributed lock; reservations are only serialized within this process",
			zap.String("store", fmt.Sprintf("%T", store)))
	}
	return &Allocator{
		store:   store,
		mode:    opts.Mode,
		locker:  opts.Locker,
		lockTTL: opts.LockTTL,
		timeout: opts.Timeout,
		log:     opts.Logger,
		locks:   make(map[string]*keyLock),
	}, nil
}

func (a *Allocator) Mode() Mode { return a.mode }

// Reservation is a nonce handed to one request. Exactly one of Commit,
// Rollback or Invalidate should follow; extra calls are no-ops.
type Reservation struct {
	Nonce  uint64
	Source Source

	key   string
	alloc *Allocator
	mu    sync.Mutex
	done  bool
}

// Reserve 返回下一个 nonce: 存储中存在且非零则用存储值, 否则查询链上 pending 计数
func (a *Allocator) Reserve(ctx context.Context, addr common.Address, chainID uint64, chain ChainReader) (*Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	key := Key(addr, chainID)
	if a.mode == ModeAdvisory {
		n, src, err := a.resolve(ctx, key, addr, chain)
		if err != nil {
			return nil, err
		}
		return &Reservation{Nonce: n, Source: src, key: key, alloc: a, done: true}, nil
	}

	// 1. 进程内互斥
	kl := a.acquireLocal(key)
	defer a.releaseLocal(key, kl)

	// 2. 跨进程互斥
	if a.locker != nil {
		token, err := lock.Obtain(ctx, a.locker, key, a.lockTTL, 20*time.Millisecond)
		if err != nil {
			return nil, errno.ErrUpstream.WithCause(fmt.Errorf("nonce lock: %w", err))
		}
		defer func() {
			// 使用独立 context, 请求取消时也要释放
			rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
			defer rcancel()
			if err := a.locker.Release(rctx, key, token); err != nil {
				a.log.Warn("release nonce lock failed", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	// 3. 读取并写回 value+1
	n, src, err := a.resolve(ctx, key, addr, chain)
	if err != nil {
		return nil, err
	}
	if err := a.store.Put(ctx, key, n+1); err != nil {
		return nil, errno.ErrUpstream.WithCause(fmt.Errorf("nonce write-back: %w", err))
	}
	return &Reservation{Nonce: n, Source: src, key: key, alloc: a}, nil
}

func (a *Allocator) resolve(ctx context.Context, key string, addr common.Address, chain ChainReader) (uint64, Source, error) {
	n, ok, err := a.store.Get(ctx, key)
	if err != nil {
		return 0, "", errno.ErrUpstream.WithCause(fmt.Errorf("nonce read: %w", err))
	}
	if ok && n != 0 {
		return n, SourceStore, nil
	}
	n, err = chain.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, "", errno.ErrUpstream.WithCause(fmt.Errorf("eth_getTransactionCount: %w", err))
	}
	return n, SourceChain, nil
}

// Commit keeps the reserved value consumed
func (r *Reservation) Commit() {
	r.mu.Lock()
	r.done = true
	r.mu.Unlock()
}

// Rollback 在广播失败时把计数从 Nonce+1 退回 Nonce; 若期间已有其他请求预留则放弃并留下空洞
func (r *Reservation) Rollback(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true

	ok, err := r.alloc.store.CompareAndSwap(ctx, r.key, r.Nonce+1, r.Nonce)
	switch {
	case err != nil:
		r.alloc.log.Error("nonce rollback failed", zap.String("key", r.key), zap.Uint64("nonce", r.Nonce), zap.Error(err))
	case !ok:
		r.alloc.log.Warn("nonce advanced by another request, rollback skipped",
			zap.String("key", r.key), zap.Uint64("nonce", r.Nonce))
	}
}

// Invalidate 在无法确定节点是否已接收交易, 或节点报告 nonce 冲突时清空存储值,
// 下一次 Reserve 将回退到链上的 pending nonce
func (r *Reservation) Invalidate(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true

	ok, err := r.alloc.store.CompareAndSwap(ctx, r.key, r.Nonce+1, 0)
	switch {
	case err != nil:
		r.alloc.log.Error("nonce invalidate failed", zap.String("key", r.key), zap.Uint64("nonce", r.Nonce), zap.Error(err))
	case !ok:
		r.alloc.log.Warn("nonce advanced by another request, invalidate skipped",
			zap.String("key", r.key), zap.Uint64("nonce", r.Nonce))
	}
}

func (a *Allocator) acquireLocal(key string) *keyLock {
	a.mu.Lock()
	kl, ok := a.locks[key]
	if !ok {
		kl = &keyLock{}
		a.locks[key] = kl
	}
	kl.refs++
	a.mu.Unlock()

	kl.Lock()
	return kl
}

func (a *Allocator) releaseLocal(key string, kl *keyLock) {
	kl.Unlock()

	a.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(a.locks, key)
	}
	a.mu.Unlock()
}
