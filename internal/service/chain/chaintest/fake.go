// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NodeError 模拟节点返回的 JSON-RPC 错误响应 (实现 rpc.Error)
type NodeError struct {
	Code    int
	Message string
}

func (e *NodeError) Error() string  { return e.Message }
func (e *NodeError) ErrorCode() int { return e.Code }

// Reject builds the -32000 error geth-style nodes return for invalid transactions
func Reject(msg string) error {
	return &NodeError{Code: -32000, Message: msg}
}

// FakeClient records submissions and serves a fixed pending nonce
type FakeClient struct {
	mu sync.Mutex

	PendingNonce uint64
	NonceErr     error
	SendErr      error
	// BlockSend 非 nil 时 SendRawTransaction 会阻塞直到 ctx 结束或通道关闭
	BlockSend chan struct{}
	// Strict 时只接受 nonce == PendingNonce 的交易, 接受后 PendingNonce 加一
	Strict bool
	// AcceptErr 非 nil 时, 下一笔被接受的交易仍返回该错误 (只生效一次)
	AcceptErr error

	NonceCalls int
	Sent       []*types.Transaction
	Closed     bool
}

func (f *FakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.NonceCalls++
	if f.NonceErr != nil {
		return 0, f.NonceErr
	}
	return f.PendingNonce, nil
}

func (f *FakeClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	if f.BlockSend != nil {
		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case <-f.BlockSend:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return common.Hash{}, f.SendErr
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	if f.Strict {
		switch {
		case tx.Nonce() < f.PendingNonce:
			return common.Hash{}, Reject("nonce too low")
		case tx.Nonce() > f.PendingNonce:
			return common.Hash{}, Reject("nonce too high")
		}
		f.PendingNonce++
	}
	f.Sent = append(f.Sent, tx)

	if f.AcceptErr != nil {
		err := f.AcceptErr
		f.AcceptErr = nil
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// SetPendingNonce moves the chain's pending count, e.g. after an out-of-band transaction
func (f *FakeClient) SetPendingNonce(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PendingNonce = n
}

func (f *FakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
}

// SentCount is safe for concurrent use
func (f *FakeClient) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// Nonces returns the nonces of accepted transactions in submission order
func (f *FakeClient) Nonces() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, 0, len(f.Sent))
	for _, tx := range f.Sent {
		out = append(out, tx.Nonce())
	}
	return out
}
