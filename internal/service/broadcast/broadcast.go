// Package broadcast submits signed transactions to the network.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay-core/internal/service/chain"
	"relay-core/internal/service/signer"
	"relay-core/pkg/config"
	"relay-core/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Broadcaster sends a signed transaction exactly once
type Broadcaster interface {
	Send(ctx context.Context, tx *signer.SignedTx, c *chain.Chain) (common.Hash, error)
}

// New 根据通道名创建广播客户端; 目前只实现 public
func New(channel string, timeout time.Duration, log *zap.Logger) (Broadcaster, error) {
	switch channel {
	case "", config.ChannelPublic:
		return NewPublic(timeout, log), nil
	default:
		return nil, errno.ErrUnsupportedBroadcaster.WithCause(fmt.Errorf("channel %q", channel))
	}
}

// Public 通过链的公共 RPC 端点调用 eth_sendRawTransaction
type Public struct {
	timeout time.Duration
	log     *zap.Logger
}

func NewPublic(timeout time.Duration, log *zap.Logger) *Public {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Public{timeout: timeout, log: log}
}

// Send 只调用一次, 不重试: 部分成功后的重试可能以旧 nonce 重复提交
func (p *Public) Send(ctx context.Context, tx *signer.SignedTx, c *chain.Chain) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	hash, err := c.Client.SendRawTransaction(ctx, tx.Raw)
	if err != nil {
		reason := "rejected"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, context.Canceled):
			reason = "canceled"
		case Classify(err) == FailureUnknown:
			reason = "transport"
		}
		p.log.Warn("broadcast failed",
			zap.Uint64("chain_id", c.ID),
			zap.String("tx_hash", tx.Hash.Hex()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return common.Hash{}, errno.ErrUpstream.WithCause(err)
	}

	if hash != tx.Hash {
		// 节点返回的 hash 与本地计算不一致, 视为异常响应
		p.log.Warn("node returned unexpected tx hash",
			zap.Uint64("chain_id", c.ID),
			zap.String("local", tx.Hash.Hex()),
			zap.String("remote", hash.Hex()),
		)
		return common.Hash{}, errno.ErrUpstream.WithCause(fmt.Errorf("hash mismatch: node returned %s", hash.Hex()))
	}
	return hash, nil
}
