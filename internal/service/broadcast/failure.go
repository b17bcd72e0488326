package broadcast

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Failure 描述一次广播失败后 nonce 的处境
type Failure int

const (
	// FailureRejected 节点明确拒绝了交易, nonce 未被占用, 可以回滚复用
	FailureRejected Failure = iota
	// FailureNonceConflict 节点报告的 nonce 与本地计数不一致, 需要从链上重新同步
	FailureNonceConflict
	// FailureUnknown 超时/取消/传输错误等, 节点可能已经接收了交易
	FailureUnknown
)

func (f Failure) String() string {
	switch f {
	case FailureRejected:
		return "rejected"
	case FailureNonceConflict:
		return "nonce_conflict"
	default:
		return "unknown"
	}
}

// 各家客户端 (geth/erigon/nethermind/reth) txpool 报出的 nonce 类错误片段
var nonceConflictMarkers = []string{
	"nonce too low",
	"nonce too high",
	"already known",
	"known transaction",
	"replacement transaction underpriced",
	"invalid nonce",
	"old nonce",
}

// Classify 只有收到节点的 JSON-RPC 错误响应时才认为交易确定未被接收
func Classify(err error) Failure {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return FailureUnknown
	}
	msg := strings.ToLower(rpcErr.Error())
	for _, m := range nonceConflictMarkers {
		if strings.Contains(msg, m) {
			return FailureNonceConflict
		}
	}
	return FailureRejected
}
