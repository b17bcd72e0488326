package chain

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the subset of node RPC the gateway issues
type Client interface {
	// PendingNonceAt 对应 eth_getTransactionCount(address, "pending")
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	// SendRawTransaction 对应 eth_sendRawTransaction, 返回节点给出的交易 hash
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	Close()
}

// RPCClient talks JSON-RPC over HTTP through go-ethereum's rpc client,
// which assigns a unique id to every outbound call.
type RPCClient struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

// DialRPC 创建 HTTP JSON-RPC 客户端 (HTTP 传输不会立即建立连接)
func DialRPC(ctx context.Context, endpoint string) (Client, error) {
	httpClient := &http.Client{
		// 兜底超时; 单次调用的超时由调用方 context 控制
		Timeout: 30 * time.Second,
	}
	c, err := rpc.DialOptions(ctx, endpoint,
		rpc.WithHTTPClient(httpClient),
		rpc.WithHeader("User-Agent", "relay-core/1.0"),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &RPCClient{rpc: c, eth: ethclient.NewClient(c)}, nil
}

func (c *RPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *RPCClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (c *RPCClient) Close() {
	c.rpc.Close()
}
