package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"relay-core/internal/service/chain"
	"relay-core/internal/service/chain/chaintest"
	"relay-core/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDialer(clients map[string]*chaintest.FakeClient) chain.Dialer {
	return func(ctx context.Context, endpoint string) (chain.Client, error) {
		c := &chaintest.FakeClient{}
		clients[endpoint] = c
		return c, nil
	}
}

func TestRegistry_Resolve(t *testing.T) {
	clients := map[string]*chaintest.FakeClient{}
	reg, err := chain.NewRegistry(context.Background(), map[uint64]string{
		1:     "http://mainnet",
		8453:  "http://base",
		99999: "http://unknown-params",
	}, fakeDialer(clients), nil)
	require.NoError(t, err)

	c, err := reg.Resolve(8453)
	require.NoError(t, err)
	assert.Equal(t, "Base", c.Params.Name)
	assert.Equal(t, "http://base", c.Endpoint)
	assert.Equal(t, int64(8453), c.BigID().Int64())

	// 有端点但无链参数
	_, err = reg.Resolve(99999)
	assert.ErrorIs(t, err, errno.ErrChainUnsupported)
	assert.NotContains(t, clients, "http://unknown-params")

	// 有链参数但未配置端点
	_, err = reg.Resolve(10)
	assert.ErrorIs(t, err, errno.ErrChainUnsupported)

	assert.Equal(t, []uint64{1, 8453}, reg.IDs())

	reg.Close()
	assert.True(t, clients["http://mainnet"].Closed)
}

func TestRegistry_DialFailure(t *testing.T) {
	dial := func(ctx context.Context, endpoint string) (chain.Client, error) {
		return nil, errors.New("bad url")
	}
	_, err := chain.NewRegistry(context.Background(), map[uint64]string{1: "::"}, dial, nil)
	assert.Error(t, err)
}

// jsonrpcNode 是一个最小化的 JSON-RPC 节点模拟
func jsonrpcNode(t *testing.T, results map[string]any, seenIDs *[]string) *httptest.Server {
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "relay-core/1.0", r.Header.Get("User-Agent"))

		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []any           `json:"params"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		*seenIDs = append(*seenIDs, string(req.ID))
		mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if res, ok := results[req.Method]; ok {
			resp["result"] = res
		} else {
			resp["error"] = map[string]any{"code": -32000, "message": "nonce too low"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestRPCClient(t *testing.T) {
	hash := "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
	var ids []string
	node := jsonrpcNode(t, map[string]any{
		"eth_getTransactionCount": "0x2a",
		"eth_sendRawTransaction":  hash,
	}, &ids)
	defer node.Close()

	c, err := chain.DialRPC(context.Background(), node.URL)
	require.NoError(t, err)
	defer c.Close()

	n, err := c.PendingNonceAt(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	got, err := c.SendRawTransaction(context.Background(), []byte{0x02, 0x01})
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(hash), got)

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1], "every outbound call carries its own id")
}

func TestRPCClient_NodeRejects(t *testing.T) {
	var ids []string
	node := jsonrpcNode(t, map[string]any{}, &ids)
	defer node.Close()

	c, err := chain.DialRPC(context.Background(), node.URL)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SendRawTransaction(context.Background(), []byte{0x02})
	assert.ErrorContains(t, err, "nonce too low")
}

func TestRPCClient_MalformedHash(t *testing.T) {
	var ids []string
	node := jsonrpcNode(t, map[string]any{"eth_sendRawTransaction": "0x1234"}, &ids)
	defer node.Close()

	c, err := chain.DialRPC(context.Background(), node.URL)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.SendRawTransaction(context.Background(), []byte{0x02})
	assert.Error(t, err)
}
