package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"relay-core/internal/handler"
	"relay-core/internal/middleware"
	"relay-core/internal/service"
	"relay-core/internal/service/auth"
	"relay-core/internal/service/broadcast"
	"relay-core/internal/service/chain"
	"relay-core/internal/service/chain/chaintest"
	"relay-core/internal/service/nonce"
	"relay-core/internal/service/policy"
	"relay-core/internal/service/signer"
	"relay-core/pkg/monitor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	apiKey     = "public-test"
	apiSecret  = "secret-test"
	addrA      = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	addrB      = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

type gateway struct {
	router *gin.Engine
	node   *chaintest.FakeClient
	signer *signer.Signer
}

type gatewayOpts struct {
	whitelist  []common.Address
	maxBaseFee int64
	mode       nonce.Mode
	rateLimit  middleware.RateLimit
	node       *chaintest.FakeClient
	timeout    time.Duration
}

func newGateway(t *testing.T, opts gatewayOpts) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node := opts.node
	if node == nil {
		node = &chaintest.FakeClient{PendingNonce: 7}
	}
	registry, err := chain.NewRegistry(context.Background(), map[uint64]string{8453: "http://base"},
		func(ctx context.Context, endpoint string) (chain.Client, error) { return node, nil }, nil)
	require.NoError(t, err)

	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	sg, err := signer.New(key)
	require.NoError(t, err)

	alloc, err := nonce.NewAllocator(nonce.NewMemoryStore(), nonce.Options{Mode: opts.mode})
	require.NoError(t, err)

	timeout := opts.timeout
	if timeout == 0 {
		timeout = time.Second
	}
	metrics := monitor.New()
	relay := service.NewRelayService(service.RelayDeps{
		Registry:    registry,
		Policy:      policy.NewEngine(policy.Config{Whitelist: opts.whitelist, MaxBaseFee: big.NewInt(opts.maxBaseFee)}, nil),
		Nonces:      alloc,
		Signer:      sg,
		Broadcaster: broadcast.NewPublic(timeout, nil),
		Metrics:     metrics.Relay,
	})
	h := handler.NewRelayHandler(relay,
		auth.NewCredentials(map[string]string{apiKey: apiSecret}),
		middleware.NewKeyLimiter(opts.rateLimit),
		metrics.Relay, nil)

	r := gin.New()
	r.POST("/:apiKey/:chainId", h.Handle)
	return &gateway{router: r, node: node, signer: sg}
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ID json.RawMessage `json:"id"`
}

func (g *gateway) call(t *testing.T, path, authHeader, body string) (rpcResponse, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	assert.Equal(t, "2.0", resp.JSONRPC)
	// result 与 error 恰好一个
	assert.NotEqual(t, resp.Error == nil, resp.Result == nil, w.Body.String())
	return resp, w.Body.String()
}

func sendTxBody(to, maxFee string) string {
	return `{"jsonrpc":"2.0","id":42,"method":"eth_sendTransaction","params":[{` +
		`"to":"` + to + `","data":"0x","value":"0","gas":"21000",` +
		`"maxPriorityFeePerGas":"1","maxFeePerGas":"` + maxFee + `"}]}`
}

const bearer = "Bearer " + apiSecret

func TestGate_Errors(t *testing.T) {
	g := newGateway(t, gatewayOpts{})
	chainIDBody := `{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]}`

	tests := []struct {
		name     string
		path     string
		auth     string
		body     string
		wantCode int
		wantMsg  string
		wantID   string
	}{
		{"Non-JSON body", "/" + apiKey + "/8453", bearer, "not json", -32700, "Parse error", "null"},
		{"Wrong version", "/" + apiKey + "/8453", bearer, `{"jsonrpc":"1.0","id":1,"method":"eth_chainId"}`, -32700, "Parse error", "null"},
		{"String id", "/" + apiKey + "/8453", bearer, `{"jsonrpc":"2.0","id":"1","method":"eth_chainId"}`, -32700, "Parse error", "null"},
		{"Missing method", "/" + apiKey + "/8453", bearer, `{"jsonrpc":"2.0","id":1}`, -32700, "Parse error", "null"},
		{"Parse error before auth", "/" + apiKey + "/8453", "", "{", -32700, "Parse error", "null"},
		{"Missing secret", "/" + apiKey + "/8453", "", chainIDBody, -32000, "API key and secret required", "1"},
		{"Malformed auth header", "/" + apiKey + "/8453", apiSecret, chainIDBody, -32000, "API key and secret required", "1"},
		{"Wrong secret", "/" + apiKey + "/8453", "Bearer nope", chainIDBody, -32000, "Invalid API key and/or secret", "1"},
		{"Unknown key", "/someone-else/8453", bearer, chainIDBody, -32000, "Invalid API key and/or secret", "1"},
		{"Chain id not a number", "/" + apiKey + "/base", bearer, chainIDBody, -32000, "Chain id required", "1"},
		{"Chain id zero", "/" + apiKey + "/0", bearer, chainIDBody, -32000, "Chain id required", "1"},
		{"Chain not configured", "/" + apiKey + "/1", bearer, chainIDBody, -32000, "Chain id not supported", "1"},
		{"Unknown method", "/" + apiKey + "/8453", bearer, `{"jsonrpc":"2.0","id":3,"method":"eth_getBalance","params":[]}`, -32601, "Method not found", "3"},
		{"Invalid params", "/" + apiKey + "/8453", bearer, `{"jsonrpc":"2.0","id":4,"method":"eth_sendTransaction","params":[{"to":"0x12"}]}`, -32602, "Invalid params", "4"},
		{"Params not a list", "/" + apiKey + "/8453", bearer, `{"jsonrpc":"2.0","id":5,"method":"eth_sendTransaction","params":{}}`, -32602, "Invalid params", "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := g.call(t, tt.path, tt.auth, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.wantMsg, resp.Error.Message)
			assert.Equal(t, tt.wantID, string(resp.ID))
		})
	}
	assert.Zero(t, g.node.SentCount())
}

func TestGate_ChainIDAndAccounts(t *testing.T) {
	g := newGateway(t, gatewayOpts{})

	resp, _ := g.call(t, "/"+apiKey+"/8453", bearer, `{"jsonrpc":"2.0","id":9,"method":"eth_chainId","params":[]}`)
	assert.Equal(t, "8453", string(resp.Result))
	assert.Equal(t, "9", string(resp.ID))

	resp, _ = g.call(t, "/"+apiKey+"/8453", bearer, `{"jsonrpc":"2.0","id":10,"method":"eth_accounts"}`)
	var accounts []string
	require.NoError(t, json.Unmarshal(resp.Result, &accounts))
	assert.Equal(t, []string{g.signer.Address().Hex()}, accounts)
}

func TestGate_SendTransaction(t *testing.T) {
	g := newGateway(t, gatewayOpts{})

	resp, raw := g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
	require.Nil(t, resp.Error, raw)
	assert.Equal(t, "42", string(resp.ID))

	var hash string
	require.NoError(t, json.Unmarshal(resp.Result, &hash))
	assert.Regexp(t, "^0x[0-9a-f]{64}$", hash)
	assert.NotContains(t, raw, testKeyHex)

	require.Equal(t, 1, g.node.SentCount())
	tx := g.node.Sent[0]
	assert.Equal(t, hash, tx.Hash().Hex())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, int64(8453), tx.ChainId().Int64())
	assert.Equal(t, common.HexToAddress(addrA), *tx.To())

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, g.signer.Address(), from)
}

func TestGate_Policy(t *testing.T) {
	g := newGateway(t, gatewayOpts{
		whitelist:  []common.Address{common.HexToAddress(addrA)},
		maxBaseFee: 100,
	})

	tests := []struct {
		name    string
		to      string
		maxFee  string
		wantErr string
	}{
		{"Destination not whitelisted", addrB, "50", "Address not whitelisted"},
		{"Whitelist checked before fee", addrB, "150", "Address not whitelisted"},
		{"Fee above ceiling", addrA, "150", "Max fee per gas too high"},
		{"Lowercase whitelisted destination", strings.ToLower(addrA), "50", ""},
		{"Within policy", addrA, "50", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := g.node.SentCount()
			resp, raw := g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(tt.to, tt.maxFee))
			if tt.wantErr == "" {
				assert.Nil(t, resp.Error, raw)
				assert.Equal(t, before+1, g.node.SentCount())
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, -32000, resp.Error.Code)
			assert.Equal(t, tt.wantErr, resp.Error.Message)
			assert.Equal(t, before, g.node.SentCount())
		})
	}
}

func TestGate_UpstreamFailures(t *testing.T) {
	t.Run("Nonce lookup", func(t *testing.T) {
		g := newGateway(t, gatewayOpts{node: &chaintest.FakeClient{NonceErr: errors.New("dial tcp: refused")}})
		resp, raw := g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "Upstream request failed", resp.Error.Message)
		assert.NotContains(t, raw, "refused")
	})

	t.Run("Broadcast rejected then retried", func(t *testing.T) {
		node := &chaintest.FakeClient{PendingNonce: 3, SendErr: chaintest.Reject("insufficient funds for gas * price + value")}
		g := newGateway(t, gatewayOpts{node: node})

		resp, raw := g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
		require.NotNil(t, resp.Error)
		assert.Equal(t, -32000, resp.Error.Code)
		assert.Equal(t, "Upstream request failed", resp.Error.Message)
		assert.NotContains(t, raw, "insufficient")

		// 失败后 nonce 被回滚, 下一次提交复用同一个值
		node.SendErr = nil
		resp, _ = g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
		require.Nil(t, resp.Error)
		require.Equal(t, 1, node.SentCount())
		assert.Equal(t, uint64(3), node.Sent[0].Nonce())
	})

	t.Run("Broadcast timeout", func(t *testing.T) {
		node := &chaintest.FakeClient{BlockSend: make(chan struct{})}
		g := newGateway(t, gatewayOpts{node: node, timeout: 50 * time.Millisecond})
		resp, _ := g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "Upstream request failed", resp.Error.Message)
	})

	t.Run("Timeout after acceptance resyncs", func(t *testing.T) {
		node := &chaintest.FakeClient{PendingNonce: 3, Strict: true, AcceptErr: context.DeadlineExceeded}
		g := newGateway(t, gatewayOpts{node: node})

		resp, _ := g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
		require.NotNil(t, resp.Error)
		assert.Equal(t, "Upstream request failed", resp.Error.Message)

		// 节点已接收 nonce 3, 后续请求必须从链上读回 4 而不是重复使用 3
		for i := 0; i < 3; i++ {
			resp, _ = g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
			require.Nil(t, resp.Error, "request %d", i)
		}
		assert.Equal(t, []uint64{3, 4, 5, 6}, node.Nonces())
	})

	t.Run("Store behind chain resyncs", func(t *testing.T) {
		node := &chaintest.FakeClient{PendingNonce: 3, Strict: true}
		g := newGateway(t, gatewayOpts{node: node})

		resp, _ := g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
		require.Nil(t, resp.Error)

		node.SetPendingNonce(10)
		resp, _ = g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
		require.NotNil(t, resp.Error)

		resp, _ = g.call(t, "/"+apiKey+"/8453", bearer, sendTxBody(addrA, "50"))
		require.Nil(t, resp.Error)
		assert.Equal(t, []uint64{3, 10}, node.Nonces())
	})
}

func TestGate_RateLimit(t *testing.T) {
	g := newGateway(t, gatewayOpts{rateLimit: middleware.RateLimit{RequestsPerMinute: 1, Burst: 1}})
	body := `{"jsonrpc":"2.0","id":1,"method":"eth_chainId"}`

	resp, _ := g.call(t, "/"+apiKey+"/8453", bearer, body)
	assert.Nil(t, resp.Error)

	resp, _ = g.call(t, "/"+apiKey+"/8453", bearer, body)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Rate limit exceeded", resp.Error.Message)

	// 未通过鉴权的请求不消耗该 key 的配额, 也不会被限流掩盖
	resp, _ = g.call(t, "/"+apiKey+"/8453", "Bearer wrong", body)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Invalid API key and/or secret", resp.Error.Message)
}

func sendConcurrently(t *testing.T, g *gateway, n int) []uint64 {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/"+apiKey+"/8453", strings.NewReader(sendTxBody(addrA, "50")))
			req.Header.Set("Authorization", bearer)
			w := httptest.NewRecorder()
			g.router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotContains(t, w.Body.String(), `"error"`)
		}()
	}
	wg.Wait()

	nonces := make([]uint64, 0, n)
	for _, tx := range g.node.Sent {
		nonces = append(nonces, tx.Nonce())
	}
	return nonces
}

func TestGate_ConcurrentSends(t *testing.T) {
	t.Run("Advisory mode may repeat", func(t *testing.T) {
		g := newGateway(t, gatewayOpts{mode: nonce.ModeAdvisory})
		nonces := sendConcurrently(t, g, 2)
		require.Len(t, nonces, 2)
		// 不写回计数: 两次都从链上读到相同 pending nonce
		assert.Equal(t, nonces[0], nonces[1])
	})

	t.Run("Serialized mode is distinct", func(t *testing.T) {
		g := newGateway(t, gatewayOpts{mode: nonce.ModeSerialized})
		nonces := sendConcurrently(t, g, 8)
		require.Len(t, nonces, 8)
		seen := map[uint64]bool{}
		for _, n := range nonces {
			assert.False(t, seen[n], "duplicate nonce %d", n)
			seen[n] = true
		}
	})
}
