package handler

import (
	"encoding/json"
	"strconv"
	"strings"

	"relay-core/internal/handler/request"
	"relay-core/internal/handler/response"
	"relay-core/internal/middleware"
	"relay-core/internal/service"
	"relay-core/internal/service/auth"
	"relay-core/pkg/errno"
	"relay-core/pkg/monitor"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	MethodChainID         = "eth_chainId"
	MethodAccounts        = "eth_accounts"
	MethodSendTransaction = "eth_sendTransaction"
)

// RelayHandler 是请求入口: 信封解析 -> 鉴权 -> 限流 -> 链 id -> 方法分发.
// 每个请求只产生一个错误, 且最多执行一个方法处理器.
type RelayHandler struct {
	relay   *service.RelayService
	creds   *auth.Credentials
	limiter *middleware.KeyLimiter
	metrics *monitor.RelayMetrics
	log     *zap.Logger
}

func NewRelayHandler(relay *service.RelayService, creds *auth.Credentials, limiter *middleware.KeyLimiter, metrics *monitor.RelayMetrics, log *zap.Logger) *RelayHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RelayHandler{relay: relay, creds: creds, limiter: limiter, metrics: metrics, log: log}
}

// Handle POST /:apiKey/:chainId
func (h *RelayHandler) Handle(c *gin.Context) {
	// 1. 信封; 失败时 id 为 null
	req, err := request.ParseEnvelope(c.Request.Body)
	if err != nil {
		h.fail(c, nil, "", err)
		return
	}
	id := &req.ID

	// 2. 鉴权
	apiKey := c.Param("apiKey")
	if err := h.creds.Verify(apiKey, bearerToken(c.GetHeader("Authorization"))); err != nil {
		h.fail(c, id, req.Method, err)
		return
	}

	// 3. 限流 (按已认证的 key)
	if !h.limiter.Allow(apiKey) {
		if h.metrics != nil {
			h.metrics.RateLimitedTotal.Inc()
		}
		h.fail(c, id, req.Method, errno.ErrRateLimited)
		return
	}

	// 4. 链 id
	chainID, err := strconv.ParseUint(c.Param("chainId"), 10, 64)
	if err != nil || chainID == 0 {
		h.fail(c, id, req.Method, errno.ErrChainIDRequired)
		return
	}
	ch, err := h.relay.ResolveChain(chainID)
	if err != nil {
		h.fail(c, id, req.Method, err)
		return
	}

	// 5. 方法分发
	var result interface{}
	switch req.Method {
	case MethodChainID:
		result = ch.ID
	case MethodAccounts:
		result = h.relay.Accounts()
	case MethodSendTransaction:
		txReq, err := request.ParseSendTransaction(req.Params)
		if err != nil {
			h.fail(c, id, req.Method, err)
			return
		}
		hash, err := h.relay.SendTransaction(c.Request.Context(), ch, txReq, apiKey)
		if err != nil {
			h.fail(c, id, req.Method, err)
			return
		}
		result = hash.Hex()
	default:
		h.fail(c, id, req.Method, errno.ErrMethodNotFound)
		return
	}

	h.observe(req.Method, 0)
	response.Success(c, req.ID, result)
}

func (h *RelayHandler) fail(c *gin.Context, id *json.Number, method string, err error) {
	code, msg := errno.Decode(err)
	h.observe(method, code)

	// cause 只进日志
	fields := []zap.Field{zap.String("method", method), zap.Int("code", code), zap.String("message", msg)}
	if code == errno.CodeInternal {
		h.log.Error("request failed", append(fields, zap.Error(err))...)
	} else {
		h.log.Info("request rejected", append(fields, zap.Error(err))...)
	}
	response.Error(c, id, err)
}

func (h *RelayHandler) observe(method string, code int) {
	if h.metrics == nil {
		return
	}
	switch method {
	case MethodChainID, MethodAccounts, MethodSendTransaction:
	case "":
		method = "none"
	default:
		// 避免任意方法名撑爆标签基数
		method = "other"
	}
	h.metrics.RPCRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// bearerToken 取 "Bearer <secret>" 中的 secret
func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
