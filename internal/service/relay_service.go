package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"relay-core/internal/event"
	"relay-core/internal/service/broadcast"
	"relay-core/internal/service/chain"
	"relay-core/internal/service/mq"
	"relay-core/internal/service/nonce"
	"relay-core/internal/service/policy"
	"relay-core/internal/service/signer"
	"relay-core/pkg/errno"
	"relay-core/pkg/monitor"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// RelayDeps 构造 RelayService 所需的组件, 全部在启动时创建
type RelayDeps struct {
	Registry    *chain.Registry
	Policy      *policy.Engine
	Nonces      *nonce.Allocator
	Signer      *signer.Signer
	Broadcaster broadcast.Broadcaster

	// 以下可选
	Events     *mq.AsyncPublisher
	EventTopic string
	Metrics    *monitor.RelayMetrics
	Logger     *zap.Logger
}

// RelayService 串联 策略 -> nonce -> 签名 -> 广播, 任一步失败立即返回
type RelayService struct {
	registry    *chain.Registry
	policy      *policy.Engine
	nonces      *nonce.Allocator
	signer      *signer.Signer
	broadcaster broadcast.Broadcaster

	events  *mq.AsyncPublisher
	topic   string
	metrics *monitor.RelayMetrics
	log     *zap.Logger
}

func NewRelayService(d RelayDeps) *RelayService {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.EventTopic == "" {
		d.EventTopic = event.TopicTxSubmitted
	}
	return &RelayService{
		registry:    d.Registry,
		policy:      d.Policy,
		nonces:      d.Nonces,
		signer:      d.Signer,
		broadcaster: d.Broadcaster,
		events:      d.Events,
		topic:       d.EventTopic,
		metrics:     d.Metrics,
		log:         d.Logger,
	}
}

// ResolveChain 返回 ErrChainUnsupported 或已启用的链
func (s *RelayService) ResolveChain(id uint64) (*chain.Chain, error) {
	return s.registry.Resolve(id)
}

// Accounts 返回签名身份地址 (EIP-55 校验和格式)
func (s *RelayService) Accounts() []string {
	return []string{s.signer.Address().Hex()}
}

// SendTransaction 对已解析的请求执行完整流水线, 返回节点确认的交易 hash
func (s *RelayService) SendTransaction(ctx context.Context, c *chain.Chain, req signer.TxRequest, apiKey string) (common.Hash, error) {
	log := s.log.With(zap.Uint64("chain_id", c.ID), zap.String("api_key", apiKey))

	// 1. 策略检查 (每次请求重新评估)
	if err := s.policy.Evaluate(req.To, req.MaxFeePerGas); err != nil {
		s.observePolicyRejection(err)
		return common.Hash{}, err
	}

	// 2. 预留 nonce
	from := s.signer.Address()
	res, err := s.nonces.Reserve(ctx, from, c.ID, c.Client)
	if err != nil {
		log.Warn("nonce reservation failed", zap.Error(err))
		return common.Hash{}, err
	}
	if s.metrics != nil {
		s.metrics.NonceReservationsTotal.WithLabelValues(chainLabel(c), string(res.Source)).Inc()
	}

	// 3. 构建并签名
	tx := signer.Build(req, res.Nonce, c.BigID())
	signed, err := s.signer.Sign(tx)
	if err != nil {
		s.rollback(ctx, c, res)
		log.Error("sign failed", zap.Uint64("nonce", res.Nonce), zap.Error(err))
		return common.Hash{}, errno.InternalServerError.WithCause(err)
	}

	// 4. 广播 (不重试)
	start := time.Now()
	hash, err := s.broadcaster.Send(ctx, signed, c)
	s.observeBroadcast(c, start, err)
	if err != nil {
		s.release(ctx, c, res, err)
		return common.Hash{}, err
	}
	res.Commit()

	log.Info("transaction submitted",
		zap.String("tx_hash", hash.Hex()),
		zap.Uint64("nonce", res.Nonce),
		zap.String("nonce_source", string(res.Source)),
		zap.String("to", req.To.Hex()),
	)

	// 5. 事件通知 (尽力而为)
	s.publish(event.TxSubmittedEvent{
		ChainID:     c.ID,
		TxHash:      hash.Hex(),
		Nonce:       res.Nonce,
		NonceSource: string(res.Source),
		From:        from.Hex(),
		To:          req.To.Hex(),
		APIKey:      apiKey,
		SubmittedAt: time.Now().UTC(),
	})
	return hash, nil
}

// release 根据失败类型处理预留的 nonce:
// 节点明确拒绝则回滚复用; 超时/传输错误或 nonce 冲突则清空存储值, 下次从链上重新同步
func (s *RelayService) release(ctx context.Context, c *chain.Chain, res *nonce.Reservation, err error) {
	failure := broadcast.Classify(err)
	if failure == broadcast.FailureRejected {
		s.rollback(ctx, c, res)
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	res.Invalidate(rctx)
	s.log.Warn("nonce cleared for resync",
		zap.Uint64("chain_id", c.ID),
		zap.Uint64("nonce", res.Nonce),
		zap.String("reason", failure.String()),
	)
	if s.metrics != nil {
		s.metrics.NonceResyncsTotal.WithLabelValues(chainLabel(c), failure.String()).Inc()
	}
}

func (s *RelayService) rollback(ctx context.Context, c *chain.Chain, res *nonce.Reservation) {
	// 请求已取消时仍要回滚
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	res.Rollback(rctx)
	if s.metrics != nil {
		s.metrics.NonceRollbacksTotal.WithLabelValues(chainLabel(c)).Inc()
	}
}

func (s *RelayService) publish(e event.TxSubmittedEvent) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		s.log.Error("marshal event failed", zap.Error(err))
		return
	}
	s.events.Enqueue(s.topic, strconv.FormatUint(e.ChainID, 10), payload)
}

func (s *RelayService) observePolicyRejection(err error) {
	if s.metrics == nil {
		return
	}
	reason := "fee_cap"
	if errors.Is(err, errno.ErrAddressNotWhitelisted) {
		reason = "whitelist"
	}
	s.metrics.PolicyRejectionsTotal.WithLabelValues(reason).Inc()
}

func (s *RelayService) observeBroadcast(c *chain.Chain, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.BroadcastDuration.WithLabelValues(chainLabel(c), outcome).Observe(time.Since(start).Seconds())
}

func chainLabel(c *chain.Chain) string {
	return strconv.FormatUint(c.ID, 10)
}
