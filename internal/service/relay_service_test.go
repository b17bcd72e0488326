package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"relay-core/internal/event"
	"relay-core/internal/service/broadcast"
	"relay-core/internal/service/chain"
	"relay-core/internal/service/chain/chaintest"
	"relay-core/internal/service/mq"
	"relay-core/internal/service/nonce"
	"relay-core/internal/service/policy"
	"relay-core/internal/service/signer"
	"relay-core/pkg/errno"
	"relay-core/pkg/monitor"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	mu   sync.Mutex
	msgs []mq.Message
	err  error
}

func (p *recordingProducer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, mq.Message{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) messages() []mq.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mq.Message(nil), p.msgs...)
}

type fixture struct {
	svc      *RelayService
	node     *chaintest.FakeClient
	chain    *chain.Chain
	producer *recordingProducer
	metrics  *monitor.Metrics
	signer   *signer.Signer
}

func newFixture(t *testing.T, node *chaintest.FakeClient) *fixture {
	t.Helper()
	registry, err := chain.NewRegistry(context.Background(), map[uint64]string{10: "http://op"},
		func(ctx context.Context, endpoint string) (chain.Client, error) { return node, nil }, nil)
	require.NoError(t, err)
	ch, err := registry.Resolve(10)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sg, err := signer.New(key)
	require.NoError(t, err)

	alloc, err := nonce.NewAllocator(nonce.NewMemoryStore(), nonce.Options{})
	require.NoError(t, err)

	producer := &recordingProducer{}
	events := mq.NewAsyncPublisher(producer, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go events.Run(ctx)
	t.Cleanup(func() {
		cancel()
		events.Wait()
	})

	metrics := monitor.New()
	svc := NewRelayService(RelayDeps{
		Registry: registry,
		Policy: policy.NewEngine(policy.Config{
			Whitelist:  []common.Address{common.HexToAddress("0x1111111111111111111111111111111111111111")},
			MaxBaseFee: big.NewInt(100),
		}, nil),
		Nonces:      alloc,
		Signer:      sg,
		Broadcaster: broadcast.NewPublic(time.Second, nil),
		Events:      events,
		Metrics:     metrics.Relay,
	})
	return &fixture{svc: svc, node: node, chain: ch, producer: producer, metrics: metrics, signer: sg}
}

func txRequest(to string, maxFee int64) signer.TxRequest {
	return signer.TxRequest{
		To:                   common.HexToAddress(to),
		Value:                big.NewInt(0),
		Gas:                  21000,
		MaxPriorityFeePerGas: big.NewInt(1),
		MaxFeePerGas:         big.NewInt(maxFee),
	}
}

func TestSendTransaction_PublishesEvent(t *testing.T) {
	f := newFixture(t, &chaintest.FakeClient{PendingNonce: 12})

	hash, err := f.svc.SendTransaction(context.Background(), f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.producer.messages()) == 1 }, time.Second, 10*time.Millisecond)
	msg := f.producer.messages()[0]
	assert.Equal(t, event.TopicTxSubmitted, msg.Topic)
	assert.Equal(t, "10", msg.Key)

	var e event.TxSubmittedEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &e))
	assert.Equal(t, hash.Hex(), e.TxHash)
	assert.Equal(t, uint64(12), e.Nonce)
	assert.Equal(t, string(nonce.SourceChain), e.NonceSource)
	assert.Equal(t, f.signer.Address().Hex(), e.From)
	assert.Equal(t, "acme", e.APIKey)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Relay.NonceReservationsTotal.WithLabelValues("10", string(nonce.SourceChain))))

	// 第二笔使用存储中的计数
	_, err = f.svc.SendTransaction(context.Background(), f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	require.NoError(t, err)
	assert.Equal(t, uint64(13), f.node.Sent[1].Nonce())
	assert.Equal(t, 1, f.node.NonceCalls)
}

func TestSendTransaction_PolicyRejectsBeforeNonce(t *testing.T) {
	f := newFixture(t, &chaintest.FakeClient{})

	_, err := f.svc.SendTransaction(context.Background(), f.chain, txRequest("0x2222222222222222222222222222222222222222", 50), "acme")
	assert.ErrorIs(t, err, errno.ErrAddressNotWhitelisted)

	_, err = f.svc.SendTransaction(context.Background(), f.chain, txRequest("0x1111111111111111111111111111111111111111", 101), "acme")
	assert.ErrorIs(t, err, errno.ErrMaxFeePerGasTooHigh)

	assert.Zero(t, f.node.NonceCalls)
	assert.Zero(t, f.node.SentCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Relay.PolicyRejectionsTotal.WithLabelValues("whitelist")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Relay.PolicyRejectionsTotal.WithLabelValues("fee_cap")))
}

func TestSendTransaction_BroadcastFailure(t *testing.T) {
	node := &chaintest.FakeClient{PendingNonce: 4, SendErr: chaintest.Reject("insufficient funds for gas * price + value")}
	f := newFixture(t, node)

	_, err := f.svc.SendTransaction(context.Background(), f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	assert.ErrorIs(t, err, errno.ErrUpstream)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Relay.NonceRollbacksTotal.WithLabelValues("10")))
	assert.Never(t, func() bool { return len(f.producer.messages()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	// 明确拒绝: nonce 回滚后由下一笔复用
	node.SendErr = nil
	_, err = f.svc.SendTransaction(context.Background(), f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, node.Nonces())
}

func TestSendTransaction_TimeoutAfterAcceptanceResyncs(t *testing.T) {
	// 节点接收了交易, 但响应在超时之后才到
	node := &chaintest.FakeClient{PendingNonce: 5, Strict: true, AcceptErr: context.DeadlineExceeded}
	f := newFixture(t, node)
	ctx := context.Background()

	_, err := f.svc.SendTransaction(ctx, f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	assert.ErrorIs(t, err, errno.ErrUpstream)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Relay.NonceResyncsTotal.WithLabelValues("10", "unknown")))
	assert.Zero(t, testutil.ToFloat64(f.metrics.Relay.NonceRollbacksTotal.WithLabelValues("10")))

	for i := 0; i < 5; i++ {
		_, err := f.svc.SendTransaction(ctx, f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
		require.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, []uint64{5, 6, 7, 8, 9, 10}, node.Nonces())
	assert.Equal(t, 2, node.NonceCalls)
}

func TestSendTransaction_TransportErrorBeforeAcceptance(t *testing.T) {
	node := &chaintest.FakeClient{PendingNonce: 5, Strict: true, SendErr: errors.New("read tcp: connection reset by peer")}
	f := newFixture(t, node)
	ctx := context.Background()

	_, err := f.svc.SendTransaction(ctx, f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	assert.ErrorIs(t, err, errno.ErrUpstream)

	// 清空后从链上读回 5, 不会留下空洞
	node.SendErr = nil
	_, err = f.svc.SendTransaction(ctx, f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, node.Nonces())
}

func TestSendTransaction_StoreBehindChainResyncs(t *testing.T) {
	node := &chaintest.FakeClient{PendingNonce: 5, Strict: true}
	f := newFixture(t, node)
	ctx := context.Background()

	_, err := f.svc.SendTransaction(ctx, f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	require.NoError(t, err)

	// 同一私钥在网关之外发出了 4 笔交易
	node.SetPendingNonce(9)

	_, err = f.svc.SendTransaction(ctx, f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	assert.ErrorIs(t, err, errno.ErrUpstream)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Relay.NonceResyncsTotal.WithLabelValues("10", "nonce_conflict")))

	for i := 0; i < 2; i++ {
		_, err = f.svc.SendTransaction(ctx, f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{5, 9, 10}, node.Nonces())
}

func TestSendTransaction_EventFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, &chaintest.FakeClient{})
	f.producer.err = errors.New("broker unavailable")

	hash, err := f.svc.SendTransaction(context.Background(), f.chain, txRequest("0x1111111111111111111111111111111111111111", 50), "acme")
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
}

func TestAccounts(t *testing.T) {
	f := newFixture(t, &chaintest.FakeClient{})
	assert.Equal(t, []string{f.signer.Address().Hex()}, f.svc.Accounts())

	_, err := f.svc.ResolveChain(1)
	assert.ErrorIs(t, err, errno.ErrChainUnsupported)
}
