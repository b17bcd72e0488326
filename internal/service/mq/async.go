package mq

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type envelope struct {
	topic   string
	key     string
	payload []byte
}

// AsyncPublisher 把发布从请求路径上移走: Enqueue 从不阻塞, 队列满时丢弃并记日志.
// 后台 Run 循环逐条发送到底层 Producer.
type AsyncPublisher struct {
	producer Producer
	queue    chan envelope
	timeout  time.Duration
	log      *zap.Logger
	done     chan struct{}
	once     sync.Once

	onResult func(ok bool)
}

func NewAsyncPublisher(producer Producer, buffer int, log *zap.Logger) *AsyncPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncPublisher{
		producer: producer,
		queue:    make(chan envelope, buffer),
		timeout:  5 * time.Second,
		log:      log,
		done:     make(chan struct{}),
	}
}

// OnResult 注册发布结果回调 (用于指标), 需在 Run 之前调用
func (p *AsyncPublisher) OnResult(fn func(ok bool)) {
	p.onResult = fn
}

// Enqueue returns false when the message was dropped
func (p *AsyncPublisher) Enqueue(topic, key string, payload []byte) bool {
	select {
	case p.queue <- envelope{topic: topic, key: key, payload: payload}:
		return true
	default:
		p.log.Warn("event queue full, dropping message", zap.String("topic", topic), zap.String("key", key))
		p.report(false)
		return false
	}
}

// Run 消费队列直到 ctx 结束, 退出前尽量发送剩余消息
func (p *AsyncPublisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case m := <-p.queue:
			p.send(ctx, m)
		}
	}
}

// Wait blocks until Run has returned
func (p *AsyncPublisher) Wait() {
	<-p.done
}

// Close 关闭底层 Producer, 可重复调用
func (p *AsyncPublisher) Close() error {
	var err error
	p.once.Do(func() { err = p.producer.Close() })
	return err
}

func (p *AsyncPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	for {
		select {
		case m := <-p.queue:
			p.send(ctx, m)
		default:
			return
		}
	}
}

func (p *AsyncPublisher) send(ctx context.Context, m envelope) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.producer.Publish(ctx, m.topic, m.key, m.payload); err != nil {
		p.log.Warn("publish event failed", zap.String("topic", m.topic), zap.Error(err))
		p.report(false)
		return
	}
	p.report(true)
}

func (p *AsyncPublisher) report(ok bool) {
	if p.onResult != nil {
		p.onResult(ok)
	}
}
