package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisProducer 基于 Redis Streams 的 Producer
type RedisProducer struct {
	client *redis.Client
	maxLen int64
}

// NewRedisProducer maxLen > 0 时对 stream 做近似裁剪
func NewRedisProducer(client *redis.Client, maxLen int64) *RedisProducer {
	return &RedisProducer{client: client, maxLen: maxLen}
}

func (p *RedisProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"key":     key,
			"payload": payload,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd error: %w", err)
	}
	return nil
}

// Close 不关闭共享的 redis 客户端
func (p *RedisProducer) Close() error { return nil }

// RedisConsumer 基于消费者组的 Redis Streams 消费者
type RedisConsumer struct {
	client *redis.Client
	group  string
	name   string
	block  time.Duration
	log    *zap.Logger
}

func NewRedisConsumer(client *redis.Client, group, name string, log *zap.Logger) *RedisConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisConsumer{client: client, group: group, name: name, block: 2 * time.Second, log: log}
}

func (c *RedisConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	// 1. 创建 Consumer Group (如果不存在)
	err := c.client.XGroupCreateMkStream(ctx, topic, c.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	c.log.Info("redis stream subscribe", zap.String("topic", topic), zap.String("group", c.group))

	for {
		if ctx.Err() != nil {
			return nil
		}

		// 2. 阻塞读取
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{topic, ">"},
			Count:    10,
			Block:    c.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("redis stream read failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// 3. 处理并确认
		for _, stream := range streams {
			for _, x := range stream.Messages {
				payload, ok := x.Values["payload"].(string)
				if !ok {
					c.log.Warn("redis stream message without payload", zap.String("id", x.ID))
					c.ack(ctx, topic, x.ID)
					continue
				}
				key, _ := x.Values["key"].(string)

				msg := &Message{ID: x.ID, Topic: topic, Key: key, Payload: []byte(payload)}
				if err := handler(msg); err != nil {
					c.log.Warn("redis stream handler failed", zap.String("id", x.ID), zap.Error(err))
					continue
				}
				c.ack(ctx, topic, x.ID)
			}
		}
	}
}

func (c *RedisConsumer) ack(ctx context.Context, topic, id string) {
	if err := c.client.XAck(ctx, topic, c.group, id).Err(); err != nil {
		c.log.Warn("redis stream ack failed", zap.String("id", id), zap.Error(err))
	}
}

// Close 不关闭共享的 redis 客户端
func (c *RedisConsumer) Close() error { return nil }
