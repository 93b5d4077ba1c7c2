package pubsub

import (
	"context"
	"fmt"
	"sync"

	"dinguscord/pkg/logger"
	"dinguscord/pkg/redis"
)

// 跨进程广播频道命名
const (
	RoomChannelPrefix = "room:"
	UserChannelPrefix = "user:"
)

// RoomChannel 房间广播频道名
func RoomChannel(roomID string) string {
	return RoomChannelPrefix + roomID
}

// UserChannel 用户广播频道名
func UserChannel(userID string) string {
	return UserChannelPrefix + userID
}

// Handler 订阅回调，payload为频道上的原始JSON
type Handler func(channel string, payload []byte)

// Broadcaster 跨进程广播器
// 所有对客户端的广播都先经过Publish，再由每个进程的订阅循环
// 投递给本进程持有的连接，本进程自身也不例外
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Start(ctx context.Context, handler Handler) error
	Stop() error
}

// RedisBroadcaster 基于Redis pub/sub的广播器实现
type RedisBroadcaster struct {
	client   *redis.RedisClient
	logger   logger.Logger
	patterns []string
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRedisBroadcaster 创建Redis广播器，订阅房间和用户两类频道
func NewRedisBroadcaster(client *redis.RedisClient, log logger.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:   client,
		logger:   log,
		patterns: []string{RoomChannelPrefix + "*", UserChannelPrefix + "*"},
	}
}

// Publish 发布广播
func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Start 启动订阅循环
// 单goroutine顺序分发，保证同一频道的事件按发布顺序到达本进程
func (b *RedisBroadcaster) Start(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		return fmt.Errorf("broadcaster already started")
	}

	subCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	pubsub := b.client.PSubscribe(subCtx, b.patterns...)

	go func() {
		defer close(b.done)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			}
		}
	}()

	b.logger.Info(ctx, "Broadcast subscription started",
		logger.F("patterns", b.patterns))
	return nil
}

// Stop 停止订阅循环
func (b *RedisBroadcaster) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
		b.done = nil
	}
	return nil
}

// LoopbackBroadcaster 进程内回环广播器，测试和单机部署用
type LoopbackBroadcaster struct {
	mu      sync.Mutex
	handler Handler
}

// NewLoopbackBroadcaster 创建回环广播器
func NewLoopbackBroadcaster() *LoopbackBroadcaster {
	return &LoopbackBroadcaster{}
}

// Publish 发布即投递
func (b *LoopbackBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()

	if handler != nil {
		handler(channel, payload)
	}
	return nil
}

// Start 记录回调
func (b *LoopbackBroadcaster) Start(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

// Stop 清除回调
func (b *LoopbackBroadcaster) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = nil
	return nil
}
