package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dinguscord/pkg/logger"
)

// Kafka主题
const (
	TopicMessageEvents      = "message-events"
	TopicNotificationEvents = "notification-events"
)

// 事件类型，点分命名兼容老的路由键风格
const (
	EventRoomMessageSent   = "message.room.sent"
	EventDirectMessageSent = "message.direct.sent"
	EventMessageRead       = "message.read"
	EventMessageDeleted    = "message.deleted"
	EventNotificationNew   = "notification.message.new"
)

// Envelope 总线上的事件信封
type Envelope struct {
	Type       string          `json:"type"`
	Message    json.RawMessage `json:"message,omitempty"`
	MessageIDs []string        `json:"message_ids,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	RoomID     string          `json:"room_id,omitempty"`
	ReceiverID string          `json:"receiver_id,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

// Producer 发布事件依赖的生产者接口，生产环境由Kafka生产者满足
type Producer interface {
	SendJSON(topic, key string, value interface{}) error
}

// Bus 持久化事件总线
// 分区键取房间或会话，同一频道的事件保持发布顺序
type Bus struct {
	producer Producer
	logger   logger.Logger
}

// NewBus 创建事件总线
func NewBus(producer Producer, log logger.Logger) *Bus {
	return &Bus{
		producer: producer,
		logger:   log,
	}
}

// partitionKey 分区键，房间消息按房间，私聊消息按会话双方
func partitionKey(env Envelope) string {
	if env.RoomID != "" {
		return "room:" + env.RoomID
	}
	a, b := env.UserID, env.ReceiverID
	if a > b {
		a, b = b, a
	}
	return "direct:" + a + ":" + b
}

// PublishMessageEvent 发布消息域事件
func (b *Bus) PublishMessageEvent(ctx context.Context, env Envelope) error {
	return b.publish(ctx, TopicMessageEvents, env)
}

// PublishNotificationEvent 发布通知域事件
func (b *Bus) PublishNotificationEvent(ctx context.Context, env Envelope) error {
	return b.publish(ctx, TopicNotificationEvents, env)
}

func (b *Bus) publish(ctx context.Context, topic string, env Envelope) error {
	if env.Type == "" {
		return fmt.Errorf("event type required")
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}

	if err := b.producer.SendJSON(topic, partitionKey(env), env); err != nil {
		return fmt.Errorf("publish %s to %s: %w", env.Type, topic, err)
	}

	b.logger.Debug(ctx, "Event published",
		logger.F("topic", topic),
		logger.F("type", env.Type),
		logger.F("roomID", env.RoomID))
	return nil
}
