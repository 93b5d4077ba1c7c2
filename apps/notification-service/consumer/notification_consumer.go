package consumer

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"dinguscord/apps/notification-service/service"
	"dinguscord/pkg/eventbus"
	"dinguscord/pkg/kafka"
	"dinguscord/pkg/logger"
)

// NotificationConsumer 消费notification-events主题
type NotificationConsumer struct {
	service  *service.Service
	logger   logger.Logger
	consumer *kafka.Consumer
}

// NewNotificationConsumer 创建消费者
func NewNotificationConsumer(svc *service.Service, log logger.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		service: svc,
		logger:  log,
	}
}

// Start 接入消费组并开始消费
func (nc *NotificationConsumer) Start(ctx context.Context, brokers []string, groupID string) error {
	consumer, err := kafka.InitConsumer(kafka.KafkaConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topics:  []string{eventbus.TopicNotificationEvents},
	}, nc)
	if err != nil {
		return err
	}
	nc.consumer = consumer
	return consumer.StartConsuming(ctx)
}

// Stop 停止消费
func (nc *NotificationConsumer) Stop() error {
	if nc.consumer != nil {
		return nc.consumer.Close()
	}
	return nil
}

// HandleMessage 处理一条事件，返回错误则不提交offset等待重投
func (nc *NotificationConsumer) HandleMessage(msg *sarama.ConsumerMessage) error {
	ctx := context.Background()

	var env eventbus.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		nc.logger.Error(ctx, "Malformed event envelope, skipping",
			logger.F("topic", msg.Topic), logger.F("error", err.Error()))
		return nil
	}

	if env.Type != eventbus.EventNotificationNew {
		return nil
	}

	if err := nc.service.CreateFromEvent(ctx, env); err != nil {
		nc.logger.Error(ctx, "Notification event handling failed",
			logger.F("type", env.Type), logger.F("error", err.Error()))
		return err
	}
	return nil
}
