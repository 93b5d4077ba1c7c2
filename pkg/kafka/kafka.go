package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"dinguscord/pkg/logger"
)

// KafkaConfig 配置
type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// Producer 生产者
type Producer struct {
	asyncProducer sarama.AsyncProducer
}

// Consumer 消费者
type Consumer struct {
	group     sarama.ConsumerGroup
	topics    []string
	ready     chan bool
	readyOnce sync.Once
	Handler   ConsumerHandler
}

// ConsumerHandler 消费处理接口
type ConsumerHandler interface {
	HandleMessage(msg *sarama.ConsumerMessage) error
}

// InitProducer 初始化生产者
// key 使用hash分区，保证同一频道的事件落在同一分区（保序）
func InitProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	p := &Producer{asyncProducer: producer}
	go p.drainResults(producer.Successes(), producer.Errors())
	return p, nil
}

// drainResults 排空发布结果通道，失败记日志
// 两个通道必须持续消费，否则缓冲写满后producer不再接收Input，发布方全部阻塞
func (p *Producer) drainResults(successes <-chan *sarama.ProducerMessage, errs <-chan *sarama.ProducerError) {
	log := logger.GetLogger()
	for successes != nil || errs != nil {
		select {
		case _, ok := <-successes:
			if !ok {
				successes = nil
			}
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Error(context.Background(), "Kafka publish failed",
				logger.F("topic", perr.Msg.Topic),
				logger.F("error", perr.Err.Error()))
		}
	}
}

// InitProducerWithRetry 带退避重试的生产者初始化
// 只在启动建连阶段重试，单次发布失败不在这里兜底
func InitProducerWithRetry(brokers []string, maxAttempts int) (*Producer, error) {
	backoff := time.Second
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		p, err := InitProducer(brokers)
		if err == nil {
			return p, nil
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	return nil, fmt.Errorf("kafka producer init failed after %d attempts: %w", maxAttempts, lastErr)
}

// SendMessage 发送消息
func (p *Producer) SendMessage(topic string, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	p.asyncProducer.Input() <- msg
	return nil
}

// SendJSON 序列化为JSON后发送
func (p *Producer) SendJSON(topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.SendMessage(topic, []byte(key), data)
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.asyncProducer.Close()
}

// InitConsumer 初始化消费者
func InitConsumer(cfg KafkaConfig, handler ConsumerHandler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}
	c := &Consumer{
		group:   group,
		topics:  cfg.Topics,
		ready:   make(chan bool),
		Handler: handler,
	}
	return c, nil
}

// StartConsuming 启动消费
func (c *Consumer) StartConsuming(ctx context.Context) error {
	go func() {
		for {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				fmt.Printf("Error from consumer: %v\n", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	<-c.ready
	return nil
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup sarama.ConsumerGroupHandler，rebalance时会再次进入
func (c *Consumer) Setup(_ sarama.ConsumerGroupSession) error {
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

// Cleanup sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 消费消息，处理失败不提交offset以便重投
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := c.Handler.HandleMessage(msg); err == nil {
			sess.MarkMessage(msg, "")
		}
	}
	return nil
}
