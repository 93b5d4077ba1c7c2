package eventbus

import (
	"context"
	"encoding/json"
	"testing"

	"dinguscord/pkg/logger"
)

// fakeProducer 记录发出的事件
type fakeProducer struct {
	topics   []string
	keys     []string
	payloads [][]byte
}

func (f *fakeProducer) SendJSON(topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.topics = append(f.topics, topic)
	f.keys = append(f.keys, key)
	f.payloads = append(f.payloads, data)
	return nil
}

// TestRoomEventRouting 测试房间事件的主题和分区键
func TestRoomEventRouting(t *testing.T) {
	ctx := context.Background()
	p := &fakeProducer{}
	bus := NewBus(p, logger.GetLogger())

	err := bus.PublishMessageEvent(ctx, Envelope{
		Type:   EventRoomMessageSent,
		UserID: "u1",
		RoomID: "general",
	})
	if err != nil {
		t.Fatalf("发布失败: %v", err)
	}

	if p.topics[0] != TopicMessageEvents {
		t.Errorf("主题应为%s, got %s", TopicMessageEvents, p.topics[0])
	}
	if p.keys[0] != "room:general" {
		t.Errorf("分区键应为room:general, got %s", p.keys[0])
	}

	var env Envelope
	if err := json.Unmarshal(p.payloads[0], &env); err != nil {
		t.Fatalf("信封解析失败: %v", err)
	}
	if env.Type != EventRoomMessageSent || env.RoomID != "general" {
		t.Errorf("信封字段不完整: %+v", env)
	}
	if env.Timestamp == 0 {
		t.Error("时间戳应自动填充")
	}
}

// TestDirectEventKey 测试私聊分区键与方向无关
func TestDirectEventKey(t *testing.T) {
	ctx := context.Background()
	p := &fakeProducer{}
	bus := NewBus(p, logger.GetLogger())

	if err := bus.PublishMessageEvent(ctx, Envelope{
		Type:       EventDirectMessageSent,
		UserID:     "bob",
		ReceiverID: "alice",
	}); err != nil {
		t.Fatalf("发布失败: %v", err)
	}
	if err := bus.PublishMessageEvent(ctx, Envelope{
		Type:       EventDirectMessageSent,
		UserID:     "alice",
		ReceiverID: "bob",
	}); err != nil {
		t.Fatalf("发布失败: %v", err)
	}

	if p.keys[0] != p.keys[1] {
		t.Errorf("同一会话两个方向的分区键应一致: %s vs %s", p.keys[0], p.keys[1])
	}
	if p.keys[0] != "direct:alice:bob" {
		t.Errorf("分区键应为direct:alice:bob, got %s", p.keys[0])
	}
}

// TestNotificationTopic 测试通知事件走独立主题
func TestNotificationTopic(t *testing.T) {
	ctx := context.Background()
	p := &fakeProducer{}
	bus := NewBus(p, logger.GetLogger())

	if err := bus.PublishNotificationEvent(ctx, Envelope{
		Type:   EventNotificationNew,
		UserID: "u1",
		RoomID: "general",
	}); err != nil {
		t.Fatalf("发布失败: %v", err)
	}

	if p.topics[0] != TopicNotificationEvents {
		t.Errorf("主题应为%s, got %s", TopicNotificationEvents, p.topics[0])
	}
}

// TestMissingType 测试缺少事件类型时拒绝发布
func TestMissingType(t *testing.T) {
	ctx := context.Background()
	p := &fakeProducer{}
	bus := NewBus(p, logger.GetLogger())

	if err := bus.PublishMessageEvent(ctx, Envelope{RoomID: "general"}); err == nil {
		t.Error("缺少type的事件应拒绝发布")
	}
	if len(p.topics) != 0 {
		t.Error("被拒绝的事件不应发出")
	}
}
