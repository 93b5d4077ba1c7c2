package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dinguscord/apps/notification-service/model"
	"dinguscord/pkg/database"
	"dinguscord/pkg/eventbus"
	"dinguscord/pkg/logger"
	"dinguscord/pkg/pubsub"
	"dinguscord/pkg/roomstate"
)

const notificationCollection = "notifications"
const previewLimit = 120

// Service 通知服务
// 消费消息事件，为每个接收者落一条通知
// 没有活跃socket的接收者额外在其user频道发notification_created，
// 其他在线设备或重连后的界面借此感知
type Service struct {
	db          *database.MongoDB
	roomState   *roomstate.Store
	broadcaster pubsub.Broadcaster
	logger      logger.Logger
}

// NewService 创建服务
func NewService(db *database.MongoDB, roomState *roomstate.Store, broadcaster pubsub.Broadcaster, log logger.Logger) *Service {
	return &Service{
		db:          db,
		roomState:   roomState,
		broadcaster: broadcaster,
		logger:      log,
	}
}

// CreateFromEvent 处理一条notification.message.new事件
// 返回错误表示需要重投，offset不会被提交
func (s *Service) CreateFromEvent(ctx context.Context, env eventbus.Envelope) error {
	var msg model.MessagePayload
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		// 坏消息重投也不会变好，记日志后吞掉
		s.logger.Error(ctx, "Malformed notification event, skipping",
			logger.F("error", err.Error()))
		return nil
	}

	recipients, err := s.recipients(ctx, env)
	if err != nil {
		return err
	}

	for _, userID := range recipients {
		if err := s.notify(ctx, userID, msg); err != nil {
			return err
		}
	}
	return nil
}

// recipients 事件的接收者：私聊是接收方，房间是活跃成员减去发送者
func (s *Service) recipients(ctx context.Context, env eventbus.Envelope) ([]string, error) {
	if env.ReceiverID != "" {
		return []string{env.ReceiverID}, nil
	}

	members, err := s.roomState.Members(ctx, env.RoomID)
	if err != nil {
		return nil, fmt.Errorf("room members %s: %w", env.RoomID, err)
	}

	recipients := make([]string, 0, len(members))
	for _, member := range members {
		if member != env.UserID {
			recipients = append(recipients, member)
		}
	}
	return recipients, nil
}

func (s *Service) notify(ctx context.Context, userID string, msg model.MessagePayload) error {
	preview := msg.Content
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}

	notification := model.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      eventbus.EventNotificationNew,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		RoomID:    msg.RoomID,
		Preview:   preview,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := s.db.GetCollection(notificationCollection).InsertOne(ctx, notification); err != nil {
		return fmt.Errorf("insert notification for %s: %w", userID, err)
	}

	// 有活跃socket的用户已经收到new_message广播，不再打扰
	online, err := s.roomState.IsSocketOnline(ctx, userID)
	if err != nil {
		s.logger.Warn(ctx, "Socket online lookup failed",
			logger.F("userID", userID), logger.F("error", err.Error()))
	}
	if online {
		return nil
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return nil
	}
	frame, err := json.Marshal(map[string]interface{}{
		"event": "notification_created",
		"data":  json.RawMessage(data),
	})
	if err != nil {
		return nil
	}
	if err := s.broadcaster.Publish(ctx, pubsub.UserChannel(userID), frame); err != nil {
		s.logger.Warn(ctx, "Notification broadcast failed",
			logger.F("userID", userID), logger.F("error", err.Error()))
	}
	return nil
}
