package dao

import (
	"context"

	"dinguscord/apps/connect-service/model"
)

// MessageStore 消息持久化接口
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListRoomRecent(ctx context.Context, roomID string, limit int64) ([]*model.Message, error)
	ListDirectRecent(ctx context.Context, userA, userB string, limit int64) ([]*model.Message, error)
	MarkRead(ctx context.Context, userID string, messageIDs []string) (int64, error)
	MarkDelivered(ctx context.Context, messageIDs []string) error
	Delete(ctx context.Context, id string) error
}

// RoomStore 房间与成员持久化接口
type RoomStore interface {
	EnsureRoom(ctx context.Context, roomID, name string) error
	UpsertMember(ctx context.Context, roomID, userID string) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	ListMemberIDs(ctx context.Context, roomID string) ([]string, error)
}
