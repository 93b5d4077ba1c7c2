package dao

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"dinguscord/apps/connect-service/model"
	"dinguscord/pkg/database"
)

// PostgresRoomStore 基于PostgreSQL的房间存储
type PostgresRoomStore struct {
	db *database.PostgreSQL
}

// NewPostgresRoomStore 创建房间存储
func NewPostgresRoomStore(db *database.PostgreSQL) *PostgresRoomStore {
	return &PostgresRoomStore{db: db}
}

// EnsureRoom 确保房间存在，已存在则不动
func (s *PostgresRoomStore) EnsureRoom(ctx context.Context, roomID, name string) error {
	if name == "" {
		name = roomID
	}
	room := model.Room{ID: roomID, Name: name}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&room).Error
	if err != nil {
		return fmt.Errorf("ensure room %s: %w", roomID, err)
	}
	return nil
}

// UpsertMember 写入房间成员，重复加入是幂等的
func (s *PostgresRoomStore) UpsertMember(ctx context.Context, roomID, userID string) error {
	member := model.RoomMember{
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&member).Error
	if err != nil {
		return fmt.Errorf("upsert member %s/%s: %w", roomID, userID, err)
	}
	return nil
}

// RemoveMember 移除房间成员
func (s *PostgresRoomStore) RemoveMember(ctx context.Context, roomID, userID string) error {
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&model.RoomMember{}).Error
	if err != nil {
		return fmt.Errorf("remove member %s/%s: %w", roomID, userID, err)
	}
	return nil
}

// ListMemberIDs 房间的持久化成员
func (s *PostgresRoomStore) ListMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	var userIDs []string
	err := s.db.WithContext(ctx).
		Model(&model.RoomMember{}).
		Where("room_id = ?", roomID).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("list members %s: %w", roomID, err)
	}
	return userIDs, nil
}
