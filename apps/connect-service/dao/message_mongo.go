package dao

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"dinguscord/apps/connect-service/model"
	"dinguscord/pkg/database"
)

const messageCollection = "messages"

// MongoMessageStore 基于MongoDB的消息存储
type MongoMessageStore struct {
	db *database.MongoDB
}

// NewMongoMessageStore 创建消息存储
func NewMongoMessageStore(db *database.MongoDB) *MongoMessageStore {
	return &MongoMessageStore{db: db}
}

func (s *MongoMessageStore) collection() *mongo.Collection {
	return s.db.GetCollection(messageCollection)
}

// Create 写入一条消息
func (s *MongoMessageStore) Create(ctx context.Context, msg *model.Message) error {
	if _, err := s.collection().InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// GetByID 按ID读取消息
func (s *MongoMessageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("find message %s: %w", id, err)
	}
	return &msg, nil
}

// ListRoomRecent 按时间顺序返回房间最近limit条消息
func (s *MongoMessageStore) ListRoomRecent(ctx context.Context, roomID string, limit int64) ([]*model.Message, error) {
	return s.listRecent(ctx, bson.M{"room_id": roomID}, limit)
}

// ListDirectRecent 按时间顺序返回两人会话最近limit条消息
func (s *MongoMessageStore) ListDirectRecent(ctx context.Context, userA, userB string, limit int64) ([]*model.Message, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"sender_id": userA, "receiver_id": userB},
			{"sender_id": userB, "receiver_id": userA},
		},
	}
	return s.listRecent(ctx, filter, limit)
}

func (s *MongoMessageStore) listRecent(ctx context.Context, filter bson.M, limit int64) ([]*model.Message, error) {
	// 倒序取最近limit条，再反转为时间正序
	cursor, err := s.collection().Find(ctx, filter, &options.FindOptions{
		Sort:  bson.M{"created_at": -1},
		Limit: &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*model.Message
	for cursor.Next(ctx) {
		var msg model.Message
		if err := cursor.Decode(&msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead 将别人发的消息标记为已读，重复标记是幂等的
func (s *MongoMessageStore) MarkRead(ctx context.Context, userID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	result, err := s.collection().UpdateMany(ctx,
		bson.M{
			"_id":       bson.M{"$in": messageIDs},
			"sender_id": bson.M{"$ne": userID},
		},
		bson.M{"$set": bson.M{"read": true, "delivered": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return result.ModifiedCount, nil
}

// MarkDelivered 标记消息已投递
func (s *MongoMessageStore) MarkDelivered(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	_, err := s.collection().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": messageIDs}},
		bson.M{"$set": bson.M{"delivered": true}},
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// Delete 删除消息
func (s *MongoMessageStore) Delete(ctx context.Context, id string) error {
	result, err := s.collection().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return model.ErrNotFound
	}
	return nil
}
