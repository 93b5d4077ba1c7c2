package dao

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"dinguscord/apps/connect-service/model"
	"dinguscord/pkg/database"
)

// Migrate 初始化表结构和索引，幂等，进程启动时显式调用一次
func Migrate(ctx context.Context, pg *database.PostgreSQL, mongoDB *database.MongoDB) error {
	if err := pg.AutoMigrate(&model.Room{}, &model.RoomMember{}); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}

	collection := mongoDB.GetCollection(messageCollection)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("migrate mongo indexes: %w", err)
	}
	return nil
}
