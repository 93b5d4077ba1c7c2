package model

import "time"

// Notification 用户通知，持久化在MongoDB
type Notification struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	Type      string    `bson:"type" json:"type"`
	MessageID string    `bson:"message_id" json:"message_id"`
	SenderID  string    `bson:"sender_id" json:"sender_id"`
	RoomID    string    `bson:"room_id,omitempty" json:"room_id,omitempty"`
	Preview   string    `bson:"preview" json:"preview"`
	Read      bool      `bson:"read" json:"read"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// MessagePayload 事件信封里携带的消息字段
type MessagePayload struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	RoomID     string `json:"room_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Content    string `json:"content"`
	Type       string `json:"type"`
}
