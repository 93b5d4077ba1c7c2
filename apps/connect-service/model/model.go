package model

import (
	"encoding/json"
	"errors"
	"time"
)

// 操作错误分类，ack里映射为错误码
var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrAuthInvalid         = errors.New("invalid credential")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// 入站事件
const (
	EventAuthenticate     = "authenticate"
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventSendMessage      = "send_message"
	EventTyping           = "typing"
	EventMarkRead         = "mark_read"
	EventDeleteMessage    = "delete_message"
	EventGetTypingUsers   = "get_typing_users"
	EventGetDirectHistory = "get_direct_history"
)

// 出站确认事件
const (
	EventAuthenticated    = "authenticated"
	EventRoomJoined       = "room_joined"
	EventRoomLeft         = "room_left"
	EventMessageSent      = "message_sent"
	EventMarkedRead       = "marked_read"
	EventMessageDeleteAck = "message_deleted_ack"
	EventTypingUsers      = "typing_users"
	EventDirectHistory    = "direct_history"
	EventError            = "error"
)

// 广播事件
const (
	EventNewMessage          = "new_message"
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventUserTyping          = "user_typing"
	EventMessagesRead        = "messages_read"
	EventMessageDeleted      = "message_deleted"
	EventNotificationCreated = "notification_created"
)

// 消息类型
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// Frame WebSocket帧，入站出站统一结构
type Frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Message 聊天消息，房间消息和私聊消息二选一
type Message struct {
	ID         string    `bson:"_id" json:"id"`
	SenderID   string    `bson:"sender_id" json:"sender_id"`
	RoomID     string    `bson:"room_id,omitempty" json:"room_id,omitempty"`
	ReceiverID string    `bson:"receiver_id,omitempty" json:"receiver_id,omitempty"`
	Content    string    `bson:"content" json:"content"`
	Type       string    `bson:"type" json:"type"`
	Delivered  bool      `bson:"delivered" json:"delivered"`
	Read       bool      `bson:"read" json:"read"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// Room 房间，持久化在PostgreSQL
type Room struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 表名
func (Room) TableName() string { return "rooms" }

// RoomMember 房间成员，持久化在PostgreSQL
type RoomMember struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    string    `gorm:"size:64;uniqueIndex:idx_room_user" json:"room_id"`
	UserID    string    `gorm:"size:64;uniqueIndex:idx_room_user" json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 表名
func (RoomMember) TableName() string { return "room_members" }

// AuthenticatePayload 认证请求
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// JoinRoomPayload 加入房间请求
type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

// LeaveRoomPayload 离开房间请求
type LeaveRoomPayload struct {
	RoomID string `json:"room_id"`
}

// SendMessagePayload 发送消息请求，room_id和receiver_id必须恰好传一个
type SendMessagePayload struct {
	RoomID     string `json:"room_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	Content    string `json:"content"`
	Type       string `json:"type,omitempty"`
}

// TypingPayload 输入状态通知
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// MarkReadPayload 标记已读请求
// 会话范围可选：房间消息传room_id，私聊传sender_id，只传message_ids则只落库
type MarkReadPayload struct {
	RoomID     string   `json:"room_id,omitempty"`
	SenderID   string   `json:"sender_id,omitempty"`
	MessageIDs []string `json:"message_ids"`
}

// DeleteMessagePayload 删除消息请求
type DeleteMessagePayload struct {
	MessageID string `json:"message_id"`
}

// GetTypingUsersPayload 查询正在输入的用户
type GetTypingUsersPayload struct {
	RoomID string `json:"room_id"`
}

// DirectHistoryPayload 私聊最近历史查询
type DirectHistoryPayload struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

// Ack 操作确认，失败时带错误描述
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ErrorCode 错误分类到ack错误码的映射
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "NOT_AUTHENTICATED"
	case errors.Is(err, ErrAuthInvalid):
		return "AUTH_INVALID"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "UPSTREAM_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
