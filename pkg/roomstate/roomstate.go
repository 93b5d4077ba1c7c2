package roomstate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	onlineUsersKey = "online_users"
)

// KV 房间实时状态依赖的最小键值接口
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
	HSet(ctx context.Context, key, field string, value interface{}) error
	HDel(ctx context.Context, key string, fields ...string) error
	HExists(ctx context.Context, key, field string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Store 房间实时状态存储
// 活跃成员集合、正在输入标记、未读计数、socket在线表
type Store struct {
	kv KV
}

// NewStore 创建存储
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func roomUsersKey(roomID string) string {
	return "room:" + roomID + ":users"
}

func userRoomsKey(userID string) string {
	return "user:" + userID + ":rooms"
}

func typingKey(roomID, userID string) string {
	return "typing:" + roomID + ":" + userID
}

func unreadKey(userID, roomID string) string {
	return "user:" + userID + ":room:" + roomID + ":unread"
}

// JoinRoom 加入房间，重复加入是幂等的
func (s *Store) JoinRoom(ctx context.Context, roomID, userID string) error {
	if err := s.kv.SAdd(ctx, roomUsersKey(roomID), userID); err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	if err := s.kv.SAdd(ctx, userRoomsKey(userID), roomID); err != nil {
		return fmt.Errorf("join room reverse index %s: %w", userID, err)
	}
	return nil
}

// LeaveRoom 离开房间
func (s *Store) LeaveRoom(ctx context.Context, roomID, userID string) error {
	if err := s.kv.SRem(ctx, roomUsersKey(roomID), userID); err != nil {
		return fmt.Errorf("leave room %s: %w", roomID, err)
	}
	if err := s.kv.SRem(ctx, userRoomsKey(userID), roomID); err != nil {
		return fmt.Errorf("leave room reverse index %s: %w", userID, err)
	}
	return nil
}

// Members 房间内的活跃成员
func (s *Store) Members(ctx context.Context, roomID string) ([]string, error) {
	return s.kv.SMembers(ctx, roomUsersKey(roomID))
}

// RoomsOf 用户加入的房间
func (s *Store) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	return s.kv.SMembers(ctx, userRoomsKey(userID))
}

// SetTyping 标记正在输入，ttl后自动消失
func (s *Store) SetTyping(ctx context.Context, roomID, userID string, ttl time.Duration) error {
	return s.kv.Set(ctx, typingKey(roomID, userID), "1", ttl)
}

// ClearTyping 主动清除正在输入标记
func (s *Store) ClearTyping(ctx context.Context, roomID, userID string) error {
	return s.kv.Del(ctx, typingKey(roomID, userID))
}

// TypingUsers 当前正在输入的用户
func (s *Store) TypingUsers(ctx context.Context, roomID string) ([]string, error) {
	prefix := "typing:" + roomID + ":"
	keys, err := s.kv.Keys(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("typing scan %s: %w", roomID, err)
	}

	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, prefix))
	}
	return users, nil
}

// IncrUnread 未读计数加一
func (s *Store) IncrUnread(ctx context.Context, userID, roomID string) (int64, error) {
	return s.kv.Incr(ctx, unreadKey(userID, roomID))
}

// GetUnread 读取未读计数，无记录视为0
func (s *Store) GetUnread(ctx context.Context, userID, roomID string) (int64, error) {
	val, err := s.kv.Get(ctx, unreadKey(userID, roomID))
	if err != nil {
		if err == goredis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("unread read %s/%s: %w", userID, roomID, err)
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unread parse %s/%s: %w", userID, roomID, err)
	}
	return n, nil
}

// ClearUnread 清零未读计数，重复清零是幂等的
func (s *Store) ClearUnread(ctx context.Context, userID, roomID string) error {
	return s.kv.Del(ctx, unreadKey(userID, roomID))
}

// MarkSocketOnline 记录用户的活跃socket连接
func (s *Store) MarkSocketOnline(ctx context.Context, userID, connID string) error {
	return s.kv.HSet(ctx, onlineUsersKey, userID, connID)
}

// MarkSocketOffline 连接断开时清除socket在线记录
// 不碰心跳记录，心跳窗口是另一套判定
func (s *Store) MarkSocketOffline(ctx context.Context, userID string) error {
	return s.kv.HDel(ctx, onlineUsersKey, userID)
}

// IsSocketOnline 用户是否有活跃socket连接
func (s *Store) IsSocketOnline(ctx context.Context, userID string) (bool, error) {
	return s.kv.HExists(ctx, onlineUsersKey, userID)
}

// SocketOnlineUsers 所有在线socket用户及其连接ID
func (s *Store) SocketOnlineUsers(ctx context.Context) (map[string]string, error) {
	return s.kv.HGetAll(ctx, onlineUsersKey)
}
