package service

import (
	"context"

	"dinguscord/pkg/presence"
)

// Service 在线状态服务
// 心跳窗口语义在pkg/presence里，这里只是HTTP面的薄封装
type Service struct {
	tracker *presence.Tracker
}

// NewService 创建服务
func NewService(tracker *presence.Tracker) *Service {
	return &Service{tracker: tracker}
}

// Heartbeat 刷新用户心跳
func (s *Service) Heartbeat(ctx context.Context, userID string) error {
	return s.tracker.Heartbeat(ctx, userID)
}

// Logout 显式下线
func (s *Service) Logout(ctx context.Context, userID string) error {
	return s.tracker.Logout(ctx, userID)
}

// QueryOnline 批量查询在线状态，存储故障一律按离线返回
func (s *Service) QueryOnline(ctx context.Context, userIDs []string) map[string]bool {
	return s.tracker.QueryOnlineBatch(ctx, userIDs)
}
