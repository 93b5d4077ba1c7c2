package model

// HeartbeatResponse 心跳响应
type HeartbeatResponse struct {
	Success   bool  `json:"success"`
	Timestamp int64 `json:"timestamp"`
}

// UsersRequest 批量在线状态查询请求
type UsersRequest struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

// UsersResponse 批量在线状态查询响应
type UsersResponse struct {
	OnlineStatus map[string]bool `json:"onlineStatus"`
}
