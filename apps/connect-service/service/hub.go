package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"dinguscord/apps/connect-service/dao"
	"dinguscord/apps/connect-service/model"
	"dinguscord/pkg/cache"
	"dinguscord/pkg/config"
	"dinguscord/pkg/eventbus"
	"dinguscord/pkg/logger"
	"dinguscord/pkg/presence"
	"dinguscord/pkg/pubsub"
	"dinguscord/pkg/roomstate"
	"dinguscord/pkg/snowflake"
)

// Hub 连接枢纽
// 持有本进程的全部WebSocket连接，负责事件分发和广播投递
// 实例由启动代码构造注入，不提供全局单例
type Hub struct {
	logger    logger.Logger
	cfg       config.RealtimeConfig
	jwtSecret string

	broadcaster pubsub.Broadcaster
	presence    *presence.Tracker
	cache       *cache.MessageCache
	roomState   *roomstate.Store
	bus         *eventbus.Bus
	messages    dao.MessageStore
	rooms       dao.RoomStore
	ids         *snowflake.Snowflake

	mu          sync.RWMutex
	clients     map[string]*Client            // connID -> client
	userClients map[string]map[string]*Client // userID -> connID -> client
	roomClients map[string]map[string]*Client // roomID -> connID -> client
}

// HubDeps Hub的依赖集合
type HubDeps struct {
	Logger      logger.Logger
	Config      config.RealtimeConfig
	JWTSecret   string
	Broadcaster pubsub.Broadcaster
	Presence    *presence.Tracker
	Cache       *cache.MessageCache
	RoomState   *roomstate.Store
	Bus         *eventbus.Bus
	Messages    dao.MessageStore
	Rooms       dao.RoomStore
	IDs         *snowflake.Snowflake
}

// NewHub 创建连接枢纽
func NewHub(deps HubDeps) *Hub {
	return &Hub{
		logger:      deps.Logger,
		cfg:         deps.Config,
		jwtSecret:   deps.JWTSecret,
		broadcaster: deps.Broadcaster,
		presence:    deps.Presence,
		cache:       deps.Cache,
		roomState:   deps.RoomState,
		bus:         deps.Bus,
		messages:    deps.Messages,
		rooms:       deps.Rooms,
		ids:         deps.IDs,
		clients:     make(map[string]*Client),
		userClients: make(map[string]map[string]*Client),
		roomClients: make(map[string]map[string]*Client),
	}
}

// Start 启动广播订阅循环
func (h *Hub) Start(ctx context.Context) error {
	return h.broadcaster.Start(ctx, h.dispatch)
}

// Stop 停止订阅循环并关闭所有连接
func (h *Hub) Stop() error {
	err := h.broadcaster.Stop()

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return err
}

// HandleConnection WebSocket连接入口，握手完成后调用
// 连接先处于未认证状态，超时未认证则关闭
func (h *Hub) HandleConnection(conn *websocket.Conn, r *http.Request) {
	client := newClient(h, conn)

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	h.logger.Info(r.Context(), "WebSocket connection established",
		logger.F("connID", client.id))

	client.run()
}

// dispatch 订阅回调，把广播投递给本进程相关的连接
// 单goroutine顺序执行，同一频道内的投递顺序与发布顺序一致
func (h *Hub) dispatch(channel string, payload []byte) {
	var targets []*Client

	h.mu.RLock()
	switch {
	case strings.HasPrefix(channel, pubsub.RoomChannelPrefix):
		roomID := strings.TrimPrefix(channel, pubsub.RoomChannelPrefix)
		for _, c := range h.roomClients[roomID] {
			targets = append(targets, c)
		}
	case strings.HasPrefix(channel, pubsub.UserChannelPrefix):
		userID := strings.TrimPrefix(channel, pubsub.UserChannelPrefix)
		for _, c := range h.userClients[userID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

// broadcast 组装广播帧并发布到频道
// 本进程的连接也走订阅循环收到，不直接投递
func (h *Hub) broadcast(ctx context.Context, channel, event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error(ctx, "Broadcast payload marshal failed",
			logger.F("event", event), logger.F("error", err.Error()))
		return
	}
	frame, err := json.Marshal(model.Frame{Event: event, Data: raw})
	if err != nil {
		h.logger.Error(ctx, "Broadcast frame marshal failed",
			logger.F("event", event), logger.F("error", err.Error()))
		return
	}

	if err := h.broadcaster.Publish(ctx, channel, frame); err != nil {
		// ack已经回了，广播失败只记日志
		h.logger.Error(ctx, "Broadcast publish failed",
			logger.F("channel", channel), logger.F("event", event),
			logger.F("error", err.Error()))
	}
}

// bindIdentity 认证成功后登记连接身份
func (h *Hub) bindIdentity(client *Client, userID, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.userClients[userID] == nil {
		h.userClients[userID] = make(map[string]*Client)
	}
	h.userClients[userID][client.id] = client
}

// joinLocal 把连接登记进房间的本地视图
func (h *Hub) joinLocal(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roomClients[roomID] == nil {
		h.roomClients[roomID] = make(map[string]*Client)
	}
	h.roomClients[roomID][client.id] = client
}

// leaveLocal 从房间的本地视图里移除连接
func (h *Hub) leaveLocal(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.roomClients[roomID]; ok {
		delete(conns, client.id)
		if len(conns) == 0 {
			delete(h.roomClients, roomID)
		}
	}
}

// unregister 连接断开时的清理
func (h *Hub) unregister(client *Client) {
	userID := client.identity()
	joinedRooms := client.joinedRooms()

	h.mu.Lock()
	delete(h.clients, client.id)
	lastOfUser := false
	if userID != "" {
		if conns, ok := h.userClients[userID]; ok {
			delete(conns, client.id)
			if len(conns) == 0 {
				delete(h.userClients, userID)
				lastOfUser = true
			}
		}
	}
	for _, roomID := range joinedRooms {
		if conns, ok := h.roomClients[roomID]; ok {
			delete(conns, client.id)
			if len(conns) == 0 {
				delete(h.roomClients, roomID)
			}
		}
	}
	h.mu.Unlock()

	ctx := context.Background()
	if userID != "" {
		// typing标记即刻清掉，不等TTL
		for _, roomID := range joinedRooms {
			if err := h.roomState.ClearTyping(ctx, roomID, userID); err != nil {
				h.logger.Warn(ctx, "Clear typing on disconnect failed",
					logger.F("roomID", roomID), logger.F("error", err.Error()))
			}
		}
		if lastOfUser {
			// 只清socket在线表，心跳记录由窗口自行判定
			if err := h.roomState.MarkSocketOffline(ctx, userID); err != nil {
				h.logger.Warn(ctx, "Mark socket offline failed",
					logger.F("userID", userID), logger.F("error", err.Error()))
			}
		}
	}

	h.logger.Info(ctx, "WebSocket connection closed",
		logger.F("connID", client.id), logger.F("userID", userID))
}

// Stats 连接统计
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.userClients))
	for userID := range h.userClients {
		users = append(users, userID)
	}

	return map[string]interface{}{
		"connections":         len(h.clients),
		"authenticated_users": users,
		"active_rooms":        len(h.roomClients),
	}
}

// OnlineStatus 查询用户是否有活跃socket连接，跨进程以online_users表为准
func (h *Hub) OnlineStatus(ctx context.Context, userIDs []string) (map[string]bool, error) {
	status := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		online, err := h.roomState.IsSocketOnline(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("online status %s: %w", id, err)
		}
		status[id] = online
	}
	return status, nil
}
