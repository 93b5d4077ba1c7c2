package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"dinguscord/apps/connect-service/model"
	"dinguscord/pkg/auth"
	"dinguscord/pkg/cache"
	"dinguscord/pkg/eventbus"
	"dinguscord/pkg/logger"
	"dinguscord/pkg/pubsub"
)

// handleFrame 入站事件分发
func (h *Hub) handleFrame(c *Client, frame model.Frame) {
	ctx := context.Background()

	switch frame.Event {
	case model.EventAuthenticate:
		h.handleAuthenticate(ctx, c, frame)
	case model.EventJoinRoom:
		h.handleJoinRoom(ctx, c, frame)
	case model.EventLeaveRoom:
		h.handleLeaveRoom(ctx, c, frame)
	case model.EventSendMessage:
		h.handleSendMessage(ctx, c, frame)
	case model.EventTyping:
		h.handleTyping(ctx, c, frame)
	case model.EventMarkRead:
		h.handleMarkRead(ctx, c, frame)
	case model.EventDeleteMessage:
		h.handleDeleteMessage(ctx, c, frame)
	case model.EventGetTypingUsers:
		h.handleGetTypingUsers(ctx, c, frame)
	case model.EventGetDirectHistory:
		h.handleDirectHistory(ctx, c, frame)
	default:
		c.sendError(frame.AckID, model.ErrValidation, fmt.Sprintf("unknown event %q", frame.Event))
	}
}

// requireAuth 认证前置检查，未认证连接只允许authenticate
func (h *Hub) requireAuth(c *Client, ackID string) bool {
	if !c.isAuthenticated() {
		c.sendError(ackID, model.ErrNotAuthenticated, "")
		return false
	}
	return true
}

// handleAuthenticate 凭证认证，连接身份只来自校验通过的凭证
func (h *Hub) handleAuthenticate(ctx context.Context, c *Client, frame model.Frame) {
	var p model.AuthenticatePayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.Token == "" {
		c.sendError(frame.AckID, model.ErrValidation, "token required")
		return
	}

	claims, err := auth.ValidateJWT(p.Token, h.jwtSecret)
	if err != nil {
		h.logger.Warn(ctx, "Authentication failed",
			logger.F("connID", c.id), logger.F("error", err.Error()))
		c.sendError(frame.AckID, model.ErrAuthInvalid, "")
		return
	}

	c.bind(claims.UserID, claims.Username)
	h.bindIdentity(c, claims.UserID, claims.Username)

	if err := h.roomState.MarkSocketOnline(ctx, claims.UserID, c.id); err != nil {
		h.logger.Warn(ctx, "Mark socket online failed",
			logger.F("userID", claims.UserID), logger.F("error", err.Error()))
	}
	// 顺手刷一次心跳，客户端的定时心跳随后接上
	if err := h.presence.Heartbeat(ctx, claims.UserID); err != nil {
		h.logger.Warn(ctx, "Presence refresh on authenticate failed",
			logger.F("userID", claims.UserID), logger.F("error", err.Error()))
	}

	h.logger.Info(ctx, "Connection authenticated",
		logger.F("connID", c.id), logger.F("userID", claims.UserID))

	c.sendAck(model.EventAuthenticated, frame.AckID, map[string]interface{}{
		"user_id":  claims.UserID,
		"username": claims.Username,
	})
}

// handleJoinRoom 加入房间并返回最近历史
func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, frame model.Frame) {
	if !h.requireAuth(c, frame.AckID) {
		return
	}

	var p model.JoinRoomPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" {
		c.sendError(frame.AckID, model.ErrValidation, "room_id required")
		return
	}
	userID := c.identity()

	if err := h.rooms.EnsureRoom(ctx, p.RoomID, ""); err != nil {
		h.logger.Error(ctx, "Ensure room failed",
			logger.F("roomID", p.RoomID), logger.F("error", err.Error()))
		c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		return
	}
	if err := h.rooms.UpsertMember(ctx, p.RoomID, userID); err != nil {
		h.logger.Error(ctx, "Upsert member failed",
			logger.F("roomID", p.RoomID), logger.F("error", err.Error()))
		c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		return
	}

	if err := h.roomState.JoinRoom(ctx, p.RoomID, userID); err != nil {
		c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		return
	}

	c.trackRoom(p.RoomID)
	h.joinLocal(c, p.RoomID)

	history := h.recentHistory(ctx, p.RoomID)
	unread, err := h.roomState.GetUnread(ctx, userID, p.RoomID)
	if err != nil {
		h.logger.Warn(ctx, "Unread lookup failed",
			logger.F("roomID", p.RoomID), logger.F("error", err.Error()))
	}

	c.sendAck(model.EventRoomJoined, frame.AckID, map[string]interface{}{
		"room_id":  p.RoomID,
		"messages": history,
		"unread":   unread,
	})

	h.broadcast(ctx, pubsub.RoomChannel(p.RoomID), model.EventUserJoined, map[string]interface{}{
		"room_id":  p.RoomID,
		"user_id":  userID,
		"username": c.displayName(),
	})
}

// handleLeaveRoom 离开房间
func (h *Hub) handleLeaveRoom(ctx context.Context, c *Client, frame model.Frame) {
	if !h.requireAuth(c, frame.AckID) {
		return
	}

	var p model.LeaveRoomPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" {
		c.sendError(frame.AckID, model.ErrValidation, "room_id required")
		return
	}
	userID := c.identity()

	// 先广播再摘除本地视图，离开者自己也能收到user_left
	h.broadcast(ctx, pubsub.RoomChannel(p.RoomID), model.EventUserLeft, map[string]interface{}{
		"room_id":  p.RoomID,
		"user_id":  userID,
		"username": c.displayName(),
	})

	if err := h.roomState.LeaveRoom(ctx, p.RoomID, userID); err != nil {
		c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		return
	}
	if err := h.rooms.RemoveMember(ctx, p.RoomID, userID); err != nil {
		h.logger.Warn(ctx, "Remove durable member failed",
			logger.F("roomID", p.RoomID), logger.F("error", err.Error()))
	}
	if err := h.roomState.ClearTyping(ctx, p.RoomID, userID); err != nil {
		h.logger.Warn(ctx, "Clear typing on leave failed",
			logger.F("roomID", p.RoomID), logger.F("error", err.Error()))
	}

	c.untrackRoom(p.RoomID)
	h.leaveLocal(c, p.RoomID)

	c.sendAck(model.EventRoomLeft, frame.AckID, map[string]interface{}{
		"room_id": p.RoomID,
	})
}

// handleSendMessage 发送消息：落库、进缓存、记未读、发总线、广播
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, frame model.Frame) {
	if !h.requireAuth(c, frame.AckID) {
		return
	}

	var p model.SendMessagePayload
	if err := json.Unmarshal(frame.Data, &p); err != nil {
		c.sendError(frame.AckID, model.ErrValidation, "malformed payload")
		return
	}
	// 房间消息和私聊消息必须恰好指定一个目标
	if (p.RoomID == "") == (p.ReceiverID == "") {
		c.sendError(frame.AckID, model.ErrValidation, "exactly one of room_id and receiver_id required")
		return
	}
	if p.Content == "" {
		c.sendError(frame.AckID, model.ErrValidation, "content required")
		return
	}
	if p.Type == "" {
		p.Type = model.MessageTypeText
	}

	senderID := c.identity()
	now := time.Now().UTC()
	msg := &model.Message{
		ID:         fmt.Sprintf("%d", h.ids.Generate()),
		SenderID:   senderID,
		RoomID:     p.RoomID,
		ReceiverID: p.ReceiverID,
		Content:    p.Content,
		Type:       p.Type,
		CreatedAt:  now,
	}

	if err := h.messages.Create(ctx, msg); err != nil {
		h.logger.Error(ctx, "Message persist failed",
			logger.F("messageID", msg.ID), logger.F("error", err.Error()))
		c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		return
	}

	doc, _ := json.Marshal(msg)

	if msg.RoomID != "" {
		h.afterRoomMessage(ctx, msg, doc)
	} else {
		h.afterDirectMessage(ctx, msg, doc)
	}

	c.sendAck(model.EventMessageSent, frame.AckID, map[string]interface{}{
		"message": msg,
	})
}

// afterRoomMessage 房间消息持久化成功后的扩散
func (h *Hub) afterRoomMessage(ctx context.Context, msg *model.Message, doc []byte) {
	if err := h.cache.Put(ctx, msg.RoomID, cache.Entry{
		ID:    msg.ID,
		Score: msg.CreatedAt.UnixMilli(),
		Doc:   doc,
	}); err != nil {
		h.logger.Warn(ctx, "Message cache write failed",
			logger.F("messageID", msg.ID), logger.F("error", err.Error()))
	}

	// 未读按持久成员记，不在线的成员回来也能看到计数
	members, err := h.rooms.ListMemberIDs(ctx, msg.RoomID)
	if err != nil {
		h.logger.Warn(ctx, "Durable members lookup failed, falling back to live set",
			logger.F("roomID", msg.RoomID), logger.F("error", err.Error()))
		if members, err = h.roomState.Members(ctx, msg.RoomID); err != nil {
			h.logger.Warn(ctx, "Live members lookup failed",
				logger.F("roomID", msg.RoomID), logger.F("error", err.Error()))
		}
	}
	for _, member := range members {
		if member == msg.SenderID {
			continue
		}
		if _, err := h.roomState.IncrUnread(ctx, member, msg.RoomID); err != nil {
			h.logger.Warn(ctx, "Unread increment failed",
				logger.F("userID", member), logger.F("error", err.Error()))
		}
	}

	if err := h.bus.PublishMessageEvent(ctx, eventbus.Envelope{
		Type:    eventbus.EventRoomMessageSent,
		Message: doc,
		UserID:  msg.SenderID,
		RoomID:  msg.RoomID,
	}); err != nil {
		h.logger.Error(ctx, "Message event publish failed",
			logger.F("messageID", msg.ID), logger.F("error", err.Error()))
	}
	if err := h.bus.PublishNotificationEvent(ctx, eventbus.Envelope{
		Type:    eventbus.EventNotificationNew,
		Message: doc,
		UserID:  msg.SenderID,
		RoomID:  msg.RoomID,
	}); err != nil {
		h.logger.Error(ctx, "Notification event publish failed",
			logger.F("messageID", msg.ID), logger.F("error", err.Error()))
	}

	h.broadcast(ctx, pubsub.RoomChannel(msg.RoomID), model.EventNewMessage, msg)
}

// afterDirectMessage 私聊消息持久化成功后的扩散
func (h *Hub) afterDirectMessage(ctx context.Context, msg *model.Message, doc []byte) {
	// 私聊未读挂在虚拟会话键下
	if _, err := h.roomState.IncrUnread(ctx, msg.ReceiverID, "direct:"+msg.SenderID); err != nil {
		h.logger.Warn(ctx, "Direct unread increment failed",
			logger.F("userID", msg.ReceiverID), logger.F("error", err.Error()))
	}

	// 接收方有活跃socket就先标记已投递
	if online, err := h.roomState.IsSocketOnline(ctx, msg.ReceiverID); err == nil && online {
		if err := h.messages.MarkDelivered(ctx, []string{msg.ID}); err != nil {
			h.logger.Warn(ctx, "Mark delivered failed",
				logger.F("messageID", msg.ID), logger.F("error", err.Error()))
		}
	}

	if err := h.bus.PublishMessageEvent(ctx, eventbus.Envelope{
		Type:       eventbus.EventDirectMessageSent,
		Message:    doc,
		UserID:     msg.SenderID,
		ReceiverID: msg.ReceiverID,
	}); err != nil {
		h.logger.Error(ctx, "Message event publish failed",
			logger.F("messageID", msg.ID), logger.F("error", err.Error()))
	}
	if err := h.bus.PublishNotificationEvent(ctx, eventbus.Envelope{
		Type:       eventbus.EventNotificationNew,
		Message:    doc,
		UserID:     msg.SenderID,
		ReceiverID: msg.ReceiverID,
	}); err != nil {
		h.logger.Error(ctx, "Notification event publish failed",
			logger.F("messageID", msg.ID), logger.F("error", err.Error()))
	}

	// 双方的user频道各广播一次，发送方的其他设备也同步
	h.broadcast(ctx, pubsub.UserChannel(msg.ReceiverID), model.EventNewMessage, msg)
	h.broadcast(ctx, pubsub.UserChannel(msg.SenderID), model.EventNewMessage, msg)
}

// handleTyping 输入状态，不回ack
func (h *Hub) handleTyping(ctx context.Context, c *Client, frame model.Frame) {
	if !c.isAuthenticated() {
		return
	}

	var p model.TypingPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" {
		return
	}
	// 没加入的房间不接受typing
	if !c.inRoom(p.RoomID) {
		return
	}
	userID := c.identity()

	if p.IsTyping {
		if err := h.roomState.SetTyping(ctx, p.RoomID, userID, h.cfg.TypingTTL); err != nil {
			h.logger.Warn(ctx, "Set typing failed",
				logger.F("roomID", p.RoomID), logger.F("error", err.Error()))
			return
		}
	} else {
		if err := h.roomState.ClearTyping(ctx, p.RoomID, userID); err != nil {
			h.logger.Warn(ctx, "Clear typing failed",
				logger.F("roomID", p.RoomID), logger.F("error", err.Error()))
			return
		}
	}

	h.broadcast(ctx, pubsub.RoomChannel(p.RoomID), model.EventUserTyping, map[string]interface{}{
		"room_id":   p.RoomID,
		"user_id":   userID,
		"username":  c.displayName(),
		"is_typing": p.IsTyping,
	})
}

// handleGetTypingUsers 查询房间内正在输入的用户
func (h *Hub) handleGetTypingUsers(ctx context.Context, c *Client, frame model.Frame) {
	if !h.requireAuth(c, frame.AckID) {
		return
	}

	var p model.GetTypingUsersPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.RoomID == "" {
		c.sendError(frame.AckID, model.ErrValidation, "room_id required")
		return
	}

	users, err := h.roomState.TypingUsers(ctx, p.RoomID)
	if err != nil {
		c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		return
	}

	c.sendAck(model.EventTypingUsers, frame.AckID, map[string]interface{}{
		"room_id":  p.RoomID,
		"user_ids": users,
	})
}

// handleDirectHistory 私聊最近历史，私聊不走房间缓存，直接查库
func (h *Hub) handleDirectHistory(ctx context.Context, c *Client, frame model.Frame) {
	if !h.requireAuth(c, frame.AckID) {
		return
	}

	var p model.DirectHistoryPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.UserID == "" {
		c.sendError(frame.AckID, model.ErrValidation, "user_id required")
		return
	}

	limit := int64(p.Limit)
	if limit <= 0 || limit > int64(h.cfg.RecentLimit) {
		limit = int64(h.cfg.RecentLimit)
	}

	msgs, err := h.messages.ListDirectRecent(ctx, c.identity(), p.UserID, limit)
	if err != nil {
		h.logger.Error(ctx, "Direct history lookup failed",
			logger.F("userID", p.UserID), logger.F("error", err.Error()))
		c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}

	c.sendAck(model.EventDirectHistory, frame.AckID, map[string]interface{}{
		"user_id":  p.UserID,
		"messages": msgs,
	})
}

// handleMarkRead 标记已读并清零未读计数，重复调用是幂等的
func (h *Hub) handleMarkRead(ctx context.Context, c *Client, frame model.Frame) {
	if !h.requireAuth(c, frame.AckID) {
		return
	}

	var p model.MarkReadPayload
	if err := json.Unmarshal(frame.Data, &p); err != nil {
		c.sendError(frame.AckID, model.ErrValidation, "malformed payload")
		return
	}
	// 会话范围可不传，但传了只能传一个
	if p.RoomID != "" && p.SenderID != "" {
		c.sendError(frame.AckID, model.ErrValidation, "at most one of room_id and sender_id allowed")
		return
	}
	if p.RoomID == "" && p.SenderID == "" && len(p.MessageIDs) == 0 {
		c.sendError(frame.AckID, model.ErrValidation, "message_ids required")
		return
	}
	userID := c.identity()

	count, err := h.messages.MarkRead(ctx, userID, p.MessageIDs)
	if err != nil {
		h.logger.Error(ctx, "Mark read failed",
			logger.F("userID", userID), logger.F("error", err.Error()))
		c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		return
	}

	// 未读计数只在范围已知时清零
	conversation := p.RoomID
	if conversation == "" && p.SenderID != "" {
		conversation = "direct:" + p.SenderID
	}
	if conversation != "" {
		if err := h.roomState.ClearUnread(ctx, userID, conversation); err != nil {
			h.logger.Warn(ctx, "Unread reset failed",
				logger.F("userID", userID), logger.F("error", err.Error()))
		}
	}

	if err := h.bus.PublishMessageEvent(ctx, eventbus.Envelope{
		Type:       eventbus.EventMessageRead,
		MessageIDs: p.MessageIDs,
		UserID:     userID,
		RoomID:     p.RoomID,
		ReceiverID: p.SenderID,
	}); err != nil {
		h.logger.Error(ctx, "Read event publish failed",
			logger.F("userID", userID), logger.F("error", err.Error()))
	}

	// 范围未知就只落库不广播
	readPayload := map[string]interface{}{
		"reader_id":   userID,
		"message_ids": p.MessageIDs,
	}
	if p.RoomID != "" {
		readPayload["room_id"] = p.RoomID
		h.broadcast(ctx, pubsub.RoomChannel(p.RoomID), model.EventMessagesRead, readPayload)
	} else if p.SenderID != "" {
		readPayload["sender_id"] = p.SenderID
		h.broadcast(ctx, pubsub.UserChannel(p.SenderID), model.EventMessagesRead, readPayload)
	}

	c.sendAck(model.EventMarkedRead, frame.AckID, map[string]interface{}{
		"marked":      count,
		"message_ids": p.MessageIDs,
	})
}

// handleDeleteMessage 删除消息，只允许发送者本人
func (h *Hub) handleDeleteMessage(ctx context.Context, c *Client, frame model.Frame) {
	if !h.requireAuth(c, frame.AckID) {
		return
	}

	var p model.DeleteMessagePayload
	if err := json.Unmarshal(frame.Data, &p); err != nil || p.MessageID == "" {
		c.sendError(frame.AckID, model.ErrValidation, "message_id required")
		return
	}
	userID := c.identity()

	msg, err := h.messages.GetByID(ctx, p.MessageID)
	if err != nil {
		if err == model.ErrNotFound {
			c.sendError(frame.AckID, model.ErrNotFound, "")
		} else {
			c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		}
		return
	}
	if msg.SenderID != userID {
		c.sendError(frame.AckID, model.ErrForbidden, "")
		return
	}

	if err := h.messages.Delete(ctx, p.MessageID); err != nil && err != model.ErrNotFound {
		c.sendError(frame.AckID, model.ErrUpstreamUnavailable, "")
		return
	}

	if msg.RoomID != "" {
		if err := h.cache.Remove(ctx, msg.RoomID, msg.ID); err != nil {
			h.logger.Warn(ctx, "Cache evict failed",
				logger.F("messageID", msg.ID), logger.F("error", err.Error()))
		}
	}

	if err := h.bus.PublishMessageEvent(ctx, eventbus.Envelope{
		Type:       eventbus.EventMessageDeleted,
		MessageIDs: []string{msg.ID},
		UserID:     userID,
		RoomID:     msg.RoomID,
		ReceiverID: msg.ReceiverID,
	}); err != nil {
		h.logger.Error(ctx, "Delete event publish failed",
			logger.F("messageID", msg.ID), logger.F("error", err.Error()))
	}

	deletePayload := map[string]interface{}{
		"message_id": msg.ID,
		"sender_id":  msg.SenderID,
	}
	if msg.RoomID != "" {
		deletePayload["room_id"] = msg.RoomID
		h.broadcast(ctx, pubsub.RoomChannel(msg.RoomID), model.EventMessageDeleted, deletePayload)
	} else {
		deletePayload["receiver_id"] = msg.ReceiverID
		h.broadcast(ctx, pubsub.UserChannel(msg.ReceiverID), model.EventMessageDeleted, deletePayload)
		h.broadcast(ctx, pubsub.UserChannel(msg.SenderID), model.EventMessageDeleted, deletePayload)
	}

	c.sendAck(model.EventMessageDeleteAck, frame.AckID, map[string]interface{}{
		"message_id": msg.ID,
	})
}

// recentHistory 最近历史：缓存优先，短页回源补齐并重灌缓存
func (h *Hub) recentHistory(ctx context.Context, roomID string) []*model.Message {
	limit := int64(h.cfg.RecentLimit)

	var cached []*model.Message
	cachedIDs := make(map[string]struct{})
	entries, err := h.cache.GetRecent(ctx, roomID, limit)
	if err != nil {
		h.logger.Warn(ctx, "Cache read failed, falling back to store",
			logger.F("roomID", roomID), logger.F("error", err.Error()))
	}
	for _, e := range entries {
		var msg model.Message
		if err := json.Unmarshal(e.Doc, &msg); err != nil {
			continue
		}
		cached = append(cached, &msg)
		cachedIDs[msg.ID] = struct{}{}
	}

	if int64(len(cached)) >= limit {
		return cached
	}

	stored, err := h.messages.ListRoomRecent(ctx, roomID, limit)
	if err != nil {
		h.logger.Warn(ctx, "History fallback failed, serving cache only",
			logger.F("roomID", roomID), logger.F("error", err.Error()))
		if cached == nil {
			cached = []*model.Message{}
		}
		return cached
	}

	merged := cached
	for _, msg := range stored {
		if _, ok := cachedIDs[msg.ID]; ok {
			continue
		}
		merged = append(merged, msg)

		doc, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := h.cache.Put(ctx, roomID, cache.Entry{
			ID:    msg.ID,
			Score: msg.CreatedAt.UnixMilli(),
			Doc:   doc,
		}); err != nil {
			h.logger.Warn(ctx, "Cache repopulate failed",
				logger.F("messageID", msg.ID), logger.F("error", err.Error()))
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})
	if int64(len(merged)) > limit {
		merged = merged[int64(len(merged))-limit:]
	}
	if merged == nil {
		merged = []*model.Message{}
	}
	return merged
}
