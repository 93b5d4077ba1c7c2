package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dinguscord/apps/connect-service/model"
	"dinguscord/pkg/logger"
)

const maxFrameSize = 64 * 1024

// Client 单个WebSocket连接
// 一个读goroutine解析帧，一个写goroutine排空发送队列
// 发送队列满说明消费端跟不上，直接断开而不是阻塞枢纽
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
	authTimer *time.Timer

	mu            sync.RWMutex
	userID        string
	username      string
	authenticated bool
	rooms         map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		closed: make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// run 驱动连接的读写循环，读循环退出即连接结束
func (c *Client) run() {
	// 认证窗口内没有完成authenticate就关闭连接
	c.authTimer = time.AfterFunc(c.hub.cfg.AuthTimeout, func() {
		if !c.isAuthenticated() {
			c.hub.logger.Warn(context.Background(), "Connection auth timeout",
				logger.F("connID", c.id))
			c.close()
		}
	})

	go c.writeLoop()
	c.readLoop()

	c.authTimer.Stop()
	c.close()
	c.hub.unregister(c)
}

func (c *Client) readLoop() {
	c.conn.SetReadLimit(maxFrameSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError(frame.AckID, model.ErrValidation, "malformed frame")
			continue
		}

		// 每个操作独立goroutine执行，慢操作不阻塞读循环
		go c.hub.handleFrame(c, frame)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

// enqueue 投递一帧到发送队列，队列满则断开慢消费者
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.closed:
	case c.send <- data:
	default:
		c.hub.logger.Warn(context.Background(), "Send buffer full, dropping connection",
			logger.F("connID", c.id), logger.F("userID", c.identity()))
		c.close()
	}
}

// sendFrame 给本连接回一帧
func (c *Client) sendFrame(event, ackID string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.hub.logger.Error(context.Background(), "Frame marshal failed",
			logger.F("event", event), logger.F("error", err.Error()))
		return
	}
	frame, err := json.Marshal(model.Frame{Event: event, AckID: ackID, Data: raw})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// sendAck 操作成功确认，extra并入ack载荷
func (c *Client) sendAck(event, ackID string, extra map[string]interface{}) {
	payload := map[string]interface{}{"success": true}
	for k, v := range extra {
		payload[k] = v
	}
	c.sendFrame(event, ackID, payload)
}

// sendError 操作失败确认
func (c *Client) sendError(ackID string, err error, detail string) {
	if detail == "" {
		detail = err.Error()
	}
	c.sendFrame(model.EventError, ackID, model.Ack{
		Success: false,
		Error:   detail,
		Code:    model.ErrorCode(err),
	})
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// bind 绑定认证身份，身份只来自校验过的凭证
func (c *Client) bind(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
	c.authenticated = true
}

func (c *Client) isAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// identity 连接绑定的用户ID，未认证时为空
func (c *Client) identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) displayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) trackRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *Client) untrackRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

func (c *Client) inRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Client) joinedRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}
