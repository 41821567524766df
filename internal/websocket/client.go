package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client WebSocket客户端，绑定到一个已认证的玩家身份
type Client struct {
	ID       string
	Identity game.Identity

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn, id game.Identity) *Client {
	return &Client{
		ID:       uuid.New().String(),
		Identity: id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.opts.SendBufferSize),
		limiter:  rate.NewLimiter(rate.Limit(hub.opts.MessagesPerSecond), hub.opts.Burst),
	}
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			break
		}
		if !c.handleMessage(message) {
			break
		}
	}
}

// WritePump 写入消息并定时发送ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if !ok {
				// Hub关闭了通道
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理客户端消息，返回 false 时断开连接
func (c *Client) handleMessage(data []byte) bool {
	if !c.limiter.Allow() {
		c.hub.logger.Warn("WebSocket消息频率超限", zap.String("client_id", c.ID))
		c.sendError(apperrors.New(apperrors.ErrRateLimitExceeded))
		return true
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Error("解析WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.Error(err))
		c.sendError(apperrors.New(apperrors.ErrMessageFormat, "消息格式错误"))
		return false
	}
	logger.LogWebSocketMessage("receive", msg.Type, c.Identity.RoomID)

	switch msg.Type {
	case MessageTypePing:
		if pong, err := NewMessage(MessageTypePong, c.Identity.RoomID, nil); err == nil {
			c.hub.SendToClient(c.ID, pong)
		}

	case MessageTypePong:
		c.hub.logger.Debug("收到pong", zap.String("client_id", c.ID))

	case MessageTypeResync:
		c.hub.resync(context.Background(), c)

	default:
		c.hub.logger.Warn("收到不支持的消息类型",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type))
		c.sendError(apperrors.New(apperrors.ErrMessageFormat, "不支持的消息类型: "+msg.Type))
		return false
	}
	return true
}

// sendError 发送错误消息
func (c *Client) sendError(err error) {
	msg, merr := errorMessage(c.Identity.RoomID, err)
	if merr != nil {
		return
	}
	c.hub.SendToClient(c.ID, msg)
}

// Upgrader 按连接参数创建升级器。跨域由 HTTP 层的 CORS 配置负责。
func (h *Hub) Upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:    h.opts.ReadBufferSize,
		WriteBufferSize:   h.opts.WriteBufferSize,
		EnableCompression: h.opts.EnableCompression,
		CheckOrigin:       func(r *http.Request) bool { return true },
	}
}

// Serve 为已升级的连接创建客户端并启动读写协程
func (h *Hub) Serve(conn *websocket.Conn, id game.Identity) *Client {
	client := NewClient(h, conn, id)
	h.Register(client)
	go client.WritePump()
	go client.ReadPump()
	return client
}
