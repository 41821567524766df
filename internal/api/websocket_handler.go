package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/bias-game/internal/middleware"
	ws "github.com/wfunc/bias-game/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub    *ws.Hub
	logger *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger}
}

// RoomWebSocket 房间推送连接，令牌通过 ?token= 或 Authorization 传入
func (h *WebSocketHandler) RoomWebSocket(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	upgrader := h.hub.Upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.String("player_id", id.PlayerID),
			zap.Error(err))
		return
	}

	client := h.hub.Serve(conn, id)
	h.logger.Info("WebSocket连接建立",
		zap.String("client_id", client.ID),
		zap.String("room_id", id.RoomID),
		zap.String("player_id", id.PlayerID),
		zap.String("request_id", middleware.GetRequestID(c)))
}

// OnlineCount 在线连接数
func (h *WebSocketHandler) OnlineCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_count": h.hub.GetOnlineCount(),
	})
}
