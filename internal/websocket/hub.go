package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/bias-game/internal/config"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/logger"
	"github.com/wfunc/bias-game/internal/models"
	"github.com/wfunc/bias-game/internal/service"
	"github.com/wfunc/bias-game/internal/store"
	"go.uber.org/zap"
)

// RoomSource 构造推送给每位玩家的房间视图
type RoomSource interface {
	GetRoom(ctx context.Context, id game.Identity) (*service.RoomState, error)
	ViewFor(room *models.Room, playerID string) (*service.RoomState, bool)
}

// Subscriber 房间变更订阅
type Subscriber interface {
	Subscribe(roomID string, fn store.Listener) (unsubscribe func())
}

// Options 连接参数
type Options struct {
	ReadBufferSize    int
	WriteBufferSize   int
	SendBufferSize    int
	MaxMessageSize    int64
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	EnableCompression bool
	// 每个连接的入站消息限速
	MessagesPerSecond float64
	Burst             int
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		SendBufferSize:    64,
		MaxMessageSize:    8192,
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		EnableCompression: true,
		MessagesPerSecond: 5,
		Burst:             10,
	}
}

// OptionsFromConfig 从配置构造连接参数，未设置的项使用默认值
func OptionsFromConfig(cfg *config.WebSocketConfig) Options {
	opts := DefaultOptions()
	if cfg == nil {
		return opts
	}
	if cfg.ReadBufferSize > 0 {
		opts.ReadBufferSize = cfg.ReadBufferSize
	}
	if cfg.WriteBufferSize > 0 {
		opts.WriteBufferSize = cfg.WriteBufferSize
	}
	if cfg.SendBufferSize > 0 {
		opts.SendBufferSize = cfg.SendBufferSize
	}
	if cfg.MaxMessageSize > 0 {
		opts.MaxMessageSize = cfg.MaxMessageSize
	}
	if cfg.PingInterval > 0 {
		opts.PingInterval = cfg.PingInterval
	}
	if cfg.PongTimeout > 0 {
		opts.PongTimeout = cfg.PongTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	opts.EnableCompression = cfg.EnableCompression
	return opts
}

// Hub WebSocket连接管理中心。每个房间在有连接时订阅一次存储变更，
// 再按连接的玩家身份分别构造视图推送。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	unsubs  map[string]func()

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	source     RoomSource
	subscriber Subscriber
	opts       Options
	logger     *zap.Logger
}

// NewHub 创建Hub
func NewHub(source RoomSource, subscriber Subscriber, opts Options, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		unsubs:     make(map[string]func()),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		source:     source,
		subscriber: subscriber,
		opts:       opts,
		logger:     log,
	}
}

// Run 运行Hub，ctx 取消时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(ctx, client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// registerClient 注册客户端并推送当前房间状态
func (h *Hub) registerClient(ctx context.Context, client *Client) {
	roomID := client.Identity.RoomID

	h.mu.Lock()
	h.clients[client.ID] = client
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
		h.unsubs[roomID] = h.subscriber.Subscribe(roomID, h.onRoomChange)
	}
	h.rooms[roomID][client.ID] = client
	h.mu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("room_id", roomID),
		zap.String("player_id", client.Identity.PlayerID))

	if msg, err := NewMessage(MessageTypeConnected, roomID, map[string]string{"clientId": client.ID}); err == nil {
		h.SendToClient(client.ID, msg)
	}
	h.resync(ctx, client)
}

// unregisterClient 注销客户端，房间最后一个连接断开时取消订阅
func (h *Hub) unregisterClient(client *Client) {
	roomID := client.Identity.RoomID

	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	close(client.send)
	if members := h.rooms[roomID]; members != nil {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
			if unsub := h.unsubs[roomID]; unsub != nil {
				unsub()
			}
			delete(h.unsubs, roomID)
		}
	}
	h.mu.Unlock()

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.String("room_id", roomID))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	for roomID, unsub := range h.unsubs {
		unsub()
		delete(h.unsubs, roomID)
	}
	h.rooms = make(map[string]map[string]*Client)
}

// onRoomChange 存储变更回调，在房间锁内调用，只做非阻塞发送
func (h *Hub) onRoomChange(roomID string, room *models.Room) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.rooms[roomID] {
		msg, err := h.roomMessage(roomID, room, c.Identity.PlayerID)
		if err != nil {
			h.logger.Error("构造房间消息失败", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		h.trySend(c, msg)
	}
}

// roomMessage 房间被删除时为 room_deleted，玩家已离开时为 removed，否则为该玩家的视图
func (h *Hub) roomMessage(roomID string, room *models.Room, playerID string) (*Message, error) {
	if room == nil {
		return NewMessage(MessageTypeRoomDeleted, roomID, nil)
	}
	state, ok := h.source.ViewFor(room, playerID)
	if !ok {
		return NewMessage(MessageTypeRemoved, roomID, nil)
	}
	return NewMessage(MessageTypeRoomUpdate, roomID, state)
}

// resync 重新读取房间并推送完整视图
func (h *Hub) resync(ctx context.Context, client *Client) {
	roomID := client.Identity.RoomID
	state, err := h.source.GetRoom(ctx, client.Identity)

	var msg *Message
	switch {
	case err == nil:
		msg, err = NewMessage(MessageTypeRoomUpdate, roomID, state)
	case apperrors.Is(err, apperrors.ErrRoomNotFound):
		msg, err = NewMessage(MessageTypeRoomDeleted, roomID, nil)
	case apperrors.Is(err, apperrors.ErrSessionInvalid):
		msg, err = NewMessage(MessageTypeRemoved, roomID, nil)
	default:
		h.logger.Error("读取房间失败", zap.String("room_id", roomID), zap.Error(err))
		msg, err = errorMessage(roomID, err)
	}
	if err != nil {
		h.logger.Error("构造房间消息失败", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	h.SendToClient(client.ID, msg)
}

// trySend 非阻塞发送，调用方持有 h.mu 读锁
func (h *Hub) trySend(c *Client, msg *Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return false
	}
	select {
	case c.send <- data:
		logger.LogWebSocketMessage("send", msg.Type, msg.RoomID)
		return true
	default:
		h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", c.ID))
		return false
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, msg *Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	if !h.trySend(c, msg) {
		return ErrSendBufferFull
	}
	return nil
}

// SendToRoom 发送同一条消息给房间内所有连接
func (h *Hub) SendToRoom(roomID string, msg *Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[roomID]
	if len(members) == 0 {
		return ErrRoomNotConnected
	}
	for _, c := range members {
		h.trySend(c, msg)
	}
	return nil
}

// GetOnlineCount 在线连接数
func (h *Hub) GetOnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomClientCount 房间内连接数
func (h *Hub) RoomClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
