package websocket

import (
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/wfunc/bias-game/internal/errors"
)

// 错误定义
var (
	ErrClientNotFound   = errors.New("客户端未找到")
	ErrRoomNotConnected = errors.New("房间没有在线连接")
	ErrSendBufferFull   = errors.New("发送缓冲区已满")
)

// 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 房间消息
	MessageTypeRoomUpdate  = "room_update"
	MessageTypeRoomDeleted = "room_deleted"
	MessageTypeRemoved     = "removed"
	MessageTypeResync      = "resync"
)

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage 创建消息，data 为 nil 时不带数据
func NewMessage(msgType, roomID string, data any) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// ErrorData 错误消息数据
type ErrorData struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details string              `json:"details,omitempty"`
}

func errorMessage(roomID string, err error) (*Message, error) {
	appErr := apperrors.As(err)
	return NewMessage(MessageTypeError, roomID, ErrorData{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}
