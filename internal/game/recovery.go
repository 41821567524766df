package game

import (
	"context"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
	"go.uber.org/zap"
)

// Identity 客户端本地记住的身份
type Identity struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	RoomID     string `json:"roomId"`
}

// Empty 身份是否为空
func (i Identity) Empty() bool {
	return i.PlayerID == "" || i.RoomID == ""
}

// RoomReader 恢复只需要读取房间
type RoomReader interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
}

// Recovery 恢复结果：重新订阅的房间和应展示的视图。
// Issue 非空表示房间状态不一致，客户端只能观察，等待下一次状态推送或房主重置。
type Recovery struct {
	Room  *models.Room `json:"room"`
	View  *PlayerView  `json:"view"`
	Issue string       `json:"issue,omitempty"`
}

// RecoveryManager 断线/刷新后的会话恢复。只恢复观察，不重放任何动作。
type RecoveryManager struct {
	logger *zap.Logger
	rooms  RoomReader
	rules  Rules
}

// NewRecoveryManager 创建恢复管理器
func NewRecoveryManager(logger *zap.Logger, rooms RoomReader, rules Rules) *RecoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoveryManager{logger: logger, rooms: rooms, rules: rules}
}

// RecoverSession 校验本地身份。房间不存在或玩家已不在房间时返回 ErrSessionInvalid，
// 调用方应清除本地身份并回到入口界面。
func (rm *RecoveryManager) RecoverSession(ctx context.Context, id Identity) (*Recovery, error) {
	if id.Empty() {
		return nil, apperrors.New(apperrors.ErrSessionInvalid, "本地身份为空")
	}

	room, err := rm.rooms.GetRoom(ctx, id.RoomID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrRoomNotFound) || apperrors.Is(err, apperrors.ErrDocumentNotFound) {
			rm.logger.Info("房间已不存在，丢弃本地身份",
				zap.String("room_id", id.RoomID),
				zap.String("player_id", id.PlayerID))
			return nil, apperrors.New(apperrors.ErrSessionInvalid, "房间已不存在").WithCause(err)
		}
		return nil, err
	}

	view, ok := ViewFor(room, id.PlayerID, rm.rules)
	if !ok {
		rm.logger.Info("玩家已不在房间，丢弃本地身份",
			zap.String("room_id", id.RoomID),
			zap.String("player_id", id.PlayerID))
		return nil, apperrors.New(apperrors.ErrSessionInvalid, "玩家已不在房间")
	}

	issue := inspectRoom(room)
	if issue != "" {
		rm.logger.Warn("房间状态不一致",
			zap.String("room_id", room.ID),
			zap.String("status", string(room.Config.Status)),
			zap.String("issue", issue))
	}

	rm.logger.Info("会话恢复成功",
		zap.String("room_id", room.ID),
		zap.String("player_id", id.PlayerID),
		zap.String("screen", string(view.Screen)))
	return &Recovery{Room: room, View: view, Issue: issue}, nil
}

// inspectRoom 检查恢复到的房间是否处于可继续的状态，返回问题描述
func inspectRoom(room *models.Room) string {
	switch room.Config.Status {
	case models.StatusLobby:
		return ""
	case models.StatusPlaying:
		turn := room.CurrentTurn
		if turn == nil {
			return "游戏进行中但没有当前回合"
		}
		if _, ok := room.Players[turn.ActivePlayerID]; !ok {
			return "当前提问者不在房间"
		}
		if turn.TargetPlayerID != "" {
			if _, ok := room.Players[turn.TargetPlayerID]; !ok {
				return "当前回答者不在房间"
			}
		}
		return ""
	case models.StatusEnded:
		if room.WinnerID != "" {
			if _, ok := room.Players[room.WinnerID]; !ok {
				return "胜者已离开房间"
			}
		}
		return ""
	default:
		return "未知房间状态"
	}
}
