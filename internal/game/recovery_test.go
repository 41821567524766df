package game

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
	"go.uber.org/zap"
)

type mapRoomReader map[string]*models.Room

func (m mapRoomReader) GetRoom(_ context.Context, id string) (*models.Room, error) {
	room, ok := m[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrRoomNotFound, id)
	}
	return room.Clone(), nil
}

type failingReader struct{}

func (failingReader) GetRoom(context.Context, string) (*models.Room, error) {
	return nil, apperrors.New(apperrors.ErrDatabaseQuery, "boom")
}

func TestRecoveryManager_RecoverLobby(t *testing.T) {
	room := newLobby(t, 3, RoomOptions{})
	rm := NewRecoveryManager(zap.NewNop(), mapRoomReader{room.ID: room}, DefaultRules())

	rec, err := rm.RecoverSession(context.Background(), Identity{PlayerID: "p2", PlayerName: "Player2", RoomID: room.ID})
	require.NoError(t, err)
	assert.Equal(t, room.ID, rec.Room.ID)
	assert.Equal(t, ScreenLobby, rec.View.Screen)
	assert.False(t, rec.View.IsHost)
	assert.False(t, rec.View.CanStart)
}

func TestRecoveryManager_RecoverPlaying(t *testing.T) {
	e, room, deck := startedGame(t, 3, RoomOptions{})
	playGuess(t, e, room, deck, "p2", models.AnswerSi)
	rm := NewRecoveryManager(nil, mapRoomReader{room.ID: room}, DefaultRules())

	rec, err := rm.RecoverSession(context.Background(), Identity{PlayerID: "p2", RoomID: room.ID})
	require.NoError(t, err)
	assert.Equal(t, ScreenGame, rec.View.Screen)
	assert.True(t, rec.View.IsTarget)
	assert.True(t, rec.View.CanAnswer)
	assert.Len(t, rec.View.MyCards, 6)

	assert.Empty(t, rec.Issue)

	// 恢复只读，不推进任何状态
	assert.Equal(t, models.TurnWaitingAnswer, room.CurrentTurn.Status)
}

func TestRecoveryManager_ReportsInconsistentRoom(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.Room)
		issue  string
	}{
		{"没有当前回合", func(r *models.Room) { r.CurrentTurn = nil }, "游戏进行中但没有当前回合"},
		{"提问者不在房间", func(r *models.Room) { r.CurrentTurn.ActivePlayerID = "gone" }, "当前提问者不在房间"},
		{"回答者不在房间", func(r *models.Room) { r.CurrentTurn.TargetPlayerID = "gone" }, "当前回答者不在房间"},
		{"胜者已离开", func(r *models.Room) {
			r.Config.Status = models.StatusEnded
			r.WinnerID = "gone"
		}, "胜者已离开房间"},
		{"未知状态", func(r *models.Room) { r.Config.Status = "paused" }, "未知房间状态"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, room, _ := startedGame(t, 3, RoomOptions{})
			tc.mutate(room)
			rm := NewRecoveryManager(zap.NewNop(), mapRoomReader{room.ID: room}, DefaultRules())

			rec, err := rm.RecoverSession(context.Background(), Identity{PlayerID: "p2", RoomID: room.ID})
			require.NoError(t, err, "状态不一致时仍允许观察")
			assert.Equal(t, tc.issue, rec.Issue)
		})
	}
}

func TestRecoveryManager_InvalidIdentity(t *testing.T) {
	room := newLobby(t, 2, RoomOptions{})
	rm := NewRecoveryManager(zap.NewNop(), mapRoomReader{room.ID: room}, DefaultRules())
	ctx := context.Background()

	cases := []struct {
		name string
		id   Identity
	}{
		{"空身份", Identity{}},
		{"房间已删除", Identity{PlayerID: "p1", RoomID: "ZZZ999"}},
		{"玩家已离开", Identity{PlayerID: "p9", RoomID: room.ID}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rm.RecoverSession(ctx, tc.id)
			assert.True(t, apperrors.Is(err, apperrors.ErrSessionInvalid), err)
		})
	}
}

func TestRecoveryManager_StoreErrorPassesThrough(t *testing.T) {
	rm := NewRecoveryManager(zap.NewNop(), failingReader{}, DefaultRules())
	_, err := rm.RecoverSession(context.Background(), Identity{PlayerID: "p1", RoomID: "ABC123"})
	require.Error(t, err)
	assert.False(t, apperrors.Is(err, apperrors.ErrSessionInvalid))
}
