package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/bias-game/internal/catalog"
	"github.com/wfunc/bias-game/internal/config"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/models"
	"github.com/wfunc/bias-game/internal/repository"
	"github.com/wfunc/bias-game/internal/session"
	"github.com/wfunc/bias-game/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// writeCatalog 生成 default(60张) 与 money(10张) 两个分类
func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name string, v any) {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	cards := func(prefix string, n int) []map[string]string {
		out := make([]map[string]string, n)
		for i := range out {
			out[i] = map[string]string{"id": fmt.Sprintf("%s-%d", prefix, i+1), "text": fmt.Sprintf("%s dilemma %d", prefix, i+1)}
		}
		return out
	}
	write("metadata.json", map[string]any{"categories": []map[string]any{
		{"id": "default", "name": "Default", "count": 60},
		{"id": "money", "name": "Denaro", "count": 10},
	}})
	write("default.json", cards("default", 60))
	write("money.json", cards("money", 10))
	return dir
}

// RoomServiceTestSuite 房间服务测试套件
type RoomServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	store   *store.RoomStore
	tokens  *session.TokenManager
	service RoomService
	ctx     context.Context
}

func (s *RoomServiceTestSuite) SetupTest() {
	s.db = repository.SetupTestDB()
	s.ctx = context.Background()
	s.store = store.NewMemoryStore(zap.NewNop())
	s.tokens = session.NewTokenManager(config.SessionConfig{Secret: "test-secret", TTL: time.Hour})

	lib := catalog.NewLibrary(writeCatalog(s.T()), "", []string{"default"}, zap.NewNop())
	s.service = NewRoomService(Dependencies{
		Store:   s.store,
		Library: lib,
		Results: repository.NewGameResultRepository(s.db),
		Tokens:  s.tokens,
	}, DefaultConfig(), zap.NewNop())
}

func (s *RoomServiceTestSuite) TearDownTest() {
	repository.CleanupTestDB(s.db)
}

func identityOf(resp *JoinResponse, name string) game.Identity {
	return game.Identity{PlayerID: resp.PlayerID, PlayerName: name, RoomID: resp.Room.ID}
}

// setupRoom 创建房间并让 n-1 名玩家加入，返回按加入顺序排列的身份
func (s *RoomServiceTestSuite) setupRoom(n int, req *CreateRoomRequest) []game.Identity {
	if req == nil {
		req = &CreateRoomRequest{}
	}
	req.Name = "Host"
	created, err := s.service.CreateRoom(s.ctx, req)
	s.Require().NoError(err)
	ids := []game.Identity{identityOf(created, "Host")}

	for i := 2; i <= n; i++ {
		name := fmt.Sprintf("Guest%d", i)
		joined, err := s.service.JoinRoom(s.ctx, strings.ToLower(created.Room.ID), name)
		s.Require().NoError(err)
		ids = append(ids, identityOf(joined, name))
	}
	return ids
}

func (s *RoomServiceTestSuite) startGame(ids []game.Identity) *RoomState {
	for _, id := range ids {
		_, err := s.service.SetReady(s.ctx, id, true)
		s.Require().NoError(err)
	}
	state, err := s.service.StartGame(s.ctx, ids[0])
	s.Require().NoError(err)
	return state
}

func byPlayer(ids []game.Identity, playerID string) game.Identity {
	for _, id := range ids {
		if id.PlayerID == playerID {
			return id
		}
	}
	return game.Identity{}
}

func other(ids []game.Identity, playerID string) game.Identity {
	for _, id := range ids {
		if id.PlayerID != playerID {
			return id
		}
	}
	return game.Identity{}
}

func (s *RoomServiceTestSuite) TestCreateRoom() {
	resp, err := s.service.CreateRoom(s.ctx, &CreateRoomRequest{Name: "  Alice ", MaxPoints: 5, DubitoMode: true})
	s.Require().NoError(err)

	s.Len(resp.Room.ID, 6)
	s.Equal(5, resp.Room.Config.MaxPoints)
	s.True(resp.Room.Config.IsDubitoMode)
	s.True(resp.View.IsHost)
	s.Equal(game.ScreenLobby, resp.View.Screen)
	s.Equal("Alice", resp.Room.Players[resp.PlayerID].Name)

	claims, err := s.tokens.Parse(resp.Token)
	s.Require().NoError(err)
	s.Equal(resp.PlayerID, claims.PlayerID)
	s.Equal(resp.Room.ID, claims.RoomID)
	s.Equal("Alice", claims.PlayerName)
}

func (s *RoomServiceTestSuite) TestCreateRoom_Validation() {
	cases := []struct {
		name string
		req  *CreateRoomRequest
		code apperrors.ErrorCode
	}{
		{"空名字", &CreateRoomRequest{Name: "  "}, apperrors.ErrValidation},
		{"目标分数超限", &CreateRoomRequest{Name: "A", MaxPoints: 11}, apperrors.ErrValidation},
		{"未知分类", &CreateRoomRequest{Name: "A", Categories: []string{"film"}}, apperrors.ErrValidation},
		{"空请求", nil, apperrors.ErrInvalidParam},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.CreateRoom(s.ctx, tc.req)
			s.True(apperrors.Is(err, tc.code), "err=%v", err)
		})
	}
}

func (s *RoomServiceTestSuite) TestJoinRoom() {
	ids := s.setupRoom(2, nil)

	state, err := s.service.GetRoom(s.ctx, ids[1])
	s.Require().NoError(err)
	s.Len(state.Room.Players, 2)
	s.Equal(1, state.Room.Players[ids[1].PlayerID].JoinOrder)
	s.False(state.View.IsHost)

	_, err = s.service.JoinRoom(s.ctx, "ZZZ999", "Bob")
	s.True(apperrors.Is(err, apperrors.ErrRoomNotFound))

	_, err = s.service.JoinRoom(s.ctx, "bad", "Bob")
	s.True(apperrors.Is(err, apperrors.ErrValidation))
}

func (s *RoomServiceTestSuite) TestJoinRoom_ClosedAndMidGame() {
	ids := s.setupRoom(2, nil)
	s.startGame(ids)

	_, err := s.service.JoinRoom(s.ctx, ids[0].RoomID, "Late")
	s.True(apperrors.Is(err, apperrors.ErrRoomClosed))

	_, err = s.service.SetOpen(s.ctx, ids[0], true)
	s.Require().NoError(err)

	late, err := s.service.JoinRoom(s.ctx, ids[0].RoomID, "Late")
	s.Require().NoError(err)
	s.True(late.MidGame)
	s.Len(late.View.MyCards, 6)
	s.Len(late.Dilemmas, 6)
}

func (s *RoomServiceTestSuite) TestLobbySettings() {
	ids := s.setupRoom(3, nil)
	host := ids[0]

	state, err := s.service.SetGameMode(s.ctx, host, models.ModeSequential)
	s.Require().NoError(err)
	s.Equal(models.ModeSequential, state.Room.Config.GameMode)

	state, err = s.service.SwapPlayerOrder(s.ctx, host, 1)
	s.Require().NoError(err)
	s.Equal([]string{ids[0].PlayerID, ids[2].PlayerID, ids[1].PlayerID}, state.Room.Config.PlayerOrder)

	state, err = s.service.SetMaxPoints(s.ctx, host, 3)
	s.Require().NoError(err)
	s.Equal(3, state.Room.Config.MaxPoints)

	state, err = s.service.SetCategories(s.ctx, host, []string{"money"})
	s.Require().NoError(err)
	s.Equal([]string{"money"}, state.Room.Config.Categories)

	_, err = s.service.SetCategories(s.ctx, host, []string{"../secret"})
	s.True(apperrors.Is(err, apperrors.ErrValidation))

	_, err = s.service.SetDubito(s.ctx, ids[1], true)
	s.True(apperrors.Is(err, apperrors.ErrPreconditionViolation), "只有房主能修改设置")
}

func (s *RoomServiceTestSuite) TestStartGame_Preconditions() {
	ids := s.setupRoom(2, nil)

	_, err := s.service.StartGame(s.ctx, ids[0])
	s.True(apperrors.Is(err, apperrors.ErrPreconditionViolation), "未全部准备")

	for _, id := range ids {
		_, err := s.service.SetReady(s.ctx, id, true)
		s.Require().NoError(err)
	}
	_, err = s.service.StartGame(s.ctx, ids[1])
	s.True(apperrors.Is(err, apperrors.ErrPreconditionViolation), "非房主")

	_, err = s.service.SetDubito(s.ctx, ids[0], true)
	s.Require().NoError(err)
	_, err = s.service.StartGame(s.ctx, ids[0])
	s.True(apperrors.Is(err, apperrors.ErrPreconditionViolation), "Dubito 人数不足")
}

func (s *RoomServiceTestSuite) TestStartGame_InsufficientCards() {
	ids := s.setupRoom(2, &CreateRoomRequest{Categories: []string{"money"}})
	for _, id := range ids {
		_, err := s.service.SetReady(s.ctx, id, true)
		s.Require().NoError(err)
	}

	_, err := s.service.StartGame(s.ctx, ids[0])
	s.True(apperrors.Is(err, apperrors.ErrInsufficientCards))

	state, err := s.service.GetRoom(s.ctx, ids[0])
	s.Require().NoError(err)
	s.Equal(models.StatusLobby, state.Room.Config.Status)
	for _, p := range state.Room.Players {
		s.Empty(p.Cards)
	}
}

func (s *RoomServiceTestSuite) TestPlayTurn() {
	ids := s.setupRoom(3, nil)
	state := s.startGame(ids)

	activeID := state.Room.CurrentTurn.ActivePlayerID
	s.Equal(state.Room.SortedPlayerIDs()[0], activeID)
	active := byPlayer(ids, activeID)
	target := other(ids, activeID)

	mine, err := s.service.GetRoom(s.ctx, active)
	s.Require().NoError(err)
	s.True(mine.View.CanGuess)
	card := mine.View.MyCards[0]
	s.Contains(mine.Dilemmas[card].Text, "dilemma")

	resp, err := s.service.SubmitGuess(s.ctx, active, &GuessRequest{DilemmaID: card, TargetID: target.PlayerID, Guess: models.AnswerSi})
	s.Require().NoError(err)
	s.Equal(models.TurnWaitingAnswer, resp.Result.To)

	_, err = s.service.SubmitAnswer(s.ctx, active, models.AnswerSi)
	s.True(apperrors.Is(err, apperrors.ErrPreconditionViolation), "只有目标能回答")

	resp, err = s.service.SubmitAnswer(s.ctx, target, models.AnswerSi)
	s.Require().NoError(err)
	s.True(resp.Result.PointAwarded)
	s.NotEmpty(resp.Result.Replacement)
	s.Equal(1, resp.Room.Players[activeID].Score)
	s.Contains(resp.Room.UsedDilemmas, card)
	s.Contains(resp.Dilemmas, card, "当前回合的卡牌文本对所有人可见")

	resp, err = s.service.NextTurn(s.ctx, active)
	s.Require().NoError(err)
	s.NotEqual(activeID, resp.Room.CurrentTurn.ActivePlayerID)
	s.Equal(models.TurnGuessing, resp.Room.CurrentTurn.Status)
}

func (s *RoomServiceTestSuite) TestDubitoVote() {
	ids := s.setupRoom(4, &CreateRoomRequest{DubitoMode: true})
	state := s.startGame(ids)

	activeID := state.Room.CurrentTurn.ActivePlayerID
	active := byPlayer(ids, activeID)
	target := other(ids, activeID)
	card := state.Room.Players[activeID].Cards[0]

	_, err := s.service.SubmitGuess(s.ctx, active, &GuessRequest{DilemmaID: card, TargetID: target.PlayerID, Guess: models.AnswerNo})
	s.Require().NoError(err)
	_, err = s.service.SubmitAnswer(s.ctx, target, models.AnswerSi)
	s.Require().NoError(err)
	resp, err := s.service.Decide(s.ctx, active, models.DecisionDoubt)
	s.Require().NoError(err)
	s.Equal(models.TurnVotingTruth, resp.Room.CurrentTurn.Status)

	var last *ActionResponse
	for _, id := range ids {
		if id.PlayerID == activeID || id.PlayerID == target.PlayerID {
			continue
		}
		last, err = s.service.CastVote(s.ctx, id, models.VoteLie)
		s.Require().NoError(err)
	}
	s.Equal(models.TurnShowingVoteResult, last.Room.CurrentTurn.Status)
	s.True(last.Room.CurrentTurn.VotingResult.PointAwarded)

	again, err := s.service.TallyVotes(s.ctx, active)
	s.Require().NoError(err)
	s.Equal(1, again.Room.Players[activeID].Score, "重复计票不加分")
}

func (s *RoomServiceTestSuite) TestWinArchivesResult() {
	ids := s.setupRoom(2, &CreateRoomRequest{MaxPoints: 1})
	state := s.startGame(ids)

	activeID := state.Room.CurrentTurn.ActivePlayerID
	active := byPlayer(ids, activeID)
	target := other(ids, activeID)
	card := state.Room.Players[activeID].Cards[0]

	_, err := s.service.SubmitGuess(s.ctx, active, &GuessRequest{DilemmaID: card, TargetID: target.PlayerID, Guess: models.AnswerNo})
	s.Require().NoError(err)
	_, err = s.service.SubmitAnswer(s.ctx, target, models.AnswerNo)
	s.Require().NoError(err)
	resp, err := s.service.NextTurn(s.ctx, active)
	s.Require().NoError(err)
	s.True(resp.Result.GameEnded)
	s.Equal(activeID, resp.Room.WinnerID)
	s.Equal(game.ScreenEnded, resp.View.Screen)

	results, total, err := s.service.Results(s.ctx, active.RoomID, 1, 10)
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(results, 1)
	s.Equal(activeID, results[0].WinnerID)
	s.Equal(active.PlayerName, results[0].WinnerName)
	s.Equal(1, results[0].Turns)

	var scores map[string]models.ScoreEntry
	s.Require().NoError(json.Unmarshal(results[0].Scores, &scores))
	s.Equal(1, scores[activeID].Score)

	reset, err := s.service.ResetGame(s.ctx, ids[0])
	s.Require().NoError(err)
	s.Equal(models.StatusLobby, reset.Room.Config.Status)
	s.Empty(reset.Room.WinnerID)
}

func (s *RoomServiceTestSuite) TestDiscardCard() {
	ids := s.setupRoom(2, nil)
	state := s.startGame(ids)

	p := ids[1]
	card := state.Room.Players[p.PlayerID].Cards[0]
	resp, err := s.service.DiscardCard(s.ctx, p, card)
	s.Require().NoError(err)
	s.NotEmpty(resp.Result.Replacement)
	s.Contains(resp.Room.DiscardedCards, card)
	s.Len(resp.View.MyCards, 6)

	_, err = s.service.DiscardCard(s.ctx, p, card)
	s.True(apperrors.Is(err, apperrors.ErrPreconditionViolation))
}

func (s *RoomServiceTestSuite) TestLeave() {
	ids := s.setupRoom(3, nil)
	s.startGame(ids)

	s.Require().NoError(s.service.Leave(s.ctx, ids[2]))
	state, err := s.service.GetRoom(s.ctx, ids[0])
	s.Require().NoError(err)
	s.Len(state.Room.Players, 2)
	s.Equal(models.StatusPlaying, state.Room.Config.Status)

	_, err = s.service.GetRoom(s.ctx, ids[2])
	s.True(apperrors.Is(err, apperrors.ErrSessionInvalid))
	s.True(apperrors.Is(s.service.Leave(s.ctx, ids[2]), apperrors.ErrSessionInvalid))

	// 人数不足，游戏结束
	s.Require().NoError(s.service.Leave(s.ctx, ids[1]))
	state, err = s.service.GetRoom(s.ctx, ids[0])
	s.Require().NoError(err)
	s.Equal(models.StatusEnded, state.Room.Config.Status)
	s.True(state.View.IsHost)

	s.Require().NoError(s.service.Leave(s.ctx, ids[0]))
	_, err = s.store.GetRoom(s.ctx, ids[0].RoomID)
	s.True(apperrors.Is(err, apperrors.ErrRoomNotFound), "最后一人离开后房间被删除")
}

func (s *RoomServiceTestSuite) TestResume() {
	ids := s.setupRoom(2, nil)
	s.startGame(ids)

	state, err := s.service.Resume(s.ctx, ids[1])
	s.Require().NoError(err)
	s.Equal(game.ScreenGame, state.View.Screen)
	s.Len(state.View.MyCards, 6)
	s.Empty(state.Issue)

	_, err = s.service.Resume(s.ctx, game.Identity{PlayerID: ids[1].PlayerID, RoomID: "QQQ111"})
	s.True(apperrors.Is(err, apperrors.ErrSessionInvalid))
}

func (s *RoomServiceTestSuite) TestDocument() {
	ids := s.setupRoom(2, nil)

	data, err := s.service.Document(s.ctx, ids[1], "config/maxPoints")
	s.Require().NoError(err)
	s.JSONEq(`10`, string(data))

	data, err = s.service.Document(s.ctx, ids[1], "")
	s.Require().NoError(err)
	var room models.Room
	s.Require().NoError(json.Unmarshal(data, &room))
	s.Equal(ids[1].RoomID, room.ID)

	outsider := game.Identity{PlayerID: "player_1_abcdef012", RoomID: ids[0].RoomID}
	_, err = s.service.Document(s.ctx, outsider, "config")
	s.True(apperrors.Is(err, apperrors.ErrSessionInvalid))
}

func (s *RoomServiceTestSuite) TestCategories() {
	meta, err := s.service.Categories(s.ctx)
	s.Require().NoError(err)
	s.Len(meta.Categories, 2)
}

func (s *RoomServiceTestSuite) TestCleanupIdleRooms() {
	ids := s.setupRoom(1, nil)
	svc := s.service.(*roomService)

	n, err := svc.CleanupIdleRooms(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	svc.now = func() time.Time { return time.Now().Add(7 * time.Hour) }
	n, err = svc.CleanupIdleRooms(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	_, err = s.store.GetRoom(s.ctx, ids[0].RoomID)
	s.True(apperrors.Is(err, apperrors.ErrRoomNotFound))
}

func TestRoomServiceSuite(t *testing.T) {
	suite.Run(t, new(RoomServiceTestSuite))
}

func TestNewServices_DefaultConfig(t *testing.T) {
	services := NewServices(Dependencies{
		Store:   store.NewMemoryStore(nil),
		Library: catalog.NewLibrary(writeCatalog(t), "", nil, nil),
		Tokens:  session.NewTokenManager(config.SessionConfig{}),
	}, nil, nil)
	require.NotNil(t, services.Room)

	results, total, err := services.Room.Results(context.Background(), "ABC123", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, total)
}
