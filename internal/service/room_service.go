package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/wfunc/bias-game/internal/catalog"
	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/game"
	"github.com/wfunc/bias-game/internal/logger"
	"github.com/wfunc/bias-game/internal/models"
	"github.com/wfunc/bias-game/internal/repository"
	"github.com/wfunc/bias-game/internal/session"
	"github.com/wfunc/bias-game/internal/store"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// maxCodeAttempts 房间号冲突时的最大重试次数
const maxCodeAttempts = 10

// roomService 房间服务实现
type roomService struct {
	store    store.Store
	library  *catalog.Library
	results  repository.GameResultRepository
	tokens   *session.TokenManager
	engine   *game.Engine
	recovery *game.RecoveryManager
	rules    game.Rules
	idle     time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewRoomService 创建房间服务
func NewRoomService(deps Dependencies, config *Config, log *zap.Logger) RoomService {
	if log == nil {
		log = zap.NewNop()
	}
	return &roomService{
		store:    deps.Store,
		library:  deps.Library,
		results:  deps.Results,
		tokens:   deps.Tokens,
		engine:   game.NewEngine(config.Rules, game.WithLogger(log.Named("engine"))),
		recovery: game.NewRecoveryManager(log.Named("recovery"), deps.Store, config.Rules),
		rules:    config.Rules,
		idle:     config.RoomIdleTimeout,
		now:      time.Now,
		logger:   log,
	}
}

// CreateRoom 创建房间，创建者成为房主
func (s *roomService) CreateRoom(ctx context.Context, req *CreateRoomRequest) (*JoinResponse, error) {
	if req == nil {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "请求为空")
	}
	name, err := game.ValidateName(req.Name)
	if err != nil {
		return nil, err
	}
	if _, err := s.deck(req.Categories); err != nil {
		return nil, err
	}

	now := s.now()
	playerID := game.NewPlayerID(now)
	opts := game.RoomOptions{
		MaxPoints:  req.MaxPoints,
		DubitoMode: req.DubitoMode,
		GameMode:   req.GameMode,
		Categories: req.Categories,
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		room, err := game.NewRoom(s.rules, game.GenerateRoomCode(), playerID, name, opts, now)
		if err != nil {
			return nil, err
		}
		err = s.store.CreateRoom(ctx, room)
		if apperrors.Is(err, apperrors.ErrRoomExists) {
			s.logger.Debug("房间号冲突，重新生成", zap.String("room_id", room.ID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		logger.LogRoomEvent("room_created", room.ID,
			zap.String("player_id", playerID),
			zap.Int("max_points", room.Config.MaxPoints),
			zap.Bool("dubito", room.Config.IsDubitoMode))
		return s.joinResponse(room, game.Identity{PlayerID: playerID, PlayerName: name, RoomID: room.ID}, false)
	}
	return nil, apperrors.New(apperrors.ErrRoomExists, "无法生成唯一的房间号")
}

// JoinRoom 通过房间号加入房间
func (s *roomService) JoinRoom(ctx context.Context, code, name string) (*JoinResponse, error) {
	code, err := game.NormalizeRoomCode(code)
	if err != nil {
		return nil, err
	}
	name, err = game.ValidateName(name)
	if err != nil {
		return nil, err
	}

	playerID := game.NewPlayerID(s.now())
	var midGame bool
	var hand []string
	room, err := s.store.UpdateRoom(ctx, code, func(room *models.Room) error {
		var deck game.Deck
		if room.Config.Status == models.StatusPlaying {
			c, err := s.deck(room.Config.Categories)
			if err != nil {
				return err
			}
			deck = c
		}
		var err error
		midGame, hand, err = s.engine.Join(room, deck, playerID, name)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.LogRoomEvent("player_joined", code,
		zap.String("player_id", playerID),
		zap.Bool("mid_game", midGame),
		zap.Int("cards", len(hand)))
	return s.joinResponse(room, game.Identity{PlayerID: playerID, PlayerName: name, RoomID: code}, midGame)
}

func (s *roomService) joinResponse(room *models.Room, id game.Identity, midGame bool) (*JoinResponse, error) {
	token, expiresAt, err := s.tokens.Issue(id)
	if err != nil {
		return nil, err
	}
	state, _ := s.ViewFor(room, id.PlayerID)
	return &JoinResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		PlayerID:  id.PlayerID,
		MidGame:   midGame,
		RoomState: state,
	}, nil
}

// Resume 刷新或重连后恢复会话
func (s *roomService) Resume(ctx context.Context, id game.Identity) (*RoomState, error) {
	rec, err := s.recovery.RecoverSession(ctx, id)
	if err != nil {
		return nil, err
	}
	state, _ := s.ViewFor(rec.Room, id.PlayerID)
	if state != nil {
		state.Issue = rec.Issue
	}
	return state, nil
}

// GetRoom 获取房间当前状态
func (s *roomService) GetRoom(ctx context.Context, id game.Identity) (*RoomState, error) {
	room, err := s.store.GetRoom(ctx, id.RoomID)
	if err != nil {
		return nil, err
	}
	state, ok := s.ViewFor(room, id.PlayerID)
	if !ok {
		return nil, apperrors.New(apperrors.ErrSessionInvalid, "玩家已不在房间")
	}
	return state, nil
}

// Leave 离开房间，最后一人离开时房间被删除
func (s *roomService) Leave(ctx context.Context, id game.Identity) error {
	var empty bool
	_, err := s.mutate(ctx, id, "player_left", func(room *models.Room, deck game.Deck) error {
		var err error
		empty, _, err = s.engine.Leave(room, deck, id.PlayerID)
		return err
	})
	if err != nil {
		return err
	}
	if empty {
		logger.LogRoomEvent("room_deleted", id.RoomID, zap.String("reason", "empty"))
	}
	return nil
}

// SetReady 切换准备状态
func (s *roomService) SetReady(ctx context.Context, id game.Identity, ready bool) (*RoomState, error) {
	return s.lobby(ctx, id, "ready_changed", func(room *models.Room) error {
		return game.SetReady(room, id.PlayerID, ready)
	})
}

// SetOpen 房主设置是否允许中途加入
func (s *roomService) SetOpen(ctx context.Context, id game.Identity, open bool) (*RoomState, error) {
	return s.lobby(ctx, id, "open_changed", func(room *models.Room) error {
		return game.SetOpen(room, id.PlayerID, open)
	})
}

// SetGameMode 房主设置目标选择模式
func (s *roomService) SetGameMode(ctx context.Context, id game.Identity, mode models.GameMode) (*RoomState, error) {
	return s.lobby(ctx, id, "mode_changed", func(room *models.Room) error {
		return game.SetGameMode(room, id.PlayerID, mode)
	})
}

// SetDubito 房主开关 Dubito 模式
func (s *roomService) SetDubito(ctx context.Context, id game.Identity, on bool) (*RoomState, error) {
	return s.lobby(ctx, id, "dubito_changed", func(room *models.Room) error {
		return game.SetDubito(room, id.PlayerID, on)
	})
}

// SetMaxPoints 房主设置目标分数
func (s *roomService) SetMaxPoints(ctx context.Context, id game.Identity, maxPoints int) (*RoomState, error) {
	return s.lobby(ctx, id, "max_points_changed", func(room *models.Room) error {
		return game.SetMaxPoints(room, s.rules, id.PlayerID, maxPoints)
	})
}

// SetCategories 房主选择卡牌分类，分类必须能加载出卡牌
func (s *roomService) SetCategories(ctx context.Context, id game.Identity, categories []string) (*RoomState, error) {
	if _, err := s.deck(categories); err != nil {
		return nil, err
	}
	return s.lobby(ctx, id, "categories_changed", func(room *models.Room) error {
		return game.SetCategories(room, id.PlayerID, categories)
	})
}

// SwapPlayerOrder 房主交换顺序模式下相邻两位玩家
func (s *roomService) SwapPlayerOrder(ctx context.Context, id game.Identity, index int) (*RoomState, error) {
	return s.lobby(ctx, id, "order_swapped", func(room *models.Room) error {
		return game.SwapPlayerOrder(room, id.PlayerID, index)
	})
}

// StartGame 房主开始游戏
func (s *roomService) StartGame(ctx context.Context, id game.Identity) (*RoomState, error) {
	room, err := s.mutate(ctx, id, "game_started", func(room *models.Room, _ game.Deck) error {
		deck, err := s.deck(room.Config.Categories)
		if err != nil {
			return err
		}
		_, err = s.engine.StartGame(room, deck, id.PlayerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.state(room, id)
}

// ResetGame 房主重置回大厅
func (s *roomService) ResetGame(ctx context.Context, id game.Identity) (*RoomState, error) {
	return s.lobby(ctx, id, "game_reset", func(room *models.Room) error {
		return s.engine.ResetGame(room, id.PlayerID)
	})
}

// SubmitGuess 提问
func (s *roomService) SubmitGuess(ctx context.Context, id game.Identity, req *GuessRequest) (*ActionResponse, error) {
	if req == nil {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "请求为空")
	}
	return s.turn(ctx, id, func(room *models.Room, deck game.Deck) (*game.Result, error) {
		return s.engine.SubmitGuess(room, deck, id.PlayerID, req.DilemmaID, req.TargetID, req.Guess)
	})
}

// SubmitAnswer 回答
func (s *roomService) SubmitAnswer(ctx context.Context, id game.Identity, answer models.Answer) (*ActionResponse, error) {
	return s.turn(ctx, id, func(room *models.Room, deck game.Deck) (*game.Result, error) {
		return s.engine.SubmitAnswer(room, deck, id.PlayerID, answer)
	})
}

// Decide 接受或质疑
func (s *roomService) Decide(ctx context.Context, id game.Identity, decision models.Decision) (*ActionResponse, error) {
	return s.turn(ctx, id, func(room *models.Room, deck game.Deck) (*game.Result, error) {
		return s.engine.Decide(room, deck, id.PlayerID, decision)
	})
}

// CastVote 投票
func (s *roomService) CastVote(ctx context.Context, id game.Identity, vote models.Vote) (*ActionResponse, error) {
	return s.turn(ctx, id, func(room *models.Room, deck game.Deck) (*game.Result, error) {
		return s.engine.CastVote(room, deck, id.PlayerID, vote)
	})
}

// TallyVotes 计票
func (s *roomService) TallyVotes(ctx context.Context, id game.Identity) (*ActionResponse, error) {
	return s.turn(ctx, id, func(room *models.Room, deck game.Deck) (*game.Result, error) {
		return s.engine.TallyVotes(room, deck, id.PlayerID)
	})
}

// NextTurn 下一回合
func (s *roomService) NextTurn(ctx context.Context, id game.Identity) (*ActionResponse, error) {
	return s.turn(ctx, id, func(room *models.Room, deck game.Deck) (*game.Result, error) {
		return s.engine.NextTurn(room, deck, id.PlayerID)
	})
}

// DiscardCard 弃牌并补牌
func (s *roomService) DiscardCard(ctx context.Context, id game.Identity, dilemmaID string) (*ActionResponse, error) {
	return s.turn(ctx, id, func(room *models.Room, deck game.Deck) (*game.Result, error) {
		if deck == nil {
			return nil, apperrors.New(apperrors.ErrPreconditionViolation, "游戏未在进行中")
		}
		replacement, err := s.engine.DiscardCard(room, deck, id.PlayerID, dilemmaID)
		if err != nil {
			return nil, err
		}
		return &game.Result{Replacement: replacement}, nil
	})
}

// Categories 可选分类
func (s *roomService) Categories(ctx context.Context) (*catalog.Metadata, error) {
	return s.library.Metadata()
}

// Results 房间的历史对局
func (s *roomService) Results(ctx context.Context, code string, page, pageSize int) ([]*models.GameResult, int64, error) {
	code, err := game.NormalizeRoomCode(code)
	if err != nil {
		return nil, 0, err
	}
	if s.results == nil {
		return []*models.GameResult{}, 0, nil
	}
	p := repository.NewPagination(page, pageSize)
	results, err := s.results.ListByRoom(ctx, code, p)
	if err != nil {
		return nil, 0, err
	}
	return results, p.Total, nil
}

// Document 读取本人所在房间文档的子路径，例如 "config" 或 "players/<id>/score"
func (s *roomService) Document(ctx context.Context, id game.Identity, path string) ([]byte, error) {
	member, err := s.store.Exists(ctx, store.RoomPath(id.RoomID, "players", id.PlayerID))
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperrors.New(apperrors.ErrSessionInvalid, "玩家已不在房间")
	}

	var segments []string
	if trimmed := strings.Trim(path, "/"); trimmed != "" {
		segments = strings.Split(trimmed, "/")
	}
	return s.store.GetDoc(ctx, store.RoomPath(id.RoomID, segments...))
}

// ViewFor 为指定玩家构造房间状态，玩家不在房间时返回 false
func (s *roomService) ViewFor(room *models.Room, playerID string) (*RoomState, bool) {
	if room == nil {
		return nil, false
	}
	view, ok := game.ViewFor(room, playerID, s.rules)
	if !ok {
		return nil, false
	}
	return &RoomState{Room: room, View: view, Dilemmas: s.dilemmas(room, view)}, true
}

// dilemmas 玩家需要看到文本的卡牌：自己的手牌和当前回合的卡
func (s *roomService) dilemmas(room *models.Room, view *game.PlayerView) map[string]catalog.Card {
	ids := append([]string(nil), view.MyCards...)
	if t := room.CurrentTurn; t != nil && t.DilemmaID != "" {
		ids = append(ids, t.DilemmaID)
	}
	if len(ids) == 0 {
		return nil
	}
	deck, err := s.deck(room.Config.Categories)
	if err != nil {
		s.logger.Warn("加载卡牌目录失败", zap.String("room_id", room.ID), zap.Error(err))
		return nil
	}
	cards := make(map[string]catalog.Card, len(ids))
	for _, c := range deck.Cards(ids) {
		cards[c.ID] = c
	}
	return cards
}

// CleanupIdleRooms 删除长时间没有更新的房间
func (s *roomService) CleanupIdleRooms(ctx context.Context) (int, error) {
	if s.idle <= 0 {
		return 0, nil
	}
	ids, err := s.store.ListIdle(ctx, s.now().Add(-s.idle))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, roomID := range ids {
		if err := s.store.DeleteRoom(ctx, roomID); err != nil {
			if apperrors.Is(err, apperrors.ErrDocumentNotFound) {
				continue
			}
			s.logger.Error("清理空闲房间失败", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		removed++
		logger.LogRoomEvent("room_deleted", roomID, zap.String("reason", "idle"))
	}
	return removed, nil
}

// StartCleanupTask 启动定时清理，ctx 取消时退出
func (s *roomService) StartCleanupTask(ctx context.Context, interval time.Duration) {
	if s.idle <= 0 || interval <= 0 {
		s.logger.Info("空闲房间清理已关闭")
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.CleanupIdleRooms(ctx)
				if err != nil {
					s.logger.Error("清理空闲房间失败", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Info("已清理空闲房间", zap.Int("count", n))
				}
			}
		}
	}()
}

// deck 按分类获取目录，分类不可用时返回校验错误
func (s *roomService) deck(categories []string) (*catalog.Catalog, error) {
	c, err := s.library.Get(categories)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrValidation, "卡牌分类不可用").WithCause(err)
	}
	return c, nil
}

// mutate 在房间事务中执行 fn。游戏进行中时提供该房间的卡组；
// 本次修改让游戏结束时归档对局。房间因无人被删除时返回 nil。
func (s *roomService) mutate(ctx context.Context, id game.Identity, event string, fn func(room *models.Room, deck game.Deck) error) (*models.Room, error) {
	if id.Empty() {
		return nil, apperrors.New(apperrors.ErrSessionInvalid, "本地身份为空")
	}

	var ended *models.Room
	room, err := s.store.UpdateRoom(ctx, id.RoomID, func(room *models.Room) error {
		ended = nil
		if _, ok := room.Player(id.PlayerID); !ok {
			return apperrors.New(apperrors.ErrSessionInvalid, "玩家已不在房间")
		}
		var deck game.Deck
		if room.Config.Status == models.StatusPlaying {
			c, err := s.deck(room.Config.Categories)
			if err != nil {
				return err
			}
			deck = c
		}

		wasEnded := room.Config.Status == models.StatusEnded
		if err := fn(room, deck); err != nil {
			return err
		}
		if !wasEnded && room.Config.Status == models.StatusEnded {
			ended = room.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.LogRoomEvent(event, id.RoomID, zap.String("player_id", id.PlayerID))
	if ended != nil {
		logger.LogRoomEvent("game_ended", id.RoomID, zap.String("winner_id", ended.WinnerID))
		s.archive(ctx, ended)
	}
	return room, nil
}

// lobby 执行不需要返回回合结果的设置类操作
func (s *roomService) lobby(ctx context.Context, id game.Identity, event string, fn func(room *models.Room) error) (*RoomState, error) {
	room, err := s.mutate(ctx, id, event, func(room *models.Room, _ game.Deck) error {
		return fn(room)
	})
	if err != nil {
		return nil, err
	}
	return s.state(room, id)
}

// turn 执行回合动作
func (s *roomService) turn(ctx context.Context, id game.Identity, fn func(room *models.Room, deck game.Deck) (*game.Result, error)) (*ActionResponse, error) {
	var result *game.Result
	room, err := s.mutate(ctx, id, "turn_action", func(room *models.Room, deck game.Deck) error {
		var err error
		result, err = fn(room, deck)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		s.logger.Debug("回合动作",
			zap.String("room_id", id.RoomID),
			zap.String("event", string(result.Event)),
			zap.String("to", string(result.To)),
			zap.Bool("point", result.PointAwarded))
	}
	state, err := s.state(room, id)
	if err != nil {
		return nil, err
	}
	return &ActionResponse{Result: result, RoomState: state}, nil
}

func (s *roomService) state(room *models.Room, id game.Identity) (*RoomState, error) {
	state, ok := s.ViewFor(room, id.PlayerID)
	if !ok {
		return nil, apperrors.New(apperrors.ErrSessionInvalid, "玩家已不在房间")
	}
	return state, nil
}

// archive 保存已结束对局，失败只记录日志
func (s *roomService) archive(ctx context.Context, room *models.Room) {
	if s.results == nil {
		return
	}
	scores := make(map[string]models.ScoreEntry, len(room.Players))
	for id, p := range room.Players {
		scores[id] = models.ScoreEntry{Name: p.Name, Score: p.Score}
	}
	data, err := json.Marshal(scores)
	if err != nil {
		s.logger.Error("序列化得分失败", zap.String("room_id", room.ID), zap.Error(err))
		return
	}

	result := &models.GameResult{
		RoomID:      room.ID,
		WinnerID:    room.WinnerID,
		Scores:      datatypes.JSON(data),
		Turns:       len(room.TurnHistory),
		PlayerCount: len(room.Players),
		DubitoMode:  room.Config.IsDubitoMode,
		EndedAt:     s.now(),
	}
	if w, ok := room.Player(room.WinnerID); ok {
		result.WinnerName = w.Name
	}
	if err := s.results.Create(ctx, result); err != nil {
		s.logger.Error("归档对局失败", zap.String("room_id", room.ID), zap.Error(err))
	}
}
