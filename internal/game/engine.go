package game

import (
	"time"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
	"go.uber.org/zap"
)

// Engine 对房间文档应用游戏规则。
// 所有方法在出错时保证房间不被修改：先在副本上执行，成功后再整体替换。
type Engine struct {
	rules   Rules
	machine *TurnMachine
	now     func() time.Time
	logger  *zap.Logger
}

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithClock 指定时钟，测试用
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger 指定日志器
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine 创建规则引擎
func NewEngine(rules Rules, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:   rules,
		machine: NewTurnMachine(),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules 当前规则
func (e *Engine) Rules() Rules {
	return e.rules
}

// Machine 回合状态机
func (e *Engine) Machine() *TurnMachine {
	return e.machine
}

// Apply 在当前回合上执行一个动作
func (e *Engine) Apply(room *models.Room, deck Deck, action Action) (*Result, error) {
	if room.Config.Status != models.StatusPlaying {
		return nil, precondition("游戏未在进行中，当前状态: %s", room.Config.Status)
	}
	if room.CurrentTurn == nil {
		return nil, precondition("当前没有进行中的回合")
	}

	work := room.Clone()
	tc := &turnContext{
		room:   work,
		turn:   work.CurrentTurn,
		deck:   deck,
		action: action,
		rules:  e.rules,
		now:    e.now(),
		result: &Result{Event: action.Event},
	}
	if err := e.machine.trigger(tc); err != nil {
		return nil, err
	}

	e.commit(room, work, tc.now)
	e.logger.Debug("状态转换",
		zap.String("room_id", room.ID),
		zap.String("event", string(action.Event)),
		zap.String("actor", action.ActorID),
		zap.String("from", string(tc.result.From)),
		zap.String("to", string(tc.result.To)))
	return tc.result, nil
}

func (e *Engine) commit(room, work *models.Room, now time.Time) {
	work.UpdatedAt = now.UnixMilli()
	*room = *work
}

// SubmitGuess 提问者选择卡牌、目标与预测
func (e *Engine) SubmitGuess(room *models.Room, deck Deck, actorID, dilemmaID, targetID string, guess models.Answer) (*Result, error) {
	return e.Apply(room, deck, Action{Event: EventGuess, ActorID: actorID, DilemmaID: dilemmaID, TargetID: targetID, Guess: guess})
}

// SubmitAnswer 目标玩家回答
func (e *Engine) SubmitAnswer(room *models.Room, deck Deck, actorID string, answer models.Answer) (*Result, error) {
	return e.Apply(room, deck, Action{Event: EventAnswer, ActorID: actorID, Answer: answer})
}

// Decide 提问者接受或质疑回答（Dubito模式）
func (e *Engine) Decide(room *models.Room, deck Deck, actorID string, decision models.Decision) (*Result, error) {
	switch decision {
	case models.DecisionAccept:
		return e.Apply(room, deck, Action{Event: EventAccept, ActorID: actorID})
	case models.DecisionDoubt:
		return e.Apply(room, deck, Action{Event: EventDoubt, ActorID: actorID})
	default:
		return nil, validation("无效的决定: %q", decision)
	}
}

// CastVote 投票，每位投票者只能投一次
func (e *Engine) CastVote(room *models.Room, deck Deck, actorID string, vote models.Vote) (*Result, error) {
	return e.Apply(room, deck, Action{Event: EventVote, ActorID: actorID, Vote: vote})
}

// TallyVotes 计票并转换到投票结果。已计票时重复调用不改变任何数据。
func (e *Engine) TallyVotes(room *models.Room, deck Deck, actorID string) (*Result, error) {
	return e.Apply(room, deck, Action{Event: EventTally, ActorID: actorID})
}

// NextTurn 提问者推进到下一回合
func (e *Engine) NextTurn(room *models.Room, deck Deck, actorID string) (*Result, error) {
	return e.Apply(room, deck, Action{Event: EventNext, ActorID: actorID})
}

// StartGame 房主开始游戏：全员发牌（全部成功或不发），按ID排序第一位玩家先手
func (e *Engine) StartGame(room *models.Room, deck Deck, actorID string) (*Result, error) {
	if err := requireHost(room, actorID); err != nil {
		return nil, err
	}
	if err := requireLobby(room); err != nil {
		return nil, err
	}
	if !AllReady(room, e.rules.MinPlayers) {
		return nil, precondition("至少需要 %d 名玩家且全部准备", e.rules.MinPlayers)
	}
	if room.Config.IsDubitoMode && len(room.Players) < e.rules.DubitoMinPlayers {
		return nil, precondition("Dubito模式至少需要 %d 名玩家", e.rules.DubitoMinPlayers)
	}

	ids := room.SortedPlayerIDs()
	dist, err := deck.Distribute(ids, room.UsedDilemmas)
	if err != nil {
		return nil, err
	}

	now := e.now()
	work := room.Clone()
	for _, id := range ids {
		work.Players[id].Cards = dist[id]
	}
	work.Config.Status = models.StatusPlaying
	work.WinnerID = ""
	work.CurrentTurn = newTurn(ids[0], now)
	e.commit(room, work, now)

	return &Result{To: models.TurnGuessing}, nil
}

// DiscardCard 弃掉一张手牌并尝试补一张。没有可补的牌不是错误。
func (e *Engine) DiscardCard(room *models.Room, deck Deck, playerID, dilemmaID string) (string, error) {
	p, ok := room.Players[playerID]
	if !ok {
		return "", apperrors.New(apperrors.ErrPlayerNotFound, playerID)
	}
	if !p.HasCard(dilemmaID) {
		return "", precondition("卡牌 %s 不在手牌中", dilemmaID)
	}
	if t := room.CurrentTurn; t != nil && room.Config.Status == models.StatusPlaying &&
		t.ActivePlayerID == playerID && t.DilemmaID == dilemmaID && t.Status != models.TurnGuessing {
		return "", precondition("卡牌 %s 正在本回合使用", dilemmaID)
	}

	now := e.now()
	work := room.Clone()
	wp := work.Players[playerID]
	wp.RemoveCard(dilemmaID)
	work.DiscardedCards = append(work.DiscardedCards, dilemmaID)

	replacement, ok := deck.DrawReplacement(ExcludedCards(work))
	if ok {
		wp.Cards = append(wp.Cards, replacement)
	}
	e.commit(room, work, now)
	return replacement, nil
}

// Join 玩家加入；游戏进行中加入时同时发牌
func (e *Engine) Join(room *models.Room, deck Deck, playerID, name string) (bool, []string, error) {
	now := e.now()
	work := room.Clone()
	midGame, err := JoinRoom(work, playerID, name, now)
	if err != nil {
		return false, nil, err
	}
	var hand []string
	if midGame && work.Config.Status == models.StatusPlaying && deck != nil {
		hand = DealLateJoiner(work, deck, playerID)
	}
	e.commit(room, work, now)
	return midGame, hand, nil
}

// Leave 玩家离开并处理对当前回合的影响。返回房间是否已空；房间为空时调用方应删除房间。
func (e *Engine) Leave(room *models.Room, deck Deck, playerID string) (bool, *Result, error) {
	now := e.now()
	work := room.Clone()
	empty, err := RemovePlayer(work, playerID)
	if err != nil {
		return false, nil, err
	}
	result := &Result{}
	if !empty {
		e.handleDeparture(work, deck, playerID, now, result)
	}
	e.commit(room, work, now)
	return empty, result, nil
}

// handleDeparture 离开对回合的影响：
// 人数不足结束游戏；提问者离开直接换下一位；目标离开回到猜测阶段；投票者离开后若票已齐则计票。
func (e *Engine) handleDeparture(room *models.Room, deck Deck, playerID string, now time.Time, result *Result) {
	turn := room.CurrentTurn
	if room.Config.Status != models.StatusPlaying || turn == nil {
		return
	}
	tc := &turnContext{room: room, turn: turn, deck: deck, rules: e.rules, now: now, result: result}

	switch {
	case len(room.Players) < e.rules.MinPlayers:
		winnerID := ""
		if w := CheckWinCondition(room); w != nil {
			winnerID = w.ID
		}
		endGame(tc, winnerID)
	case turn.ActivePlayerID == playerID:
		advanceTurn(tc)
	case turn.TargetPlayerID == playerID && turn.Status != models.TurnShowingResult &&
		turn.Status != models.TurnShowingVoteResult:
		room.CurrentTurn = newTurn(turn.ActivePlayerID, now)
	case turn.Status == models.TurnVotingTruth && votingComplete(room, turn):
		turn.Status = models.TurnShowingVoteResult
		resolveVote(tc)
	}
}

// ResetGame 房主重置：回到大厅，清空卡牌、分数、回合和历史
func (e *Engine) ResetGame(room *models.Room, actorID string) error {
	if err := requireHost(room, actorID); err != nil {
		return err
	}
	now := e.now()
	work := room.Clone()
	work.Config.Status = models.StatusLobby
	work.UsedDilemmas = []string{}
	work.DiscardedCards = []string{}
	work.CurrentTurn = nil
	work.TurnHistory = []models.TurnRecord{}
	work.WinnerID = ""
	for _, p := range work.Players {
		p.Score = 0
		p.Cards = []string{}
		p.IsReady = false
	}
	e.commit(room, work, now)
	return nil
}

// CheckWinCondition 返回达到目标分数的玩家。
// 多人同时达到时取分数最高者，再取最早加入者。
func CheckWinCondition(room *models.Room) *models.Player {
	var winner *models.Player
	for _, p := range room.PlayersByJoinOrder() {
		if p.Score < room.Config.MaxPoints {
			continue
		}
		if winner == nil || p.Score > winner.Score {
			winner = p
		}
	}
	return winner
}
