package game

import (
	"fmt"
	"time"

	"github.com/wfunc/bias-game/internal/models"
)

// Event 回合事件
type Event string

const (
	EventGuess  Event = "guess"
	EventAnswer Event = "answer"
	EventAccept Event = "accept"
	EventDoubt  Event = "doubt"
	EventVote   Event = "vote"
	EventTally  Event = "tally"
	EventNext   Event = "next"
)

// Action 玩家发起的回合动作
type Action struct {
	Event     Event
	ActorID   string
	DilemmaID string
	TargetID  string
	Guess     models.Answer
	Answer    models.Answer
	Vote      models.Vote
}

// Result 一次状态转换的结果
type Result struct {
	Event        Event             `json:"event"`
	From         models.TurnStatus `json:"from,omitempty"`
	To           models.TurnStatus `json:"to,omitempty"`
	PointAwarded bool              `json:"pointAwarded"`
	Replacement  string            `json:"replacement,omitempty"`
	GameEnded    bool              `json:"gameEnded"`
	WinnerID     string            `json:"winnerId,omitempty"`
	NoOp         bool              `json:"noOp,omitempty"`
}

// turnContext 一次转换的上下文
type turnContext struct {
	room   *models.Room
	turn   *models.Turn
	deck   Deck
	action Action
	rules  Rules
	now    time.Time
	result *Result
}

// StateTransition 状态转换定义。同一 From:Event 可以有多条，按 When 选第一条匹配的。
// To 为空表示由 Action 自行决定后续回合。
type StateTransition struct {
	From   models.TurnStatus
	Event  Event
	To     models.TurnStatus
	When   func(tc *turnContext) bool
	Guard  func(tc *turnContext) error
	Action func(tc *turnContext) error
}

// TurnMachine 回合状态机，只保存转换表，本身无状态
type TurnMachine struct {
	transitions map[string][]StateTransition
}

// NewTurnMachine 创建回合状态机
func NewTurnMachine() *TurnMachine {
	m := &TurnMachine{transitions: make(map[string][]StateTransition)}
	m.initTransitions()
	return m
}

// initTransitions 初始化状态转换规则
func (m *TurnMachine) initTransitions() {
	// 猜测 -> 等待回答
	m.addTransition(StateTransition{
		From:   models.TurnGuessing,
		Event:  EventGuess,
		To:     models.TurnWaitingAnswer,
		Guard:  guardGuess,
		Action: actionGuess,
	})

	// 等待回答 -> 展示结果（普通模式，立即计分）
	m.addTransition(StateTransition{
		From:   models.TurnWaitingAnswer,
		Event:  EventAnswer,
		To:     models.TurnShowingResult,
		When:   func(tc *turnContext) bool { return !tc.room.Config.IsDubitoMode },
		Guard:  guardAnswer,
		Action: func(tc *turnContext) error { tc.turn.Answer = tc.action.Answer; resolveGuess(tc); return nil },
	})

	// 等待回答 -> 接受或质疑（Dubito模式，计分延后）
	m.addTransition(StateTransition{
		From:   models.TurnWaitingAnswer,
		Event:  EventAnswer,
		To:     models.TurnWaitingAcceptOrDoubt,
		Guard:  guardAnswer,
		Action: func(tc *turnContext) error { tc.turn.Answer = tc.action.Answer; return nil },
	})

	// 接受 -> 展示结果
	m.addTransition(StateTransition{
		From:  models.TurnWaitingAcceptOrDoubt,
		Event: EventAccept,
		To:    models.TurnShowingResult,
		Guard: guardActive,
		Action: func(tc *turnContext) error {
			tc.turn.Decision = models.DecisionAccept
			resolveGuess(tc)
			return nil
		},
	})

	// 质疑但没有可投票的玩家 -> 直接计票（所有人都已"投完"）
	m.addTransition(StateTransition{
		From:  models.TurnWaitingAcceptOrDoubt,
		Event: EventDoubt,
		To:    models.TurnShowingVoteResult,
		When:  func(tc *turnContext) bool { return len(eligibleVoters(tc.room, tc.turn)) == 0 },
		Guard: guardActive,
		Action: func(tc *turnContext) error {
			tc.turn.Decision = models.DecisionDoubt
			tc.turn.Votes = map[string]models.Vote{}
			resolveVote(tc)
			return nil
		},
	})

	// 质疑 -> 投票
	m.addTransition(StateTransition{
		From:  models.TurnWaitingAcceptOrDoubt,
		Event: EventDoubt,
		To:    models.TurnVotingTruth,
		Guard: guardActive,
		Action: func(tc *turnContext) error {
			tc.turn.Decision = models.DecisionDoubt
			tc.turn.Votes = map[string]models.Vote{}
			return nil
		},
	})

	// 最后一票 -> 计票并展示
	m.addTransition(StateTransition{
		From:  models.TurnVotingTruth,
		Event: EventVote,
		To:    models.TurnShowingVoteResult,
		When: func(tc *turnContext) bool {
			_, voted := tc.turn.Votes[tc.action.ActorID]
			return !voted && len(tc.turn.Votes)+1 >= len(eligibleVoters(tc.room, tc.turn))
		},
		Guard: guardVote,
		Action: func(tc *turnContext) error {
			recordVote(tc)
			resolveVote(tc)
			return nil
		},
	})

	// 普通投票
	m.addTransition(StateTransition{
		From:  models.TurnVotingTruth,
		Event: EventVote,
		To:    models.TurnVotingTruth,
		Guard: guardVote,
		Action: func(tc *turnContext) error {
			recordVote(tc)
			return nil
		},
	})

	// 显式计票（投票完成但尚未转换时）
	m.addTransition(StateTransition{
		From:  models.TurnVotingTruth,
		Event: EventTally,
		To:    models.TurnShowingVoteResult,
		Guard: func(tc *turnContext) error {
			if err := guardMember(tc); err != nil {
				return err
			}
			if !votingComplete(tc.room, tc.turn) {
				return precondition("投票尚未完成: %d/%d", len(tc.turn.Votes), len(eligibleVoters(tc.room, tc.turn)))
			}
			return nil
		},
		Action: func(tc *turnContext) error { resolveVote(tc); return nil },
	})

	// 已计票：重复计票是空操作
	m.addTransition(StateTransition{
		From:  models.TurnShowingVoteResult,
		Event: EventTally,
		Guard: guardMember,
		Action: func(tc *turnContext) error {
			tc.result.NoOp = true
			if vr := tc.turn.VotingResult; vr != nil {
				tc.result.PointAwarded = vr.PointAwarded
			}
			return nil
		},
	})

	// 展示结果 -> 下一回合或结束
	for _, from := range []models.TurnStatus{models.TurnShowingResult, models.TurnShowingVoteResult} {
		m.addTransition(StateTransition{
			From:   from,
			Event:  EventNext,
			Guard:  guardActive,
			Action: func(tc *turnContext) error { advanceTurn(tc); return nil },
		})
	}
}

// addTransition 添加状态转换
func (m *TurnMachine) addTransition(t StateTransition) {
	key := transitionKey(t.From, t.Event)
	m.transitions[key] = append(m.transitions[key], t)
}

// transitionKey 生成转换键
func transitionKey(state models.TurnStatus, event Event) string {
	return fmt.Sprintf("%s:%s", state, event)
}

// trigger 在当前回合上触发事件。调用方保证 tc.room 是可丢弃的副本。
func (m *TurnMachine) trigger(tc *turnContext) error {
	from := tc.turn.Status
	candidates := m.transitions[transitionKey(from, tc.action.Event)]

	var chosen *StateTransition
	for i := range candidates {
		if candidates[i].When == nil || candidates[i].When(tc) {
			chosen = &candidates[i]
			break
		}
	}
	if chosen == nil {
		return precondition("回合状态 %s 不接受事件 %s", from, tc.action.Event)
	}

	if chosen.Guard != nil {
		if err := chosen.Guard(tc); err != nil {
			return err
		}
	}

	tc.result.From = from
	if chosen.To != "" {
		tc.turn.Status = chosen.To
	}
	if chosen.Action != nil {
		if err := chosen.Action(tc); err != nil {
			return err
		}
	}
	if tc.room.CurrentTurn != nil {
		tc.result.To = tc.room.CurrentTurn.Status
	}
	return nil
}

// CanTransition 当前回合状态是否有该事件的转换（不检查守卫）
func (m *TurnMachine) CanTransition(status models.TurnStatus, event Event) bool {
	return len(m.transitions[transitionKey(status, event)]) > 0
}

// ValidEvents 回合状态下可触发的事件
func (m *TurnMachine) ValidEvents(status models.TurnStatus) []Event {
	var events []Event
	for _, e := range []Event{EventGuess, EventAnswer, EventAccept, EventDoubt, EventVote, EventTally, EventNext} {
		if m.CanTransition(status, e) {
			events = append(events, e)
		}
	}
	return events
}

func guardMember(tc *turnContext) error {
	if _, ok := tc.room.Players[tc.action.ActorID]; !ok {
		return precondition("玩家 %s 不在房间中", tc.action.ActorID)
	}
	return nil
}

func guardActive(tc *turnContext) error {
	if tc.action.ActorID != tc.turn.ActivePlayerID {
		return precondition("只有提问者可以执行 %s", tc.action.Event)
	}
	return nil
}

func guardGuess(tc *turnContext) error {
	if err := guardActive(tc); err != nil {
		return err
	}
	a := tc.action
	active := tc.room.Players[tc.turn.ActivePlayerID]
	if active == nil || !active.HasCard(a.DilemmaID) {
		return precondition("卡牌 %s 不在提问者手中", a.DilemmaID)
	}
	if a.TargetID == tc.turn.ActivePlayerID {
		return precondition("不能选择自己作为目标")
	}
	if _, ok := tc.room.Players[a.TargetID]; !ok {
		return precondition("目标玩家 %s 不在房间中", a.TargetID)
	}
	if !a.Guess.Valid() {
		return validation("无效的预测: %q", a.Guess)
	}
	if tc.room.Config.GameMode == models.ModeSequential {
		if want := SequentialTarget(tc.room, tc.turn.ActivePlayerID); a.TargetID != want {
			return precondition("顺序模式下目标必须是 %s", want)
		}
	}
	return nil
}

func actionGuess(tc *turnContext) error {
	tc.turn.DilemmaID = tc.action.DilemmaID
	tc.turn.TargetPlayerID = tc.action.TargetID
	tc.turn.Guess = tc.action.Guess
	return nil
}

func guardAnswer(tc *turnContext) error {
	if tc.action.ActorID != tc.turn.TargetPlayerID {
		return precondition("只有目标玩家可以回答")
	}
	if !tc.action.Answer.Valid() {
		return validation("无效的回答: %q", tc.action.Answer)
	}
	return nil
}

func guardVote(tc *turnContext) error {
	id := tc.action.ActorID
	if err := guardMember(tc); err != nil {
		return err
	}
	if id == tc.turn.ActivePlayerID || id == tc.turn.TargetPlayerID {
		return precondition("提问者和目标玩家不能投票")
	}
	if _, voted := tc.turn.Votes[id]; voted {
		return precondition("玩家 %s 已经投过票", id)
	}
	if !tc.action.Vote.Valid() {
		return validation("无效的投票: %q", tc.action.Vote)
	}
	return nil
}

// eligibleVoters 除提问者和目标外的所有在场玩家
func eligibleVoters(room *models.Room, turn *models.Turn) []string {
	var voters []string
	for _, id := range room.SortedPlayerIDs() {
		if id != turn.ActivePlayerID && id != turn.TargetPlayerID {
			voters = append(voters, id)
		}
	}
	return voters
}

func votingComplete(room *models.Room, turn *models.Turn) bool {
	for _, id := range eligibleVoters(room, turn) {
		if _, ok := turn.Votes[id]; !ok {
			return false
		}
	}
	return true
}

// resolveGuess 普通结算：预测与回答完全一致时提问者得1分，然后处理卡牌
func resolveGuess(tc *turnContext) {
	if tc.turn.Guess == tc.turn.Answer {
		awardPoint(tc)
	}
	cycleCard(tc)
}

// resolveVote 计票：平票或"说谎"多数时提问者得1分。与原始预测是否正确无关。
func resolveVote(tc *turnContext) {
	vr := &models.VotingResult{}
	for _, v := range tc.turn.Votes {
		if v == models.VoteLie {
			vr.LieVotes++
		} else {
			vr.TruthVotes++
		}
	}
	vr.LiarCaught = vr.LieVotes >= vr.TruthVotes
	if vr.LiarCaught {
		awardPoint(tc)
		vr.PointAwarded = true
	}
	tc.turn.VotingResult = vr
	cycleCard(tc)
}

// recordVote 记录投票。空的投票表序列化后会丢失，重新加载时为 nil。
func recordVote(tc *turnContext) {
	if tc.turn.Votes == nil {
		tc.turn.Votes = map[string]models.Vote{}
	}
	tc.turn.Votes[tc.action.ActorID] = tc.action.Vote
}

func awardPoint(tc *turnContext) {
	if p, ok := tc.room.Players[tc.turn.ActivePlayerID]; ok {
		p.Score++
	}
	tc.turn.PointAwarded = true
	tc.result.PointAwarded = true
}

// cycleCard 卡牌流转：移出手牌、加入已用、补一张牌、写入历史
func cycleCard(tc *turnContext) {
	room, turn := tc.room, tc.turn
	if active, ok := room.Players[turn.ActivePlayerID]; ok {
		active.RemoveCard(turn.DilemmaID)
		room.UsedDilemmas = append(room.UsedDilemmas, turn.DilemmaID)
		if id, ok := tc.deck.DrawReplacement(ExcludedCards(room)); ok {
			active.Cards = append(active.Cards, id)
			tc.result.Replacement = id
		}
	} else {
		room.UsedDilemmas = append(room.UsedDilemmas, turn.DilemmaID)
	}
	room.TurnHistory = append(room.TurnHistory, models.TurnRecord{
		Turn:      *turn.Clone(),
		Timestamp: tc.now.UnixMilli(),
	})
}

// advanceTurn 检查胜利条件，然后开始下一位有手牌玩家的回合，或结束游戏
func advanceTurn(tc *turnContext) {
	if winner := CheckWinCondition(tc.room); winner != nil {
		endGame(tc, winner.ID)
		return
	}
	next := NextPlayerWithCards(tc.room, tc.turn.ActivePlayerID)
	if next == "" {
		endGame(tc, "")
		return
	}
	tc.room.CurrentTurn = newTurn(next, tc.now)
}

func endGame(tc *turnContext, winnerID string) {
	tc.room.Config.Status = models.StatusEnded
	tc.room.WinnerID = winnerID
	tc.result.GameEnded = true
	tc.result.WinnerID = winnerID
}

func newTurn(activeID string, now time.Time) *models.Turn {
	return &models.Turn{
		ActivePlayerID: activeID,
		Status:         models.TurnGuessing,
		StartedAt:      now.UnixMilli(),
	}
}
